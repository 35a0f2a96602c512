package shell

import "strings"

// Quote returns a single-quoted POSIX shell literal for value.
func Quote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// BuildSendCommand returns the remote command line that invokes capability with
// number and message as its only two arguments. capability is inserted verbatim
// so that paths such as ~/send_sms.sh still expand on the remote side.
func BuildSendCommand(capability, number, message string) string {
	return strings.TrimSpace(capability) + " " + Quote(number) + " " + Quote(message)
}
