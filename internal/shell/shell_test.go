package shell

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	require.Equal(t, "''", Quote(""))
	require.Equal(t, "'simple'", Quote("simple"))
	require.Equal(t, "'two words'", Quote("two words"))
	require.Equal(t, `'a'"'"'b'`, Quote("a'b"))
	require.Equal(t, "'+33600000001'", Quote("+33600000001"))
}

func TestBuildSendCommand(t *testing.T) {
	cmd := BuildSendCommand("~/send_sms.sh", "+33600000001", "Bonjour camarade")
	require.Equal(t, "~/send_sms.sh '+33600000001' 'Bonjour camarade'", cmd)
}

func TestBuildSendCommand_ShellParsesTwoLiteralArgs(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	// The capability prints each argument NUL-terminated, so we can count them.
	script := filepath.Join(t.TempDir(), "capability.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nprintf '%s\\0' \"$@\"\n"), 0o755))

	cases := []struct {
		name    string
		number  string
		message string
	}{
		{name: "plain", number: "+33600000001", message: "Bonjour camarade Léon Blum"},
		{name: "semicolon", number: "+336; rm -rf ~", message: "a; echo pwned"},
		{name: "backticks", number: "`id`", message: "$(whoami) `uname`"},
		{name: "quotes", number: `"'`, message: `it's a "quoted" message`},
		{name: "newlines", number: "1\n2", message: "line one\nline two\n"},
		{name: "globs", number: "*", message: "~ $HOME ${PATH} ? [a-z]"},
		{name: "empty_message", number: "0600", message: ""},
		{name: "leading_dash", number: "-n", message: "--help"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := exec.Command(sh, "-c", BuildSendCommand(script, tc.number, tc.message)).Output()
			require.NoError(t, err)

			args := strings.Split(string(bytes.TrimSuffix(out, []byte{0})), "\x00")
			require.Equal(t, []string{tc.number, tc.message}, args)
		})
	}
}
