package remote

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// PasswordPrompt asks the operator for the password of user at addr.
type PasswordPrompt func(user, addr string) (string, error)

// TerminalPrompt reads the password from in without echo. It returns nil when
// in is not a terminal, so unattended runs never block on a prompt.
func TerminalPrompt(in *os.File, out io.Writer) PasswordPrompt {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func(user, addr string) (string, error) {
		fmt.Fprintf(out, "%s@%s's password: ", user, addr)
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(secret), nil
	}
}
