// Package fault defines the error kinds shared by the campaign packages.
//
// Kind values double as sentinel errors, so callers can write
// errors.Is(err, fault.Timeout) without unwrapping by hand.
package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	Unknown Kind = iota
	// Config marks a malformed recipient record or unusable configuration.
	Config
	// Auth marks a credential the remote host rejected.
	Auth
	// Timeout marks an exceeded connect or command deadline.
	Timeout
	// RemoteCommand marks a remote capability that exited non-zero.
	RemoteCommand
	// Channel marks a transport failure: unreachable host, host key mismatch, broken session.
	Channel
	// Cancelled marks a recipient that was never attempted because the run stopped.
	Cancelled
)

var kindNames = map[Kind]string{
	Unknown:       "unknown error",
	Config:        "config error",
	Auth:          "auth error",
	Timeout:       "timeout error",
	RemoteCommand: "remote command error",
	Channel:       "channel error",
	Cancelled:     "cancelled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Error() string { return k.String() }

// Error is a classified failure. ExitCode and Stderr are only set for RemoteCommand.
type Error struct {
	Kind     Kind
	Op       string
	ExitCode int
	Stderr   string
	Err      error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Kind == RemoteCommand {
		fmt.Fprintf(&b, " (exit status %d)", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": stderr: ")
		b.WriteString(stderr)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf classifies err. Bare context errors map to Cancelled and Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Cancelled
	}
	return Unknown
}

// Wrap classifies err as kind unless it already carries a kind.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return New(kind, op, err)
}
