package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/tpodg/smscampaign/internal/credential"
	"github.com/tpodg/smscampaign/internal/fault"
)

type SSHChannel struct {
	endpoint Endpoint
	cred     credential.Credential
	opts     SSHOptions
	hostKeys *hostKeyStore

	promptMu sync.Mutex
	prompted string
}

type SSHOptions struct {
	UseAgent       *bool
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// Prompt asks for a password when no credential is configured. Nil disables it.
	Prompt PasswordPrompt
	Logger *slog.Logger
}

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 60 * time.Second
)

func NewSSHChannel(endpoint Endpoint, cred credential.Credential, opts SSHOptions) *SSHChannel {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &SSHChannel{
		endpoint: endpoint,
		cred:     cred,
		opts:     opts,
		hostKeys: &hostKeyStore{logger: opts.Logger},
	}
}

func (s *SSHChannel) ID() string      { return s.endpoint.Name }
func (s *SSHChannel) Address() string { return s.endpoint.Address() }

func (s *SSHChannel) Execute(ctx context.Context, command string) (Result, error) {
	addr := s.endpoint.Address()

	authMethods, cleanup, err := s.authMethods(addr)
	defer cleanup()
	if err != nil {
		return Result{}, err
	}

	knownHostsPath, err := resolveKnownHostsPath(s.endpoint.KnownHostsPath)
	if err != nil {
		return Result{}, fault.New(fault.Config, "resolve known_hosts", err)
	}
	hostKeyCallback, rejected, err := s.hostKeys.callback(knownHostsPath)
	if err != nil {
		return Result{}, fault.New(fault.Channel, "load known_hosts", err)
	}

	config := &ssh.ClientConfig{
		User:            s.endpoint.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
	}

	client, err := s.connect(ctx, addr, config, rejected)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	return s.run(ctx, client, command)
}

func (s *SSHChannel) connect(ctx context.Context, addr string, config *ssh.ClientConfig, rejected func() error) (*ssh.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout())
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, "tcp", addr)
	if err != nil {
		return nil, classifyConnectError(ctx, connectCtx, "dial "+addr, err)
	}

	if err := applyHandshakeDeadline(connectCtx, conn, s.connectTimeout()); err != nil {
		conn.Close()
		return nil, fault.New(fault.Channel, "handshake "+addr, err)
	}
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-connectCtx.Done():
			conn.Close()
		case <-handshakeDone:
		}
	}()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	close(handshakeDone)
	if err != nil {
		conn.Close()
		if hostErr := rejected(); hostErr != nil {
			return nil, fault.New(fault.Channel, "verify host key for "+addr, hostErr)
		}
		if isAuthFailure(err) {
			s.forgetPrompted()
			return nil, fault.New(fault.Auth, "authenticate "+config.User+"@"+addr, err)
		}
		return nil, classifyConnectError(ctx, connectCtx, "handshake "+addr, err)
	}
	if err := clearDeadline(conn); err != nil {
		sshConn.Close()
		return nil, fault.New(fault.Channel, "handshake "+addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (s *SSHChannel) run(ctx context.Context, client *ssh.Client, command string) (Result, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, s.commandTimeout())
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-cmdCtx.Done():
			client.Close()
		case <-done:
		}
	}()
	defer close(done)

	session, err := client.NewSession()
	if err != nil {
		return Result{}, classifyCommandError(ctx, cmdCtx, "open session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	s.opts.Logger.Debug("Executing remote command", "device", s.ID(), "address", s.Address(), "command", command)
	runErr := session.Run(command)
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, &fault.Error{
			Kind:     fault.RemoteCommand,
			Op:       commandName(command),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      runErr,
		}
	}
	result.ExitCode = -1
	return result, classifyCommandError(ctx, cmdCtx, "run "+commandName(command), runErr)
}

func (s *SSHChannel) authMethods(addr string) ([]ssh.AuthMethod, func(), error) {
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	var methods []ssh.AuthMethod

	// Prefer explicit key material before falling back to the agent.
	if s.endpoint.SSHKey != "" {
		expandedPath, err := expandPath(s.endpoint.SSHKey)
		if err != nil {
			return nil, cleanup, fault.New(fault.Config, "expand ssh key path", err)
		}
		key, err := os.ReadFile(expandedPath)
		if err != nil {
			return nil, cleanup, fault.New(fault.Config, "read ssh key", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, cleanup, fault.New(fault.Config, "parse ssh key "+expandedPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if s.useAgent() {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if agentConn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
				closers = append(closers, func() { agentConn.Close() })
			}
		}
	}

	switch {
	case s.cred.Present():
		secret := s.cred.Secret()
		methods = append(methods,
			ssh.Password(secret),
			ssh.KeyboardInteractive(answerAll(secret)),
		)
	case s.opts.Prompt != nil:
		ask := func() (string, error) { return s.promptPassword(addr) }
		methods = append(methods,
			ssh.PasswordCallback(ask),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				if len(questions) == 0 {
					return nil, nil
				}
				secret, err := ask()
				if err != nil {
					return nil, err
				}
				return answerAll(secret)("", "", questions, nil)
			}),
		)
	}

	if len(methods) == 0 {
		return nil, cleanup, fault.Errorf(fault.Auth, "authenticate "+addr, "no ssh authentication methods available")
	}
	return methods, cleanup, nil
}

func answerAll(secret string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = secret
		}
		return answers, nil
	}
}

// promptPassword asks once per channel and reuses the answer until the remote
// rejects it.
func (s *SSHChannel) promptPassword(addr string) (string, error) {
	s.promptMu.Lock()
	defer s.promptMu.Unlock()
	if s.prompted != "" {
		return s.prompted, nil
	}
	secret, err := s.opts.Prompt(s.endpoint.User, addr)
	if err != nil {
		return "", err
	}
	s.prompted = secret
	return secret, nil
}

func (s *SSHChannel) forgetPrompted() {
	s.promptMu.Lock()
	s.prompted = ""
	s.promptMu.Unlock()
}

func (s *SSHChannel) useAgent() bool {
	if s.opts.UseAgent == nil {
		return true
	}
	return *s.opts.UseAgent
}

func (s *SSHChannel) connectTimeout() time.Duration {
	if s.opts.ConnectTimeout > 0 {
		return s.opts.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (s *SSHChannel) commandTimeout() time.Duration {
	if s.opts.CommandTimeout > 0 {
		return s.opts.CommandTimeout
	}
	return DefaultCommandTimeout
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyConnectError maps dial and handshake failures. parent is the caller's
// context, bounded is parent limited by the connect timeout.
func classifyConnectError(parent, bounded context.Context, op string, err error) error {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return fault.New(fault.Cancelled, op, err)
	}
	if bounded.Err() != nil || isTimeout(err) || pastDeadline(bounded) {
		return fault.New(fault.Timeout, op, err)
	}
	return fault.New(fault.Channel, op, err)
}

func pastDeadline(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

func classifyCommandError(parent, bounded context.Context, op string, err error) error {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return fault.New(fault.Cancelled, op, err)
	}
	if errors.Is(bounded.Err(), context.DeadlineExceeded) || pastDeadline(bounded) {
		return fault.New(fault.Timeout, op, fmt.Errorf("command deadline exceeded: %w", err))
	}
	return fault.New(fault.Channel, op, err)
}

// commandName is the first word of command, used to keep message bodies out of error text.
func commandName(command string) string {
	if i := strings.IndexByte(command, ' '); i > 0 {
		return command[:i]
	}
	return command
}

func applyHandshakeDeadline(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	deadline, ok := handshakeDeadline(ctx, timeout)
	if !ok {
		return nil
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set ssh handshake deadline: %w", err)
	}
	return nil
}

func clearDeadline(conn net.Conn) error {
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear ssh handshake deadline: %w", err)
	}
	return nil
}

func handshakeDeadline(ctx context.Context, timeout time.Duration) (time.Time, bool) {
	var deadline time.Time
	now := time.Now()
	if timeout > 0 {
		deadline = now.Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if deadline.IsZero() || ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
	}
	if deadline.IsZero() {
		return time.Time{}, false
	}
	return deadline, true
}

func resolveKnownHostsPath(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory for known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
