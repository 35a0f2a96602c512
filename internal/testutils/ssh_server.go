package testutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// ExecHandler answers one exec request.
type ExecHandler func(command string) (stdout, stderr string, exitCode int)

type SSHServerOptions struct {
	// User and Password enable password and keyboard-interactive auth. When
	// Password is empty any client is accepted without authentication.
	User     string
	Password string
	Handler  ExecHandler
}

// SSHServer is an in-process SSH server that runs exec requests through a handler.
type SSHServer struct {
	Address string
	HostKey ssh.PublicKey

	listener net.Listener
	config   *ssh.ServerConfig
	handler  ExecHandler
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
}

func StartSSHServer(t *testing.T, opts SSHServerOptions) *SSHServer {
	t.Helper()

	signer := NewSigner(t)

	cfg := &ssh.ServerConfig{}
	if opts.Password == "" {
		cfg.NoClientAuth = true
	} else {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == opts.User && string(pass) == opts.Password {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		}
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	handler := opts.Handler
	if handler == nil {
		handler = func(string) (string, string, int) { return "", "", 0 }
	}

	srv := &SSHServer{
		Address:  ln.Addr().String(),
		HostKey:  signer.PublicKey(),
		listener: ln,
		config:   cfg,
		handler:  handler,
	}

	srv.wg.Add(1)
	go srv.serve()

	t.Cleanup(func() {
		_ = ln.Close()
		srv.wg.Wait()
	})
	return srv
}

// Commands returns the exec commands received so far.
func (s *SSHServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *SSHServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *SSHServer) handleConn(raw net.Conn) {
	defer raw.Close()
	sc, chans, reqs, err := ssh.NewServerConn(raw, s.config)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "")
			continue
		}
		c, requests, err := ch.Accept()
		if err != nil {
			continue
		}
		s.handleSession(c, requests)
	}
}

func (s *SSHServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			continue
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		stdout, stderr, code := s.handler(payload.Command)
		_, _ = ch.Write([]byte(stdout))
		_, _ = ch.Stderr().Write([]byte(stderr))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
		return
	}
}

// NewSigner generates a throwaway ed25519 signer.
func NewSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return signer
}

// StartSilentListener accepts TCP connections and never speaks SSH, so a
// client handshake can only end by timing out.
func StartSilentListener(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	var (
		mu    sync.Mutex
		conns []net.Conn
		wg    sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}
