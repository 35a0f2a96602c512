package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyChangedError reports a host whose key differs from the one on record.
type HostKeyChangedError struct {
	Host        string
	Fingerprint string
	Err         error
}

func (e *HostKeyChangedError) Error() string {
	return fmt.Sprintf("host key for %s changed (offered %s): refusing to connect", e.Host, e.Fingerprint)
}

func (e *HostKeyChangedError) Unwrap() error { return e.Err }

// hostKeyStore applies an accept-new policy on a known_hosts file: unknown
// hosts are recorded and trusted, changed or revoked keys are rejected.
type hostKeyStore struct {
	mu     sync.Mutex
	logger *slog.Logger
}

// callback returns the host key callback and a func reporting the error it
// rejected the host with, if any.
func (h *hostKeyStore) callback(path string) (ssh.HostKeyCallback, func() error, error) {
	if err := ensureKnownHostsFile(path); err != nil {
		return nil, nil, err
	}

	var (
		mu       sync.Mutex
		rejected error
	)
	cb := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := h.verify(path, hostname, remote, key)
		if err != nil {
			mu.Lock()
			rejected = err
			mu.Unlock()
		}
		return err
	}
	report := func() error {
		mu.Lock()
		defer mu.Unlock()
		return rejected
	}
	return cb, report, nil
}

func (h *hostKeyStore) verify(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	check, err := knownhosts.New(path)
	if err != nil {
		return fmt.Errorf("failed to load known_hosts file %q: %w", path, err)
	}

	err = check(hostname, remote, key)
	if err == nil {
		return nil
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) == 0 {
			return h.trust(path, hostname, key)
		}
		return &HostKeyChangedError{Host: hostname, Fingerprint: ssh.FingerprintSHA256(key), Err: err}
	}

	var revokedErr *knownhosts.RevokedError
	if errors.As(err, &revokedErr) {
		return fmt.Errorf("host key for %s is revoked: %w", hostname, err)
	}
	return err
}

func (h *hostKeyStore) trust(path, hostname string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open known_hosts for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, knownhosts.Line([]string{hostname}, key)); err != nil {
		return fmt.Errorf("record host key: %w", err)
	}
	h.logger.Warn("Trusting new host key", "host", hostname, "fingerprint", ssh.FingerprintSHA256(key), "known_hosts", path)
	return nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create known_hosts file: %w", err)
	}
	return f.Close()
}
