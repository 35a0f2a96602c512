// Package credential resolves the SSH password used to reach the phone.
//
// Values come from two layers: the process environment and an optional
// dotenv override file. The environment wins when both define the key, even
// when its value is empty, so the file never overwrites a variable that is
// already set. Nothing is written
// back to the process environment.
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/tpodg/smscampaign/internal/fault"
)

const (
	DefaultKey      = "TERMUX_SSH_PASSWORD"
	DefaultFileName = ".env"
)

// Credential is an optional secret. The zero value is an absent credential,
// which means key/agent or interactive authentication.
type Credential struct {
	secret  string
	present bool
}

// New returns a present credential for secret, or an absent one when secret is empty.
func New(secret string) Credential {
	return Credential{secret: secret, present: secret != ""}
}

func (c Credential) Present() bool  { return c.present }
func (c Credential) Secret() string { return c.secret }

// String never includes the secret.
func (c Credential) String() string {
	if c.present {
		return "credential(set)"
	}
	return "credential(absent)"
}

func (c Credential) LogValue() slog.Value { return slog.StringValue(c.String()) }

type Options struct {
	// Path of the override file. Empty means DefaultPath().
	Path string
	// Key names the secret. Empty means DefaultKey.
	Key string
	// LookupEnv reads the process environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
	Logger    *slog.Logger
}

// Resolver resolves the credential once and returns the same value afterwards.
type Resolver struct {
	opts Options

	once sync.Once
	cred Credential
	err  error
}

func NewResolver(opts Options) *Resolver {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Path == "" {
		opts.Path = DefaultPath()
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{opts: opts}
}

// Resolve returns the credential. An unset secret is not an error. A present
// but unparsable override file is a fault.Config error.
func (r *Resolver) Resolve() (Credential, error) {
	r.once.Do(func() {
		r.cred, r.err = r.resolve()
	})
	return r.cred, r.err
}

func (r *Resolver) resolve() (Credential, error) {
	fileValues, err := r.readOverrides()
	if err != nil {
		return Credential{}, err
	}

	// A variable that is set but empty deliberately disables the password and
	// still shadows the file.
	if v, ok := r.opts.LookupEnv(r.opts.Key); ok {
		if v == "" {
			r.opts.Logger.Debug("Credential set empty in environment, using key or interactive authentication", "key", r.opts.Key)
			return Credential{}, nil
		}
		r.opts.Logger.Debug("Credential resolved from environment", "key", r.opts.Key)
		return New(v), nil
	}
	if v := fileValues[r.opts.Key]; v != "" {
		r.opts.Logger.Debug("Credential resolved from override file", "key", r.opts.Key, "path", r.opts.Path)
		return New(v), nil
	}

	r.opts.Logger.Debug("No credential configured, using key or interactive authentication", "key", r.opts.Key)
	return Credential{}, nil
}

func (r *Resolver) readOverrides() (map[string]string, error) {
	if _, err := os.Stat(r.opts.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.opts.Logger.Warn("Credential override file not found, relying on environment", "path", r.opts.Path, "key", r.opts.Key)
			return nil, nil
		}
		return nil, fault.New(fault.Config, "stat credential override file", err)
	}

	values, err := godotenv.Read(r.opts.Path)
	if err != nil {
		return nil, fault.New(fault.Config, "parse credential override file", fmt.Errorf("%s: %w", r.opts.Path, err))
	}
	return values, nil
}

// DefaultPath is the override file next to the running executable, falling
// back to the working directory when the executable path is unknown.
func DefaultPath() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultFileName
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}
