package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goconfig "github.com/tpodg/go-config"

	"github.com/tpodg/smscampaign/internal/campaign"
	"github.com/tpodg/smscampaign/internal/credential"
	"github.com/tpodg/smscampaign/internal/fault"
	"github.com/tpodg/smscampaign/internal/recipient"
	"github.com/tpodg/smscampaign/internal/remote"
)

const (
	DefaultConfigFileName = ".smscampaign.yaml"
	EnvPrefix             = "SMSCAMPAIGN"

	// DefaultPort is the port Termux's sshd listens on.
	DefaultPort = 8022
)

type Config struct {
	Remote      RemoteConfig      `yaml:"remote"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Campaign    CampaignConfig    `yaml:"campaign"`
	History     HistoryConfig     `yaml:"history"`
}

type RemoteConfig struct {
	Name           string        `yaml:"name"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	SSHKey         string        `yaml:"ssh_key"`
	KnownHostsPath string        `yaml:"known_hosts"`
	UseAgent       *bool         `yaml:"use_agent"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Capability     string        `yaml:"capability"`
}

type CredentialsConfig struct {
	EnvFile string `yaml:"env_file"`
	Key     string `yaml:"key"`
}

type CampaignConfig struct {
	Recipients   string        `yaml:"recipients"`
	Template     string        `yaml:"template"`
	// Pacing of zero, set or not, keeps DefaultPacing. Only the --pacing
	// flag can turn pacing off.
	Pacing       time.Duration `yaml:"pacing"`
	Workers      int           `yaml:"workers"`
	FailFast     bool          `yaml:"fail_fast"`
	RetryMax     int           `yaml:"retry_max"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Report       string        `yaml:"report"`
}

type HistoryConfig struct {
	// Path of the SQLite history database. Empty disables history.
	Path string `yaml:"path"`
}

// Load the configuration from the given file or default locations.
func Load(cfgFile string) (*Config, error) {
	path, err := findConfigFile(cfgFile)
	if err != nil {
		return nil, err
	}

	c := goconfig.New()
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for %s: %w", path, err)
		}
		c.WithProviders(&goconfig.Yaml{Path: absPath})
	}

	c.WithProviders(&goconfig.Env{Prefix: EnvPrefix})

	cfg := &Config{}
	if err := c.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Remote.Port == 0 {
		c.Remote.Port = DefaultPort
	}
	if c.Remote.Name == "" {
		c.Remote.Name = c.Remote.Host
	}
	if c.Remote.ConnectTimeout == 0 {
		c.Remote.ConnectTimeout = remote.DefaultConnectTimeout
	}
	if c.Remote.CommandTimeout == 0 {
		c.Remote.CommandTimeout = remote.DefaultCommandTimeout
	}
	if strings.TrimSpace(c.Remote.Capability) == "" {
		c.Remote.Capability = campaign.DefaultCapability
	}
	if c.Credentials.EnvFile == "" {
		c.Credentials.EnvFile = credential.DefaultPath()
	}
	if c.Credentials.Key == "" {
		c.Credentials.Key = credential.DefaultKey
	}
	if c.Campaign.Recipients == "" {
		c.Campaign.Recipients = recipient.DefaultFileName
	}
	if c.Campaign.Pacing == 0 {
		c.Campaign.Pacing = campaign.DefaultPacing
	}
	if c.Campaign.Workers <= 0 {
		c.Campaign.Workers = 1
	}
	if c.Campaign.RetryBackoff == 0 {
		c.Campaign.RetryBackoff = campaign.DefaultRetryBackoff
	}
}

// Validate checks the settings needed to reach the phone.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Remote.Host) == "" {
		problems = append(problems, "remote.host is required")
	}
	if strings.TrimSpace(c.Remote.User) == "" {
		problems = append(problems, "remote.user is required")
	}
	if c.Remote.Port < 0 || c.Remote.Port > 65535 {
		problems = append(problems, fmt.Sprintf("remote.port %d is out of range", c.Remote.Port))
	}
	if c.Campaign.Pacing < 0 {
		problems = append(problems, "campaign.pacing must not be negative")
	}
	if c.Campaign.RetryMax < 0 {
		problems = append(problems, "campaign.retry_max must not be negative")
	}
	if len(problems) > 0 {
		return fault.Errorf(fault.Config, "validate config", "%s", strings.Join(problems, "; "))
	}
	return nil
}

// Endpoint returns the SSH target described by the remote section.
func (c *Config) Endpoint() remote.Endpoint {
	return remote.Endpoint{
		Name:           c.Remote.Name,
		Host:           c.Remote.Host,
		Port:           c.Remote.Port,
		User:           c.Remote.User,
		SSHKey:         c.Remote.SSHKey,
		KnownHostsPath: c.Remote.KnownHostsPath,
	}
}

func findConfigFile(cfgFile string) (string, error) {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return cfgFile, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, DefaultConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if _, err := os.Stat(DefaultConfigFileName); err == nil {
		return DefaultConfigFileName, nil
	}

	return "", nil
}
