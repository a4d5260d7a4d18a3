// Package config handles configuration parsing for netpush-mcp.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acolita/netpush-mcp/internal/arbiter"
	"github.com/acolita/netpush-mcp/internal/driver"
	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. NETPUSH_LOG_LEVEL.
const EnvPrefix = "NETPUSH"

// Device connection modes.
const (
	ModeSSH   = "ssh"
	ModeLocal = "local"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/netpush-mcp/config.yaml or ~/.config/netpush-mcp/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "netpush-mcp", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Devices   []DeviceConfig  `yaml:"devices"`
	Arbiter   ArbiterConfig   `yaml:"arbiter"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Recording RecordingConfig `yaml:"recording"`
}

// DeviceConfig defines a device that commands can be pushed to.
type DeviceConfig struct {
	Name    string     `yaml:"name"`
	Mode    string     `yaml:"mode,omitempty"` // "ssh" (default) or "local"
	Host    string     `yaml:"host,omitempty"`
	Port    int        `yaml:"port,omitempty"`
	User    string     `yaml:"user,omitempty"`
	KeyPath string     `yaml:"key_path,omitempty"`
	Auth    AuthConfig `yaml:"auth,omitempty"`
	Command string     `yaml:"command,omitempty"` // console command for local mode, e.g. "screen /dev/ttyUSB0 9600"
	Prompt  string     `yaml:"prompt,omitempty"`  // prompt prefix; defaults to the device name

	ChunkSize  int           `yaml:"chunk_size,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	HostSplice int           `yaml:"host_splice,omitempty"`
	LineEnding string        `yaml:"line_ending,omitempty"`
}

// AuthConfig defines authentication settings.
type AuthConfig struct {
	Type          string `yaml:"type,omitempty"`           // "key" or "password"
	PassphraseEnv string `yaml:"passphrase_env,omitempty"` // env var containing key passphrase
	PasswordEnv   string `yaml:"password_env,omitempty"`   // env var containing SSH password
}

// ArbiterConfig holds the flow-control defaults applied to every device.
type ArbiterConfig struct {
	ChunkSize    int           `yaml:"chunk_size"`
	Timeout      time.Duration `yaml:"timeout"`
	HostSplice   int           `yaml:"host_splice"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StallTimeout time.Duration `yaml:"stall_timeout"`
	SettleTime   time.Duration `yaml:"settle_time"`
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	CommandBlocklist        []string      `yaml:"command_blocklist"`         // regex patterns for blocked commands
	CommandAllowlist        []string      `yaml:"command_allowlist"`         // if set, only these patterns are allowed
	DisableDefaultBlocklist bool          `yaml:"disable_default_blocklist"` // drop the built-in reload/erase patterns
	UseKeyring              bool          `yaml:"use_keyring"`               // look up device passwords in the OS keyring
	KnownHosts              string        `yaml:"known_hosts"`               // default ~/.ssh/known_hosts
	InsecureIgnoreHostKey   bool          `yaml:"insecure_ignore_host_key"`  // accept any device host key
	MaxAuthFailures         int           `yaml:"max_auth_failures"`         // failed logins before a device is locked out
	AuthLockoutDuration     time.Duration `yaml:"auth_lockout_duration"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Format   string `yaml:"format"`   // "json" or "text"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// RecordingConfig defines session recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // record every push as an asciicast file
	Path    string `yaml:"path"`    // directory to store recordings
}

// envOverrides lists the settings that can be changed through the environment.
type envOverrides struct {
	LogLevel         string        `envconfig:"LOG_LEVEL"`
	LogFormat        string        `envconfig:"LOG_FORMAT"`
	LogSanitize      bool          `envconfig:"LOG_SANITIZE"`
	RecordingEnabled bool          `envconfig:"RECORDING_ENABLED"`
	RecordingPath    string        `envconfig:"RECORDING_PATH"`
	UseKeyring       bool          `envconfig:"USE_KEYRING"`
	ChunkSize        int           `envconfig:"CHUNK_SIZE"`
	Timeout          time.Duration `envconfig:"TIMEOUT"`
	StallTimeout     time.Duration `envconfig:"STALL_TIMEOUT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Arbiter: ArbiterConfig{
			ChunkSize:    arbiter.DefaultChunkSize,
			Timeout:      arbiter.DefaultTimeout,
			HostSplice:   arbiter.DefaultHostSplice,
			PollInterval: driver.DefaultPollInterval,
			StallTimeout: driver.DefaultStallTimeout,
			SettleTime:   driver.DefaultSettleTime,
		},
		Security: SecurityConfig{
			MaxAuthFailures:     3,
			AuthLockoutDuration: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file and applies environment overrides.
// A missing file yields the defaults. An optional FileSystem can be passed for
// testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		var data []byte
		var err error
		if len(fsys) > 0 && fsys[0] != nil {
			data, err = fsys[0].ReadFile(path)
		} else {
			data, err = os.ReadFile(path)
		}
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Not created yet; "netpush device add" writes it.
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from NETPUSH_* environment variables.
func (c *Config) ApplyEnv() error {
	o := envOverrides{
		LogLevel:         c.Logging.Level,
		LogFormat:        c.Logging.Format,
		LogSanitize:      c.Logging.Sanitize,
		RecordingEnabled: c.Recording.Enabled,
		RecordingPath:    c.Recording.Path,
		UseKeyring:       c.Security.UseKeyring,
		ChunkSize:        c.Arbiter.ChunkSize,
		Timeout:          c.Arbiter.Timeout,
		StallTimeout:     c.Arbiter.StallTimeout,
	}
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}

	c.Logging.Level = o.LogLevel
	c.Logging.Format = o.LogFormat
	c.Logging.Sanitize = o.LogSanitize
	c.Recording.Enabled = o.RecordingEnabled
	c.Recording.Path = o.RecordingPath
	c.Security.UseKeyring = o.UseKeyring
	c.Arbiter.ChunkSize = o.ChunkSize
	c.Arbiter.Timeout = o.Timeout
	c.Arbiter.StallTimeout = o.StallTimeout
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Arbiter.validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Devices))
	for i := range c.Devices {
		d := &c.Devices[i]
		if err := d.Validate(); err != nil {
			return fmt.Errorf("devices[%d]: %w", i, err)
		}
		if seen[d.Name] {
			return fmt.Errorf("devices[%d]: duplicate device name %q", i, d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

func (a ArbiterConfig) validate() error {
	switch {
	case a.ChunkSize < 1:
		return fmt.Errorf("arbiter.chunk_size must be at least 1, got %d", a.ChunkSize)
	case a.Timeout <= 0:
		return fmt.Errorf("arbiter.timeout must be positive, got %s", a.Timeout)
	case a.HostSplice < 1:
		return fmt.Errorf("arbiter.host_splice must be at least 1, got %d", a.HostSplice)
	case a.PollInterval < 0, a.StallTimeout < 0:
		return fmt.Errorf("arbiter.poll_interval and arbiter.stall_timeout must not be negative")
	}
	return nil
}

// Validate checks a single device entry.
func (d *DeviceConfig) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch d.ConnectionMode() {
	case ModeSSH:
		if d.Host == "" {
			return fmt.Errorf("device %q: host is required in ssh mode", d.Name)
		}
		if d.Port < 0 || d.Port > 65535 {
			return fmt.Errorf("device %q: port %d out of range", d.Name, d.Port)
		}
	case ModeLocal:
		if strings.TrimSpace(d.Command) == "" {
			return fmt.Errorf("device %q: command is required in local mode", d.Name)
		}
	default:
		return fmt.Errorf("device %q: unknown mode %q", d.Name, d.Mode)
	}
	if d.ChunkSize < 0 || d.HostSplice < 0 || d.Timeout < 0 {
		return fmt.Errorf("device %q: arbiter overrides must not be negative", d.Name)
	}
	return nil
}

// ConnectionMode returns the device mode, defaulting to ssh.
func (d *DeviceConfig) ConnectionMode() string {
	if d.Mode == "" {
		return ModeSSH
	}
	return d.Mode
}

// PromptPrefix returns the string that starts the device prompt.
func (d *DeviceConfig) PromptPrefix() string {
	if d.Prompt != "" {
		return d.Prompt
	}
	return d.Name
}

// Address returns host:port for ssh devices, defaulting to port 22.
func (d *DeviceConfig) Address() string {
	port := d.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", d.Host, port)
}

// Device returns the named device.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// AddDevice adds a device to the configuration.
// Returns an error if a device with the same name already exists.
func (c *Config) AddDevice(device DeviceConfig) error {
	if err := device.Validate(); err != nil {
		return err
	}
	if _, ok := c.Device(device.Name); ok {
		return fmt.Errorf("device %q already exists", device.Name)
	}
	c.Devices = append(c.Devices, device)
	return nil
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		if err := fsys[0].MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		return fsys[0].WriteFile(path, data, 0600)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// DeviceFromForm converts device form data into a device entry.
func DeviceFromForm(f ports.DeviceFormData) DeviceConfig {
	d := DeviceConfig{
		Name:      strings.TrimSpace(f.Name),
		Mode:      f.Mode,
		Host:      strings.TrimSpace(f.Host),
		Port:      f.Port,
		User:      f.User,
		KeyPath:   f.KeyPath,
		Command:   f.Command,
		Prompt:    f.Prompt,
		ChunkSize: f.ChunkSize,
	}
	switch {
	case f.KeyPath != "":
		d.Auth.Type = "key"
	case f.PasswordEnv != "":
		d.Auth.Type = "password"
	}
	d.Auth.PasswordEnv = f.PasswordEnv
	return d
}
