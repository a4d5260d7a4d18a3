package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/acolita/netpush-mcp/internal/testing/fakes/fakefs"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Arbiter.ChunkSize != 10 {
		t.Errorf("Arbiter.ChunkSize = %d, want 10", cfg.Arbiter.ChunkSize)
	}
	if cfg.Arbiter.Timeout != 5*time.Second {
		t.Errorf("Arbiter.Timeout = %v, want 5s", cfg.Arbiter.Timeout)
	}
	if cfg.Arbiter.HostSplice != 16 {
		t.Errorf("Arbiter.HostSplice = %d, want 16", cfg.Arbiter.HostSplice)
	}
	if cfg.Arbiter.StallTimeout != 30*time.Second {
		t.Errorf("Arbiter.StallTimeout = %v, want 30s", cfg.Arbiter.StallTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Logging.Sanitize {
		t.Error("Logging.Sanitize = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if len(cfg.Devices) != 0 {
		t.Errorf("Devices = %v, want none", cfg.Devices)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load(nonexistent) error: %v", err)
	}
	if cfg.Arbiter.ChunkSize != 10 {
		t.Errorf("ChunkSize = %d, want default", cfg.Arbiter.ChunkSize)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	fs := fakefs.New()
	fs.AddFile("/etc/netpush/config.yaml", []byte(":::invalid:::yaml{{{"), 0644)

	if _, err := Load("/etc/netpush/config.yaml", fs); err == nil {
		t.Fatal("Load(invalid YAML) expected error, got nil")
	}
}

const sampleConfig = `
devices:
  - name: core-sw1
    host: 10.0.0.1
    port: 2222
    user: netops
    key_path: ~/.ssh/id_ed25519
    prompt: "core-sw1#"
    chunk_size: 4
    timeout: 2s
  - name: lab-console
    mode: local
    command: screen /dev/ttyUSB0 9600
    line_ending: "\r"
    auth:
      type: password
      password_env: LAB_PASSWORD
arbiter:
  chunk_size: 20
  settle_time: 1s
security:
  command_blocklist:
    - "^reload"
  use_keyring: true
recording:
  enabled: true
  path: /var/log/netpush
`

func TestLoadValidConfig(t *testing.T) {
	fs := fakefs.New()
	fs.AddFile("/cfg.yaml", []byte(sampleConfig), 0644)

	cfg, err := Load("/cfg.yaml", fs)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	sw := cfg.Devices[0]
	if sw.Address() != "10.0.0.1:2222" || sw.User != "netops" || sw.PromptPrefix() != "core-sw1#" {
		t.Errorf("core-sw1 = %+v", sw)
	}
	if sw.ChunkSize != 4 || sw.Timeout != 2*time.Second {
		t.Errorf("core-sw1 overrides = %d/%v", sw.ChunkSize, sw.Timeout)
	}
	if sw.ConnectionMode() != ModeSSH {
		t.Errorf("ConnectionMode() = %q, want ssh", sw.ConnectionMode())
	}

	con := cfg.Devices[1]
	if con.ConnectionMode() != ModeLocal || con.Command != "screen /dev/ttyUSB0 9600" {
		t.Errorf("lab-console = %+v", con)
	}
	if con.LineEnding != "\r" || con.Auth.PasswordEnv != "LAB_PASSWORD" {
		t.Errorf("lab-console = %+v", con)
	}
	if con.PromptPrefix() != "lab-console" {
		t.Errorf("PromptPrefix() = %q, want device name", con.PromptPrefix())
	}

	// Arbiter fields not in the file keep their defaults.
	if cfg.Arbiter.ChunkSize != 20 || cfg.Arbiter.SettleTime != time.Second {
		t.Errorf("Arbiter = %+v", cfg.Arbiter)
	}
	if cfg.Arbiter.Timeout != 5*time.Second || cfg.Arbiter.HostSplice != 16 {
		t.Errorf("Arbiter defaults lost: %+v", cfg.Arbiter)
	}
	if !cfg.Security.UseKeyring || len(cfg.Security.CommandBlocklist) != 1 {
		t.Errorf("Security = %+v", cfg.Security)
	}
	if !cfg.Recording.Enabled || cfg.Recording.Path != "/var/log/netpush" {
		t.Errorf("Recording = %+v", cfg.Recording)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NETPUSH_LOG_LEVEL", "debug")
	t.Setenv("NETPUSH_RECORDING_PATH", "/tmp/casts")
	t.Setenv("NETPUSH_RECORDING_ENABLED", "true")
	t.Setenv("NETPUSH_CHUNK_SIZE", "3")
	t.Setenv("NETPUSH_TIMEOUT", "750ms")

	fs := fakefs.New()
	fs.AddFile("/cfg.yaml", []byte(sampleConfig), 0644)

	cfg, err := Load("/cfg.yaml", fs)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Recording.Path != "/tmp/casts" || !cfg.Recording.Enabled {
		t.Errorf("Recording = %+v", cfg.Recording)
	}
	if cfg.Arbiter.ChunkSize != 3 || cfg.Arbiter.Timeout != 750*time.Millisecond {
		t.Errorf("Arbiter = %+v", cfg.Arbiter)
	}
	// Unset variables leave file values alone.
	if cfg.Arbiter.SettleTime != time.Second || !cfg.Security.UseKeyring {
		t.Errorf("file values overwritten: %+v %+v", cfg.Arbiter, cfg.Security)
	}
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("NETPUSH_CHUNK_SIZE", "many")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for malformed NETPUSH_CHUNK_SIZE")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"ssh device", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "r1", Host: "10.0.0.1"}}
		}, ""},
		{"local device", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "con", Mode: ModeLocal, Command: "telnet 10.0.0.9 2001"}}
		}, ""},
		{"zero chunk size", func(c *Config) { c.Arbiter.ChunkSize = 0 }, "chunk_size"},
		{"zero timeout", func(c *Config) { c.Arbiter.Timeout = 0 }, "timeout"},
		{"zero host splice", func(c *Config) { c.Arbiter.HostSplice = 0 }, "host_splice"},
		{"negative stall", func(c *Config) { c.Arbiter.StallTimeout = -time.Second }, "stall_timeout"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"missing name", func(c *Config) {
			c.Devices = []DeviceConfig{{Host: "10.0.0.1"}}
		}, "name is required"},
		{"duplicate names", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "r1", Host: "a"}, {Name: "r1", Host: "b"}}
		}, "duplicate"},
		{"ssh without host", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "r1"}}
		}, "host is required"},
		{"local without command", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "con", Mode: ModeLocal}}
		}, "command is required"},
		{"unknown mode", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "r1", Mode: "telnet", Host: "a"}}
		}, "unknown mode"},
		{"bad port", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "r1", Host: "a", Port: 70000}}
		}, "port"},
		{"negative override", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "r1", Host: "a", ChunkSize: -1}}
		}, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAddDeviceAndSave(t *testing.T) {
	fs := fakefs.New()
	cfg := DefaultConfig()

	if err := cfg.AddDevice(DeviceConfig{Name: "edge1", Host: "192.0.2.1", User: "admin"}); err != nil {
		t.Fatalf("AddDevice() error: %v", err)
	}
	if err := cfg.AddDevice(DeviceConfig{Name: "edge1", Host: "192.0.2.2"}); err == nil {
		t.Error("AddDevice(duplicate) expected error")
	}
	if err := cfg.AddDevice(DeviceConfig{Name: "bad"}); err == nil {
		t.Error("AddDevice(invalid) expected error")
	}

	path := "/home/ops/.config/netpush-mcp/config.yaml"
	if err := Save(cfg, path, fs); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(path, fs)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	d, ok := loaded.Device("edge1")
	if !ok {
		t.Fatal("saved device not found")
	}
	if d.Host != "192.0.2.1" || d.User != "admin" {
		t.Errorf("Device = %+v", d)
	}
	if loaded.Arbiter.Timeout != 5*time.Second {
		t.Errorf("Arbiter.Timeout = %v after round trip", loaded.Arbiter.Timeout)
	}
	if _, ok := loaded.Device("missing"); ok {
		t.Error("Device(missing) = true")
	}
}

func TestDeviceFromForm(t *testing.T) {
	tests := []struct {
		name string
		form ports.DeviceFormData
		want DeviceConfig
	}{
		{
			name: "key auth",
			form: ports.DeviceFormData{Name: " core1 ", Mode: "ssh", Host: "192.0.2.10", Port: 22, User: "netops", KeyPath: "~/.ssh/id_ed25519"},
			want: DeviceConfig{Name: "core1", Mode: "ssh", Host: "192.0.2.10", Port: 22, User: "netops", KeyPath: "~/.ssh/id_ed25519", Auth: AuthConfig{Type: "key"}},
		},
		{
			name: "password auth",
			form: ports.DeviceFormData{Name: "core2", Mode: "ssh", Host: "192.0.2.11", User: "netops", PasswordEnv: "CORE2_PW", ChunkSize: 4},
			want: DeviceConfig{Name: "core2", Mode: "ssh", Host: "192.0.2.11", User: "netops", ChunkSize: 4, Auth: AuthConfig{Type: "password", PasswordEnv: "CORE2_PW"}},
		},
		{
			name: "local console",
			form: ports.DeviceFormData{Name: "sw1", Mode: "local", Command: "screen /dev/ttyUSB0 9600", Prompt: "Switch"},
			want: DeviceConfig{Name: "sw1", Mode: "local", Command: "screen /dev/ttyUSB0 9600", Prompt: "Switch"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeviceFromForm(tt.form)
			if got != tt.want {
				t.Errorf("DeviceFromForm = %+v, want %+v", got, tt.want)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("converted device invalid: %v", err)
			}
		})
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got, want := DefaultConfigPath(), filepath.Join("/xdg", "netpush-mcp", "config.yaml"); got != want {
		t.Errorf("DefaultConfigPath() = %q, want %q", got, want)
	}
}

// --- Watcher tests ---

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestNewWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "devices:\n  - name: r1\n    host: 10.0.0.1\n")

	w, err := NewWatcher(path, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	if _, ok := w.Config().Device("r1"); !ok {
		t.Error("initial config not loaded")
	}
}

func TestNewWatcherInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "devices:\n  - name: r1\n")

	if _, err := NewWatcher(path, nil, nil); err == nil {
		t.Fatal("NewWatcher() expected validation error")
	}
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "devices:\n  - name: r1\n    host: 10.0.0.1\n")

	var mu sync.Mutex
	var changed *Config
	w, err := NewWatcher(path, nil, func(cfg *Config) {
		mu.Lock()
		changed = cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	writeConfigFile(t, path, "devices:\n  - name: r1\n    host: 10.0.0.1\n  - name: r2\n    host: 10.0.0.2\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := w.Config().Device("r2"); ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if _, ok := w.Config().Device("r2"); !ok {
		t.Fatal("Config() not reloaded")
	}
	mu.Lock()
	defer mu.Unlock()
	if changed == nil || len(changed.Devices) != 2 {
		t.Errorf("onChange not called with new config: %+v", changed)
	}
}

func TestWatcherKeepsConfigOnBadEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "devices:\n  - name: r1\n    host: 10.0.0.1\n")

	calls := 0
	var mu sync.Mutex
	w, err := NewWatcher(path, nil, func(*Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher() error: %v", err)
	}
	defer w.Close()

	writeConfigFile(t, path, ":::invalid{{{")
	time.Sleep(200 * time.Millisecond)
	writeConfigFile(t, path, "devices:\n  - name: r1\n  - name: r1\n")
	time.Sleep(200 * time.Millisecond)

	if _, ok := w.Config().Device("r1"); !ok {
		t.Error("last good config lost")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("onChange called %d times, want 0", calls)
	}
}
