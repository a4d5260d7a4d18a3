package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/driver"
	"github.com/acolita/netpush-mcp/internal/security"
	"github.com/acolita/netpush-mcp/internal/testing/fakes/fakeclock"
	"github.com/acolita/netpush-mcp/internal/testing/mockdevice"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

func startDevice(t *testing.T, opts ...mockdevice.Option) *mockdevice.Server {
	t.Helper()
	dev, err := mockdevice.New(opts...)
	if err != nil {
		t.Fatalf("mockdevice.New: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func writeKnownHosts(t *testing.T, addr string, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, key) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func sshDevice(dev *mockdevice.Server) config.DeviceConfig {
	return config.DeviceConfig{
		Name:   "core1",
		Host:   dev.Host(),
		Port:   dev.Port(),
		User:   "test",
		Prompt: "mock",
		Auth:   config.AuthConfig{PasswordEnv: "CORE1_PASSWORD"},
	}
}

func fastDriverOptions() driver.Options {
	return driver.Options{
		ChunkSize:    3,
		PollInterval: 5 * time.Millisecond,
		StallTimeout: 5 * time.Second,
		SettleTime:   20 * time.Millisecond,
	}
}

func TestOpenerPushesOverSSH(t *testing.T) {
	dev := startDevice(t, mockdevice.WithResponse("show clock", "12:00:00 UTC\r\n"))
	o := NewOpener(OpenerOptions{
		KnownHosts: writeKnownHosts(t, dev.Addr(), dev.HostKey()),
		Getenv:     env(map[string]string{"CORE1_PASSWORD": "test"}),
	})

	tr, err := o.Open(context.Background(), sshDevice(dev))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	cmds := []string{"show clock", "configure terminal", "hostname core1", "end"}
	res, err := driver.Push(context.Background(), tr, "mock", cmds, fastDriverOptions())
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if res.Stats.PromptAcks != len(cmds) {
		t.Errorf("PromptAcks = %d, want %d", res.Stats.PromptAcks, len(cmds))
	}
	if !reflect.DeepEqual(dev.Commands(), cmds) {
		t.Errorf("device received %q", dev.Commands())
	}
	if !strings.Contains(res.Transcript, "12:00:00 UTC") {
		t.Errorf("transcript missing command output:\n%s", res.Transcript)
	}
}

func TestOpenerKeyboardInteractiveDevice(t *testing.T) {
	dev := startDevice(t, mockdevice.WithKeyboardInteractiveOnly())
	o := NewOpener(OpenerOptions{
		KnownHosts: writeKnownHosts(t, dev.Addr(), dev.HostKey()),
		Getenv:     env(map[string]string{"CORE1_PASSWORD": "test"}),
	})

	tr, err := o.Open(context.Background(), sshDevice(dev))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tr.Close()
	if dev.Logins() != 1 {
		t.Errorf("Logins() = %d", dev.Logins())
	}
}

func TestOpenerRejectsUnknownHostKey(t *testing.T) {
	dev := startDevice(t)
	other := startDevice(t)
	o := NewOpener(OpenerOptions{
		KnownHosts: writeKnownHosts(t, dev.Addr(), other.HostKey()),
		Getenv:     env(map[string]string{"CORE1_PASSWORD": "test"}),
	})

	if _, err := o.Open(context.Background(), sshDevice(dev)); err == nil {
		t.Fatal("connected despite host key mismatch")
	}
	if dev.Logins() != 0 {
		t.Errorf("Logins() = %d", dev.Logins())
	}
}

func TestOpenerLocksOutAfterAuthFailures(t *testing.T) {
	dev := startDevice(t)
	clock := fakeclock.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	o := NewOpener(OpenerOptions{
		InsecureHostKey: true,
		Getenv:          env(map[string]string{"CORE1_PASSWORD": "wrong"}),
		Limiter:         security.NewAuthLimiter(2, time.Minute, clock),
	})
	cfg := sshDevice(dev)

	for i := 0; i < 2; i++ {
		_, err := o.Open(context.Background(), cfg)
		if err == nil || errors.Is(err, ErrAuthLocked) {
			t.Fatalf("attempt %d: err = %v, want auth failure", i+1, err)
		}
	}
	if _, err := o.Open(context.Background(), cfg); !errors.Is(err, ErrAuthLocked) {
		t.Fatalf("err = %v, want ErrAuthLocked", err)
	}

	clock.Advance(time.Minute)
	o.opts.Getenv = env(map[string]string{"CORE1_PASSWORD": "test"})
	tr, err := o.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open after lockout: %v", err)
	}
	tr.Close()
}

func TestOpenerNoCredentials(t *testing.T) {
	o := NewOpener(OpenerOptions{InsecureHostKey: true, Getenv: env(nil), ConnectTimeout: time.Second})
	cfg := config.DeviceConfig{Name: "core1", Host: "192.0.2.1", User: "admin"}

	if _, err := o.Open(context.Background(), cfg); err == nil {
		t.Fatal("expected error without credentials")
	}
}

func TestOpenerCredentials(t *testing.T) {
	keyring.MockInit()
	ks := security.NewKeyringStore(nil)
	if err := ks.StoreDevicePassword("core1", "admin", []byte("from-keyring")); err != nil {
		t.Fatal(err)
	}
	if err := ks.StorePassphrase("/keys/core1", []byte("key-secret")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name           string
		vars           map[string]string
		keyring        *security.KeyringStore
		wantPassword   string
		wantPassphrase string
	}{
		{"environment wins", map[string]string{"PW": "from-env", "PP": "env-secret"}, ks, "from-env", "env-secret"},
		{"keyring fallback", nil, ks, "from-keyring", "key-secret"},
		{"no keyring", nil, nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOpener(OpenerOptions{Keyring: tt.keyring, Getenv: env(tt.vars)})
			auth, err := o.credentials(config.DeviceConfig{
				Name:    "core1",
				Host:    "192.0.2.1",
				User:    "admin",
				KeyPath: "/keys/core1",
				Auth:    config.AuthConfig{PasswordEnv: "PW", PassphraseEnv: "PP"},
			})
			if err != nil {
				t.Fatalf("credentials: %v", err)
			}
			if auth.Password != tt.wantPassword {
				t.Errorf("Password = %q, want %q", auth.Password, tt.wantPassword)
			}
			if string(auth.Passphrase) != tt.wantPassphrase {
				t.Errorf("Passphrase = %q, want %q", auth.Passphrase, tt.wantPassphrase)
			}
		})
	}
}

func TestOpenerRemoteFiles(t *testing.T) {
	dev := startDevice(t)
	dir := t.TempDir()
	for name, body := range map[string]string{
		"10-base.cfg": "hostname core1\n",
		"20-ntp.cfg":  "ntp server 192.0.2.1\n",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	o := NewOpener(OpenerOptions{
		InsecureHostKey: true,
		Getenv:          env(map[string]string{"CORE1_PASSWORD": "test"}),
	})
	files, err := o.OpenFiles(context.Background(), sshDevice(dev))
	if err != nil {
		t.Fatalf("OpenFiles: %v", err)
	}
	defer files.Close()

	matches, err := files.Glob(filepath.Join(dir, "*.cfg"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{filepath.Join(dir, "10-base.cfg"), filepath.Join(dir, "20-ntp.cfg")}
	if !reflect.DeepEqual(matches, want) {
		t.Errorf("Glob = %q, want %q", matches, want)
	}
	data, err := files.ReadFile(want[1])
	if err != nil || string(data) != "ntp server 192.0.2.1\n" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}

	local := config.DeviceConfig{Name: "console1", Mode: config.ModeLocal, Command: "cat"}
	if _, err := o.OpenFiles(context.Background(), local); !errors.Is(err, ErrNoRemoteFiles) {
		t.Errorf("local OpenFiles err = %v, want ErrNoRemoteFiles", err)
	}
}

func TestOpenerLocalConsole(t *testing.T) {
	o := NewOpener(OpenerOptions{})
	dev := config.DeviceConfig{
		Name:    "lab1",
		Mode:    config.ModeLocal,
		Command: `sh -c 'printf "lab1#"; while read line; do printf "lab1#"; done'`,
	}

	tr, err := o.Open(context.Background(), dev)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	// Terminal echo races the script's prompt, so some commands are paced by the timeout.
	opts := fastDriverOptions()
	opts.ChunkSize = 1
	opts.Timeout = 50 * time.Millisecond

	res, err := driver.Push(context.Background(), tr, dev.PromptPrefix(), []string{"vlan 10", "name users", "exit"}, opts)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if res.Sent != 3 {
		t.Errorf("Sent = %d, want 3", res.Sent)
	}
	if !strings.Contains(res.Transcript, "vlan 10") {
		t.Errorf("transcript = %q", res.Transcript)
	}
}
