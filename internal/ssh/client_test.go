package ssh

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acolita/netpush-mcp/internal/testing/fakes/fakesshdialer"
	"github.com/acolita/netpush-mcp/internal/testing/mockdevice"
	gossh "golang.org/x/crypto/ssh"
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

func connect(t *testing.T, dev *mockdevice.Server, auth AuthConfig) *Client {
	t.Helper()
	methods, err := BuildAuthMethods(auth)
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	c, err := NewClient(ClientOptions{
		Addr:            dev.Addr(),
		User:            "test",
		AuthMethods:     methods,
		HostKeyCallback: gossh.FixedHostKey(dev.HostKey()),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// readUntil reads from r until the accumulated output ends with suffix.
func readUntil(t *testing.T, r io.Reader, suffix string) string {
	t.Helper()
	var out strings.Builder
	buf := make([]byte, 256)
	deadline := time.Now().Add(5 * time.Second)
	for !strings.HasSuffix(out.String(), suffix) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q, got %q", suffix, out.String())
		}
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			t.Fatalf("read: %v (got %q)", err, out.String())
		}
	}
	return out.String()
}

func TestNewClientValidation(t *testing.T) {
	auth := []gossh.AuthMethod{gossh.Password("x")}
	hk := gossh.InsecureIgnoreHostKey()

	tests := []struct {
		name string
		opts ClientOptions
	}{
		{"no addr", ClientOptions{User: "u", AuthMethods: auth, HostKeyCallback: hk}},
		{"no user", ClientOptions{Addr: "r1:22", AuthMethods: auth, HostKeyCallback: hk}},
		{"no auth", ClientOptions{Addr: "r1:22", User: "u", HostKeyCallback: hk}},
		{"no host key callback", ClientOptions{Addr: "r1:22", User: "u", AuthMethods: auth}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestConnectDialError(t *testing.T) {
	dialer := fakesshdialer.New()
	dialer.SetError(errors.New("connection refused"))

	c, err := NewClient(ClientOptions{
		Addr:            "192.0.2.1:22",
		User:            "netops",
		AuthMethods:     []gossh.AuthMethod{gossh.Password("x")},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Dialer:          dialer,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	err = c.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "192.0.2.1:22") || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Connect() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() after failed dial")
	}
	calls := dialer.Calls()
	if len(calls) != 1 || calls[0].Config.User != "netops" || calls[0].Network != "tcp" {
		t.Errorf("dial calls = %+v", calls)
	}
	if _, err := c.NewSession(); err == nil {
		t.Error("NewSession() on unconnected client succeeded")
	}
	if _, err := c.SFTP(); err == nil {
		t.Error("SFTP() on unconnected client succeeded")
	}
}

func TestShellRoundTrip(t *testing.T) {
	dev := startDevice(t, mockdevice.WithPrompt("edge1#"), mockdevice.WithResponse("show version", "IOS 15.2\r\n"))
	c := connect(t, dev, AuthConfig{Password: "test"})

	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("second Connect: %v", err)
	}
	if dev.Logins() != 1 {
		t.Errorf("Logins() = %d, want 1", dev.Logins())
	}

	sh, err := OpenShell(c, ShellOptions{})
	if err != nil {
		t.Fatalf("OpenShell: %v", err)
	}
	readUntil(t, sh, "edge1#")

	if _, err := sh.WriteString("show version\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	out := readUntil(t, sh, "edge1#")
	if out != "show version\r\nIOS 15.2\r\nedge1#" {
		t.Errorf("output = %q", out)
	}

	if err := sh.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := sh.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestKeyboardInteractiveDevice(t *testing.T) {
	dev := startDevice(t, mockdevice.WithKeyboardInteractiveOnly())
	c := connect(t, dev, AuthConfig{Password: "test"})
	if !c.IsConnected() {
		t.Fatal("not connected")
	}
}

func TestSFTPReadsDeviceFile(t *testing.T) {
	dev := startDevice(t)
	c := connect(t, dev, AuthConfig{Password: "test"})

	path := filepath.Join(t.TempDir(), "startup.cfg")
	if err := os.WriteFile(path, []byte("hostname R1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sc, err := c.SFTP()
	if err != nil {
		t.Fatalf("SFTP: %v", err)
	}
	data, err := sc.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hostname R1\n" {
		t.Errorf("data = %q", data)
	}

	again, _ := c.SFTP()
	if again != sc {
		t.Error("SFTP() not reused")
	}
}

func TestKnownHostsVerification(t *testing.T) {
	dev := startDevice(t)
	other := startDevice(t)

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(dev.Addr())}, dev.HostKey())
	if err := os.WriteFile(knownHosts, []byte(line+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cb, err := BuildHostKeyCallback(knownHosts, false, nil)
	if err != nil {
		t.Fatalf("BuildHostKeyCallback: %v", err)
	}

	dialWith := func(addr string) error {
		c, err := NewClient(ClientOptions{
			Addr:            addr,
			User:            "test",
			AuthMethods:     []gossh.AuthMethod{gossh.Password("test")},
			HostKeyCallback: cb,
			Timeout:         5 * time.Second,
		})
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Connect(context.Background())
	}

	if err := dialWith(dev.Addr()); err != nil {
		t.Errorf("known host rejected: %v", err)
	}
	if err := dialWith(other.Addr()); err == nil {
		t.Error("unknown host accepted")
	}
}

func TestBuildHostKeyCallbackFallbacks(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	if cb, err := BuildHostKeyCallback(missing, false, nil); err != nil || cb == nil {
		t.Errorf("missing known_hosts: cb=%v err=%v", cb != nil, err)
	}
	if cb, err := BuildHostKeyCallback("", true, nil); err != nil || cb == nil {
		t.Errorf("insecure: cb=%v err=%v", cb != nil, err)
	}

	bad := filepath.Join(t.TempDir(), "known_hosts")
	os.WriteFile(bad, []byte("r1 ssh-ed25519 !!!notbase64\n"), 0600)
	if _, err := BuildHostKeyCallback(bad, false, nil); err == nil {
		t.Error("expected parse error")
	}
}
