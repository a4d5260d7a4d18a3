package sftp

import (
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"

	"github.com/acolita/netpush-mcp/internal/cmdset"
	"github.com/pkg/sftp"
)

// newInMemory returns a client talking to an in-memory SFTP server.
func newInMemory(t *testing.T, files map[string]string) *Client {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve()

	sc, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatalf("NewClientPipe: %v", err)
	}
	t.Cleanup(func() {
		sc.Close()
		server.Close()
	})

	for path, content := range files {
		if dir := path[:strings.LastIndex(path, "/")]; dir != "" {
			if err := sc.MkdirAll(dir); err != nil {
				t.Fatalf("MkdirAll(%s): %v", dir, err)
			}
		}
		f, err := sc.Create(path)
		if err != nil {
			t.Fatalf("Create(%s): %v", path, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("Write(%s): %v", path, err)
		}
		f.Close()
	}

	return Wrap(sc)
}

func TestReadFile(t *testing.T) {
	c := newInMemory(t, map[string]string{
		"/flash/base.cfg": "hostname R1\n!\nend\n",
	})

	data, err := c.ReadFile("/flash/base.cfg")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hostname R1\n!\nend\n" {
		t.Errorf("data = %q", data)
	}
}

func TestReadFileErrors(t *testing.T) {
	c := newInMemory(t, map[string]string{"/flash/base.cfg": "x"})

	if _, err := c.ReadFile("/flash/missing.cfg"); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := c.ReadFile("/flash"); err == nil {
		t.Error("expected error for directory")
	}
}

func TestGlobSorted(t *testing.T) {
	c := newInMemory(t, map[string]string{
		"/cfg/20-vlans.cfg": "vlan 10",
		"/cfg/10-base.cfg":  "hostname R1",
		"/cfg/notes.txt":    "ignore",
	})

	got, err := c.Glob("/cfg/*.cfg")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	want := []string{"/cfg/10-base.cfg", "/cfg/20-vlans.cfg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Glob = %q, want %q", got, want)
	}
}

func TestGlobDoublestar(t *testing.T) {
	c := newInMemory(t, map[string]string{
		"/flash/site/a/base.cfg": "hostname R1",
		"/flash/site/b.cfg":      "interface ge-0/0/1",
		"/flash/site/c.txt":      "ignore",
		"/flash/top.cfg":         "ntp server 10.0.0.1",
	})

	tests := []struct {
		pattern string
		want    []string
	}{
		{"/flash/**/*.cfg", []string{"/flash/site/a/base.cfg", "/flash/site/b.cfg", "/flash/top.cfg"}},
		{"/flash/site/**/*.cfg", []string{"/flash/site/a/base.cfg", "/flash/site/b.cfg"}},
		{"/flash/site/{a/base,b}.cfg", []string{"/flash/site/a/base.cfg", "/flash/site/b.cfg"}},
		{"/flash/*.cfg", []string{"/flash/top.cfg"}},
		{"/flash/**/*.ios", nil},
		{"/missing/**/*.cfg", nil},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := c.Glob(tt.pattern)
			if err != nil {
				t.Fatalf("Glob: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Glob = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGlobBadPattern(t *testing.T) {
	c := newInMemory(t, nil)
	if _, err := c.Glob("/flash/[.cfg"); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestLoadRemoteNestedFiles(t *testing.T) {
	c := newInMemory(t, map[string]string{
		"/flash/site/a/base.cfg": "hostname R1\n",
		"/flash/site/b.cfg":      "interface ge-0/0/1\n",
	})

	cmds, err := cmdset.LoadRemote(c, "/flash/**/*.cfg")
	if err != nil {
		t.Fatalf("LoadRemote: %v", err)
	}
	want := []string{"hostname R1", "interface ge-0/0/1"}
	if !reflect.DeepEqual(cmds, want) {
		t.Errorf("commands = %q, want %q", cmds, want)
	}
}

func TestClosedClient(t *testing.T) {
	c := newInMemory(t, nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := c.ReadFile("/x"); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadFile after Close err = %v", err)
	}
	if _, err := c.Glob("/*"); !errors.Is(err, ErrClosed) {
		t.Errorf("Glob after Close err = %v", err)
	}
}

func TestNilConnection(t *testing.T) {
	c := NewClient(nil)
	if _, err := c.Stat("/"); err == nil || !strings.Contains(err.Error(), "nil") {
		t.Errorf("err = %v, want nil connection error", err)
	}
}
