package recording

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/acolita/netpush-mcp/internal/testing/fakes/fakeclock"
	"github.com/acolita/netpush-mcp/internal/testing/fakes/fakefs"
)

var start = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func readCast(t *testing.T, fs *fakefs.FS, path string) (Header, []Event) {
	t.Helper()
	data, err := fs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")

	var h Header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("header: %v", err)
	}
	var events []Event
	for _, l := range lines[1:] {
		var e Event
		if err := json.Unmarshal([]byte(l), &e); err != nil {
			t.Fatalf("event %q: %v", l, err)
		}
		events = append(events, e)
	}
	return h, events
}

func TestRecorderWritesAsciicast(t *testing.T) {
	fs := fakefs.New()
	clock := fakeclock.New(start)

	r, err := NewRecorder("/var/rec", "core1", 200, 24, fs, clock)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	if want := "/var/rec/core1_20260314T092653.000.cast"; r.Path() != want {
		t.Errorf("Path() = %q, want %q", r.Path(), want)
	}

	r.RecordOutput("core1#")
	clock.Advance(250 * time.Millisecond)
	r.RecordInput("show version\n")
	clock.Advance(250 * time.Millisecond)
	r.RecordOutput("show version\r\ncore1#")
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h, events := readCast(t, fs, r.Path())
	if h.Version != 2 || h.Width != 200 || h.Height != 24 || h.Timestamp != start.Unix() {
		t.Errorf("header = %+v", h)
	}
	if h.Title != "push to core1" {
		t.Errorf("Title = %q", h.Title)
	}

	want := []Event{
		{0, "o", "core1#"},
		{0.25, "i", "show version\n"},
		{0.5, "o", "show version\r\ncore1#"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestRecorderIgnoresEventsAfterClose(t *testing.T) {
	fs := fakefs.New()
	r, err := NewRecorder("/rec", "r1", 80, 24, fs, fakeclock.New(start))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	r.Close()

	if err := r.RecordOutput("late"); err != nil {
		t.Errorf("RecordOutput after Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, events := readCast(t, fs, r.Path()); len(events) != 0 {
		t.Errorf("events after Close were written: %+v", events)
	}
}

func TestNewRecorderErrors(t *testing.T) {
	fs := fakefs.New()
	clock := fakeclock.New(start)

	if _, err := NewRecorder("/rec", "r1", 80, 24, fs, clock); err != nil {
		t.Fatalf("first recorder: %v", err)
	}
	// Same device, same instant: the file already exists.
	if _, err := NewRecorder("/rec", "r1", 80, 24, fs, clock); !errors.Is(err, os.ErrExist) {
		t.Errorf("duplicate recording err = %v, want ErrExist", err)
	}

	fs.OpenErr = errors.New("read-only file system")
	if _, err := NewRecorder("/rec", "r2", 80, 24, fs, clock); err == nil {
		t.Error("expected open error")
	}
}

func TestEventUnmarshalRejectsMalformed(t *testing.T) {
	for _, in := range []string{`[1, "o"]`, `[1, 2, "x"]`, `{"time": 1}`} {
		var e Event
		if err := json.Unmarshal([]byte(in), &e); err == nil {
			t.Errorf("Unmarshal(%s) succeeded", in)
		}
	}
}

func TestManager(t *testing.T) {
	fs := fakefs.New()
	clock := fakeclock.New(start)

	tests := []struct {
		name    string
		dir     string
		enabled bool
		want    bool
	}{
		{"enabled", "/rec", true, true},
		{"disabled", "/rec", false, false},
		{"no directory", "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.dir, tt.enabled, fs, clock)
			if m.IsEnabled() != tt.want {
				t.Errorf("IsEnabled() = %v, want %v", m.IsEnabled(), tt.want)
			}
			clock.Advance(time.Second)
			r, err := m.Start("edge1")
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			if (r != nil) != tt.want {
				t.Fatalf("Start returned recorder %v, want %v", r != nil, tt.want)
			}
			if r != nil {
				r.Close()
			}
		})
	}
}
