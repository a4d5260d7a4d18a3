package recording

import (
	"github.com/acolita/netpush-mcp/internal/adapters/realclock"
	"github.com/acolita/netpush-mcp/internal/adapters/realfs"
	"github.com/acolita/netpush-mcp/internal/ports"
)

// Terminal size recorded in every header; matches the size requested from devices.
const (
	defaultWidth  = 200
	defaultHeight = 24
)

// Manager starts recordings in one directory when recording is enabled.
type Manager struct {
	dir     string
	enabled bool
	fs      ports.FileSystem
	clock   ports.Clock
}

// NewManager creates a recording manager. Nil fs and clock select the real ones.
func NewManager(dir string, enabled bool, fs ports.FileSystem, clock ports.Clock) *Manager {
	if fs == nil {
		fs = realfs.New()
	}
	if clock == nil {
		clock = realclock.New()
	}
	return &Manager{dir: dir, enabled: enabled, fs: fs, clock: clock}
}

// Start begins a recording for a push to device.
// It returns nil, nil when recording is disabled.
func (m *Manager) Start(device string) (*Recorder, error) {
	if !m.IsEnabled() {
		return nil, nil
	}
	return NewRecorder(m.dir, device, defaultWidth, defaultHeight, m.fs, m.clock)
}

// IsEnabled returns whether recording is enabled.
func (m *Manager) IsEnabled() bool {
	return m.enabled && m.dir != ""
}
