package device

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/acolita/netpush-mcp/internal/cmdset"
	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/driver"
	"github.com/acolita/netpush-mcp/internal/logging"
	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/acolita/netpush-mcp/internal/recording"
	"github.com/acolita/netpush-mcp/internal/security"
)

// PushRequest describes one push. Zero parameters fall back to the device
// settings, then to the configured arbiter defaults.
type PushRequest struct {
	Device     string
	Commands   []string
	ChunkSize  int
	Timeout    time.Duration
	HostSplice int
}

// FileRequest pushes the commands read from files. Patterns are doublestar
// globs; with Remote set they are read from the device over SFTP.
type FileRequest struct {
	Device     string
	Patterns   []string
	Remote     bool
	ChunkSize  int
	Timeout    time.Duration
	HostSplice int
}

// Result is the outcome of a push to one device.
type Result struct {
	Device string `json:"device"`
	*driver.Result
	Recording string `json:"recording,omitempty"`
}

// Info is the public description of a configured device.
type Info struct {
	Name    string `json:"name"`
	Mode    string `json:"mode"`
	Address string `json:"address,omitempty"`
	User    string `json:"user,omitempty"`
	Command string `json:"command,omitempty"`
	Prompt  string `json:"prompt"`
}

// Service pushes command lists to configured devices.
type Service struct {
	mu         sync.RWMutex
	cfg        *config.Config
	filter     *security.CommandFilter
	recordings *recording.Manager

	connector Connector
	fs        ports.FileSystem
	clock     ports.Clock
	logger    *slog.Logger
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Connector Connector
	FS        ports.FileSystem // recordings; nil means the real filesystem
	Clock     ports.Clock      // nil means the real clock
	Logger    *slog.Logger
}

// NewService creates a Service for cfg.
func NewService(cfg *config.Config, opts ServiceOptions) (*Service, error) {
	if opts.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Service{
		connector: opts.Connector,
		fs:        opts.FS,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
	if err := s.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateConfig replaces the configuration, e.g. after a reload.
// Pushes in progress keep the settings they started with.
func (s *Service) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	blocklist := cfg.Security.CommandBlocklist
	if !cfg.Security.DisableDefaultBlocklist {
		blocklist = append(security.DefaultBlocklist(), blocklist...)
	}
	filter, err := security.NewCommandFilter(blocklist, cfg.Security.CommandAllowlist)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.filter = filter
	s.recordings = recording.NewManager(cfg.Recording.Path, cfg.Recording.Enabled, s.fs, s.clock)
	return nil
}

// Devices lists the configured devices by name.
func (s *Service) Devices() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.cfg.Devices))
	for _, d := range s.cfg.Devices {
		info := Info{
			Name:   d.Name,
			Mode:   d.ConnectionMode(),
			User:   d.User,
			Prompt: d.PromptPrefix(),
		}
		if info.Mode == config.ModeSSH {
			info.Address = d.Address()
		} else {
			info.Command = d.Command
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Push sends req.Commands to the device. Blocked commands fail the push before
// any connection is made. On failure after the session started, the returned
// Result reports how far the push got.
func (s *Service) Push(ctx context.Context, req PushRequest) (*Result, error) {
	s.mu.RLock()
	cfg, filter, recordings := s.cfg, s.filter, s.recordings
	s.mu.RUnlock()

	dev, ok := cfg.Device(req.Device)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, req.Device)
	}
	if err := filter.Check(req.Commands); err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("device", dev.Name))
	opts := s.driverOptions(cfg, dev, req, logger)
	res := &Result{Device: dev.Name}

	transport, err := s.connector.Open(ctx, dev)
	if err != nil {
		return nil, err
	}
	defer transport.Close()

	rec, err := recordings.Start(dev.Name)
	if err != nil {
		logger.Warn("recording disabled for this push", slog.String("error", err.Error()))
	}
	if rec != nil {
		defer rec.Close()
		opts.Recorder = rec
		res.Recording = rec.Path()
	}

	logger.Info("push started", slog.Int("commands", len(req.Commands)))
	pushed, err := driver.Push(ctx, transport, dev.PromptPrefix(), req.Commands, opts)
	if pushed == nil {
		return nil, err
	}
	res.Result = pushed
	if err != nil {
		logger.Debug("partial transcript", slog.String("transcript", logging.Truncate(pushed.Transcript, 2048)))
		return res, fmt.Errorf("push to %s: %w", dev.Name, err)
	}
	return res, nil
}

// PushFiles loads commands from the files matching req.Patterns and pushes them.
func (s *Service) PushFiles(ctx context.Context, req FileRequest) (*Result, error) {
	commands, err := s.LoadCommands(ctx, req.Device, req.Remote, req.Patterns...)
	if err != nil {
		return nil, err
	}
	return s.Push(ctx, PushRequest{
		Device:     req.Device,
		Commands:   commands,
		ChunkSize:  req.ChunkSize,
		Timeout:    req.Timeout,
		HostSplice: req.HostSplice,
	})
}

// LoadCommands reads command files from the local filesystem or, with remote
// set, from the device.
func (s *Service) LoadCommands(ctx context.Context, device string, remote bool, patterns ...string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no command file given")
	}
	if !remote {
		return cmdset.LoadPaths(patterns...)
	}

	s.mu.RLock()
	dev, ok := s.cfg.Device(device)
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}

	files, err := s.connector.OpenFiles(ctx, dev)
	if err != nil {
		return nil, err
	}
	defer files.Close()

	var commands []string
	for _, p := range patterns {
		cmds, err := cmdset.LoadRemote(files, p)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dev.Name, err)
		}
		commands = append(commands, cmds...)
	}
	return commands, nil
}

func (s *Service) driverOptions(cfg *config.Config, dev config.DeviceConfig, req PushRequest, logger *slog.Logger) driver.Options {
	a := cfg.Arbiter
	return driver.Options{
		ChunkSize:    firstPositive(req.ChunkSize, dev.ChunkSize, a.ChunkSize),
		Timeout:      firstPositive(req.Timeout, dev.Timeout, a.Timeout),
		HostSplice:   firstPositive(req.HostSplice, dev.HostSplice, a.HostSplice),
		PollInterval: a.PollInterval,
		StallTimeout: a.StallTimeout,
		SettleTime:   a.SettleTime,
		LineEnding:   dev.LineEnding,
		Clock:        s.clock,
		Logger:       logger,
	}
}

func firstPositive[T int | time.Duration](values ...T) T {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
