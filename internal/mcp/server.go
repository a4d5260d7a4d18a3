// Package mcp exposes the push service as MCP tools.
package mcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/acolita/netpush-mcp/internal/adapters/realdialog"
	"github.com/acolita/netpush-mcp/internal/adapters/realfs"
	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/device"
	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/acolita/netpush-mcp/internal/recovery"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is reported to MCP clients.
const ServerName = "netpush-mcp"

// Pusher is the device service used by the tool handlers.
type Pusher interface {
	Devices() []device.Info
	Push(ctx context.Context, req device.PushRequest) (*device.Result, error)
	PushFiles(ctx context.Context, req device.FileRequest) (*device.Result, error)
	UpdateConfig(cfg *config.Config) error
}

// Server wraps the MCP server implementation.
type Server struct {
	mcpServer *server.MCPServer
	pusher    Pusher

	mu         sync.Mutex
	config     *config.Config
	configPath string

	analyzer       *recovery.Analyzer
	dialogProvider ports.DialogProvider
	fs             ports.FileSystem
	logger         *slog.Logger
	version        string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithFileSystem sets the filesystem used to save the configuration.
func WithFileSystem(fs ports.FileSystem) ServerOption {
	return func(s *Server) {
		s.fs = fs
	}
}

// WithConfigPath enables device_add, which saves new devices to path.
func WithConfigPath(path string) ServerOption {
	return func(s *Server) {
		s.configPath = path
	}
}

// WithDialogProvider sets the provider of the device form.
func WithDialogProvider(dp ports.DialogProvider) ServerOption {
	return func(s *Server) {
		s.dialogProvider = dp
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates an MCP server that pushes through p.
func NewServer(cfg *config.Config, p Pusher, opts ...ServerOption) *Server {
	s := &Server{
		pusher:         p,
		config:         cfg,
		analyzer:       recovery.NewAnalyzer(),
		dialogProvider: realdialog.New(),
		fs:             realfs.New(),
		logger:         slog.Default(),
		version:        "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = server.NewMCPServer(
		ServerName,
		s.version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdio until the client disconnects.
func (s *Server) Run() error {
	s.logger.Info("starting MCP server on stdio transport", slog.String("version", s.version))
	return server.ServeStdio(s.mcpServer)
}

// UpdateConfig applies a reloaded configuration. An invalid configuration is
// rejected and the current one kept.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if err := s.pusher.UpdateConfig(cfg); err != nil {
		s.logger.Warn("config reload rejected", slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()

	s.logger.Info("configuration hot-reloaded", slog.Int("devices", len(cfg.Devices)))
}

func (s *Server) currentConfig() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}
