package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/ports"
	"github.com/mark3labs/mcp-go/mcp"
)

func deviceAddTool() mcp.Tool {
	return mcp.NewTool("device_add",
		mcp.WithDescription(`Add a network device to the configuration interactively.

Opens a form on the user's terminal, pre-filled with the given fields, where the
user confirms or edits the entry before it is saved. Credentials are named by
environment variable or taken from the OS keyring and never pass through this tool.

The device can be used right after saving. Requires the server to be started
with a config file path.`),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Short device name (e.g. 'core1'); also the default prompt prefix"),
		),
		mcp.WithString("mode",
			mcp.Description("'ssh' (default) or 'local' for a console reached by a local command"),
			mcp.Enum("ssh", "local"),
		),
		mcp.WithString("host", mcp.Description("Hostname or IP address (ssh mode)")),
		mcp.WithNumber("port", mcp.Description("SSH port (default: 22)")),
		mcp.WithString("user", mcp.Description("Login user (ssh mode)")),
		mcp.WithString("command", mcp.Description("Console command for local mode, e.g. 'screen /dev/ttyUSB0 9600'")),
		mcp.WithString("prompt", mcp.Description("Start of the device prompt if it differs from the name")),
		mcp.WithNumber("chunk_size", mcp.Description(descChunkSize)),
	)
}

func (s *Server) handleDeviceAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.configPath == "" {
		return mcp.NewToolResultError(
			"No config file path set. Start the server with -config to enable device management.",
		), nil
	}

	prefill := ports.DeviceFormData{
		Name:      mcp.ParseString(req, "name", ""),
		Mode:      mcp.ParseString(req, "mode", config.ModeSSH),
		Host:      mcp.ParseString(req, "host", ""),
		Port:      mcp.ParseInt(req, "port", 22),
		User:      mcp.ParseString(req, "user", ""),
		Command:   mcp.ParseString(req, "command", ""),
		Prompt:    mcp.ParseString(req, "prompt", ""),
		ChunkSize: mcp.ParseInt(req, "chunk_size", 0),
	}
	if prefill.Name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	if prefill.Mode != config.ModeSSH && prefill.Mode != config.ModeLocal {
		return mcp.NewToolResultError(fmt.Sprintf("mode must be %q or %q", config.ModeSSH, config.ModeLocal)), nil
	}
	if _, exists := s.currentConfig().Device(prefill.Name); exists {
		return mcp.NewToolResultError(fmt.Sprintf("device %q already exists in config", prefill.Name)), nil
	}

	s.logger.Info("showing device form", slog.String("device", prefill.Name))

	result, err := s.dialogProvider.DeviceConfigForm(prefill)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("dialog error: %v", err)), nil
	}
	if !result.Confirmed {
		s.logger.Info("device form cancelled", slog.String("device", prefill.Name))
		return jsonResult(map[string]any{
			"status":  "cancelled",
			"message": "User cancelled the configuration",
		})
	}

	dev := config.DeviceFromForm(result)
	cfg, err := s.saveDevice(dev)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.pusher.UpdateConfig(cfg); err != nil {
		s.logger.Warn("saved device not applied", slog.String("error", err.Error()))
	}

	s.logger.Info("device saved",
		slog.String("device", dev.Name),
		slog.String("mode", dev.ConnectionMode()),
		slog.String("config_path", s.configPath),
	)

	return jsonResult(map[string]any{
		"status":      "saved",
		"device":      dev.Name,
		"mode":        dev.ConnectionMode(),
		"host":        dev.Host,
		"port":        dev.Port,
		"user":        dev.User,
		"prompt":      dev.PromptPrefix(),
		"config_path": s.configPath,
	})
}

// saveDevice adds dev to a copy of the current configuration and writes it.
func (s *Server) saveDevice(dev config.DeviceConfig) (*config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.config
	next.Devices = append([]config.DeviceConfig(nil), s.config.Devices...)
	if err := next.AddDevice(dev); err != nil {
		return nil, fmt.Errorf("add device: %w", err)
	}
	if err := config.Save(&next, s.configPath, s.fs); err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}
	s.config = &next
	return &next, nil
}
