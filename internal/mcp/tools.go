package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/acolita/netpush-mcp/internal/arbiter"
	"github.com/acolita/netpush-mcp/internal/cmdset"
	"github.com/acolita/netpush-mcp/internal/device"
	"github.com/acolita/netpush-mcp/internal/logging"
	"github.com/acolita/netpush-mcp/internal/recovery"
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(deviceListTool(), s.handleDeviceList)
	s.mcpServer.AddTool(configPushTool(), s.handleConfigPush)
	s.mcpServer.AddTool(configPushFileTool(), s.handleConfigPushFile)
	s.mcpServer.AddTool(deviceAddTool(), s.handleDeviceAdd)
}

// Tool definitions

func deviceListTool() mcp.Tool {
	return mcp.NewTool("device_list",
		mcp.WithDescription("List the network devices commands can be pushed to"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func configPushTool() mcp.Tool {
	return mcp.NewTool("config_push",
		mcp.WithDescription(`Push a list of CLI commands to a network device.

Commands are sent over one interactive session, paced by the device prompt:
at most chunk_size commands are outstanding, and each line starting with the
prompt acknowledges one. If no prompt appears within the timeout, one command
is assumed done. Commands matching the security blocklist are rejected before
connecting.`),
		mcp.WithString("device",
			mcp.Required(),
			mcp.Description(descDevice),
		),
		mcp.WithArray("commands",
			mcp.Required(),
			mcp.Description("Commands in order, one per element; a single string is split into lines"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("chunk_size", mcp.Description(descChunkSize)),
		mcp.WithNumber("timeout_ms", mcp.Description(descTimeoutMs)),
		mcp.WithNumber("host_splice", mcp.Description(descHostSplice)),
		mcp.WithBoolean("include_transcript", mcp.Description(descTranscript)),
	)
}

func configPushFileTool() mcp.Tool {
	return mcp.NewTool("config_push_file",
		mcp.WithDescription(`Push the commands stored in one or more files to a network device.

Paths may be globs ('**' matches directories). Matches of one pattern are pushed
in lexical order. Blank lines and lines starting with '!' or '#' are skipped.
With remote=true the files are read from the device itself over SFTP.`),
		mcp.WithString("device",
			mcp.Required(),
			mcp.Description(descDevice),
		),
		mcp.WithArray("paths",
			mcp.Required(),
			mcp.Description("Command files or glob patterns"),
			mcp.WithStringItems(),
		),
		mcp.WithBoolean("remote", mcp.Description("Read the files from the device over SFTP (default: false)")),
		mcp.WithNumber("chunk_size", mcp.Description(descChunkSize)),
		mcp.WithNumber("timeout_ms", mcp.Description(descTimeoutMs)),
		mcp.WithNumber("host_splice", mcp.Description(descHostSplice)),
		mcp.WithBoolean("include_transcript", mcp.Description(descTranscript)),
	)
}

// Tool handlers

func (s *Server) handleDeviceList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices := s.pusher.Devices()
	return jsonResult(map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleConfigPush(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dev := mcp.ParseString(req, "device", "")
	if dev == "" {
		return mcp.NewToolResultError(errDeviceRequired), nil
	}
	commands, err := stringList(req, "commands")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(commands) == 0 {
		return mcp.NewToolResultError("commands is required"), nil
	}
	params, err := parsePushParams(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("pushing commands",
		slog.String("device", dev),
		slog.Int("commands", len(commands)),
	)

	res, err := s.pusher.Push(ctx, device.PushRequest{
		Device:     dev,
		Commands:   commands,
		ChunkSize:  params.chunkSize,
		Timeout:    params.timeout,
		HostSplice: params.hostSplice,
	})
	return s.pushResult(res, err, params.transcript)
}

func (s *Server) handleConfigPushFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dev := mcp.ParseString(req, "device", "")
	if dev == "" {
		return mcp.NewToolResultError(errDeviceRequired), nil
	}
	paths, err := stringList(req, "paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(paths) == 0 {
		return mcp.NewToolResultError("paths is required"), nil
	}
	params, err := parsePushParams(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	remote := mcp.ParseBoolean(req, "remote", false)

	s.logger.Info("pushing command files",
		slog.String("device", dev),
		slog.Any("paths", paths),
		slog.Bool("remote", remote),
	)

	res, err := s.pusher.PushFiles(ctx, device.FileRequest{
		Device:     dev,
		Patterns:   paths,
		Remote:     remote,
		ChunkSize:  params.chunkSize,
		Timeout:    params.timeout,
		HostSplice: params.hostSplice,
	})
	return s.pushResult(res, err, params.transcript)
}

type pushParams struct {
	chunkSize  int
	timeout    time.Duration
	hostSplice int
	transcript bool
}

func parsePushParams(req mcp.CallToolRequest) (pushParams, error) {
	p := pushParams{
		chunkSize:  mcp.ParseInt(req, "chunk_size", 0),
		timeout:    time.Duration(mcp.ParseInt(req, "timeout_ms", 0)) * time.Millisecond,
		hostSplice: mcp.ParseInt(req, "host_splice", 0),
		transcript: mcp.ParseBoolean(req, "include_transcript", true),
	}
	switch {
	case p.chunkSize < 0:
		return p, fmt.Errorf(errNegativeParam, "chunk_size")
	case p.timeout < 0:
		return p, fmt.Errorf(errNegativeParam, "timeout_ms")
	case p.hostSplice < 0:
		return p, fmt.Errorf(errNegativeParam, "host_splice")
	}
	return p, nil
}

// stringList reads an array of strings. A plain string is parsed as a command
// file so multi-line text works too.
func stringList(req mcp.CallToolRequest, key string) ([]string, error) {
	switch v := req.GetArguments()[key].(type) {
	case nil:
		return nil, nil
	case string:
		return cmdset.Parse(strings.NewReader(v))
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string, got %T", key, i, item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings, got %T", key, v)
	}
}

// pushOutput is the JSON reported for a push.
type pushOutput struct {
	Status     string                `json:"status"`
	Error      string                `json:"error,omitempty"`
	Device     string                `json:"device,omitempty"`
	Prompt     string                `json:"prompt,omitempty"`
	Sent       int                   `json:"sent"`
	Remaining  int                   `json:"remaining"`
	DurationMs int64                 `json:"duration_ms"`
	Stats      arbiter.Stats         `json:"stats"`
	Recording  string                `json:"recording,omitempty"`
	Hints      []recovery.Suggestion `json:"hints,omitempty"`
	Transcript string                `json:"transcript,omitempty"`
}

func (s *Server) pushResult(res *device.Result, err error, includeTranscript bool) (*mcp.CallToolResult, error) {
	if res == nil || res.Result == nil {
		if err == nil {
			err = errors.New("push returned no result")
		}
		var sb strings.Builder
		sb.WriteString(err.Error())
		for _, hint := range s.analyzer.Analyze(err, nil) {
			fmt.Fprintf(&sb, "\nhint: %s", hint.Hint)
		}
		return mcp.NewToolResultError(sb.String()), nil
	}

	out := pushOutput{
		Status:     "completed",
		Device:     res.Device,
		Prompt:     res.Prompt,
		Sent:       res.Sent,
		Remaining:  res.Remaining,
		DurationMs: res.Duration.Milliseconds(),
		Stats:      res.Stats,
		Recording:  res.Recording,
		Hints:      s.analyzer.Analyze(err, res.Result),
	}
	if includeTranscript {
		out.Transcript = logging.Truncate(res.Transcript, maxTranscript)
	}
	if err != nil {
		out.Status = "failed"
		out.Error = err.Error()
		data, merr := json.MarshalIndent(out, "", "  ")
		if merr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s (encode result: %v)", err, merr)), nil
		}
		return mcp.NewToolResultError(string(data)), nil
	}
	return jsonResult(out)
}

// jsonResult converts a value to a JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
