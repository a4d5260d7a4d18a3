package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/acolita/netpush-mcp/internal/config"
	"github.com/acolita/netpush-mcp/internal/device"
	"github.com/acolita/netpush-mcp/internal/testing/fakes/fakedialog"
	"github.com/acolita/netpush-mcp/internal/testing/fakes/fakefs"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// fakePusher records requests and returns canned results.
type fakePusher struct {
	devices []device.Info
	result  *device.Result
	err     error

	pushes     []device.PushRequest
	filePushes []device.FileRequest
	configs    []*config.Config
	updateErr  error
}

func (p *fakePusher) Devices() []device.Info { return p.devices }

func (p *fakePusher) Push(_ context.Context, req device.PushRequest) (*device.Result, error) {
	p.pushes = append(p.pushes, req)
	return p.result, p.err
}

func (p *fakePusher) PushFiles(_ context.Context, req device.FileRequest) (*device.Result, error) {
	p.filePushes = append(p.filePushes, req)
	return p.result, p.err
}

func (p *fakePusher) UpdateConfig(cfg *config.Config) error {
	if p.updateErr != nil {
		return p.updateErr
	}
	p.configs = append(p.configs, cfg)
	return nil
}

type testServer struct {
	*Server
	pusher *fakePusher
	dialog *fakedialog.Provider
	fs     *fakefs.FS
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...ServerOption) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ts := &testServer{
		pusher: &fakePusher{},
		dialog: fakedialog.New(),
		fs:     fakefs.New(),
	}
	opts = append([]ServerOption{
		WithFileSystem(ts.fs),
		WithDialogProvider(ts.dialog),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	ts.Server = NewServer(cfg, ts.pusher, opts...)
	return ts
}

func makeRequest(args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(result *mcpgo.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	tc, ok := mcpgo.AsTextContent(result.Content[0])
	if !ok {
		return ""
	}
	return tc.Text
}

func resultJSON(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	text := resultText(result)
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		t.Fatalf("failed to parse result JSON: %v (text: %s)", err, text)
	}
	return m
}
