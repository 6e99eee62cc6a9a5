package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/praxis-agent/praxis/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type funcTransport struct {
	startErr error
	call     func(ctx context.Context, method string, params, result any) error
	closed   *int
}

func (t *funcTransport) Start(ctx context.Context) error { return t.startErr }

func (t *funcTransport) Call(ctx context.Context, method string, params, result any) error {
	if t.call == nil {
		return nil
	}
	return t.call(ctx, method, params, result)
}

func (t *funcTransport) Close() error {
	if t.closed != nil {
		*t.closed++
	}
	return nil
}

type fakeAuthorizer struct {
	err   error
	tools []string
}

func (a *fakeAuthorizer) Authorize(ctx context.Context, tool string, args map[string]any) error {
	a.tools = append(a.tools, tool)
	return a.err
}

func newTestBridge(t *testing.T, auth Authorizer, call func(ctx context.Context, method string, params, result any) error) (*Bridge, *int, *int) {
	t.Helper()
	b := NewBridge(auth, RetryPolicy{Attempts: 1, Backoff: time.Millisecond}, discardLogger())

	dials := new(int)
	closes := new(int)
	b.dial = func(cfg ServerConfig, log *slog.Logger) (Transport, error) {
		*dials++
		return &funcTransport{call: call, closed: closes}, nil
	}
	return b, dials, closes
}

func stdioConfig(id string) ServerConfig {
	return ServerConfig{ID: id, Transport: TransportStdio, Command: "tool-server"}
}

func answer(text string) func(ctx context.Context, method string, params, result any) error {
	return func(ctx context.Context, method string, params, result any) error {
		if r, ok := result.(*callToolResult); ok {
			r.Content = []ContentBlock{{Type: "text", Text: text}}
		}
		return nil
	}
}

func TestRegisterServer(t *testing.T) {
	b, _, _ := newTestBridge(t, nil, nil)

	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}
	if err := b.RegisterServer(stdioConfig("files")); !errors.Is(err, ErrDuplicateServer) {
		t.Errorf("duplicate RegisterServer() error = %v, want ErrDuplicateServer", err)
	}

	var vErr *types.ValidationError
	if err := b.RegisterServer(ServerConfig{Transport: TransportStdio}); !errors.As(err, &vErr) {
		t.Errorf("invalid RegisterServer() error = %v, want validation error", err)
	}
	if err := b.RegisterServer(ServerConfig{
		ID:        "bomb",
		Transport: TransportStdio,
		Command:   "rm",
		Args:      []string{"-rf", "/"},
	}); !errors.As(err, &vErr) {
		t.Errorf("destructive RegisterServer() error = %v, want validation error", err)
	}

	servers := b.ListServers()
	if len(servers) != 1 || servers[0].ID != "files" {
		t.Errorf("ListServers() = %v, want single files entry", servers)
	}
}

func TestUnregisterServer(t *testing.T) {
	b, _, closes := newTestBridge(t, nil, answer("ok"))
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	// Connect lazily by calling once.
	if _, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"}); err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}

	if err := b.UnregisterServer("files"); err != nil {
		t.Fatalf("UnregisterServer() error = %v", err)
	}
	if *closes != 1 {
		t.Errorf("transport closed %d times, want 1", *closes)
	}
	if err := b.UnregisterServer("files"); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("second UnregisterServer() error = %v, want ErrServerNotFound", err)
	}
}

func TestCallToolValidatesRequest(t *testing.T) {
	b, dials, _ := newTestBridge(t, nil, nil)

	tests := []*ToolCallRequest{
		nil,
		{Tool: "read"},
		{Server: "files"},
	}
	for _, req := range tests {
		var vErr *types.ValidationError
		if _, err := b.CallTool(context.Background(), req); !errors.As(err, &vErr) {
			t.Errorf("CallTool(%+v) error = %v, want validation error", req, err)
		}
	}
	if *dials != 0 {
		t.Errorf("dialed %d times for invalid requests, want 0", *dials)
	}
}

func TestCallToolUnknownServer(t *testing.T) {
	b, _, _ := newTestBridge(t, nil, nil)
	if _, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "ghost", Tool: "read"}); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("CallTool() error = %v, want ErrServerNotFound", err)
	}
}

func TestCallToolAuthorization(t *testing.T) {
	denied := errors.New("permission denied")
	auth := &fakeAuthorizer{err: denied}
	b, dials, _ := newTestBridge(t, auth, answer("ok"))
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	_, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "delete"})
	if !errors.Is(err, denied) {
		t.Fatalf("CallTool() error = %v, want authorization failure", err)
	}
	if len(auth.tools) != 1 || auth.tools[0] != "delete" {
		t.Errorf("authorizer saw %v, want the tool name", auth.tools)
	}
	if *dials != 0 {
		t.Errorf("dialed %d times for a denied call, want 0", *dials)
	}

	auth.err = nil
	res, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"})
	if err != nil {
		t.Fatalf("authorized CallTool() error = %v", err)
	}
	if res.Text() != "ok" {
		t.Errorf("result text = %q, want ok", res.Text())
	}
}

func TestCallToolRetriesTransientOnce(t *testing.T) {
	attempts := 0
	call := func(ctx context.Context, method string, params, result any) error {
		attempts++
		if attempts == 1 {
			return &TransportError{Transient: true, Err: errors.New("connection reset")}
		}
		if r, ok := result.(*callToolResult); ok {
			r.Content = []ContentBlock{{Type: "text", Text: "recovered"}}
		}
		return nil
	}
	b, dials, closes := newTestBridge(t, nil, call)
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	res, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"})
	if err != nil {
		t.Fatalf("CallTool() error = %v, want retried success", err)
	}
	if res.Text() != "recovered" {
		t.Errorf("result text = %q, want recovered", res.Text())
	}
	if attempts != 2 {
		t.Errorf("call attempts = %d, want 2", attempts)
	}
	// The suspect connection is dropped and rebuilt for the retry.
	if *dials != 2 || *closes != 1 {
		t.Errorf("dials = %d closes = %d, want 2 and 1", *dials, *closes)
	}
}

func TestCallToolRetryExhausted(t *testing.T) {
	attempts := 0
	transient := &TransportError{Transient: true, Err: errors.New("connection reset")}
	b, _, _ := newTestBridge(t, nil, func(ctx context.Context, method string, params, result any) error {
		attempts++
		return transient
	})
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	_, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"})
	var tErr *TransportError
	if !errors.As(err, &tErr) || !tErr.Transient {
		t.Fatalf("CallTool() error = %v, want transient transport error", err)
	}
	if attempts != 2 {
		t.Errorf("call attempts = %d, want first try plus one retry", attempts)
	}
}

func TestCallToolPermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	b, _, _ := newTestBridge(t, nil, func(ctx context.Context, method string, params, result any) error {
		attempts++
		return &TransportError{Err: errors.New("bad request")}
	})
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	if _, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"}); err == nil {
		t.Fatal("CallTool() succeeded, want permanent failure")
	}
	if attempts != 1 {
		t.Errorf("call attempts = %d, want 1", attempts)
	}
}

func TestCallToolTimeoutNotRetried(t *testing.T) {
	attempts := 0
	b, _, _ := newTestBridge(t, nil, func(ctx context.Context, method string, params, result any) error {
		attempts++
		return &TimeoutError{Server: "files", Method: method, After: time.Second}
	})
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	_, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"})
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("CallTool() error = %v, want *TimeoutError", err)
	}
	if attempts != 1 {
		t.Errorf("call attempts = %d, want no retry after timeout", attempts)
	}
}

func TestCallToolServerSideFailure(t *testing.T) {
	b, _, _ := newTestBridge(t, nil, func(ctx context.Context, method string, params, result any) error {
		if r, ok := result.(*callToolResult); ok {
			r.IsError = true
			r.Content = []ContentBlock{{Type: "text", Text: "file not found"}}
		}
		return nil
	})
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	_, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"})
	var execErr *ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("CallTool() error = %v, want *ToolExecutionError", err)
	}
	if execErr.Detail != "file not found" {
		t.Errorf("Detail = %q, want server message", execErr.Detail)
	}
}

func TestListTools(t *testing.T) {
	b, _, _ := newTestBridge(t, nil, func(ctx context.Context, method string, params, result any) error {
		if method != methodListTools {
			t.Errorf("method = %q, want %q", method, methodListTools)
		}
		if r, ok := result.(*listToolsResult); ok {
			r.Tools = []Tool{{Name: "read_file"}, {Name: "write_file"}}
		}
		return nil
	})
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	tools, err := b.ListTools(context.Background(), "files")
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "read_file" {
		t.Errorf("ListTools() = %v, want two tools", tools)
	}

	if _, err := b.ListTools(context.Background(), "ghost"); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("ListTools(ghost) error = %v, want ErrServerNotFound", err)
	}
}

func TestBridgeCloseKeepsRegistry(t *testing.T) {
	b, dials, closes := newTestBridge(t, nil, answer("ok"))
	if err := b.RegisterServer(stdioConfig("files")); err != nil {
		t.Fatalf("RegisterServer() error = %v", err)
	}

	if _, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"}); err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	b.Close()
	if *closes != 1 {
		t.Errorf("closes = %d, want 1", *closes)
	}

	// The server stays registered and reconnects on the next call.
	if _, err := b.CallTool(context.Background(), &ToolCallRequest{Server: "files", Tool: "read"}); err != nil {
		t.Fatalf("CallTool() after Close error = %v", err)
	}
	if *dials != 2 {
		t.Errorf("dials = %d, want reconnect after Close", *dials)
	}
}
