package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/praxis-agent/praxis/pkg/security"
	"github.com/praxis-agent/praxis/pkg/types"
)

// Authorizer decides whether a tool call may proceed. Implementations
// may block while a confirmation is pending and return nil only for
// authorized calls.
type Authorizer interface {
	Authorize(ctx context.Context, tool string, args map[string]any) error
}

// Bridge routes tool calls to registered tool servers. Every call runs
// through authorization, is dispatched with a deadline, and transient
// transport failures are retried per the retry policy. Connections are
// established lazily on first use and calls on the same server are
// serialized, which line-oriented stdio servers require.
type Bridge struct {
	log   *slog.Logger
	auth  Authorizer
	retry RetryPolicy
	dial  func(ServerConfig, *slog.Logger) (Transport, error)

	mu      sync.RWMutex
	servers map[string]*serverHandle
}

type serverHandle struct {
	cfg ServerConfig

	// mu serializes calls on this server and guards the lazily built
	// transport.
	mu        sync.Mutex
	transport Transport
}

// NewBridge builds a Bridge. A zero retry policy falls back to
// DefaultRetryPolicy; auth may be nil for unrestricted library use.
func NewBridge(auth Authorizer, retry RetryPolicy, log *slog.Logger) *Bridge {
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	if retry.Attempts < 0 {
		retry.Attempts = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:     log,
		auth:    auth,
		retry:   retry,
		dial:    func(cfg ServerConfig, log *slog.Logger) (Transport, error) { return newTransport(cfg, log) },
		servers: make(map[string]*serverHandle),
	}
}

// RegisterServer adds a tool server to the registry. The connection is
// not established until the first call. Stdio launch commands pass
// through the destructive command screen.
func (b *Bridge) RegisterServer(cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Transport == TransportStdio {
		if err := security.NewCommandScreen().ValidateCommand(cfg.Command + " " + strings.Join(cfg.Args, " ")); err != nil {
			return types.NewValidationError("command", err.Error())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.servers[cfg.ID]; exists {
		return ErrDuplicateServer
	}
	b.servers[cfg.ID] = &serverHandle{cfg: cfg}
	b.log.Info("tool server registered", "server", cfg.ID, "transport", string(cfg.Transport))
	return nil
}

// UnregisterServer removes a server and tears down its connection.
func (b *Bridge) UnregisterServer(id string) error {
	b.mu.Lock()
	h, ok := b.servers[id]
	delete(b.servers, id)
	b.mu.Unlock()
	if !ok {
		return ErrServerNotFound
	}

	h.mu.Lock()
	h.resetLocked()
	h.mu.Unlock()
	b.log.Info("tool server unregistered", "server", id)
	return nil
}

// ListServers snapshots the registered server configs sorted by id.
func (b *Bridge) ListServers() []ServerConfig {
	b.mu.RLock()
	configs := make([]ServerConfig, 0, len(b.servers))
	for _, h := range b.servers {
		configs = append(configs, h.cfg)
	}
	b.mu.RUnlock()

	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs
}

// ListTools fetches the tool list of one server.
func (b *Bridge) ListTools(ctx context.Context, serverID string) ([]Tool, error) {
	h := b.handle(serverID)
	if h == nil {
		return nil, ErrServerNotFound
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var res listToolsResult
	if err := b.callLocked(ctx, h, methodListTools, struct{}{}, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool runs one tool invocation end to end: validate, authorize,
// dispatch with retry, normalize the outcome. A tool that ran and failed
// surfaces as a *ToolExecutionError.
func (b *Bridge) CallTool(ctx context.Context, req *ToolCallRequest) (*CallResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	// Authorization, and with it any pending confirmation, happens
	// before the per-server lock so a waiting operator cannot stall
	// other callers of the same server.
	if b.auth != nil {
		if err := b.auth.Authorize(ctx, req.Tool, req.Arguments); err != nil {
			return nil, err
		}
	}

	h := b.handle(req.Server)
	if h == nil {
		return nil, ErrServerNotFound
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var res callToolResult
	params := callToolParams{Name: req.Tool, Arguments: req.Arguments}
	if err := b.callLocked(ctx, h, methodCallTool, params, &res); err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, &ToolExecutionError{
			Server: req.Server,
			Tool:   req.Tool,
			Detail: joinText(res.Content),
		}
	}
	return &CallResult{Content: res.Content}, nil
}

// Close tears down every connection. The registry stays intact so a
// later call reconnects.
func (b *Bridge) Close() {
	b.mu.RLock()
	handles := make([]*serverHandle, 0, len(b.servers))
	for _, h := range b.servers {
		handles = append(handles, h)
	}
	b.mu.RUnlock()

	for _, h := range handles {
		h.mu.Lock()
		h.resetLocked()
		h.mu.Unlock()
	}
}

func (b *Bridge) handle(id string) *serverHandle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.servers[id]
}

// callLocked performs one call on h, connecting lazily and retrying
// transient transport failures per the retry policy. The caller holds
// h.mu.
func (b *Bridge) callLocked(ctx context.Context, h *serverHandle, method string, params, result any) error {
	var lastErr error
	for attempt := 0; attempt <= b.retry.Attempts; attempt++ {
		if attempt > 0 {
			b.log.Warn("retrying tool server call",
				"server", h.cfg.ID,
				"method", method,
				"attempt", attempt+1,
				"error", lastErr,
			)
			select {
			case <-time.After(b.retry.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := b.connectLocked(ctx, h); err != nil {
			lastErr = err
			if isTransient(err) {
				continue
			}
			return err
		}

		err := h.transport.Call(ctx, method, params, result)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		// The connection is suspect after a transient failure; rebuild
		// it on the next attempt.
		h.resetLocked()
	}
	return lastErr
}

func (b *Bridge) connectLocked(ctx context.Context, h *serverHandle) error {
	if h.transport != nil {
		return nil
	}
	tr, err := b.dial(h.cfg, b.log)
	if err != nil {
		return err
	}
	if err := tr.Start(ctx); err != nil {
		tr.Close()
		return err
	}
	h.transport = tr
	b.log.Debug("tool server connected", "server", h.cfg.ID)
	return nil
}

func (h *serverHandle) resetLocked() {
	if h.transport != nil {
		h.transport.Close()
		h.transport = nil
	}
}

func isTransient(err error) bool {
	var tErr *TransportError
	return errors.As(err, &tErr) && tErr.Transient
}

func joinText(content []ContentBlock) string {
	var parts []string
	for _, c := range content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "; ")
}
