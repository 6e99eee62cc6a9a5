package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxis-agent/praxis/pkg/types"
)

// defaultCallTimeout bounds a single call when the server config sets no
// timeout of its own.
const defaultCallTimeout = 30 * time.Second

// Transport is one live connection to a tool server.
type Transport interface {
	// Start establishes the connection and runs the initialize
	// handshake.
	Start(ctx context.Context) error
	// Call performs one request and decodes its result. On timeout the
	// transport tears itself down and returns a *TimeoutError, because
	// a response arriving after the deadline would desynchronize
	// request pairing.
	Call(ctx context.Context, method string, params, result any) error
	// Close releases the connection and any process behind it. It is
	// safe to call more than once.
	Close() error
}

func newTransport(cfg ServerConfig, log *slog.Logger) (Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return newStdioTransport(cfg, log), nil
	case TransportHTTP:
		return newHTTPTransport(cfg, log), nil
	case TransportSSE:
		return newSSETransport(cfg, log), nil
	default:
		return nil, types.NewValidationError("transport", fmt.Sprintf("unknown transport %q", cfg.Transport))
	}
}

func callTimeout(cfg ServerConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultCallTimeout
}
