package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/praxis-agent/praxis/pkg/types"
)

var (
	ErrServerNotFound  = errors.New("tool server not found")
	ErrDuplicateServer = errors.New("tool server already registered")
)

// TransportKind selects how a tool server is reached.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
	TransportSSE   TransportKind = "sse"
)

// ServerConfig describes one registered tool server. Stdio servers are
// spawned from Command and Args; http and sse servers are reached at URL.
type ServerConfig struct {
	ID        string            `yaml:"id" json:"id"`
	Transport TransportKind     `yaml:"transport" json:"transport"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// Timeout bounds a single call on this server. Zero means 30s.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *ServerConfig) Validate() error {
	if c.ID == "" {
		return types.NewValidationError("id", "must not be empty")
	}
	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return types.NewValidationError("command", "required for stdio servers")
		}
	case TransportHTTP, TransportSSE:
		if c.URL == "" {
			return types.NewValidationError("url", fmt.Sprintf("required for %s servers", c.Transport))
		}
	default:
		return types.NewValidationError("transport", fmt.Sprintf("unknown transport %q", c.Transport))
	}
	return nil
}

// Tool describes one tool a server exposes.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolCallRequest is a tool invocation addressed to a registered server.
// The wire form is `{"server": id, "name": tool, "input": {...}}`.
type ToolCallRequest struct {
	Server    string         `json:"server"`
	Tool      string         `json:"name"`
	Arguments map[string]any `json:"input,omitempty"`
}

func (r *ToolCallRequest) Validate() error {
	if r == nil {
		return types.NewValidationError("tool_call", "missing request")
	}
	if r.Server == "" {
		return types.NewValidationError("server", "must not be empty")
	}
	if r.Tool == "" {
		return types.NewValidationError("name", "must not be empty")
	}
	return nil
}

// ParseToolCallWire decodes the `{"tool_call": {...}}` envelope tool
// invocations arrive in on the wire.
func ParseToolCallWire(data []byte) (*ToolCallRequest, error) {
	var wire struct {
		ToolCall *ToolCallRequest `json:"tool_call"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, types.NewValidationError("tool_call", err.Error())
	}
	if wire.ToolCall == nil {
		return nil, types.NewValidationError("tool_call", "missing tool_call object")
	}
	if err := wire.ToolCall.Validate(); err != nil {
		return nil, err
	}
	return wire.ToolCall, nil
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the normalized outcome of a successful tool call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
}

// Text joins the textual content blocks of the result.
func (r *CallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// TransportError wraps a failure between the bridge and a tool server.
// Transient failures are worth one retry; permanent ones are not.
type TransportError struct {
	Transient bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient transport failure: %v", e.Err)
	}
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError reports a call that exceeded its deadline. The transport
// has been torn down by the time it surfaces, so no process or stream is
// left behind.
type TimeoutError struct {
	Server string
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s call on server %q timed out after %s", e.Method, e.Server, e.After)
}

// ToolExecutionError reports a tool that the server ran and that failed.
type ToolExecutionError struct {
	Server string
	Tool   string
	Detail string
}

func (e *ToolExecutionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("tool %s on server %q failed", e.Tool, e.Server)
	}
	return fmt.Sprintf("tool %s on server %q failed: %s", e.Tool, e.Server, e.Detail)
}

// RetryPolicy bounds how transient transport failures are retried.
// Attempts counts retries after the first try.
type RetryPolicy struct {
	Attempts int           `yaml:"attempts" json:"attempts"`
	Backoff  time.Duration `yaml:"backoff" json:"backoff"`
}

// DefaultRetryPolicy retries a transient failure exactly once after a
// short pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 1, Backoff: 250 * time.Millisecond}
}
