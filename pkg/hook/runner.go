package hook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/praxis-agent/praxis/pkg/security"
	"github.com/praxis-agent/praxis/pkg/types"
)

// Event names a lifecycle point hooks can attach to.
type Event string

const (
	PrePrompt    Event = "pre_prompt"
	PostResponse Event = "post_response"
	PreApply     Event = "pre_apply"
	PostApply    Event = "post_apply"
)

const defaultTimeout = 30 * time.Second

// Hook is one configured shell command bound to a lifecycle event.
type Hook struct {
	Event   Event  `yaml:"event" json:"event"`
	Command string `yaml:"command" json:"command"`
	// Required hooks abort the surrounding operation when they fail.
	// Optional hooks only log.
	Required bool          `yaml:"required" json:"required"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

func (h *Hook) Validate() error {
	if h.Command == "" {
		return types.NewValidationError("command", "must not be empty")
	}
	switch h.Event {
	case PrePrompt, PostResponse, PreApply, PostApply:
		return nil
	default:
		return types.NewValidationError("event", fmt.Sprintf("unknown event %q", h.Event))
	}
}

// Runner fires the hooks registered for a lifecycle event.
type Runner interface {
	// Run executes every hook bound to event in registration order,
	// passing the extra variables through the environment. A failing
	// required hook aborts the run and returns its error; failures of
	// optional hooks are logged and swallowed.
	Run(ctx context.Context, event Event, extra map[string]string) error
}

// Config carries the hook runner settings.
type Config struct {
	// WorkDir is the directory hooks run in.
	WorkDir string `yaml:"work_dir" json:"work_dir"`
	Hooks   []Hook `yaml:"hooks" json:"hooks"`
	// DefaultTimeout bounds hooks that set none. Zero means 30s.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`
}

// NewRunner validates the configured hooks and returns a Runner that
// executes them through bash. Hook commands pass through the destructive
// command screen once, at construction. A nil log falls back to
// slog.Default().
func NewRunner(cfg Config, log *slog.Logger) (Runner, error) {
	screen := security.NewCommandScreen()
	for i := range cfg.Hooks {
		if err := cfg.Hooks[i].Validate(); err != nil {
			return nil, fmt.Errorf("hook %d: %w", i, err)
		}
		if err := screen.ValidateCommand(cfg.Hooks[i].Command); err != nil {
			return nil, fmt.Errorf("hook %d: %w", i, err)
		}
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &runner{cfg: cfg, log: log, exec: execBash}, nil
}

type execFunc func(ctx context.Context, dir, command string, env []string) ([]byte, error)

func execBash(ctx context.Context, dir, command string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

type runner struct {
	cfg  Config
	log  *slog.Logger
	exec execFunc
}

func (r *runner) Run(ctx context.Context, event Event, extra map[string]string) error {
	for _, h := range r.cfg.Hooks {
		if h.Event != event {
			continue
		}
		if err := r.runOne(ctx, h, extra); err != nil {
			if h.Required {
				return fmt.Errorf("required %s hook failed: %w", event, err)
			}
			r.log.Warn("optional hook failed",
				"event", string(event),
				"command", h.Command,
				"error", err,
			)
		}
	}
	return nil
}

func (r *runner) runOne(ctx context.Context, h Hook, extra map[string]string) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := []string{"PRAXIS_HOOK_EVENT=" + string(h.Event)}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}

	start := time.Now()
	out, err := r.exec(hookCtx, r.cfg.WorkDir, h.Command, env)
	if err != nil {
		if hookCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("hook timed out after %s", timeout)
		}
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}

	r.log.Debug("hook completed",
		"event", string(h.Event),
		"command", h.Command,
		"duration", time.Since(start),
	)
	return nil
}
