package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/praxis-agent/praxis/pkg/api"
	"github.com/praxis-agent/praxis/pkg/api/service"
	"github.com/praxis-agent/praxis/pkg/config"
	"github.com/praxis-agent/praxis/pkg/confirm"
	"github.com/praxis-agent/praxis/pkg/hook"
	"github.com/praxis-agent/praxis/pkg/mcp"
	"github.com/praxis-agent/praxis/pkg/mediator"
	"github.com/praxis-agent/praxis/pkg/patch"
	"github.com/praxis-agent/praxis/pkg/policy"
	"github.com/praxis-agent/praxis/pkg/store"
)

func main() {
	// 1. Setup Logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// 2. Setup Context with Cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		logger.Error("praxis exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// CLI Flags
	flagSet := flag.NewFlagSet("praxis", flag.ContinueOnError)
	configPath := flagSet.String("config", "", "Path to configuration file")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	remaining := flagSet.Args()
	mode := ""
	if len(remaining) > 0 {
		mode = remaining[0]
	}

	// CLI Command Dispatch
	switch mode {
	case "init":
		return cmdInit(logger, workDir)
	case "clean":
		return cmdClean(logger, workDir)
	}

	// Default: Run Server
	return cmdServe(ctx, logger, workDir, *configPath)
}

const starterConfig = `# praxis project configuration.
# Project settings override the global ~/.praxis/config.yaml.

log_level: INFO

http:
  addr: ":8080"
  # api_key: change-me

# Permission rules are evaluated top to bottom, first match wins.
# Actions are allow, deny and confirm; a tool without a matching rule
# or default is allowed.
permissions:
  rules: []

# Tool servers registered at startup.
# servers:
#   - id: files
#     transport: stdio
#     command: mcp-files-server

# Lifecycle hooks run around mediated actions.
# hooks:
#   - event: pre_apply
#     command: go vet ./...
#     required: true
`

func cmdInit(logger *slog.Logger, workDir string) error {
	path := config.ProjectPath(workDir)
	if _, err := os.Stat(path); err == nil {
		logger.Info("config already exists, leaving it alone", "path", path)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0644); err != nil {
		return fmt.Errorf("write starter config: %w", err)
	}
	logger.Info("wrote starter config", "path", path)
	return nil
}

func cmdClean(logger *slog.Logger, workDir string) error {
	// The config file lives in the same directory and stays.
	dataDir := filepath.Join(workDir, config.Dir)
	logger.Info("cleaning journal and audit data", "path", dataDir)
	for _, name := range []string{"journal.json", "audit.jsonl"} {
		path := filepath.Join(dataDir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to clean data", "error", err)
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	logger.Info("cleanup complete")
	return nil
}

func cmdServe(ctx context.Context, logger *slog.Logger, workDir, configPath string) error {
	// 3. Initialize Store
	dataDir := filepath.Join(workDir, config.Dir)
	fsStore := store.NewFSStore(dataDir, logger)

	if err := fsStore.Open(ctx); err != nil {
		logger.Error("failed to open store", "error", err)
		return fmt.Errorf("open store: %w", err)
	}
	defer fsStore.Close()

	// 4. Initialize Config
	// Use flag if provided, otherwise empty string triggers default search
	cfg, err := config.Load(workDir, configPath)
	if err != nil {
		logger.Warn("failed to load config", "error", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	// Env Vars are automatically merged by config.Load() using "PRAXIS_"
	// prefix, e.g. PRAXIS_HTTP_API_KEY, PRAXIS_LOG_LEVEL.

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	// Permission layers load separately from settings: a malformed
	// permissions section aborts startup instead of degrading to
	// allow-everything.
	globalPerms, projectPerms, err := config.LoadPermissions(config.GlobalPath(), config.ProjectPath(workDir))
	if err != nil {
		logger.Error("failed to load permissions", "error", err)
		return fmt.Errorf("load permissions: %w", err)
	}

	projectConfigPath := config.ProjectPath(workDir)
	engine := policy.NewEngine(globalPerms, projectPerms, nil, func(project policy.Set) error {
		return config.SavePermissions(projectConfigPath, project)
	}, logger)

	applier, err := patch.NewApplier(patch.Config{WorkDir: workDir}, fsStore, logger)
	if err != nil {
		logger.Error("failed to create patch applier", "error", err)
		return fmt.Errorf("create patch applier: %w", err)
	}

	confirmMgr := confirm.NewManager(logger)

	hooks, err := hook.NewRunner(hook.Config{WorkDir: workDir, Hooks: hookList(cfg.Hooks)}, logger)
	if err != nil {
		logger.Error("failed to configure hooks", "error", err)
		return fmt.Errorf("configure hooks: %w", err)
	}

	med, err := mediator.New(
		mediator.Config{
			ConfirmTimeout: cfg.Confirm.Timeout(),
			Retry:          mcp.RetryPolicy{Attempts: cfg.Retry.Attempts, Backoff: cfg.Retry.Backoff()},
		},
		mediator.Deps{
			Policy:  engine,
			Applier: applier,
			Store:   fsStore,
			Confirm: confirmMgr,
			Hooks:   hooks,
		},
		logger,
	)
	if err != nil {
		logger.Error("failed to build mediator", "error", err)
		return fmt.Errorf("build mediator: %w", err)
	}
	defer med.Close()

	// Register configured tool servers. Connections are lazy, so a
	// registration only fails on bad config; skip those and keep going.
	for _, s := range cfg.Servers {
		serverCfg := mcp.ServerConfig{
			ID:        s.ID,
			Transport: mcp.TransportKind(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
			Timeout:   time.Duration(s.TimeoutMS) * time.Millisecond,
		}
		if err := med.RegisterServer(ctx, serverCfg); err != nil {
			logger.Warn("skipping configured tool server", "server", s.ID, "error", err)
		}
	}

	// 5. Run
	logger.Info("praxis starting...")

	svc := service.NewMediation(med, engine, confirmMgr, logger)
	apiCfg := api.Config{Enable: cfg.HTTP.Enable, Addr: cfg.HTTP.Addr, APIKey: cfg.HTTP.APIKey, DevMode: cfg.DevMode}
	server := api.NewServer(apiCfg, svc, logger)
	httpSrv := &http.Server{Addr: server.Addr(), Handler: server.Engine()}

	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()

	logger.Info("http api listening", "addr", server.Addr(), "work_dir", workDir)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "error", err)
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("http api stopped")
	return nil
}

func hookList(configured []config.HookConfig) []hook.Hook {
	hooks := make([]hook.Hook, 0, len(configured))
	for _, h := range configured {
		hooks = append(hooks, hook.Hook{
			Event:    hook.Event(h.Event),
			Command:  h.Command,
			Required: h.Required,
			Timeout:  time.Duration(h.TimeoutMS) * time.Millisecond,
		})
	}
	return hooks
}

func parseLogLevel(level string) slog.Level {
	normalized := strings.ToUpper(strings.TrimSpace(level))
	switch normalized {
	case "DEBUG":
		return slog.LevelDebug
	case "VERBOSE":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "INFO", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
