// Package config loads the praxis configuration from layered YAML files
// with environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/praxis-agent/praxis/pkg/policy"
)

// Dir is the praxis directory name, both under the user's home (global
// scope) and under the work directory (project scope).
const Dir = ".praxis"

// FileName is the config file name inside Dir.
const FileName = "config.yaml"

// HTTPConfig contains HTTP API related settings.
type HTTPConfig struct {
	Enable bool   `yaml:"enable" envconfig:"ENABLE"`
	Addr   string `yaml:"addr" envconfig:"ADDR"`
	APIKey string `yaml:"api_key" envconfig:"API_KEY"`
}

// ConfirmConfig tunes the operator confirmation flow.
type ConfirmConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
}

// Timeout returns the configured wait as a duration, zero when unset.
func (c ConfirmConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryConfig tunes the retry of transient tool dispatch failures.
type RetryConfig struct {
	Attempts  int `yaml:"attempts" envconfig:"ATTEMPTS"`
	BackoffMS int `yaml:"backoff_ms" envconfig:"BACKOFF_MS"`
}

// Backoff returns the configured backoff as a duration, zero when unset.
func (c RetryConfig) Backoff() time.Duration {
	if c.BackoffMS <= 0 {
		return 0
	}
	return time.Duration(c.BackoffMS) * time.Millisecond
}

// ServerConfig declares one tool server. Durations are milliseconds.
type ServerConfig struct {
	ID        string            `yaml:"id"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	TimeoutMS int               `yaml:"timeout_ms,omitempty"`
}

// HookConfig declares one lifecycle hook. Durations are milliseconds.
type HookConfig struct {
	Event     string `yaml:"event"`
	Command   string `yaml:"command"`
	Required  bool   `yaml:"required,omitempty"`
	TimeoutMS int    `yaml:"timeout_ms,omitempty"`
}

// Config is the root configuration structure.
type Config struct {
	// LogLevel controls structured logging verbosity (DEBUG, VERBOSE, INFO, WARNING, ERROR).
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	// DevMode enables development features like Swagger UI.
	DevMode bool `yaml:"dev_mode" envconfig:"DEV_MODE"`

	// HTTP server settings.
	HTTP HTTPConfig `yaml:"http" envconfig:"HTTP"`

	// Confirm flow settings.
	Confirm ConfirmConfig `yaml:"confirm" envconfig:"CONFIRM"`

	// Retry settings for tool dispatch.
	Retry RetryConfig `yaml:"retry" envconfig:"RETRY"`

	// Servers lists the tool servers to register at startup.
	Servers []ServerConfig `yaml:"servers"`

	// Hooks lists the lifecycle hooks to run around mediated actions.
	Hooks []HookConfig `yaml:"hooks"`
}

// GlobalPath returns the global-scope config file path, or "" when the
// home directory cannot be resolved.
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, Dir, FileName)
}

// ProjectPath returns the project-scope config file path under workDir.
func ProjectPath(workDir string) string {
	return filepath.Join(workDir, Dir, FileName)
}

// Load reads configuration for workDir, or from path when non-empty.
// Priority: Env Vars > Config File > Defaults. The default search prefers
// the project file over the global one.
func Load(workDir, path string) (*Config, error) {
	// Try loading .env files (ignore error if not present)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	if path == "" {
		if global := GlobalPath(); global != "" {
			if _, err := os.Stat(global); err == nil {
				path = global
			}
		}
		project := ProjectPath(workDir)
		if _, err := os.Stat(project); err == nil {
			path = project
		}
	}

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Process Env Vars (PRAXIS_ prefix)
	// This will override values from config file if set in Env
	if err := envconfig.Process("PRAXIS", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	// Apply Defaults
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	return cfg, nil
}

// permissionsFile is the slice of a config file the permission loader and
// saver care about.
type permissionsFile struct {
	Permissions policy.Set `yaml:"permissions"`
}

// LoadPermissions reads the permission layers from the global and project
// config files. A missing file yields an empty set; an unreadable or
// malformed one is an error, because falling back to an empty set here
// would silently widen permissions to allow-everything.
func LoadPermissions(globalPath, projectPath string) (global, project policy.Set, err error) {
	global, err = loadPermissionSet(globalPath)
	if err != nil {
		return policy.Set{}, policy.Set{}, err
	}
	project, err = loadPermissionSet(projectPath)
	if err != nil {
		return policy.Set{}, policy.Set{}, err
	}
	return global, project, nil
}

func loadPermissionSet(path string) (policy.Set, error) {
	if path == "" {
		return policy.Set{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return policy.Set{}, nil
	}
	if err != nil {
		return policy.Set{}, fmt.Errorf("failed to read permissions from %s: %w", path, err)
	}
	var file permissionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return policy.Set{}, fmt.Errorf("failed to parse permissions in %s: %w", path, err)
	}
	return file.Permissions, nil
}

// SavePermissions rewrites the permissions section of the config file at
// path, preserving every other key. The write is atomic so a crash can
// never leave a half-written config behind.
func SavePermissions(path string, project policy.Set) error {
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("failed to read config file: %w", err)
	}

	doc["permissions"] = project
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
