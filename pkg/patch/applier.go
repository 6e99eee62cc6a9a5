package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/praxis-agent/praxis/pkg/security"
	"github.com/praxis-agent/praxis/pkg/store"
	"github.com/praxis-agent/praxis/pkg/types"
)

// ErrNotARepo is returned before any other work when the configured work
// directory is not under git version control.
var ErrNotARepo = errors.New("work directory is not a git repository: run 'git init' first")

// ConflictError reports why a patch could not be applied or reverted.
// Conflicts is never empty.
type ConflictError struct {
	Conflicts []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("patch does not apply: %s", strings.Join(e.Conflicts, "; "))
}

// DryRunResult is the outcome of a check-apply. A clean result has OK set
// and no conflicts; a failed one carries at least one conflict line.
type DryRunResult struct {
	OK        bool     `json:"ok"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// Applier applies unified diffs to a git work tree and journals every
// completed operation so it can be undone later. All methods sanitize
// their diff input, serialize against each other, and fail with
// ErrNotARepo when the work directory is not under version control.
type Applier interface {
	// DryRunApply checks whether the diff would apply cleanly without
	// modifying the work tree. A conflicting diff is a result, not an
	// error.
	DryRunApply(ctx context.Context, diff string) (*DryRunResult, error)

	// Apply applies the diff and appends an apply entry to the journal.
	// A failed apply returns a *ConflictError. A journal write failure
	// after a successful apply surfaces as the returned error; the work
	// tree keeps the change but RevertLast will not see it.
	Apply(ctx context.Context, diff string) error

	// Revert applies the diff in reverse and appends a revert entry to
	// the journal.
	Revert(ctx context.Context, diff string) error

	// RevertLast undoes the most recent apply that has no later matching
	// revert and returns true. It returns false without side effects
	// when no such apply exists. When the work tree was reverted but the
	// journal write failed, it returns true together with the error.
	RevertLast(ctx context.Context) (bool, error)
}

// Config carries the applier settings.
type Config struct {
	// WorkDir is the git work tree patches are applied to.
	WorkDir string `yaml:"work_dir" json:"work_dir"`
	// TempDir receives the short-lived patch files handed to git.
	// Empty means the system temp directory.
	TempDir string `yaml:"temp_dir" json:"temp_dir"`
}

func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return types.NewValidationError("work_dir", "must not be empty")
	}
	return nil
}

// NewApplier builds a git-backed Applier that journals operations in st.
// A nil log falls back to slog.Default().
func NewApplier(cfg Config, st store.Store, log *slog.Logger) (Applier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, types.NewValidationError("store", "must not be nil")
	}
	return newApplier(cfg, st, gitCLI{}, log), nil
}

func newApplier(cfg Config, st store.Store, git vcs, log *slog.Logger) *applier {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &applier{
		cfg:   cfg,
		store: st,
		git:   git,
		paths: security.NewPathValidator(cfg.WorkDir),
		log:   log,
	}
}

type applier struct {
	cfg   Config
	store store.Store
	git   vcs
	paths *security.PathValidator
	log   *slog.Logger

	// mu serializes every work-tree mutation and the journal write that
	// follows it, so concurrent callers cannot interleave apply and
	// revert on the same repository.
	mu sync.Mutex
}

func (a *applier) DryRunApply(ctx context.Context, rawDiff string) (*DryRunResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureRepo(ctx); err != nil {
		return nil, err
	}
	diff, err := a.sanitizeAndCheck(rawDiff)
	if err != nil {
		return nil, err
	}
	file, cleanup, err := a.writeTemp(diff)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	out, err := a.git.CheckApply(ctx, a.cfg.WorkDir, file)
	if err == nil {
		return &DryRunResult{OK: true}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &DryRunResult{OK: false, Conflicts: parseConflicts(out, err)}, nil
}

func (a *applier) Apply(ctx context.Context, rawDiff string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run(ctx, rawDiff, types.JournalApply, a.git.Apply)
}

func (a *applier) Revert(ctx context.Context, rawDiff string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run(ctx, rawDiff, types.JournalRevert, a.git.ReverseApply)
}

func (a *applier) RevertLast(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ensureRepo(ctx); err != nil {
		return false, err
	}
	diff, ok := lastUnpairedApply(a.store.LoadJournal(ctx))
	if !ok {
		return false, nil
	}
	file, cleanup, err := a.writeTemp(diff)
	if err != nil {
		return false, err
	}
	defer cleanup()

	out, err := a.git.ReverseApply(ctx, a.cfg.WorkDir, file)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, &ConflictError{Conflicts: parseConflicts(out, err)}
	}
	return true, a.journal(ctx, types.JournalRevert, diff)
}

type gitOp func(ctx context.Context, dir, patchFile string) (string, error)

// run is the shared apply/revert path: precondition, sanitize, temp file,
// git operation, journal entry. The caller holds a.mu.
func (a *applier) run(ctx context.Context, rawDiff string, action types.JournalAction, op gitOp) error {
	if err := a.ensureRepo(ctx); err != nil {
		return err
	}
	diff, err := a.sanitizeAndCheck(rawDiff)
	if err != nil {
		return err
	}
	file, cleanup, err := a.writeTemp(diff)
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := op(ctx, a.cfg.WorkDir, file)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConflictError{Conflicts: parseConflicts(out, err)}
	}
	return a.journal(ctx, action, diff)
}

// ensureRepo fails fast before any temp file is created or the diff is
// parsed.
func (a *applier) ensureRepo(ctx context.Context) error {
	if !a.git.IsWorkTree(ctx, a.cfg.WorkDir) {
		return ErrNotARepo
	}
	return nil
}

func (a *applier) sanitizeAndCheck(rawDiff string) (SanitizedDiff, error) {
	diff := Sanitize(rawDiff)
	if diff == "" {
		return "", types.NewValidationError("diff", "empty after sanitization")
	}
	targets := Targets(diff)
	if len(targets) == 0 {
		return "", types.NewValidationError("diff", "no file headers found")
	}
	for _, target := range targets {
		if err := a.paths.ValidatePath(target); err != nil {
			return "", types.NewValidationError("diff", err.Error())
		}
	}
	return diff, nil
}

// writeTemp writes the sanitized diff to a short-lived patch file and
// returns its path with a cleanup func. Callers must invoke cleanup on
// every exit path.
func (a *applier) writeTemp(diff SanitizedDiff) (string, func(), error) {
	f, err := os.CreateTemp(a.cfg.TempDir, "praxis-*.patch")
	if err != nil {
		return "", nil, fmt.Errorf("create patch temp file: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
			a.log.Warn("patch temp file left behind", "path", f.Name(), "error", err)
		}
	}
	if _, err := f.WriteString(string(diff)); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write patch temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close patch temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func (a *applier) journal(ctx context.Context, action types.JournalAction, diff SanitizedDiff) error {
	entry := types.JournalEntry{
		Action: action,
		Diff:   string(diff),
		At:     time.Now().UTC(),
	}
	if err := a.store.AppendJournal(ctx, entry); err != nil {
		a.log.Error("patch journal write failed",
			"action", string(action),
			"error", err,
		)
		return err
	}
	return nil
}

// lastUnpairedApply walks the journal newest-first and returns the diff
// of the most recent apply entry that has no later revert of the same
// diff. Reverts pair with the nearest preceding apply, so repeated
// revert-last calls unwind the journal like a stack.
func lastUnpairedApply(entries []types.JournalEntry) (SanitizedDiff, bool) {
	pending := make(map[string]int)
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		switch entry.Action {
		case types.JournalRevert:
			pending[entry.Diff]++
		case types.JournalApply:
			if pending[entry.Diff] > 0 {
				pending[entry.Diff]--
				continue
			}
			return SanitizedDiff(entry.Diff), true
		}
	}
	return "", false
}

// parseConflicts turns git-apply output into a non-empty list of conflict
// lines.
func parseConflicts(out string, runErr error) []string {
	var conflicts []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			conflicts = append(conflicts, line)
		}
	}
	if len(conflicts) == 0 {
		if runErr != nil {
			return []string{runErr.Error()}
		}
		return []string{"git apply failed"}
	}
	return conflicts
}
