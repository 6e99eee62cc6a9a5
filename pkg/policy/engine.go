package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/praxis-agent/praxis/pkg/pathmatch"
	"github.com/praxis-agent/praxis/pkg/types"
)

// Saver persists the project-scope permission layer. Mutators never touch
// the global scope, so only the project set crosses this boundary.
type Saver func(project Set) error

// Engine evaluates permission queries against an immutable merged snapshot
// of the layered permission set. The snapshot is rebuilt only on explicit
// mutation or Reload, never implicitly per check.
type Engine struct {
	mu      sync.RWMutex
	global  Set
	project Set
	merged  Set

	matcher pathmatch.Matcher
	save    Saver
	log     *slog.Logger
}

// NewEngine builds an engine over the given layers. save may be nil for
// read-only engines (mutators then fail). log may be nil.
func NewEngine(global, project Set, matcher pathmatch.Matcher, save Saver, log *slog.Logger) *Engine {
	if matcher == nil {
		matcher = pathmatch.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		global:  global.Clone(),
		project: project.Clone(),
		merged:  Merge(global, project),
		matcher: matcher,
		save:    save,
		log:     log,
	}
}

// Check evaluates q deterministically: first matching rule in merged order
// wins; no match falls through to the tool's default; no default means
// allow. Rules whose pattern fails to compile are skipped and logged so a
// malformed rule can never widen permissions.
func (e *Engine) Check(q Query) Action {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for i, rule := range e.merged.Rules {
		matched, err := e.ruleMatches(rule, q)
		if err != nil {
			e.log.Warn("skipping permission rule with malformed pattern",
				"index", i, "tool", rule.Match.Tool, "error", err)
			continue
		}
		if matched {
			return rule.Action
		}
	}

	if action, ok := e.merged.Defaults[q.Tool]; ok {
		return action
	}
	return ActionAllow
}

// ruleMatches applies the conjunctive match: every present spec field must
// agree with the query's corresponding field.
func (e *Engine) ruleMatches(rule Rule, q Query) (bool, error) {
	if rule.Match.Tool != "" && rule.Match.Tool != q.Tool {
		return false, nil
	}
	if rule.Match.Path != "" {
		ok, err := e.matcher.MatchPath(rule.Match.Path, q.Path)
		if err != nil {
			return false, fmt.Errorf("path pattern %q: %w", rule.Match.Path, err)
		}
		if !ok {
			return false, nil
		}
	}
	if rule.Match.Command != "" {
		ok, err := e.matcher.MatchCommand(rule.Match.Command, q.Command)
		if err != nil {
			return false, fmt.Errorf("command pattern %q: %w", rule.Match.Command, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// SetDefault sets the project-scope default action for a tool and persists
// the project layer. The merged snapshot is rebuilt only after the save
// succeeds, so a failed save leaves the engine unchanged.
func (e *Engine) SetDefault(tool string, action Action) error {
	if tool == "" {
		return types.NewValidationError("tool", "must not be empty")
	}
	if !action.Valid() {
		return types.NewValidationError("action", "must be allow, deny or confirm")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.project.Clone()
	if next.Defaults == nil {
		next.Defaults = make(map[string]Action)
	}
	next.Defaults[tool] = action
	return e.commitProjectLocked(next)
}

// AddRule appends a rule to the project layer and persists it. Patterns
// are compile-checked here: rules arriving through the mutator API can be
// rejected up front, unlike rules read from config files.
func (e *Engine) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Match.Path != "" {
		if _, err := e.matcher.MatchPath(rule.Match.Path, "probe"); err != nil {
			return types.NewValidationError("match.path", err.Error())
		}
	}
	if rule.Match.Command != "" {
		if _, err := e.matcher.MatchCommand(rule.Match.Command, "probe"); err != nil {
			return types.NewValidationError("match.command", err.Error())
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.project.Clone()
	next.Rules = append(next.Rules, rule)
	return e.commitProjectLocked(next)
}

// RemoveRule deletes the project-layer rule at index and persists the
// layer. Global rules are not addressable here: the engine may only
// rewrite the project-scope file.
func (e *Engine) RemoveRule(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.project.Rules) {
		return types.NewValidationError("index",
			fmt.Sprintf("no project rule at index %d (have %d)", index, len(e.project.Rules)))
	}

	next := e.project.Clone()
	next.Rules = append(next.Rules[:index], next.Rules[index+1:]...)
	return e.commitProjectLocked(next)
}

func (e *Engine) commitProjectLocked(next Set) error {
	if e.save == nil {
		return fmt.Errorf("permission engine is read-only: no project-scope saver configured")
	}
	if err := e.save(next); err != nil {
		return fmt.Errorf("persist project permissions: %w", err)
	}
	e.project = next
	e.merged = Merge(e.global, e.project)
	return nil
}

// Reload replaces both layers with freshly loaded sets. Checks in flight
// finish against the old snapshot.
func (e *Engine) Reload(global, project Set) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.global = global.Clone()
	e.project = project.Clone()
	e.merged = Merge(e.global, e.project)
}

// Snapshot returns a copy of the merged permission set.
func (e *Engine) Snapshot() Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.merged.Clone()
}

// ProjectRules returns a copy of the project-layer rules, the list
// RemoveRule indexes into.
func (e *Engine) ProjectRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.project.Rules))
	copy(out, e.project.Rules)
	return out
}
