// Package mediator is the front door of the action mediation subsystem.
// It chains policy evaluation, operator confirmation, patch application
// with journaling, lifecycle hooks and tool dispatch behind one facade,
// and writes an audit record for every mediated action.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/praxis-agent/praxis/pkg/confirm"
	"github.com/praxis-agent/praxis/pkg/hook"
	"github.com/praxis-agent/praxis/pkg/mcp"
	"github.com/praxis-agent/praxis/pkg/patch"
	"github.com/praxis-agent/praxis/pkg/policy"
	"github.com/praxis-agent/praxis/pkg/store"
	"github.com/praxis-agent/praxis/pkg/types"
)

// ToolApplyPatch is the tool name patch operations are gated under.
const ToolApplyPatch = "apply_patch"

const defaultConfirmTimeout = 2 * time.Minute

// ErrConfirmRequired reports that policy demands a confirmation but no
// confirmation channel is wired up. Callers surface it so the operator
// can decide out of band.
var ErrConfirmRequired = errors.New("confirmation required")

// PermissionDeniedError reports a refused action together with what was
// refused and why.
type PermissionDeniedError struct {
	Tool    string
	Path    string
	Command string
	Reason  string
}

func (e *PermissionDeniedError) Error() string {
	target := e.Path
	if e.Command != "" {
		target = e.Command
	}
	if target != "" {
		return fmt.Sprintf("permission denied for %s on %q: %s", e.Tool, target, e.Reason)
	}
	return fmt.Sprintf("permission denied for %s: %s", e.Tool, e.Reason)
}

// Config carries the mediator settings.
type Config struct {
	// ConfirmTimeout bounds how long a confirm decision may stay
	// unanswered before the action is denied. Zero means 2m.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout" json:"confirm_timeout"`
	// Retry governs transient tool-call failures.
	Retry mcp.RetryPolicy `yaml:"retry" json:"retry"`
}

// Deps are the collaborators a Mediator is built from. Policy, Applier
// and Store are required; Confirm and Hooks are optional.
type Deps struct {
	Policy  *policy.Engine
	Applier patch.Applier
	Store   store.Store
	Confirm *confirm.Manager
	Hooks   hook.Runner
}

// Mediator owns the tool server bridge and gates every mutating action
// through the policy engine.
type Mediator struct {
	cfg     Config
	policy  *policy.Engine
	applier patch.Applier
	store   store.Store
	confirm *confirm.Manager
	hooks   hook.Runner
	bridge  *mcp.Bridge
	log     *slog.Logger
}

// New validates deps and builds a Mediator. The tool server bridge is
// created here with the mediator as its authorizer.
func New(cfg Config, deps Deps, log *slog.Logger) (*Mediator, error) {
	if deps.Policy == nil {
		return nil, types.NewValidationError("policy", "must not be nil")
	}
	if deps.Applier == nil {
		return nil, types.NewValidationError("applier", "must not be nil")
	}
	if deps.Store == nil {
		return nil, types.NewValidationError("store", "must not be nil")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	m := &Mediator{
		cfg:     cfg,
		policy:  deps.Policy,
		applier: deps.Applier,
		store:   deps.Store,
		confirm: deps.Confirm,
		hooks:   deps.Hooks,
		log:     log,
	}
	m.bridge = mcp.NewBridge(m, cfg.Retry, log)
	return m, nil
}

// Close tears down the tool server connections.
func (m *Mediator) Close() {
	m.bridge.Close()
}

// CheckPermission evaluates a query against the merged policy without
// side effects beyond an audit record.
func (m *Mediator) CheckPermission(ctx context.Context, q policy.Query) policy.Action {
	action := m.policy.Check(q)
	rec := newQueryRecord(types.AuditPermissionCheck, q)
	rec.Decision = string(action)
	m.audit(ctx, rec)
	return action
}

// Authorize is the gate the tool bridge calls before dispatching. It
// blocks while a confirmation is pending.
func (m *Mediator) Authorize(ctx context.Context, tool string, args map[string]any) error {
	return m.authorize(ctx, queryFromArgs(tool, args))
}

func (m *Mediator) authorize(ctx context.Context, q policy.Query) error {
	action := m.policy.Check(q)
	rec := newQueryRecord(types.AuditPermissionCheck, q)

	switch action {
	case policy.ActionAllow:
		rec.Decision = string(policy.ActionAllow)
		m.audit(ctx, rec)
		return nil
	case policy.ActionDeny:
		rec.Decision = string(policy.ActionDeny)
		m.audit(ctx, rec)
		return &PermissionDeniedError{Tool: q.Tool, Path: q.Path, Command: q.Command, Reason: "denied by policy"}
	}

	if m.confirm == nil {
		rec.Decision = "confirm_required"
		m.audit(ctx, rec)
		return ErrConfirmRequired
	}
	return m.confirmAndDecide(ctx, q, rec)
}

func (m *Mediator) confirmAndDecide(ctx context.Context, q policy.Query, rec types.AuditRecord) error {
	req := confirm.PendingRequest{
		ID:      types.GenerateConfirmID(),
		Tool:    q.Tool,
		Path:    q.Path,
		Command: q.Command,
	}
	m.confirm.Request(req)
	m.log.Info("waiting for confirmation", "id", req.ID, "tool", q.Tool)

	resp, err := m.confirm.WaitForResponse(ctx, req.ID, m.cfg.ConfirmTimeout)
	switch {
	case errors.Is(err, confirm.ErrTimeout):
		rec.Decision = "deny"
		rec.Detail = "confirmation timed out"
		m.audit(ctx, rec)
		return &PermissionDeniedError{Tool: q.Tool, Path: q.Path, Command: q.Command, Reason: "confirmation timed out"}
	case err != nil:
		return err
	case !resp.Approved:
		rec.Decision = "deny"
		rec.Detail = "denied by operator"
		m.audit(ctx, rec)
		return &PermissionDeniedError{Tool: q.Tool, Path: q.Path, Command: q.Command, Reason: "denied by operator"}
	}

	rec.Decision = string(policy.ActionAllow)
	rec.Detail = "approved by operator"
	m.audit(ctx, rec)

	if resp.Always {
		m.rememberApproval(ctx, q)
	}
	return nil
}

// rememberApproval persists an allow rule for q so the operator is not
// asked again. Failures only log; the approved action proceeds.
func (m *Mediator) rememberApproval(ctx context.Context, q policy.Query) {
	rule := alwaysRule(q)
	if err := m.policy.AddRule(rule); err != nil {
		m.log.Warn("persisting approval failed", "tool", q.Tool, "error", err)
		return
	}
	rec := newQueryRecord(types.AuditRuleChange, q)
	rec.Decision = string(policy.ActionAllow)
	rec.Detail = "always-allow rule added"
	m.audit(ctx, rec)
}

func alwaysRule(q policy.Query) policy.Rule {
	match := policy.MatchSpec{Tool: q.Tool}
	switch {
	case q.Command != "":
		match.Command = "^" + regexp.QuoteMeta(q.Command) + "$"
	case q.Path != "":
		match.Path = q.Path
	}
	return policy.Rule{Match: match, Action: policy.ActionAllow}
}

// queryFromArgs lifts the conventional argument keys into a policy
// query: path (or file_path) and command.
func queryFromArgs(tool string, args map[string]any) policy.Query {
	q := policy.Query{Tool: tool}
	if path, ok := args["path"].(string); ok {
		q.Path = path
	} else if path, ok := args["file_path"].(string); ok {
		q.Path = path
	}
	if command, ok := args["command"].(string); ok {
		q.Command = command
	}
	return q
}

// DryRunApply checks a diff against the work tree without modifying it.
// Dry runs are not gated; they have no side effects worth confirming.
func (m *Mediator) DryRunApply(ctx context.Context, diff string) (*patch.DryRunResult, error) {
	res, err := m.applier.DryRunApply(ctx, diff)
	rec := types.NewAuditRecord(types.AuditPatchDryRun)
	switch {
	case err != nil:
		rec.Decision = "error"
		rec.Detail = err.Error()
	case res.OK:
		rec.Decision = "clean"
	default:
		rec.Decision = "conflicts"
		rec.Detail = strings.Join(res.Conflicts, "; ")
	}
	m.audit(ctx, rec)
	return res, err
}

// ApplyPatch authorizes every file the diff touches, runs the pre-apply
// hooks, applies and journals the diff, then runs the post-apply hooks.
func (m *Mediator) ApplyPatch(ctx context.Context, diff string) error {
	clean := patch.Sanitize(diff)
	targets := patch.Targets(clean)
	for _, target := range targets {
		if err := m.authorize(ctx, policy.Query{Tool: ToolApplyPatch, Path: target}); err != nil {
			return err
		}
	}

	if err := m.runHooks(ctx, hook.PreApply, targets); err != nil {
		return err
	}

	rec := types.NewAuditRecord(types.AuditPatchApply)
	rec.Tool = ToolApplyPatch
	rec.Path = strings.Join(targets, ",")
	if err := m.applier.Apply(ctx, string(clean)); err != nil {
		rec.Decision = "error"
		rec.Detail = err.Error()
		m.audit(ctx, rec)
		return err
	}
	rec.Decision = "applied"
	m.audit(ctx, rec)

	return m.runHooks(ctx, hook.PostApply, targets)
}

// RevertPatch reverse-applies a diff under the same gate as ApplyPatch.
func (m *Mediator) RevertPatch(ctx context.Context, diff string) error {
	clean := patch.Sanitize(diff)
	targets := patch.Targets(clean)
	for _, target := range targets {
		if err := m.authorize(ctx, policy.Query{Tool: ToolApplyPatch, Path: target}); err != nil {
			return err
		}
	}

	rec := types.NewAuditRecord(types.AuditPatchRevert)
	rec.Tool = ToolApplyPatch
	rec.Path = strings.Join(targets, ",")
	if err := m.applier.Revert(ctx, string(clean)); err != nil {
		rec.Decision = "error"
		rec.Detail = err.Error()
		m.audit(ctx, rec)
		return err
	}
	rec.Decision = "reverted"
	m.audit(ctx, rec)
	return nil
}

// RevertLast undoes the newest journaled apply that has not been
// reverted yet.
func (m *Mediator) RevertLast(ctx context.Context) (bool, error) {
	if err := m.authorize(ctx, policy.Query{Tool: ToolApplyPatch}); err != nil {
		return false, err
	}

	reverted, err := m.applier.RevertLast(ctx)
	rec := types.NewAuditRecord(types.AuditPatchRevert)
	rec.Tool = ToolApplyPatch
	switch {
	case err != nil:
		rec.Decision = "error"
		rec.Detail = err.Error()
	case reverted:
		rec.Decision = "reverted"
	default:
		rec.Decision = "noop"
		rec.Detail = "no unpaired apply in journal"
	}
	m.audit(ctx, rec)
	return reverted, err
}

// PreviewDiff sanitizes a diff and summarizes what it would touch.
func (m *Mediator) PreviewDiff(diff string) (patch.SanitizedDiff, patch.Preview) {
	clean := patch.Sanitize(diff)
	return clean, patch.Stats(clean)
}

// Journal returns the patch journal, oldest first.
func (m *Mediator) Journal(ctx context.Context) []types.JournalEntry {
	return m.store.LoadJournal(ctx)
}

// AuditLog returns audit records, oldest first. A positive limit keeps
// only the newest records.
func (m *Mediator) AuditLog(ctx context.Context, limit int) ([]types.AuditRecord, error) {
	var records []types.AuditRecord
	err := m.store.IterAudit(ctx, func(rec types.AuditRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// CallTool dispatches a tool invocation through the bridge. The bridge
// calls back into Authorize before anything reaches the server.
func (m *Mediator) CallTool(ctx context.Context, req *mcp.ToolCallRequest) (*mcp.CallResult, error) {
	res, err := m.bridge.CallTool(ctx, req)

	rec := types.NewAuditRecord(types.AuditToolCall)
	if req != nil {
		rec.Tool = req.Tool
		rec.Detail = "server=" + req.Server
	}
	if err != nil {
		rec.Decision = "error"
		if rec.Detail != "" {
			rec.Detail += "; "
		}
		rec.Detail += err.Error()
	} else {
		rec.Decision = "ok"
	}
	m.audit(ctx, rec)
	return res, err
}

// RegisterServer adds a tool server to the bridge registry.
func (m *Mediator) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if err := m.bridge.RegisterServer(cfg); err != nil {
		return err
	}
	rec := types.NewAuditRecord(types.AuditServerChange)
	rec.Decision = "registered"
	rec.Detail = "server=" + cfg.ID
	m.audit(ctx, rec)
	return nil
}

// UnregisterServer removes a tool server and closes its connection.
func (m *Mediator) UnregisterServer(ctx context.Context, id string) error {
	if err := m.bridge.UnregisterServer(id); err != nil {
		return err
	}
	rec := types.NewAuditRecord(types.AuditServerChange)
	rec.Decision = "unregistered"
	rec.Detail = "server=" + id
	m.audit(ctx, rec)
	return nil
}

// ListServers snapshots the registered tool servers.
func (m *Mediator) ListServers() []mcp.ServerConfig {
	return m.bridge.ListServers()
}

// ListTools fetches the tools one server exposes.
func (m *Mediator) ListTools(ctx context.Context, serverID string) ([]mcp.Tool, error) {
	return m.bridge.ListTools(ctx, serverID)
}

func (m *Mediator) runHooks(ctx context.Context, event hook.Event, targets []string) error {
	if m.hooks == nil {
		return nil
	}
	extra := map[string]string{}
	if len(targets) > 0 {
		extra["PRAXIS_PATCH_FILES"] = strings.Join(targets, ",")
	}
	return m.hooks.Run(ctx, event, extra)
}

// audit appends a record to the audit trail. Audit failures never block
// the mediated action; they only log.
func (m *Mediator) audit(ctx context.Context, rec types.AuditRecord) {
	if err := m.store.AppendAudit(ctx, rec); err != nil {
		m.log.Warn("audit append failed", "kind", string(rec.Kind), "error", err)
	}
}

func newQueryRecord(kind types.AuditKind, q policy.Query) types.AuditRecord {
	rec := types.NewAuditRecord(kind)
	rec.Tool = q.Tool
	rec.Path = q.Path
	rec.Command = q.Command
	return rec
}
