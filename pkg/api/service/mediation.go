// Package service exposes the mediated operations the HTTP layer serves.
package service

import (
	"context"
	"log/slog"

	"github.com/praxis-agent/praxis/pkg/confirm"
	"github.com/praxis-agent/praxis/pkg/mcp"
	"github.com/praxis-agent/praxis/pkg/mediator"
	"github.com/praxis-agent/praxis/pkg/patch"
	"github.com/praxis-agent/praxis/pkg/policy"
	"github.com/praxis-agent/praxis/pkg/types"
)

// Mediation bundles the mediator and its collaborators behind one service
// the handlers depend on.
type Mediation struct {
	med     *mediator.Mediator
	policy  *policy.Engine
	confirm *confirm.Manager
	log     *slog.Logger
}

// NewMediation creates the service. confirm may be nil when no operator
// channel is wired; the confirmation endpoints then report not-found.
func NewMediation(med *mediator.Mediator, pol *policy.Engine, cm *confirm.Manager, log *slog.Logger) *Mediation {
	if log == nil {
		log = slog.Default()
	}
	return &Mediation{med: med, policy: pol, confirm: cm, log: log}
}

// CheckPermission evaluates a query without executing anything.
func (s *Mediation) CheckPermission(ctx context.Context, q policy.Query) policy.Action {
	return s.med.CheckPermission(ctx, q)
}

// RulesSnapshot returns the merged permission set the engine evaluates.
func (s *Mediation) RulesSnapshot() policy.Set {
	return s.policy.Snapshot()
}

// AddRule appends a rule to the project layer and persists it.
func (s *Mediation) AddRule(rule policy.Rule) error {
	return s.policy.AddRule(rule)
}

// RemoveRule removes a project-layer rule by index and persists.
func (s *Mediation) RemoveRule(index int) error {
	return s.policy.RemoveRule(index)
}

// SetDefault sets a tool's project-layer default action and persists.
func (s *Mediation) SetDefault(tool string, action policy.Action) error {
	return s.policy.SetDefault(tool, action)
}

// DryRun checks a diff against the work tree without modifying it.
func (s *Mediation) DryRun(ctx context.Context, diff string) (*patch.DryRunResult, error) {
	return s.med.DryRunApply(ctx, diff)
}

// Apply applies a diff through the permission gate.
func (s *Mediation) Apply(ctx context.Context, diff string) error {
	return s.med.ApplyPatch(ctx, diff)
}

// Revert reverse-applies a diff through the permission gate.
func (s *Mediation) Revert(ctx context.Context, diff string) error {
	return s.med.RevertPatch(ctx, diff)
}

// RevertLast undoes the newest journaled apply that is still unpaired.
func (s *Mediation) RevertLast(ctx context.Context) (bool, error) {
	return s.med.RevertLast(ctx)
}

// GenerateDiff builds a unified diff between two versions of one file and
// summarizes it.
func (s *Mediation) GenerateDiff(path, oldContent, newContent string) (patch.SanitizedDiff, patch.Preview, error) {
	diff, err := patch.GenerateDiff(path, oldContent, newContent)
	if err != nil {
		return "", patch.Preview{}, err
	}
	return diff, patch.Stats(diff), nil
}

// Journal returns the patch journal, oldest first.
func (s *Mediation) Journal(ctx context.Context) []types.JournalEntry {
	return s.med.Journal(ctx)
}

// Audit returns audit records, oldest first, keeping only the newest
// limit records when limit is positive.
func (s *Mediation) Audit(ctx context.Context, limit int) ([]types.AuditRecord, error) {
	return s.med.AuditLog(ctx, limit)
}

// Servers snapshots the registered tool servers.
func (s *Mediation) Servers() []mcp.ServerConfig {
	return s.med.ListServers()
}

// RegisterServer adds a tool server to the registry.
func (s *Mediation) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	return s.med.RegisterServer(ctx, cfg)
}

// UnregisterServer removes a tool server and closes its connection.
func (s *Mediation) UnregisterServer(ctx context.Context, id string) error {
	return s.med.UnregisterServer(ctx, id)
}

// Tools fetches the tools one server exposes.
func (s *Mediation) Tools(ctx context.Context, serverID string) ([]mcp.Tool, error) {
	return s.med.ListTools(ctx, serverID)
}

// CallToolWire parses a `{"tool_call": ...}` payload and dispatches it.
func (s *Mediation) CallToolWire(ctx context.Context, payload []byte) (*mcp.CallResult, error) {
	req, err := mcp.ParseToolCallWire(payload)
	if err != nil {
		return nil, err
	}
	return s.med.CallTool(ctx, req)
}

// PendingConfirmations snapshots the confirmations waiting for an answer.
func (s *Mediation) PendingConfirmations() []confirm.PendingRequest {
	if s.confirm == nil {
		return nil
	}
	return s.confirm.Pending()
}

// RespondConfirmation answers a pending confirmation.
func (s *Mediation) RespondConfirmation(id string, approved, always bool) error {
	if s.confirm == nil {
		return confirm.ErrRequestNotFound
	}
	return s.confirm.Respond(id, approved, always)
}
