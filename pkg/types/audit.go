package types

import "time"

// AuditKind classifies what kind of mediated action a record describes.
type AuditKind string

const (
	AuditPermissionCheck AuditKind = "permission_check"
	AuditPatchDryRun     AuditKind = "patch_dry_run"
	AuditPatchApply      AuditKind = "patch_apply"
	AuditPatchRevert     AuditKind = "patch_revert"
	AuditToolCall        AuditKind = "tool_call"
	AuditRuleChange      AuditKind = "rule_change"
	AuditServerChange    AuditKind = "server_change"
)

// AuditRecord is one line in the append-only audit trail. Every mediated
// decision and action outcome produces exactly one record.
type AuditRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      AuditKind `json:"kind"`
	Tool      string    `json:"tool,omitempty"`
	Path      string    `json:"path,omitempty"`
	Command   string    `json:"command,omitempty"`
	Decision  string    `json:"decision,omitempty"` // allow/deny/confirm or ok/error
	Detail    string    `json:"detail,omitempty"`
}

// NewAuditRecord stamps a record with a fresh ID and the current time.
func NewAuditRecord(kind AuditKind) AuditRecord {
	return AuditRecord{
		ID:        GenerateAuditID(),
		Timestamp: time.Now(),
		Kind:      kind,
	}
}
