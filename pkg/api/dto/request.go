package dto

// CheckPermissionRequest is the request body for a permission check.
type CheckPermissionRequest struct {
	Tool    string `json:"tool" binding:"required"`
	Path    string `json:"path,omitempty"`
	Command string `json:"command,omitempty"`
}

// PatchRequest carries a unified diff for dry-run, apply and revert.
type PatchRequest struct {
	Diff string `json:"diff" binding:"required"`
}

// GenerateDiffRequest asks for a unified diff between two versions of a
// file's content.
type GenerateDiffRequest struct {
	Path       string `json:"path" binding:"required"`
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
}

// SetDefaultRequest is the request body for setting a tool's default
// permission action.
type SetDefaultRequest struct {
	Action string `json:"action" binding:"required"`
}

// ConfirmResponseRequest is the request body for answering a pending
// confirmation.
type ConfirmResponseRequest struct {
	Approved bool `json:"approved"`
	Always   bool `json:"always"`
}
