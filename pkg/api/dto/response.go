package dto

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// CheckPermissionResponse reports the action the policy decided.
type CheckPermissionResponse struct {
	Action string `json:"action"`
}

// AppliedResponse is the response for a successful apply or revert.
type AppliedResponse struct {
	Applied bool `json:"applied"`
}

// RevertedResponse is the response for revert-last.
type RevertedResponse struct {
	Reverted bool `json:"reverted"`
}

// DiffResponse carries a generated diff and its summary.
type DiffResponse struct {
	Diff    string   `json:"diff"`
	Files   []string `json:"files"`
	Added   int      `json:"added"`
	Removed int      `json:"removed"`
}

// DeleteResponse is the response for delete operations.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// AckResponse is the response for accepted fire-and-forget operations.
type AckResponse struct {
	Status string `json:"status"`
}
