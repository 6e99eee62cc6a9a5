package types

import "time"

// JournalAction is the kind of patch operation a journal entry records.
type JournalAction string

const (
	JournalApply  JournalAction = "apply"
	JournalRevert JournalAction = "revert"
)

// JournalEntry is one record in the append-only patch journal.
// Entries are never mutated or deleted, only appended, so journal order
// is monotonically increasing by append time.
type JournalEntry struct {
	Action JournalAction `json:"action"`
	Diff   string        `json:"diff"`
	At     time.Time     `json:"at"`
}
