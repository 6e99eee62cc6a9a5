package store

import (
	"context"
	"fmt"

	"github.com/praxis-agent/praxis/pkg/types"
)

// JournalWriteError reports a failed journal persist. It always surfaces to
// the caller: a lost journal entry silently breaks future undo guarantees.
type JournalWriteError struct {
	Path string
	Err  error
}

func (e *JournalWriteError) Error() string {
	return fmt.Sprintf("journal write failed: %s: %v", e.Path, e.Err)
}

func (e *JournalWriteError) Unwrap() error { return e.Err }

// Store defines the persistence contract for the patch journal and the
// audit trail.
type Store interface {
	// Lifecycle
	Open(ctx context.Context) error
	Close() error

	// Journal operations. The journal is an ordered whole-file JSON array;
	// reads degrade to an empty journal on any failure, writes surface
	// JournalWriteError.
	LoadJournal(ctx context.Context) []types.JournalEntry
	AppendJournal(ctx context.Context, entry types.JournalEntry) error

	// Audit operations. The audit trail is append-only JSONL; write
	// failures are the caller's to log, they never undo a mediated action.
	AppendAudit(ctx context.Context, rec types.AuditRecord) error
	IterAudit(ctx context.Context, fn func(types.AuditRecord) error) error
}
