package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/praxis-agent/praxis/pkg/types"
)

// FSStore implements Store using the local file system.
// NOTE: no transactions; crash consistency depends on individual atomic writes.
// Directory structure:
//
//	<rootDir>/
//	├── journal.json
//	└── audit.jsonl
type FSStore struct {
	rootDir string
	mu      sync.RWMutex
	log     *slog.Logger

	journalPath string
	auditPath   string
}

func NewFSStore(rootDir string, log *slog.Logger) *FSStore {
	if log == nil {
		log = slog.Default()
	}
	return &FSStore{
		rootDir:     rootDir,
		log:         log,
		journalPath: filepath.Join(rootDir, "journal.json"),
		auditPath:   filepath.Join(rootDir, "audit.jsonl"),
	}
}

func (s *FSStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.rootDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.rootDir, err)
	}
	return nil
}

func (s *FSStore) Close() error {
	return nil
}

// --- Journal Operations ---

// LoadJournal returns the ordered journal. Every read failure (missing
// file, corrupt JSON, unreadable path) degrades to an empty journal; only
// writes may fail loudly.
func (s *FSStore) LoadJournal(ctx context.Context) []types.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadJournalLocked()
}

func (s *FSStore) loadJournalLocked() []types.JournalEntry {
	data, err := os.ReadFile(s.journalPath)
	if os.IsNotExist(err) {
		return []types.JournalEntry{}
	}
	if err != nil {
		s.log.Warn("journal unreadable, treating as empty", "path", s.journalPath, "error", err)
		return []types.JournalEntry{}
	}

	var entries []types.JournalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.Warn("journal corrupt, treating as empty", "path", s.journalPath, "error", err)
		return []types.JournalEntry{}
	}
	return entries
}

// AppendJournal appends one entry with whole-file load/replace semantics.
func (s *FSStore) AppendJournal(ctx context.Context, entry types.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.loadJournalLocked(), entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return &JournalWriteError{Path: s.journalPath, Err: err}
	}
	if err := s.atomicWrite(s.journalPath, data); err != nil {
		return &JournalWriteError{Path: s.journalPath, Err: err}
	}
	return nil
}

// --- Audit Operations ---

// AppendAudit writes one JSONL line and fsyncs it.
func (s *FSStore) AppendAudit(ctx context.Context, rec types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	f, err := os.OpenFile(s.auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}

	return f.Sync() // Ensure durability
}

// IterAudit scans the audit trail oldest-first. Malformed lines are
// skipped; the trail is best-effort diagnostics, not a source of truth.
func (s *FSStore) IterAudit(ctx context.Context, fn func(types.AuditRecord) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.auditPath)
	if os.IsNotExist(err) {
		return nil // No records yet
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	// Diff payloads can make individual records large.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec types.AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.log.Warn("skipping corrupt audit line", "error", err)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// atomicWrite writes data to path via a temp file, fsync and rename.
func (s *FSStore) atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	// Sync requires reopening the file and calling Sync on the handle.
	f, err := os.Open(tmpPath)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	f.Close()

	return os.Rename(tmpPath, path)
}
