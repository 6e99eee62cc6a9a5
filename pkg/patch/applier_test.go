package patch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"slices"
	"testing"

	"github.com/praxis-agent/praxis/pkg/types"
)

const sampleDiff = "--- a/main.go\n+++ b/main.go\n@@ -1,3 +1,3 @@\n package main\n-var x = 1\n+var x = 2\n"

type fakeVCS struct {
	isRepo     bool
	checkOut   string
	checkErr   error
	applyOut   string
	applyErr   error
	reverseOut string
	reverseErr error

	calls        []string
	checkDiffs   []string
	applyDiffs   []string
	reverseDiffs []string
}

func (f *fakeVCS) IsWorkTree(ctx context.Context, dir string) bool {
	f.calls = append(f.calls, "isWorkTree")
	return f.isRepo
}

func (f *fakeVCS) CheckApply(ctx context.Context, dir, patchFile string) (string, error) {
	f.calls = append(f.calls, "checkApply")
	f.checkDiffs = append(f.checkDiffs, readPatchFile(patchFile))
	return f.checkOut, f.checkErr
}

func (f *fakeVCS) Apply(ctx context.Context, dir, patchFile string) (string, error) {
	f.calls = append(f.calls, "apply")
	f.applyDiffs = append(f.applyDiffs, readPatchFile(patchFile))
	return f.applyOut, f.applyErr
}

func (f *fakeVCS) ReverseApply(ctx context.Context, dir, patchFile string) (string, error) {
	f.calls = append(f.calls, "reverseApply")
	f.reverseDiffs = append(f.reverseDiffs, readPatchFile(patchFile))
	return f.reverseOut, f.reverseErr
}

func readPatchFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

type memStore struct {
	entries   []types.JournalEntry
	appendErr error
}

func (s *memStore) Open(ctx context.Context) error { return nil }
func (s *memStore) Close() error                   { return nil }

func (s *memStore) LoadJournal(ctx context.Context) []types.JournalEntry {
	return slices.Clone(s.entries)
}

func (s *memStore) AppendJournal(ctx context.Context, entry types.JournalEntry) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memStore) AppendAudit(ctx context.Context, rec types.AuditRecord) error { return nil }

func (s *memStore) IterAudit(ctx context.Context, fn func(types.AuditRecord) error) error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApplier(t *testing.T, git *fakeVCS, st *memStore) (*applier, string) {
	t.Helper()
	tempDir := t.TempDir()
	cfg := Config{WorkDir: t.TempDir(), TempDir: tempDir}
	return newApplier(cfg, st, git, discardLogger()), tempDir
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no leftover temp files, found %d", len(entries))
	}
}

func TestApplierRequiresRepo(t *testing.T) {
	git := &fakeVCS{isRepo: false}
	a, tempDir := newTestApplier(t, git, &memStore{})
	ctx := context.Background()

	if _, err := a.DryRunApply(ctx, sampleDiff); !errors.Is(err, ErrNotARepo) {
		t.Errorf("DryRunApply error = %v, want ErrNotARepo", err)
	}
	if err := a.Apply(ctx, sampleDiff); !errors.Is(err, ErrNotARepo) {
		t.Errorf("Apply error = %v, want ErrNotARepo", err)
	}
	if err := a.Revert(ctx, sampleDiff); !errors.Is(err, ErrNotARepo) {
		t.Errorf("Revert error = %v, want ErrNotARepo", err)
	}
	if _, err := a.RevertLast(ctx); !errors.Is(err, ErrNotARepo) {
		t.Errorf("RevertLast error = %v, want ErrNotARepo", err)
	}

	for _, call := range git.calls {
		if call != "isWorkTree" {
			t.Errorf("git %s ran without a repository", call)
		}
	}
	assertTempDirEmpty(t, tempDir)
}

func TestDryRunApply(t *testing.T) {
	t.Run("clean", func(t *testing.T) {
		git := &fakeVCS{isRepo: true}
		a, tempDir := newTestApplier(t, git, &memStore{})

		res, err := a.DryRunApply(context.Background(), sampleDiff)
		if err != nil {
			t.Fatalf("DryRunApply() error = %v", err)
		}
		if !res.OK {
			t.Errorf("OK = false, want true")
		}
		if len(res.Conflicts) != 0 {
			t.Errorf("Conflicts = %v, want none", res.Conflicts)
		}
		assertTempDirEmpty(t, tempDir)
	})

	t.Run("conflicts reported as result", func(t *testing.T) {
		git := &fakeVCS{
			isRepo:   true,
			checkErr: errors.New("exit status 1"),
			checkOut: "error: patch failed: main.go:1\nerror: main.go: patch does not apply\n",
		}
		a, tempDir := newTestApplier(t, git, &memStore{})

		res, err := a.DryRunApply(context.Background(), sampleDiff)
		if err != nil {
			t.Fatalf("DryRunApply() error = %v", err)
		}
		if res.OK {
			t.Errorf("OK = true, want false")
		}
		if len(res.Conflicts) != 2 {
			t.Errorf("Conflicts = %v, want 2 lines", res.Conflicts)
		}
		assertTempDirEmpty(t, tempDir)
	})

	t.Run("sanitizes before handing to git", func(t *testing.T) {
		git := &fakeVCS{isRepo: true}
		a, _ := newTestApplier(t, git, &memStore{})

		raw := "```diff\n*** Begin Patch\n" + sampleDiff + "*** End Patch\n```\n"
		if _, err := a.DryRunApply(context.Background(), raw); err != nil {
			t.Fatalf("DryRunApply() error = %v", err)
		}
		if len(git.checkDiffs) != 1 || git.checkDiffs[0] != sampleDiff {
			t.Errorf("git saw %q, want sanitized %q", git.checkDiffs, sampleDiff)
		}
	})
}

func TestApplyJournalsOperation(t *testing.T) {
	git := &fakeVCS{isRepo: true}
	st := &memStore{}
	a, tempDir := newTestApplier(t, git, st)

	if err := a.Apply(context.Background(), sampleDiff); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(st.entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(st.entries))
	}
	entry := st.entries[0]
	if entry.Action != types.JournalApply {
		t.Errorf("action = %q, want apply", entry.Action)
	}
	if entry.Diff != sampleDiff {
		t.Errorf("journaled diff = %q, want %q", entry.Diff, sampleDiff)
	}
	if entry.At.IsZero() {
		t.Error("entry timestamp is zero")
	}
	assertTempDirEmpty(t, tempDir)
}

func TestApplyConflict(t *testing.T) {
	git := &fakeVCS{
		isRepo:   true,
		applyErr: errors.New("exit status 1"),
		applyOut: "error: patch failed: main.go:1\n",
	}
	st := &memStore{}
	a, tempDir := newTestApplier(t, git, st)

	err := a.Apply(context.Background(), sampleDiff)
	var conflictErr *ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("Apply() error = %v, want *ConflictError", err)
	}
	if len(conflictErr.Conflicts) == 0 {
		t.Error("ConflictError carries no conflicts")
	}
	if len(st.entries) != 0 {
		t.Errorf("failed apply was journaled: %v", st.entries)
	}
	assertTempDirEmpty(t, tempDir)
}

func TestApplySurfacesJournalWriteFailure(t *testing.T) {
	boom := errors.New("disk full")
	git := &fakeVCS{isRepo: true}
	a, _ := newTestApplier(t, git, &memStore{appendErr: boom})

	err := a.Apply(context.Background(), sampleDiff)
	if !errors.Is(err, boom) {
		t.Errorf("Apply() error = %v, want journal write failure", err)
	}
	if len(git.applyDiffs) != 1 {
		t.Errorf("git apply ran %d times, want 1", len(git.applyDiffs))
	}
}

func TestApplyRejectsBadDiffs(t *testing.T) {
	tests := []struct {
		name string
		diff string
	}{
		{name: "empty after sanitization", diff: "```diff\n```\n"},
		{name: "no file headers", diff: "@@ -1 +1 @@\n-x\n+y\n"},
		{name: "path traversal target", diff: "--- a/../../etc/passwd\n+++ b/../../etc/passwd\n@@ -1 +1 @@\n-x\n+y\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := &fakeVCS{isRepo: true}
			a, tempDir := newTestApplier(t, git, &memStore{})

			err := a.Apply(context.Background(), tt.diff)
			var vErr *types.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Apply() error = %v, want *types.ValidationError", err)
			}
			if len(git.applyDiffs) != 0 {
				t.Error("git apply ran on a rejected diff")
			}
			assertTempDirEmpty(t, tempDir)
		})
	}
}

func TestRevertJournalsOperation(t *testing.T) {
	git := &fakeVCS{isRepo: true}
	st := &memStore{}
	a, _ := newTestApplier(t, git, st)

	if err := a.Revert(context.Background(), sampleDiff); err != nil {
		t.Fatalf("Revert() error = %v", err)
	}
	if len(git.reverseDiffs) != 1 {
		t.Fatalf("reverse apply ran %d times, want 1", len(git.reverseDiffs))
	}
	if len(st.entries) != 1 || st.entries[0].Action != types.JournalRevert {
		t.Errorf("journal = %+v, want single revert entry", st.entries)
	}
}

func TestRevertLast(t *testing.T) {
	diffA := "--- a/a.go\n+++ b/a.go\n@@ -1 +1 @@\n-a1\n+a2\n"
	diffB := "--- a/b.go\n+++ b/b.go\n@@ -1 +1 @@\n-b1\n+b2\n"

	t.Run("empty journal is a no-op", func(t *testing.T) {
		git := &fakeVCS{isRepo: true}
		a, _ := newTestApplier(t, git, &memStore{})

		reverted, err := a.RevertLast(context.Background())
		if err != nil {
			t.Fatalf("RevertLast() error = %v", err)
		}
		if reverted {
			t.Error("reverted = true on empty journal")
		}
		if len(git.reverseDiffs) != 0 {
			t.Error("reverse apply ran with nothing to revert")
		}
	})

	t.Run("unwinds applies newest first", func(t *testing.T) {
		git := &fakeVCS{isRepo: true}
		st := &memStore{}
		a, tempDir := newTestApplier(t, git, st)
		ctx := context.Background()

		for _, d := range []string{diffA, diffB} {
			if err := a.Apply(ctx, d); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
		}

		reverted, err := a.RevertLast(ctx)
		if err != nil || !reverted {
			t.Fatalf("RevertLast() = %v, %v, want true, nil", reverted, err)
		}
		if got := git.reverseDiffs[len(git.reverseDiffs)-1]; got != diffB {
			t.Errorf("first revert undid %q, want newest apply %q", got, diffB)
		}

		reverted, err = a.RevertLast(ctx)
		if err != nil || !reverted {
			t.Fatalf("second RevertLast() = %v, %v, want true, nil", reverted, err)
		}
		if got := git.reverseDiffs[len(git.reverseDiffs)-1]; got != diffA {
			t.Errorf("second revert undid %q, want %q", got, diffA)
		}

		reverted, err = a.RevertLast(ctx)
		if err != nil {
			t.Fatalf("third RevertLast() error = %v", err)
		}
		if reverted {
			t.Error("reverted = true with every apply already undone")
		}
		assertTempDirEmpty(t, tempDir)
	})

	t.Run("skips applies with a later matching revert", func(t *testing.T) {
		git := &fakeVCS{isRepo: true}
		st := &memStore{}
		a, _ := newTestApplier(t, git, st)
		ctx := context.Background()

		if err := a.Apply(ctx, diffA); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if err := a.Apply(ctx, diffB); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if err := a.Revert(ctx, diffB); err != nil {
			t.Fatalf("Revert() error = %v", err)
		}

		reverted, err := a.RevertLast(ctx)
		if err != nil || !reverted {
			t.Fatalf("RevertLast() = %v, %v, want true, nil", reverted, err)
		}
		if got := git.reverseDiffs[len(git.reverseDiffs)-1]; got != diffA {
			t.Errorf("revert undid %q, want unpaired apply %q", got, diffA)
		}
	})

	t.Run("conflict does not journal a revert", func(t *testing.T) {
		git := &fakeVCS{isRepo: true}
		st := &memStore{}
		a, _ := newTestApplier(t, git, st)
		ctx := context.Background()

		if err := a.Apply(ctx, diffA); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		git.reverseErr = errors.New("exit status 1")
		git.reverseOut = "error: patch failed: a.go:1\n"

		reverted, err := a.RevertLast(ctx)
		var conflictErr *ConflictError
		if !errors.As(err, &conflictErr) {
			t.Fatalf("RevertLast() error = %v, want *ConflictError", err)
		}
		if reverted {
			t.Error("reverted = true on conflict")
		}
		if len(st.entries) != 1 {
			t.Errorf("journal grew after failed revert: %+v", st.entries)
		}
	})
}

func TestLastUnpairedApply(t *testing.T) {
	je := func(action types.JournalAction, diff string) types.JournalEntry {
		return types.JournalEntry{Action: action, Diff: diff}
	}

	tests := []struct {
		name    string
		entries []types.JournalEntry
		want    string
		wantOK  bool
	}{
		{
			name:   "empty",
			wantOK: false,
		},
		{
			name:    "single apply",
			entries: []types.JournalEntry{je(types.JournalApply, "A")},
			want:    "A",
			wantOK:  true,
		},
		{
			name: "newest unpaired wins",
			entries: []types.JournalEntry{
				je(types.JournalApply, "A"),
				je(types.JournalApply, "B"),
			},
			want:   "B",
			wantOK: true,
		},
		{
			name: "revert pairs with nearest preceding apply",
			entries: []types.JournalEntry{
				je(types.JournalApply, "A"),
				je(types.JournalApply, "B"),
				je(types.JournalRevert, "B"),
			},
			want:   "A",
			wantOK: true,
		},
		{
			name: "duplicate diffs pair individually",
			entries: []types.JournalEntry{
				je(types.JournalApply, "A"),
				je(types.JournalApply, "A"),
				je(types.JournalRevert, "A"),
			},
			want:   "A",
			wantOK: true,
		},
		{
			name: "fully unwound",
			entries: []types.JournalEntry{
				je(types.JournalApply, "A"),
				je(types.JournalApply, "B"),
				je(types.JournalRevert, "B"),
				je(types.JournalRevert, "A"),
			},
			wantOK: false,
		},
		{
			name: "standalone revert is ignored",
			entries: []types.JournalEntry{
				je(types.JournalRevert, "X"),
				je(types.JournalApply, "A"),
			},
			want:   "A",
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lastUnpairedApply(tt.entries)
			if ok != tt.wantOK || string(got) != tt.want {
				t.Errorf("lastUnpairedApply() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	var vErr *types.ValidationError
	if err := cfg.Validate(); !errors.As(err, &vErr) {
		t.Errorf("Validate() error = %v, want *types.ValidationError", err)
	}

	cfg.WorkDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}
