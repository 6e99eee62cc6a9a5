package patch

import (
	"reflect"
	"strings"
	"testing"
)

func TestGenerateDiff(t *testing.T) {
	t.Run("single line change", func(t *testing.T) {
		old := "alpha\nbeta\ngamma\n"
		newContent := "alpha\nBETA\ngamma\n"

		got, err := GenerateDiff("file.txt", old, newContent)
		if err != nil {
			t.Fatalf("GenerateDiff() error = %v", err)
		}

		want := "--- a/file.txt\n" +
			"+++ b/file.txt\n" +
			"@@ -1,3 +1,3 @@\n" +
			" alpha\n" +
			"-beta\n" +
			"+BETA\n" +
			" gamma\n"
		if string(got) != want {
			t.Errorf("GenerateDiff() =\n%s\nwant:\n%s", got, want)
		}
	})

	t.Run("file creation uses dev null", func(t *testing.T) {
		got, err := GenerateDiff("new.txt", "", "one\ntwo\n")
		if err != nil {
			t.Fatalf("GenerateDiff() error = %v", err)
		}

		want := "--- /dev/null\n" +
			"+++ b/new.txt\n" +
			"@@ -0,0 +1,2 @@\n" +
			"+one\n" +
			"+two\n"
		if string(got) != want {
			t.Errorf("GenerateDiff() =\n%s\nwant:\n%s", got, want)
		}
	})

	t.Run("file deletion uses dev null", func(t *testing.T) {
		got, err := GenerateDiff("gone.txt", "one\ntwo\n", "")
		if err != nil {
			t.Fatalf("GenerateDiff() error = %v", err)
		}

		want := "--- a/gone.txt\n" +
			"+++ /dev/null\n" +
			"@@ -1,2 +0,0 @@\n" +
			"-one\n" +
			"-two\n"
		if string(got) != want {
			t.Errorf("GenerateDiff() =\n%s\nwant:\n%s", got, want)
		}
	})

	t.Run("distant changes split into hunks", func(t *testing.T) {
		var oldLines, newLines []string
		for i := 1; i <= 20; i++ {
			line := "line"
			oldLines = append(oldLines, line)
			newLines = append(newLines, line)
		}
		oldLines[0] = "first-old"
		newLines[0] = "first-new"
		oldLines[19] = "last-old"
		newLines[19] = "last-new"

		got, err := GenerateDiff("big.txt",
			strings.Join(oldLines, "\n")+"\n",
			strings.Join(newLines, "\n")+"\n")
		if err != nil {
			t.Fatalf("GenerateDiff() error = %v", err)
		}
		if n := strings.Count(string(got), "@@ -"); n != 2 {
			t.Errorf("hunk count = %d, want 2\n%s", n, got)
		}
	})

	t.Run("output is already sanitized", func(t *testing.T) {
		got, err := GenerateDiff("file.txt", "a\nb\n", "a\nc\n")
		if err != nil {
			t.Fatalf("GenerateDiff() error = %v", err)
		}
		if again := Sanitize(string(got)); again != got {
			t.Errorf("sanitizing generator output changed it:\n%q\nvs\n%q", again, got)
		}
	})

	t.Run("no changes", func(t *testing.T) {
		if _, err := GenerateDiff("file.txt", "same\n", "same\n"); err == nil {
			t.Error("expected error for identical content")
		}
	})

	t.Run("binary content rejected", func(t *testing.T) {
		if _, err := GenerateDiff("bin", "a\x00b", "a\x00c"); err == nil {
			t.Error("expected error for binary content")
		}
	})

	t.Run("empty path rejected", func(t *testing.T) {
		if _, err := GenerateDiff("", "a\n", "b\n"); err == nil {
			t.Error("expected error for empty path")
		}
	})
}

func TestStats(t *testing.T) {
	diff := SanitizedDiff("--- a/a.go\n+++ b/a.go\n@@ -1,2 +1,2 @@\n-x\n+y\n z\n" +
		"--- a/b.go\n+++ b/b.go\n@@ -1 +1,2 @@\n x\n+w\n")

	got := Stats(diff)
	want := Preview{Files: []string{"a.go", "b.go"}, Added: 2, Removed: 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestStatsEmptyDiff(t *testing.T) {
	got := Stats("")
	if got.Files == nil || len(got.Files) != 0 || got.Added != 0 || got.Removed != 0 {
		t.Errorf("Stats(\"\") = %+v, want empty preview", got)
	}
}
