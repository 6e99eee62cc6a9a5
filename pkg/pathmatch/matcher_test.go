package pathmatch

import "testing"

func TestMatchPath(t *testing.T) {
	m := New()

	cases := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{name: "exact", pattern: "src/main.go", path: "src/main.go", want: true},
		{name: "star within segment", pattern: "src/*.go", path: "src/main.go", want: true},
		{name: "star does not cross separator", pattern: "src/*.go", path: "src/sub/main.go", want: false},
		{name: "doublestar crosses separators", pattern: "src/**/*.go", path: "src/a/b/main.go", want: true},
		{name: "doublestar matches zero segments", pattern: "**/*.go", path: "main.go", want: true},
		{name: "question mark", pattern: "file?.txt", path: "file1.txt", want: true},
		{name: "no match", pattern: "docs/**", path: "src/main.go", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.MatchPath(tc.pattern, tc.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("MatchPath(%q, %q) = %v, want %v", tc.pattern, tc.path, got, tc.want)
			}
		})
	}
}

func TestMatchPathBadPattern(t *testing.T) {
	m := New()
	if _, err := m.MatchPath("[", "anything"); err == nil {
		t.Fatal("expected error for malformed glob pattern")
	}
}

func TestMatchCommand(t *testing.T) {
	m := New()

	got, err := m.MatchCommand("rm.*", "rm -rf /tmp/scratch")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("expected rm command to match rm.*")
	}

	got, err = m.MatchCommand("rm.*", "ls -la")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Fatal("ls should not match rm.*")
	}

	// Unanchored: a substring hit counts.
	got, err = m.MatchCommand("sudo", "echo sudo make me a sandwich")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("expected substring regex match")
	}
}

func TestMatchCommandBadPattern(t *testing.T) {
	m := New()
	if _, err := m.MatchCommand("(", "anything"); err == nil {
		t.Fatal("expected error for malformed regexp")
	}

	// A failed pattern must not poison the cache for later good patterns.
	if got, err := m.MatchCommand("ls.*", "ls -la"); err != nil || !got {
		t.Fatalf("expected good pattern to still work, got %v %v", got, err)
	}
}

func TestCompiledRegexpReuse(t *testing.T) {
	m := New().(*matcher)
	if _, err := m.MatchCommand("go (build|test)", "go test ./..."); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.regexps.Load("go (build|test)"); !ok {
		t.Fatal("expected compiled pattern to be cached")
	}
}
