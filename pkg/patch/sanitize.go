package patch

import (
	"strings"
)

// SanitizedDiff is unified-diff text that has passed through Sanitize.
// Internal apply paths accept only this type so un-sanitized model output
// cannot reach the working tree by accident.
type SanitizedDiff string

func (d SanitizedDiff) String() string { return string(d) }

// Sanitize normalizes AI-produced diff text into canonical unified-diff
// form. Steps, in order: strip begin/end patch sentinel lines, strip
// markdown code fences (any language tag), normalize CRLF/CR to LF and
// trim surrounding blank lines, rewrite bare `---`/`+++` headers to the
// `a/`/`b/` prefixed form. Sanitize is idempotent: re-applying it to its
// own output is a no-op.
func Sanitize(raw string) SanitizedDiff {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if isSentinelLine(line) || isFenceLine(line) {
			continue
		}
		out = append(out, rewriteHeader(line))
	}

	// Trim whole blank lines only. A trailing context line holding an
	// empty source line is a single space and must survive.
	cleaned := strings.Trim(strings.Join(out, "\n"), "\n")
	if strings.TrimSpace(cleaned) == "" {
		return ""
	}
	return SanitizedDiff(cleaned + "\n")
}

func isSentinelLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "*** Begin Patch" || trimmed == "*** End Patch"
}

func isFenceLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// rewriteHeader prefixes bare diff header paths: `--- <path>` becomes
// `--- a/<path>` and `+++ <path>` becomes `+++ b/<path>`, unless the path
// already carries an `a/` or `b/` prefix or is the literal /dev/null.
func rewriteHeader(line string) string {
	switch {
	case strings.HasPrefix(line, "--- "):
		return "--- " + prefixHeaderPath(line[len("--- "):], "a/")
	case strings.HasPrefix(line, "+++ "):
		return "+++ " + prefixHeaderPath(line[len("+++ "):], "b/")
	}
	return line
}

func prefixHeaderPath(path, prefix string) string {
	if path == "/dev/null" ||
		strings.HasPrefix(path, "a/") ||
		strings.HasPrefix(path, "b/") {
		return path
	}
	return prefix + path
}

// Targets returns the file paths a sanitized diff touches, in order of
// first appearance. Deleted files are reported from their `---` header
// since their `+++` header is /dev/null.
func Targets(diff SanitizedDiff) []string {
	var targets []string
	seen := make(map[string]bool)
	add := func(path string) {
		if path != "" && !seen[path] {
			seen[path] = true
			targets = append(targets, path)
		}
	}

	lastOld := ""
	for _, line := range strings.Split(string(diff), "\n") {
		switch {
		case strings.HasPrefix(line, "--- a/"):
			lastOld = line[len("--- a/"):]
		case strings.HasPrefix(line, "--- "):
			lastOld = ""
		case strings.HasPrefix(line, "+++ b/"):
			add(line[len("+++ b/"):])
		case line == "+++ /dev/null":
			add(lastOld)
		}
	}
	return targets
}
