package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/praxis-agent/praxis/pkg/types"
)

// contextLines is the number of unchanged lines kept around each hunk.
const contextLines = 3

// GenerateDiff builds a git-applyable unified diff that rewrites filePath
// from oldContent to newContent. Content is treated as newline-terminated
// text. Empty oldContent produces a file-creation diff and empty
// newContent a deletion diff. Binary content is rejected.
func GenerateDiff(filePath, oldContent, newContent string) (SanitizedDiff, error) {
	if filePath == "" {
		return "", types.NewValidationError("file_path", "must not be empty")
	}
	if isBinary(oldContent) || isBinary(newContent) {
		return "", fmt.Errorf("binary files are not supported")
	}
	if oldContent == newContent {
		return "", fmt.Errorf("no changes detected")
	}

	// Line-mode diff keeps hunks aligned on line boundaries, which git
	// apply requires. Semantic cleanup is skipped because it can split
	// lines back apart.
	dmp := diffmatchpatch.New()
	oldChars, newChars, lineIndex := dmp.DiffLinesToChars(
		ensureTrailingNewline(oldContent),
		ensureTrailingNewline(newContent),
	)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(oldChars, newChars, false), lineIndex)

	hunks := buildHunks(flattenDiffs(diffs), contextLines)
	if len(hunks) == 0 {
		return "", fmt.Errorf("no changes detected")
	}

	var b strings.Builder
	writeFileHeader(&b, filePath, oldContent, newContent)
	for _, h := range hunks {
		h.write(&b)
	}
	return Sanitize(b.String()), nil
}

// Preview summarizes a diff for display without applying it.
type Preview struct {
	Files   []string `json:"files"`
	Added   int      `json:"added"`
	Removed int      `json:"removed"`
}

// Stats counts the touched files and the added and removed lines of a
// sanitized diff.
func Stats(diff SanitizedDiff) Preview {
	added, removed := countChanges(string(diff))
	files := Targets(diff)
	if files == nil {
		files = []string{}
	}
	return Preview{Files: files, Added: added, Removed: removed}
}

// isBinary checks if content contains binary data
// Simple heuristic: check for null bytes in first 8KB
func isBinary(content string) bool {
	checkLen := 8192
	if len(content) < checkLen {
		checkLen = len(content)
	}

	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}

func ensureTrailingNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

// lineOp is one source line of the diff with its change kind: ' ', '-'
// or '+'.
type lineOp struct {
	kind byte
	text string
}

func flattenDiffs(diffs []diffmatchpatch.Diff) []lineOp {
	var ops []lineOp
	for _, d := range diffs {
		var kind byte
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		default:
			kind = ' '
		}
		if d.Text == "" {
			continue
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

// hunk is one @@ block of a unified diff.
type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	lines              []string
}

func (h hunk) write(b *strings.Builder) {
	fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", h.oldStart, h.oldCount, h.newStart, h.newCount)
	for _, line := range h.lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

// buildHunks groups changed lines into hunks with the given amount of
// surrounding context, merging regions whose context windows touch.
func buildHunks(ops []lineOp, context int) []hunk {
	var changed []int
	for i, op := range ops {
		if op.kind != ' ' {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	type region struct{ start, end int }
	var regions []region
	cur := region{start: changed[0], end: changed[0]}
	for _, idx := range changed[1:] {
		if idx-cur.end <= 2*context {
			cur.end = idx
			continue
		}
		regions = append(regions, cur)
		cur = region{start: idx, end: idx}
	}
	regions = append(regions, cur)

	// Prefix sums of old-side and new-side line counts before each op.
	oldBefore := make([]int, len(ops)+1)
	newBefore := make([]int, len(ops)+1)
	for i, op := range ops {
		oldBefore[i+1] = oldBefore[i]
		newBefore[i+1] = newBefore[i]
		if op.kind != '+' {
			oldBefore[i+1]++
		}
		if op.kind != '-' {
			newBefore[i+1]++
		}
	}

	hunks := make([]hunk, 0, len(regions))
	for _, r := range regions {
		start := max(0, r.start-context)
		end := min(len(ops), r.end+1+context)
		h := hunk{
			oldStart: oldBefore[start] + 1,
			oldCount: oldBefore[end] - oldBefore[start],
			newStart: newBefore[start] + 1,
			newCount: newBefore[end] - newBefore[start],
		}
		// Zero-count sides anchor on the line before the change, which
		// is how git writes creation and deletion hunks.
		if h.oldCount == 0 {
			h.oldStart--
		}
		if h.newCount == 0 {
			h.newStart--
		}
		for _, op := range ops[start:end] {
			h.lines = append(h.lines, string(op.kind)+op.text)
		}
		hunks = append(hunks, h)
	}
	return hunks
}

func writeFileHeader(b *strings.Builder, path, oldContent, newContent string) {
	if oldContent == "" {
		b.WriteString("--- /dev/null\n")
	} else {
		b.WriteString("--- a/" + path + "\n")
	}
	if newContent == "" {
		b.WriteString("+++ /dev/null\n")
	} else {
		b.WriteString("+++ b/" + path + "\n")
	}
}

// countChanges analyzes a diff and returns lines added/removed
func countChanges(diff string) (added, removed int) {
	lines := strings.Split(diff, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			added++
		} else if strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---") {
			removed++
		}
	}
	return
}
