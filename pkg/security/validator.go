// Package security holds the guards applied before the mediation layer
// touches the filesystem or spawns a process: work-tree containment for
// diff targets and a screen for obviously destructive commands.
package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// PathValidator validates that file paths stay inside the work tree.
type PathValidator struct {
	workDir string
}

// NewPathValidator creates a validator rooted at workDir.
func NewPathValidator(workDir string) *PathValidator {
	return &PathValidator{workDir: workDir}
}

// ValidatePath ensures a path is safe and within the work tree.
func (v *PathValidator) ValidatePath(path string) error {
	// Clean the path to prevent traversal attacks
	cleaned := filepath.Clean(path)

	absPath := cleaned
	if !filepath.IsAbs(cleaned) {
		absPath = filepath.Join(v.workDir, cleaned)
	}

	relPath, err := filepath.Rel(v.workDir, absPath)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	// Prevent path traversal (../)
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes work tree: %s", path)
	}

	if containsSuspiciousPattern(cleaned) {
		return fmt.Errorf("suspicious path pattern: %s", path)
	}

	return nil
}

// containsSuspiciousPattern checks for targets no AI-authored patch has
// business touching.
func containsSuspiciousPattern(path string) bool {
	suspicious := []string{
		"/etc/",
		"/proc/",
		"/sys/",
		"/dev/",
		".ssh/",
		".aws/",
		"id_rsa",
		"id_ed25519",
	}

	lowerPath := strings.ToLower(path)
	for _, pattern := range suspicious {
		if strings.Contains(lowerPath, pattern) {
			return true
		}
	}
	return false
}

// CommandScreen refuses obviously destructive commands before they are
// registered as hooks or stdio server launchers. It is a backstop, not a
// sandbox; the policy engine remains the real gate.
type CommandScreen struct {
	blockedCommands []string
	blockedPatterns []*regexp.Regexp
}

// NewCommandScreen creates a screen with the default blocklist.
func NewCommandScreen() *CommandScreen {
	return &CommandScreen{
		blockedCommands: []string{
			"rm -rf /",
			"dd if=/dev/zero",
			":(){ :|:& };:",
			"mkfs",
		},
		blockedPatterns: []*regexp.Regexp{
			regexp.MustCompile(`rm\s+(-\w+\s+)*-\w*r\w*f`), // recursive force delete
			regexp.MustCompile(`chmod\s+(-\w+\s+)*777\s+/`),
			regexp.MustCompile(`curl[^|]*\|\s*(ba)?sh`), // piping curl to shell
			regexp.MustCompile(`wget[^|]*\|\s*(ba)?sh`),
		},
	}
}

// ValidateCommand checks whether a command line may be configured at all.
func (s *CommandScreen) ValidateCommand(cmd string) error {
	lowerCmd := strings.ToLower(strings.TrimSpace(cmd))

	for _, blocked := range s.blockedCommands {
		if strings.Contains(lowerCmd, strings.ToLower(blocked)) {
			return fmt.Errorf("blocked dangerous command pattern: %s", blocked)
		}
	}
	for _, re := range s.blockedPatterns {
		if re.MatchString(lowerCmd) {
			return fmt.Errorf("blocked dangerous command pattern: %s", re.String())
		}
	}
	return nil
}
