package patch

import (
	"context"
	"os/exec"
	"strings"
)

// vcs is the version-control collaborator behind the applier. It exists
// as an interface so unit tests can swap the git CLI for a fake.
type vcs interface {
	// IsWorkTree reports whether dir is inside a git work tree.
	IsWorkTree(ctx context.Context, dir string) bool
	// CheckApply tests whether the patch file would apply cleanly
	// without touching the work tree.
	CheckApply(ctx context.Context, dir, patchFile string) (string, error)
	// Apply applies the patch file to the work tree.
	Apply(ctx context.Context, dir, patchFile string) (string, error)
	// ReverseApply applies the patch file in reverse, undoing it.
	ReverseApply(ctx context.Context, dir, patchFile string) (string, error)
}

// gitCLI drives the system git binary. All operations run with -C so the
// process working directory never matters.
type gitCLI struct{}

func (gitCLI) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (g gitCLI) IsWorkTree(ctx context.Context, dir string) bool {
	out, err := g.run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (g gitCLI) CheckApply(ctx context.Context, dir, patchFile string) (string, error) {
	return g.run(ctx, dir, "apply", "--check", "--whitespace=nowarn", patchFile)
}

func (g gitCLI) Apply(ctx context.Context, dir, patchFile string) (string, error) {
	return g.run(ctx, dir, "apply", "--whitespace=nowarn", patchFile)
}

func (g gitCLI) ReverseApply(ctx context.Context, dir, patchFile string) (string, error) {
	return g.run(ctx, dir, "apply", "--reverse", "--whitespace=nowarn", patchFile)
}
