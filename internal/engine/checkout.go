package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// CheckoutProvider acquires a working tree for one ref of a repository.
// The release function must be safe to call exactly once on every exit
// path, including cancellation.
type CheckoutProvider interface {
	Checkout(ctx context.Context, repoURL, ref string) (path string, release func(), err error)
}

// GitWorktreeProvider checks refs out as detached git worktrees of a local
// clone, so both branches of a run get isolated trees without a second
// full clone.
type GitWorktreeProvider struct {
	// ScratchRoot is where worktrees are created. Empty means the system
	// temp directory.
	ScratchRoot string
}

func (p *GitWorktreeProvider) Checkout(ctx context.Context, repoURL, ref string) (string, func(), error) {
	root := p.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch root: %w", err)
	}
	worktreePath := filepath.Join(root, "prlens-"+uuid.NewString()[:8])

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", worktreePath, ref)
	cmd.Dir = repoURL
	if output, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(worktreePath)
		return "", nil, fmt.Errorf("git worktree add %s: %w (output: %s)", ref, err, output)
	}

	release := func() {
		// Removal runs on a fresh context; the run's context may already
		// be cancelled and cleanup must still happen.
		cmd := exec.Command("git", "worktree", "remove", worktreePath, "--force")
		cmd.Dir = repoURL
		if err := cmd.Run(); err != nil {
			os.RemoveAll(worktreePath)
			prune := exec.Command("git", "worktree", "prune")
			prune.Dir = repoURL
			prune.Run()
		}
	}
	return worktreePath, release, nil
}

// DirProvider serves pre-existing directories keyed by ref. It backs tests
// and the case where the caller already has both trees on disk.
type DirProvider struct {
	Paths map[string]string // ref -> directory
}

func (p *DirProvider) Checkout(ctx context.Context, repoURL, ref string) (string, func(), error) {
	path, ok := p.Paths[ref]
	if !ok {
		return "", nil, fmt.Errorf("no directory registered for ref %q", ref)
	}
	if _, err := os.Stat(path); err != nil {
		return "", nil, fmt.Errorf("checkout %s: %w", ref, err)
	}
	return path, func() {}, nil
}
