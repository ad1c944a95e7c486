package jobs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Cloner materializes a repository ref into a local directory.
type Cloner interface {
	Clone(ctx context.Context, repoURL, branch, sha, dest string) error
}

// GitCloner shells out to the git CLI. Clones are shallow: ingestion only
// needs the tree, never the history.
type GitCloner struct{}

// Clone performs a depth-1 clone of branch into dest. When sha is set, that
// exact commit is fetched and checked out so reindexing a pinned ref is
// reproducible.
func (GitCloner) Clone(ctx context.Context, repoURL, branch, sha, dest string) error {
	args := []string{"clone", "--depth", "1", "--single-branch"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, repoURL, dest)

	if out, err := exec.CommandContext(ctx, "git", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("git clone failed: %s: %w", firstLine(out), err)
	}
	if sha == "" {
		return nil
	}

	fetch := exec.CommandContext(ctx, "git", "-C", dest, "fetch", "--depth", "1", "origin", sha)
	if out, err := fetch.CombinedOutput(); err != nil {
		return fmt.Errorf("git fetch %s failed: %s: %w", sha, firstLine(out), err)
	}
	checkout := exec.CommandContext(ctx, "git", "-C", dest, "checkout", sha)
	if out, err := checkout.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %s failed: %s: %w", sha, firstLine(out), err)
	}
	return nil
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
