// Package git abstracts the version-control operations the engine needs.
// The exec-backed driver shells out to the git binary; tests substitute
// the in-memory driver from pkg/git/gittest. The engine never talks to the
// network itself, so all transport concerns live behind this interface.
package git

import (
	"context"
	"os"
	"path/filepath"
)

// Driver is the capability set the engine requires of a VCS tool.
type Driver interface {
	// Clone clones url into dest. Shallow clones are only requested for
	// tag or branch refs, never raw hashes.
	Clone(ctx context.Context, url, dest string, shallow bool) error
	// Fetch updates refs of the clone at repo from its origin.
	Fetch(ctx context.Context, repo string) error
	// ListTags returns the clone's tag names.
	ListTags(ctx context.Context, repo string) ([]string, error)
	// ListBranches returns the clone's remote branch names.
	ListBranches(ctx context.Context, repo string) ([]string, error)
	// DefaultBranch returns the branch a fresh clone checks out.
	DefaultBranch(ctx context.Context, repo string) (string, error)
	// Checkout moves the working tree of repo to ref.
	Checkout(ctx context.Context, repo, ref string) error
	// CurrentCommit returns the commit hash HEAD points at.
	CurrentCommit(ctx context.Context, repo string) (string, error)
	// ResolveRef resolves a tag, branch, or abbreviated hash to a full
	// commit hash.
	ResolveRef(ctx context.Context, repo, ref string) (string, error)
	// Archive writes a tar archive of ref's tree to destTar.
	Archive(ctx context.Context, repo, ref, destTar string) error
	// SubmoduleUpdate initializes and updates the clone's submodules.
	SubmoduleUpdate(ctx context.Context, repo string) error
	// Push sends local commits of the clone at repo to its origin.
	Push(ctx context.Context, repo string) error
	// RemoteURL returns the origin URL of the clone at repo.
	RemoteURL(ctx context.Context, repo string) (string, error)
	// Init creates a fresh repository at dir.
	Init(ctx context.Context, dir string) error
	// AddAndCommit stages everything in the repository at dir and commits.
	AddAndCommit(ctx context.Context, dir, message string) error
}

// IsValidClone reports whether dir looks like a complete clone. A missing
// or partial clone (interrupted mid-transfer) fails this check and is
// re-cloned on next use.
func IsValidClone(dir string) bool {
	gitDir := filepath.Join(dir, ".git")
	if fi, err := os.Stat(gitDir); err != nil || !fi.IsDir() {
		return false
	}
	// An interrupted clone leaves the object store without a HEAD ref.
	if _, err := os.Stat(filepath.Join(gitDir, "HEAD")); err != nil {
		return false
	}
	return true
}

// EnsureClone makes sure a valid clone of url exists at dest, discarding
// and re-cloning anything partial left behind by an interrupted run.
func EnsureClone(ctx context.Context, d Driver, url, dest string, shallow bool) error {
	if IsValidClone(dest) {
		return nil
	}
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return d.Clone(ctx, url, dest, shallow)
}
