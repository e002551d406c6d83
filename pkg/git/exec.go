package git

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// fetchRetries bounds retry of transient network failures during clone and
// fetch before the error surfaces to the caller.
const fetchRetries = 3

// ExecDriver drives the git binary. GitPath defaults to "git" from PATH.
type ExecDriver struct {
	GitPath string
}

// NewExecDriver returns a Driver backed by the git executable.
func NewExecDriver() *ExecDriver {
	return &ExecDriver{GitPath: "git"}
}

func (d *ExecDriver) git(ctx context.Context, repo string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.GitPath, args...)
	if repo != "" {
		cmd.Dir = repo
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// retried runs op, retrying transient failures a bounded number of times
// with exponential backoff.
func retried(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, fetchRetries), ctx)

	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		logrus.WithError(err).Debugf("transient git failure, retrying in %s", wait)
	})
}

func (d *ExecDriver) Clone(ctx context.Context, url, dest string, shallow bool) error {
	args := []string{"clone", "--recurse-submodules"}
	if shallow {
		args = append(args, "--depth", "1", "--no-single-branch")
	}
	args = append(args, url, dest)

	return retried(ctx, func() error {
		_, err := d.git(ctx, "", args...)
		return err
	})
}

func (d *ExecDriver) Fetch(ctx context.Context, repo string) error {
	return retried(ctx, func() error {
		_, err := d.git(ctx, repo, "fetch", "--tags", "--prune", "origin")
		return err
	})
}

func (d *ExecDriver) ListTags(ctx context.Context, repo string) ([]string, error) {
	out, err := d.git(ctx, repo, "tag", "--list")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (d *ExecDriver) ListBranches(ctx context.Context, repo string) ([]string, error) {
	out, err := d.git(ctx, repo, "branch", "--remotes", "--format", "%(refname:lstrip=3)")
	if err != nil {
		return nil, err
	}

	var branches []string
	for _, name := range splitLines(out) {
		if name != "HEAD" {
			branches = append(branches, name)
		}
	}
	return branches, nil
}

func (d *ExecDriver) DefaultBranch(ctx context.Context, repo string) (string, error) {
	out, err := d.git(ctx, repo, "symbolic-ref", "--short", "refs/remotes/origin/HEAD")
	if err != nil {
		// Detached or local-only repository: fall back to HEAD's branch.
		return d.git(ctx, repo, "rev-parse", "--abbrev-ref", "HEAD")
	}
	return strings.TrimPrefix(out, "origin/"), nil
}

func (d *ExecDriver) Checkout(ctx context.Context, repo, ref string) error {
	_, err := d.git(ctx, repo, "checkout", "--force", ref)
	return err
}

func (d *ExecDriver) CurrentCommit(ctx context.Context, repo string) (string, error) {
	return d.git(ctx, repo, "rev-parse", "HEAD")
}

func (d *ExecDriver) ResolveRef(ctx context.Context, repo, ref string) (string, error) {
	return d.git(ctx, repo, "rev-parse", ref+"^{commit}")
}

func (d *ExecDriver) Archive(ctx context.Context, repo, ref, destTar string) error {
	_, err := d.git(ctx, repo, "archive", "--format", "tar", "--output", destTar, ref)
	return err
}

func (d *ExecDriver) SubmoduleUpdate(ctx context.Context, repo string) error {
	_, err := d.git(ctx, repo, "submodule", "update", "--init", "--recursive")
	return err
}

func (d *ExecDriver) Push(ctx context.Context, repo string) error {
	return retried(ctx, func() error {
		_, err := d.git(ctx, repo, "push", "origin", "HEAD")
		return err
	})
}

func (d *ExecDriver) RemoteURL(ctx context.Context, repo string) (string, error) {
	return d.git(ctx, repo, "remote", "get-url", "origin")
}

func (d *ExecDriver) Init(ctx context.Context, dir string) error {
	_, err := d.git(ctx, "", "init", dir)
	return err
}

func (d *ExecDriver) AddAndCommit(ctx context.Context, dir, message string) error {
	if _, err := d.git(ctx, dir, "add", "--all"); err != nil {
		return err
	}
	_, err := d.git(ctx, dir, "commit", "--message", message)
	return err
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
