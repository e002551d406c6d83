// Package gittest provides an in-memory git.Driver so engine tests can
// exercise clone/checkout/fetch flows without a git binary or network.
package gittest

import (
	"archive/tar"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Tree maps repository-relative file paths to contents.
type Tree map[string]string

// Repo is a fake remote repository.
type Repo struct {
	Default  string
	Branches map[string]Tree
	Tags     map[string]Tree
}

// Driver implements git.Driver against in-memory repositories. Clones are
// materialized on the real filesystem so build and install stages can
// operate on them.
type Driver struct {
	mu    sync.Mutex
	repos map[string]*Repo

	// FailFetches makes the next N Fetch/Clone calls fail, to exercise
	// retry handling.
	FailFetches int
}

// NewDriver returns an empty fake driver.
func NewDriver() *Driver {
	return &Driver{repos: make(map[string]*Repo)}
}

// AddRepo registers a fake remote at url with a "main" default branch
// holding tree.
func (d *Driver) AddRepo(url string, tree Tree) *Repo {
	d.mu.Lock()
	defer d.mu.Unlock()

	repo := &Repo{
		Default:  "main",
		Branches: map[string]Tree{"main": cloneTree(tree)},
		Tags:     map[string]Tree{},
	}
	d.repos[url] = repo
	return repo
}

// Tag snapshots the named repo's current default branch tip as tag. A
// non-nil tree tags that content instead.
func (d *Driver) Tag(url, tag string, tree Tree) {
	d.mu.Lock()
	defer d.mu.Unlock()

	repo := d.repos[url]
	if tree == nil {
		tree = repo.Branches[repo.Default]
	}
	repo.Tags[tag] = cloneTree(tree)
}

// SetBranch moves (or creates) a branch tip.
func (d *Driver) SetBranch(url, branch string, tree Tree) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.repos[url].Branches[branch] = cloneTree(tree)
}

func (d *Driver) repo(url string) (*Repo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	repo, ok := d.repos[url]
	if !ok {
		return nil, fmt.Errorf("no such repository: %s", url)
	}
	return repo, nil
}

func (d *Driver) resolve(url, ref string) (Tree, error) {
	repo, err := d.repo(url)
	if err != nil {
		return nil, err
	}

	if tree, ok := repo.Tags[ref]; ok {
		return tree, nil
	}
	if tree, ok := repo.Branches[ref]; ok {
		return tree, nil
	}
	// Allow commit hashes of any known ref.
	for name, tree := range repo.Tags {
		if hashOf(url, name, tree) == ref {
			return tree, nil
		}
	}
	for name, tree := range repo.Branches {
		if hashOf(url, name, tree) == ref {
			return tree, nil
		}
	}
	return nil, fmt.Errorf("%s: no such ref %q", url, ref)
}

func (d *Driver) Clone(_ context.Context, url, dest string, _ bool) error {
	if d.takeFailure() {
		return fmt.Errorf("fake transient failure cloning %s", url)
	}

	repo, err := d.repo(url)
	if err != nil {
		return err
	}

	gitDir := filepath.Join(dest, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/"+repo.Default+"\n"), 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(gitDir, "URL"), []byte(url), 0o644); err != nil {
		return err
	}
	return d.checkout(url, dest, repo.Default)
}

func (d *Driver) Fetch(_ context.Context, repo string) error {
	if d.takeFailure() {
		return fmt.Errorf("fake transient failure fetching %s", repo)
	}
	_, err := d.urlOf(repo)
	return err
}

func (d *Driver) takeFailure() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailFetches > 0 {
		d.FailFetches--
		return true
	}
	return false
}

func (d *Driver) urlOf(dest string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dest, ".git", "URL"))
	if err != nil {
		return "", fmt.Errorf("%s is not a fake clone: %v", dest, err)
	}
	return string(data), nil
}

func (d *Driver) ListTags(_ context.Context, dest string) ([]string, error) {
	url, err := d.urlOf(dest)
	if err != nil {
		return nil, err
	}
	repo, err := d.repo(url)
	if err != nil {
		return nil, err
	}
	return sortedKeys(repo.Tags), nil
}

func (d *Driver) ListBranches(_ context.Context, dest string) ([]string, error) {
	url, err := d.urlOf(dest)
	if err != nil {
		return nil, err
	}
	repo, err := d.repo(url)
	if err != nil {
		return nil, err
	}
	return sortedKeys(repo.Branches), nil
}

func (d *Driver) DefaultBranch(_ context.Context, dest string) (string, error) {
	url, err := d.urlOf(dest)
	if err != nil {
		return "", err
	}
	repo, err := d.repo(url)
	if err != nil {
		return "", err
	}
	return repo.Default, nil
}

func (d *Driver) Checkout(_ context.Context, dest, ref string) error {
	url, err := d.urlOf(dest)
	if err != nil {
		return err
	}
	return d.checkout(url, dest, ref)
}

func (d *Driver) checkout(url, dest, ref string) error {
	tree, err := d.resolve(url, ref)
	if err != nil {
		return err
	}

	// Clear the working tree, keeping the fake .git.
	entries, err := os.ReadDir(dest)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}

	for path, content := range tree {
		full := filepath.Join(dest, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if strings.HasPrefix(path, "bin/") || strings.HasSuffix(path, ".sh") {
			mode = 0o755
		}
		if err := os.WriteFile(full, []byte(content), mode); err != nil {
			return err
		}
	}

	return os.WriteFile(filepath.Join(dest, ".git", "REF"), []byte(ref), 0o644)
}

func (d *Driver) CurrentCommit(_ context.Context, dest string) (string, error) {
	url, err := d.urlOf(dest)
	if err != nil {
		return "", err
	}
	ref, err := os.ReadFile(filepath.Join(dest, ".git", "REF"))
	if err != nil {
		return "", err
	}
	tree, err := d.resolve(url, string(ref))
	if err != nil {
		return "", err
	}
	return hashOf(url, string(ref), tree), nil
}

func (d *Driver) ResolveRef(_ context.Context, dest, ref string) (string, error) {
	url, err := d.urlOf(dest)
	if err != nil {
		return "", err
	}
	tree, err := d.resolve(url, ref)
	if err != nil {
		return "", err
	}
	return hashOf(url, ref, tree), nil
}

func (d *Driver) Archive(_ context.Context, dest, ref, destTar string) error {
	url, err := d.urlOf(dest)
	if err != nil {
		return err
	}
	tree, err := d.resolve(url, ref)
	if err != nil {
		return err
	}

	f, err := os.Create(destTar)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	for _, path := range sortedKeys(tree) {
		content := tree[path]
		hdr := &tar.Header{Name: path, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return err
		}
	}
	return tw.Close()
}

func (d *Driver) SubmoduleUpdate(context.Context, string) error { return nil }

func (d *Driver) Push(context.Context, string) error { return nil }

func (d *Driver) RemoteURL(_ context.Context, dest string) (string, error) {
	return d.urlOf(dest)
}

func (d *Driver) Init(_ context.Context, dir string) error {
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644)
}

func (d *Driver) AddAndCommit(_ context.Context, dir, message string) error {
	return os.WriteFile(filepath.Join(dir, ".git", "COMMIT_MSG"), []byte(message), 0o644)
}

func hashOf(url, ref string, tree Tree) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s@%s\n", url, ref)
	for _, path := range sortedKeys(tree) {
		fmt.Fprintf(h, "%s=%s\n", path, tree[path])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneTree(t Tree) Tree {
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
