// Package bundle implements the offline-transport format: a gzip'd tar
// holding a manifest.txt of packages and versions plus one clone per
// package, so a package set can be moved to hosts without network access.
package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"zkg/pkg/archive"
	"zkg/pkg/git"
	"zkg/pkg/pm"

	"github.com/pkg/errors"
)

// ManifestName is the file at the bundle root listing contents.
const ManifestName = "manifest.txt"

// Entry describes one bundled package.
type Entry struct {
	// Qualified is the package's canonical name, e.g.
	// "zeek/alice/foo", or a raw git URL for sourceless installs.
	Qualified string
	// Version is the bundled ref.
	Version pm.Version
}

// DirName is the bundle subdirectory holding the package's clone.
func (e *Entry) DirName() string {
	return pm.NameFromPath(e.Qualified)
}

func (e *Entry) manifestLine() string {
	version := e.Version.Ref
	switch e.Version.Method {
	case pm.TrackBranch:
		version = "branch=" + e.Version.Ref
	case pm.TrackCommit:
		version = "commit=" + e.Version.Ref
	}
	return fmt.Sprintf("/%s = %s", strings.TrimPrefix(e.Qualified, "/"), version)
}

func parseManifestLine(line string) (*Entry, error) {
	name, version, ok := strings.Cut(line, "=")
	if !ok {
		return nil, errors.Errorf("malformed bundle manifest line %q", line)
	}
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	version = strings.TrimSpace(version)

	entry := &Entry{Qualified: name, Version: pm.Version{Ref: version, Method: pm.TrackTag}}
	if rest, ok := strings.CutPrefix(version, "branch="); ok {
		entry.Version = pm.Version{Ref: rest, Method: pm.TrackBranch}
	} else if rest, ok := strings.CutPrefix(version, "commit="); ok {
		entry.Version = pm.Version{Ref: rest, Method: pm.TrackCommit}
	}
	return entry, nil
}

// CreateInput names one package to bundle.
type CreateInput struct {
	Entry Entry
	// GitURL is where to clone from when no existing clone serves.
	GitURL string
	// ExistingClone, when set, is reused instead of cloning anew.
	ExistingClone string
}

// Create writes a bundle of the given packages to bundlePath, assembling
// it in scratchDir.
func Create(ctx context.Context, d git.Driver, scratchDir, bundlePath string, inputs []CreateInput) error {
	root := filepath.Join(scratchDir, "bundle")
	if err := os.RemoveAll(root); err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(root)

	var entries []Entry
	for _, in := range inputs {
		dest := filepath.Join(root, in.Entry.DirName())

		if in.ExistingClone != "" && git.IsValidClone(in.ExistingClone) {
			if err := copyClone(in.ExistingClone, dest); err != nil {
				return err
			}
		} else {
			if err := d.Clone(ctx, in.GitURL, dest, false); err != nil {
				return errors.Wrapf(err, "failed to clone %s for bundling", in.Entry.Qualified)
			}
		}

		if err := d.Checkout(ctx, dest, in.Entry.Version.Ref); err != nil {
			return errors.Wrapf(err, "bundle member %s has no ref %s", in.Entry.Qualified, in.Entry.Version.Ref)
		}

		entries = append(entries, in.Entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Qualified < entries[j].Qualified })

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.manifestLine() + "\n")
	}
	if err := os.WriteFile(filepath.Join(root, ManifestName), []byte(b.String()), 0o644); err != nil {
		return err
	}

	out, err := os.Create(bundlePath)
	if err != nil {
		return errors.Wrap(err, "failed to create bundle file")
	}
	defer out.Close()

	if err := archive.Tar(root, out, &archive.TarOptions{Compress: true}); err != nil {
		return errors.Wrap(err, "failed to write bundle archive")
	}
	return out.Close()
}

// Unpack extracts a bundle into scratchDir and parses its manifest,
// returning the entries and the directory the clones landed in.
func Unpack(bundlePath, scratchDir string) ([]*Entry, string, error) {
	root := filepath.Join(scratchDir, "untar")
	if err := os.RemoveAll(root); err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, "", err
	}

	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to open bundle")
	}
	defer f.Close()

	if err := archive.Untar(f, root); err != nil {
		return nil, "", errors.Wrap(err, "failed to extract bundle")
	}

	entries, err := readManifest(filepath.Join(root, ManifestName))
	if err != nil {
		return nil, "", err
	}

	for _, e := range entries {
		if !git.IsValidClone(filepath.Join(root, e.DirName())) {
			return nil, "", errors.Errorf("bundle is missing a clone for %s", e.Qualified)
		}
	}

	return entries, root, nil
}

func readManifest(path string) ([]*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "bundle has no manifest")
	}

	var entries []*Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, err := parseManifestLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// copyClone copies a clone directory wholesale, VCS internals included,
// preserving symlinks.
func copyClone(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return os.WriteFile(target, data, info.Mode())
		}
	})
}
