// Package source manages package sources: git repositories whose index
// files list package URLs. The engine aggregates metadata across a
// source's packages and never writes into a source clone except when
// explicitly aggregating.
package source

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"zkg/pkg/git"
	"zkg/pkg/pm"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

const (
	// IndexFilename is the current package index file name.
	IndexFilename = "zkg.index"
	// LegacyIndexFilename is still honored inside older sources.
	LegacyIndexFilename = "bro-pkg.index"
	// AggregateFilename is where aggregate writes collected metadata.
	AggregateFilename = "aggregate.meta"
)

// Source is a configured package index.
type Source struct {
	Name      string
	GitURL    string
	ClonePath string
}

// New ensures a clone of the source exists at clonePath and returns the
// Source. A clone whose origin no longer matches the configured URL is
// discarded and re-cloned.
func New(ctx context.Context, d git.Driver, name, gitURL, clonePath string) (*Source, error) {
	if git.IsValidClone(clonePath) {
		if url, err := d.RemoteURL(ctx, clonePath); err != nil || url != gitURL {
			logrus.WithField("source", name).Debug("source URL changed, re-cloning")
			if err := os.RemoveAll(clonePath); err != nil {
				return nil, err
			}
		}
	}

	if err := git.EnsureClone(ctx, d, gitURL, clonePath, false); err != nil {
		return nil, errors.Wrapf(err, "failed to clone source %q from %s", name, gitURL)
	}

	return &Source{Name: name, GitURL: gitURL, ClonePath: clonePath}, nil
}

// Refresh brings the source clone up to date with its origin.
func (s *Source) Refresh(ctx context.Context, d git.Driver) error {
	if err := d.Fetch(ctx, s.ClonePath); err != nil {
		return errors.Wrapf(err, "failed to refresh source %q", s.Name)
	}

	branch, err := d.DefaultBranch(ctx, s.ClonePath)
	if err != nil {
		return err
	}
	return d.Checkout(ctx, s.ClonePath, branch)
}

// IndexFiles walks the source tree and returns every package index file,
// sorted for reproducible aggregation order.
func (s *Source) IndexFiles() ([]string, error) {
	var files []string

	err := filepath.Walk(s.ClonePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() == IndexFilename || info.Name() == LegacyIndexFilename {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Packages parses every index file into package records.
func (s *Source) Packages() ([]*pm.Package, error) {
	files, err := s.IndexFiles()
	if err != nil {
		return nil, err
	}

	var pkgs []*pm.Package
	seen := map[string]bool{}

	for _, file := range files {
		entries, err := parseIndexFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "source %q has an unreadable index %s", s.Name, file)
		}

		for _, url := range entries {
			if seen[url] {
				continue
			}
			seen[url] = true
			pkgs = append(pkgs, &pm.Package{
				GitURL:    url,
				Source:    s.Name,
				ModuleDir: moduleDirOf(url),
			})
		}
	}

	sort.Slice(pkgs, func(i, j int) bool {
		return pkgs[i].QualifiedName() < pkgs[j].QualifiedName()
	})
	return pkgs, nil
}

// parseIndexFile reads either index format: the current one is a plain
// list of package URLs, the legacy one an INI of [name] sections with a
// url key.
func parseIndexFile(file string) ([]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "[") {
		return parseLegacyIndex(data)
	}

	var urls []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, nil
}

func parseLegacyIndex(data []byte) ([]string, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		if url := sec.Key("url").Value(); url != "" {
			urls = append(urls, url)
		}
	}
	return urls, nil
}

// moduleDirOf derives the author segment of a package's qualified name
// from its URL: the path component preceding the package name.
func moduleDirOf(url string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	trimmed = strings.TrimPrefix(trimmed, "git@")
	if idx := strings.Index(trimmed, "://"); idx >= 0 {
		trimmed = trimmed[idx+3:]
	}
	trimmed = strings.ReplaceAll(trimmed, ":", "/")

	dir := path.Base(path.Dir(trimmed))
	if dir == "." || dir == "/" || strings.Contains(dir, ".") {
		return ""
	}
	return dir
}
