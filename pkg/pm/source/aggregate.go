package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"zkg/pkg/git"
	"zkg/pkg/pm"
	"zkg/pkg/zkgmeta"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/ini.v1"
)

// AggregateOptions controls metadata aggregation over a source.
type AggregateOptions struct {
	// FailOnProblems aborts aggregation on the first metadata problem
	// instead of warning and omitting the entry.
	FailOnProblems bool
	// Push commits and pushes the aggregate file if it changed.
	Push bool
	// ScratchDir holds the ephemeral per-package clones.
	ScratchDir string
}

// Problem describes a package whose metadata could not be aggregated.
type Problem struct {
	Package string
	Reason  string
}

type aggregateEntry struct {
	qualified   string
	url         string
	version     string
	description string
	tags        []string
}

// Aggregate clones each listed package at its default version, collects
// its metadata, and writes AggregateFilename at the source root. Problems
// are warnings unless opts.FailOnProblems.
func (s *Source) Aggregate(ctx context.Context, d git.Driver, opts AggregateOptions) ([]Problem, error) {
	pkgs, err := s.Packages()
	if err != nil {
		return nil, err
	}

	scratch := filepath.Join(opts.ScratchDir, "aggregate")
	if err := os.RemoveAll(scratch); err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		entries  []aggregateEntry
		problems []Problem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, pkg := range pkgs {
		g.Go(func() error {
			entry, err := aggregateOne(gctx, d, pkg, filepath.Join(scratch, pkg.Name()))

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if opts.FailOnProblems {
					return errors.Wrapf(err, "aggregation failed for %s", pkg.QualifiedName())
				}
				logrus.WithField("package", pkg.QualifiedName()).Warnf("omitting from aggregate: %v", err)
				problems = append(problems, Problem{Package: pkg.QualifiedName(), Reason: err.Error()})
				return nil
			}

			entries = append(entries, *entry)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return problems, err
	}

	defer os.RemoveAll(scratch)

	changed, err := s.writeAggregate(entries)
	if err != nil {
		return problems, err
	}

	if opts.Push && changed {
		if err := d.AddAndCommit(ctx, s.ClonePath, "Update aggregated metadata."); err != nil {
			return problems, errors.Wrap(err, "failed to commit aggregate")
		}
		if err := d.Push(ctx, s.ClonePath); err != nil {
			return problems, errors.Wrap(err, "failed to push aggregate")
		}
	}

	return problems, nil
}

func aggregateOne(ctx context.Context, d git.Driver, pkg *pm.Package, clonePath string) (*aggregateEntry, error) {
	if err := git.EnsureClone(ctx, d, pkg.GitURL, clonePath, true); err != nil {
		return nil, err
	}

	// Aggregate the highest release when there is one, else the default
	// branch tip.
	version := ""
	if tags, err := d.ListTags(ctx, clonePath); err == nil {
		version = pm.LatestReleaseTag(tags)
	}
	if version == "" {
		branch, err := d.DefaultBranch(ctx, clonePath)
		if err != nil {
			return nil, err
		}
		version = branch
	}
	if err := d.Checkout(ctx, clonePath, version); err != nil {
		return nil, err
	}

	meta, _, err := zkgmeta.Load(clonePath, pkg.Name())
	if err != nil {
		return nil, err
	}

	return &aggregateEntry{
		qualified:   strings.TrimPrefix(pkg.QualifiedName(), pkg.Source+"/"),
		url:         pkg.GitURL,
		version:     version,
		description: meta.Description,
		tags:        meta.Tags,
	}, nil
}

// writeAggregate serializes entries to AggregateFilename and reports
// whether the file content changed.
func (s *Source) writeAggregate(entries []aggregateEntry) (bool, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].qualified < entries[j].qualified })

	file := ini.Empty()
	for _, e := range entries {
		sec, err := file.NewSection(e.qualified)
		if err != nil {
			return false, err
		}
		sec.NewKey("url", e.url)
		sec.NewKey("version", e.version)
		sec.NewKey("description", e.description)
		if len(e.tags) > 0 {
			sec.NewKey("tags", strings.Join(e.tags, ", "))
		}
	}

	path := filepath.Join(s.ClonePath, AggregateFilename)
	before, _ := os.ReadFile(path)

	var buf strings.Builder
	if _, err := file.WriteTo(&buf); err != nil {
		return false, err
	}
	after := buf.String()

	if string(before) == after {
		return false, nil
	}
	return true, os.WriteFile(path, []byte(after), 0o644)
}

// AggregatedMetadata reads the aggregate file of the source, keyed by the
// package's qualified path within the source.
func (s *Source) AggregatedMetadata() (map[string]map[string]string, error) {
	path := filepath.Join(s.ClonePath, AggregateFilename)
	cfg, err := ini.Load(path)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return map[string]map[string]string{}, nil
		}
		return nil, err
	}

	out := map[string]map[string]string{}
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		vals := map[string]string{}
		for _, key := range sec.Keys() {
			vals[key.Name()] = key.Value()
		}
		out[sec.Name()] = vals
	}
	return out, nil
}
