package manager

import (
	"context"
	"fmt"
	"path/filepath"

	"zkg/pkg/git"
	"zkg/pkg/pm"
	"zkg/pkg/pm/manifest"
	"zkg/pkg/pm/source"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RefreshOptions tune Refresh.
type RefreshOptions struct {
	// Aggregate collects metadata across each source's packages and
	// writes the aggregate file.
	Aggregate bool
	// FailOnProblems aborts aggregation on the first metadata problem.
	FailOnProblems bool
	// Push publishes a changed aggregate back to the source.
	Push bool
}

// Refresh fetches every configured source and the clones of installed
// packages, recording which installed packages have newer versions.
func (m *Manager) Refresh(ctx context.Context, opts RefreshOptions) error {
	return m.withLock(func() error {
		sources, err := m.Sources(ctx)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for _, src := range sources {
			g.Go(func() error { return src.Refresh(gctx, m.Driver) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
		m.sourcePkgs = nil

		if opts.Aggregate {
			for _, src := range sources {
				problems, err := src.Aggregate(ctx, m.Driver, source.AggregateOptions{
					FailOnProblems: opts.FailOnProblems,
					Push:           opts.Push,
					ScratchDir:     m.Config.ScratchDir(),
				})
				if err != nil {
					return err
				}
				for _, p := range problems {
					fmt.Fprintf(m.ErrOut, "aggregation problem with %s: %s\n", p.Package, p.Reason)
				}
			}
		}

		return m.refreshInstalledPackages(ctx)
	})
}

// refreshInstalledPackages fetches each installed clone and updates the
// outdated marker in the manifest.
func (m *Manager) refreshInstalledPackages(ctx context.Context) error {
	changed := false

	for _, name := range m.Manifest.Names() {
		entry := m.Manifest.Packages[name]
		clone := filepath.Join(m.Config.PackageClonesDir(), name)

		if !git.IsValidClone(clone) {
			continue
		}
		if err := m.Driver.Fetch(ctx, clone); err != nil {
			logrus.WithError(err).Warnf("failed to fetch installed package %q", name)
			continue
		}

		outdated, err := m.isOutdated(ctx, clone, entry)
		if err != nil {
			logrus.WithError(err).Debugf("could not determine outdated state of %q", name)
			continue
		}
		if entry.IsOutdated != outdated {
			entry.IsOutdated = outdated
			changed = true
		}
	}

	if changed {
		return m.Manifest.Save()
	}
	return nil
}

func (m *Manager) isOutdated(ctx context.Context, clone string, entry *manifest.Entry) (bool, error) {
	switch pm.ParseTrackingMethod(entry.TrackingMethod) {
	case pm.TrackBranch:
		tip, err := m.Driver.ResolveRef(ctx, clone, entry.Version)
		if err != nil {
			return false, err
		}
		return tip != entry.CurrentHash, nil

	case pm.TrackCommit:
		return false, nil

	default:
		tags, err := m.Driver.ListTags(ctx, clone)
		if err != nil {
			return false, err
		}
		latest := pm.LatestReleaseTag(tags)
		if latest == "" {
			return false, nil
		}
		latestVer, err := pm.ParseSemver(latest)
		if err != nil {
			return false, err
		}
		current, err := pm.ParseSemver(entry.Version)
		if err != nil {
			return false, err
		}
		return latestVer.GreaterThan(current), nil
	}
}
