// Package manager exposes the engine's public verbs. Each verb validates
// its arguments, builds a plan through the resolver, drives the install
// pipeline, and commits through the manifest store. Multi-package verbs
// are transactional; mutating verbs hold the state-directory lock.
package manager

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"zkg/pkg/config"
	"zkg/pkg/git"
	"zkg/pkg/lockfile"
	"zkg/pkg/platform"
	"zkg/pkg/pm"
	"zkg/pkg/pm/installer"
	"zkg/pkg/pm/manifest"
	"zkg/pkg/pm/resolution"
	"zkg/pkg/pm/source"
	"zkg/pkg/progress"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Manager ties the engine's components together. Construct with New and
// pass it everywhere instead of consulting globals.
type Manager struct {
	Config   *config.Config
	Driver   git.Driver
	Platform platform.Platform
	Manifest *manifest.Manifest
	Progress *progress.Progress
	Out      io.Writer
	ErrOut   io.Writer

	// Interactive enables prompting (and opt-in persistence of user-var
	// answers).
	Interactive bool
	// Version is the manager's own version, checked against zkg
	// dependency constraints.
	Version string

	sourcePkgs []*pm.Package
}

// New loads the manifest and returns a ready Manager.
func New(cfg *config.Config, d git.Driver, plat platform.Platform, version string, out, errOut io.Writer, prog *progress.Progress) (*Manager, error) {
	m, err := manifest.Load(cfg.ManifestPath())
	if err != nil {
		return nil, err
	}

	return &Manager{
		Config:   cfg,
		Driver:   d,
		Platform: plat,
		Manifest: m,
		Progress: prog,
		Out:      out,
		ErrOut:   errOut,
		Version:  version,
	}, nil
}

// withLock runs fn while holding the state-directory lock. Read-only
// verbs call fn directly instead.
func (m *Manager) withLock(fn func() error) error {
	lock, err := lockfile.Acquire(m.Config.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// Sources returns the configured sources, cloning missing ones.
func (m *Manager) Sources(ctx context.Context) ([]*source.Source, error) {
	names := make([]string, 0, len(m.Config.Sources))
	for name := range m.Config.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var sources []*source.Source
	for _, name := range names {
		src, err := source.New(ctx, m.Driver, name, m.Config.Sources[name],
			filepath.Join(m.Config.SourceClonesDir(), name))
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// SourcePackages aggregates the package listings of every source. The
// result is cached for the process lifetime; Refresh invalidates it.
func (m *Manager) SourcePackages(ctx context.Context) ([]*pm.Package, error) {
	if m.sourcePkgs != nil {
		return m.sourcePkgs, nil
	}

	sources, err := m.Sources(ctx)
	if err != nil {
		return nil, err
	}

	var pkgs []*pm.Package
	for _, src := range sources {
		sp, err := src.Packages()
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, sp...)
	}

	m.sourcePkgs = pkgs
	return pkgs, nil
}

// findSourcePackage matches a user-supplied package path against the
// source listings. Ambiguous short names resolve to the first match in
// qualified-name order.
func (m *Manager) findSourcePackage(ctx context.Context, pkgPath string) *pm.Package {
	pkgs, err := m.SourcePackages(ctx)
	if err != nil {
		logrus.WithError(err).Warn("failed to read source package listings")
		return nil
	}
	for _, pkg := range pkgs {
		if pkg.MatchesPath(pkgPath) {
			return pkg
		}
	}
	return nil
}

// resolvePackagePath turns any accepted package reference into a package
// identity: an installed package, a source listing, or a raw URL.
func (m *Manager) resolvePackagePath(ctx context.Context, pkgPath string) (*pm.Package, error) {
	if name, entry := m.Manifest.Find(pkgPath); name != "" {
		return entry.Package(name), nil
	}
	if pkg := m.findSourcePackage(ctx, pkgPath); pkg != nil {
		return pkg, nil
	}
	if looksLikeURL(pkgPath) {
		return &pm.Package{GitURL: pkgPath}, nil
	}
	return nil, errors.Errorf("package %q not found: not installed, not in any source, and not a git URL", pkgPath)
}

// lookup adapts package-path resolution for the resolver's dependency
// expansion.
func (m *Manager) lookup(ctx context.Context) resolution.Lookup {
	return func(name string) *pm.Package {
		if pm.IsReservedName(name) {
			return nil
		}
		if pkg := m.findSourcePackage(ctx, name); pkg != nil {
			return pkg
		}
		if looksLikeURL(name) {
			return &pm.Package{GitURL: name}
		}
		return nil
	}
}

func looksLikeURL(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "git@") ||
		strings.HasPrefix(s, ".") || strings.HasPrefix(s, "/")
}

// realStage is the stage described by the user config.
func (m *Manager) realStage() *installer.Stage {
	return &installer.Stage{
		ScriptDir: m.Config.ScriptDir,
		PluginDir: m.Config.PluginDir,
		BinDir:    m.Config.BinDir,
	}
}

func (m *Manager) pipeline() *installer.Pipeline {
	return &installer.Pipeline{
		Driver:   m.Driver,
		Config:   m.Config,
		Manifest: m.Manifest,
		Progress: m.Progress,
		Out:      m.Out,
		Now:      time.Now,
	}
}

// InstalledPackages lists the installed set in name order.
func (m *Manager) InstalledPackages() []*pm.InstalledPackage {
	var out []*pm.InstalledPackage
	for _, name := range m.Manifest.Names() {
		out = append(out, m.Manifest.Packages[name].Installed(name))
	}
	return out
}

// LoadedPackages lists loaded packages in name order.
func (m *Manager) LoadedPackages() []*pm.InstalledPackage {
	var out []*pm.InstalledPackage
	for _, name := range m.Manifest.LoadedNames() {
		out = append(out, m.Manifest.Packages[name].Installed(name))
	}
	return out
}

// PackageBuildLog returns the path of a package's last build output.
func (m *Manager) PackageBuildLog(pkgPath string) (string, error) {
	name, entry := m.Manifest.Find(pkgPath)
	if entry == nil {
		name = pm.NameFromPath(pkgPath)
	}
	return filepath.Join(m.Config.LogsDir(), name+"-build.log"), nil
}
