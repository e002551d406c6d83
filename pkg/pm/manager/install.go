package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"zkg/pkg/pm"
	"zkg/pkg/pm/installer"
	"zkg/pkg/pm/manifest"
	"zkg/pkg/pm/resolution"
	"zkg/pkg/zkgmeta"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// InstallRequest names one package to install, optionally at a specific
// release tag, branch, or commit.
type InstallRequest struct {
	Path    string
	Version string
}

// InstallOptions tune install and upgrade.
type InstallOptions struct {
	SkipTests bool
	Force     bool
	// NoLoad leaves freshly installed packages unloaded.
	NoLoad bool
	// UserVars are command-line NAME=VAL overrides.
	UserVars map[string]string
	// Prompt asks the user for unresolved user vars; nil means
	// non-interactive.
	Prompt zkgmeta.PromptFunc
}

// Install resolves and installs the requested packages together with
// their dependencies, transactionally.
func (m *Manager) Install(ctx context.Context, requests []InstallRequest, opts InstallOptions) error {
	return m.withLock(func() error {
		plan, reqNames, err := m.planFor(ctx, requests, nil)
		if err != nil {
			return err
		}

		loadNames := map[string]bool{}
		for _, name := range m.Manifest.LoadedNames() {
			loadNames[name] = true
		}
		if !opts.NoLoad {
			for name := range reqNames {
				loadNames[name] = true
			}
		}

		userVars, err := m.resolvePlanUserVars(plan, opts)
		if err != nil {
			return err
		}

		if err := m.pipeline().Run(ctx, plan, installer.Options{
			SkipTests: opts.SkipTests,
			Force:     opts.Force,
			LoadNames: loadNames,
			UserVars:  userVars,
			Overrides: opts.UserVars,
		}); err != nil {
			return err
		}

		m.reportSuggestions(plan)
		return nil
	})
}

// Upgrade moves a package to the newest ref its tracking method allows.
// Pinned packages fail without mutating anything; test failures block the
// upgrade unless tests are skipped, --force alone never overrides them.
func (m *Manager) Upgrade(ctx context.Context, pkgPath string, opts InstallOptions) error {
	return m.withLock(func() error {
		name, entry := m.Manifest.Find(pkgPath)
		if entry == nil {
			return errors.Errorf("package %q is not installed", pkgPath)
		}
		if entry.IsPinned {
			return errors.Errorf("package %q is pinned; unpin it before upgrading", name)
		}
		if entry.TrackingMethod == pm.TrackCommit.String() {
			return errors.Errorf("package %q tracks a raw commit and cannot be upgraded", name)
		}

		resolver := m.resolver(ctx)
		resolver.Relax(name)

		version := ""
		if entry.TrackingMethod == pm.TrackBranch.String() {
			version = entry.Version
		}

		plan, err := resolver.Resolve(ctx, []resolution.Request{{
			Package: entry.Package(name),
			Version: version,
		}})
		if err != nil {
			return err
		}

		loadNames := map[string]bool{}
		for _, loaded := range m.Manifest.LoadedNames() {
			loadNames[loaded] = true
		}

		userVars, err := m.resolvePlanUserVars(plan, opts)
		if err != nil {
			return err
		}

		return m.pipeline().Run(ctx, plan, installer.Options{
			SkipTests: opts.SkipTests,
			Force:     opts.Force,
			LoadNames: loadNames,
			UserVars:  userVars,
			Overrides: opts.UserVars,
			Upgrading: map[string]bool{name: true},
		})
	})
}

// Test runs a package's test suite in its dedicated testing area without
// touching the installed state.
func (m *Manager) Test(ctx context.Context, pkgPath, version string) error {
	pkg, err := m.resolvePackagePath(ctx, pkgPath)
	if err != nil {
		return err
	}

	resolver := m.resolver(ctx)
	resolver.Relax(pkg.Name())
	plan, err := resolver.Resolve(ctx, []resolution.Request{{Package: pkg, Version: version}})
	if err != nil {
		return err
	}

	for _, cand := range plan {
		if cand.Package.Name() != pkg.Name() || cand.Builtin != nil {
			continue
		}
		meta := cand.Package.Meta
		if meta == nil || meta.TestCommand == "" {
			return errors.Errorf("package %q defines no test_command", pkg.Name())
		}
	}

	// Exercise the full pipeline into a throwaway workspace by running
	// with tests enabled but without committing: the simplest faithful
	// rendition is a normal transactional run against a scratch manifest.
	return m.runTestOnly(ctx, plan)
}

func (m *Manager) runTestOnly(ctx context.Context, plan []*resolution.Candidate) error {
	// Stage into a throwaway mirror of the config, with its own manifest,
	// so nothing of the installed state changes.
	root := filepath.Join(m.Config.ScratchDir(), "tmpcfg")
	cfg := *m.Config
	cfg.ScriptDir = filepath.Join(root, "script_dir")
	cfg.PluginDir = filepath.Join(root, "plugin_dir")
	cfg.BinDir = filepath.Join(root, "bin")

	scratchManifest := manifest.New(filepath.Join(root, "manifest.json"))
	for name, entry := range m.Manifest.Packages {
		scratchManifest.Packages[name] = entry
	}

	pipe := m.pipeline()
	pipe.Manifest = scratchManifest
	pipe.Config = &cfg

	userVars, err := m.resolvePlanUserVars(plan, InstallOptions{})
	if err != nil {
		return err
	}

	return pipe.Run(ctx, plan, installer.Options{
		LoadNames: map[string]bool{},
		UserVars:  userVars,
	})
}

func (m *Manager) resolver(ctx context.Context) *resolution.Resolver {
	return resolution.New(m.Driver, m.Platform, m.Manifest, m.lookup(ctx),
		m.Config.PackageClonesDir(), m.Version)
}

// planFor resolves requests into an ordered plan, returning the set of
// requested (root) short names alongside.
func (m *Manager) planFor(ctx context.Context, requests []InstallRequest, relax []string) ([]*resolution.Candidate, map[string]bool, error) {
	resolver := m.resolver(ctx)
	for _, name := range relax {
		resolver.Relax(name)
	}

	var resolved []resolution.Request
	reqNames := map[string]bool{}

	for _, req := range requests {
		pkg, err := m.resolvePackagePath(ctx, req.Path)
		if err != nil {
			return nil, nil, err
		}
		if pm.IsReservedName(pkg.Name()) {
			return nil, nil, errors.Errorf("%q is a reserved name and cannot be installed", req.Path)
		}
		resolved = append(resolved, resolution.Request{Package: pkg, Version: req.Version})
		reqNames[pkg.Name()] = true
	}

	plan, err := resolver.Resolve(ctx, resolved)
	if err != nil {
		return nil, nil, err
	}
	return plan, reqNames, nil
}

// resolvePlanUserVars resolves the user vars of every package in the
// plan. Interactive answers are persisted to the user config only in
// interactive mode.
func (m *Manager) resolvePlanUserVars(plan []*resolution.Candidate, opts InstallOptions) (map[string]string, error) {
	resolved := map[string]string{}
	persistedAny := false

	prompt := opts.Prompt
	if !m.Interactive {
		prompt = nil
	}

	for _, cand := range plan {
		if cand.Builtin != nil || cand.Package.Meta == nil {
			continue
		}

		vals, answered, err := zkgmeta.ResolveUserVars(cand.Package.Name(), cand.Package.Meta.UserVars,
			opts.UserVars, m.Config.UserVars, prompt)
		if err != nil {
			return nil, err
		}
		for k, v := range vals {
			resolved[k] = v
		}

		for _, name := range answered {
			m.Config.UserVars[name] = resolved[name]
			persistedAny = true
		}
	}

	if persistedAny && m.Interactive {
		if err := m.Config.Save(); err != nil {
			logrus.WithError(err).Warn("failed to persist user var answers")
		}
	}

	return resolved, nil
}

// reportSuggestions surfaces suggested packages of everything just
// installed; non-interactive runs only mention them.
func (m *Manager) reportSuggestions(plan []*resolution.Candidate) {
	var suggestions []string
	for _, cand := range plan {
		if cand.Package.Meta == nil {
			continue
		}
		for _, dep := range cand.Package.Meta.Suggests {
			depName := pm.NameFromPath(dep.Name)
			if _, installed := m.Manifest.Packages[depName]; installed {
				continue
			}
			suggestions = append(suggestions, fmt.Sprintf("%s (suggested by %s)", dep.Name, cand.Package.Name()))
		}
	}
	if len(suggestions) > 0 {
		fmt.Fprintf(m.Out, "suggested packages you may also want:\n  %s\n", strings.Join(suggestions, "\n  "))
	}
}
