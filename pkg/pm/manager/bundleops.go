package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"zkg/pkg/platform"
	"zkg/pkg/pm"
	"zkg/pkg/pm/bundle"
	"zkg/pkg/pm/installer"
	"zkg/pkg/pm/resolution"
	"zkg/pkg/zkgmeta"

	"github.com/pkg/errors"
)

// Bundle writes a self-contained archive of installed packages to
// bundlePath. With names non-empty only that subset is bundled, reusing
// the existing clones; otherwise every installed package is included.
func (m *Manager) Bundle(ctx context.Context, bundlePath string, names []string, preferExistingClones bool) error {
	targets := names
	if len(targets) == 0 {
		targets = m.Manifest.Names()
		preferExistingClones = true
	}

	var inputs []bundle.CreateInput
	for _, target := range targets {
		name, entry := m.Manifest.Find(target)
		if entry == nil {
			return errors.Errorf("cannot bundle %q: not installed", target)
		}

		in := bundle.CreateInput{
			Entry: bundle.Entry{
				Qualified: entry.Package(name).QualifiedName(),
				Version: pm.Version{
					Ref:    entry.Version,
					Method: pm.ParseTrackingMethod(entry.TrackingMethod),
				},
			},
			GitURL: entry.GitURL,
		}
		if preferExistingClones {
			in.ExistingClone = filepath.Join(m.Config.PackageClonesDir(), name)
		}
		inputs = append(inputs, in)
	}

	return bundle.Create(ctx, m.Driver, m.Config.ScratchDir(), bundlePath, inputs)
}

// BundleInfo describes a bundle's contents without installing anything.
func (m *Manager) BundleInfo(bundlePath string) ([]*bundle.Entry, error) {
	entries, root, err := bundle.Unpack(bundlePath, m.Config.ScratchDir())
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(root)
	return entries, nil
}

// Unbundle installs the contents of a bundle: clones move into the clone
// area and the normal install pipeline runs over them. Dependencies on
// built-in capabilities the current platform does not advertise produce
// warnings; the install is still attempted and may fail at the
// constraint check.
func (m *Manager) Unbundle(ctx context.Context, bundlePath string, opts InstallOptions) error {
	return m.withLock(func() error {
		entries, root, err := bundle.Unpack(bundlePath, m.Config.ScratchDir())
		if err != nil {
			return err
		}
		defer os.RemoveAll(root)

		caps, err := m.Platform.Capabilities(ctx)
		if err != nil {
			return err
		}

		var requests []resolution.Request
		for _, e := range entries {
			name := e.DirName()
			unpacked := filepath.Join(root, name)

			m.warnUnverifiableCapabilities(unpacked, name, caps)

			// The bundled clone becomes the authoritative clone.
			dest := filepath.Join(m.Config.PackageClonesDir(), name)
			if err := os.RemoveAll(dest); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			if err := os.Rename(unpacked, dest); err != nil {
				return errors.Wrapf(err, "failed to place clone of bundled package %q", name)
			}

			url, err := m.Driver.RemoteURL(ctx, dest)
			if err != nil {
				url = e.Qualified
			}

			requests = append(requests, resolution.Request{
				Package: &pm.Package{GitURL: url, Source: sourceOf(e.Qualified), ModuleDir: moduleOf(e.Qualified)},
				Version: e.Version.Ref,
			})
		}

		resolver := m.resolver(ctx)
		for _, req := range requests {
			resolver.Relax(req.Package.Name())
		}
		plan, err := resolver.Resolve(ctx, requests)
		if err != nil {
			return err
		}

		loadNames := map[string]bool{}
		for _, name := range m.Manifest.LoadedNames() {
			loadNames[name] = true
		}
		for _, req := range requests {
			loadNames[req.Package.Name()] = true
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
		})
	})
}

// warnUnverifiableCapabilities flags bundle entries that depend on
// built-in capabilities this host does not advertise. Non-fatal: the
// install proceeds and the resolver has the final say.
func (m *Manager) warnUnverifiableCapabilities(clone, name string, caps map[string]platform.Capability) {
	meta, _, err := zkgmeta.Load(clone, name)
	if err != nil {
		return
	}
	for _, dep := range meta.Depends {
		if dep.Kind != pm.DependPackage {
			continue
		}
		depName := pm.NameFromPath(dep.Name)
		if _, installed := m.Manifest.Packages[depName]; installed {
			continue
		}

		cap, advertised := caps[depName]
		switch {
		case advertised && dep.Constraint != zkgmeta.WildcardConstraint &&
			!zkgmeta.ConstraintSatisfied(dep.Constraint, cap.Version):
			fmt.Fprintf(m.ErrOut,
				"warning: bundled package %q needs built-in capability %s at %s, but this platform provides %s\n",
				name, depName, dep.Constraint, cap.Version)
		case !advertised && m.lookup(context.Background())(dep.Name) == nil:
			fmt.Fprintf(m.ErrOut,
				"warning: bundled package %q depends on %s (%s), which this platform does not advertise as a built-in capability\n",
				name, depName, dep.Constraint)
		}
	}
}

func splitQualified(qualified string) []string {
	if looksLikeURL(qualified) {
		return nil
	}
	return strings.Split(qualified, "/")
}

func sourceOf(qualified string) string {
	parts := splitQualified(qualified)
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

func moduleOf(qualified string) string {
	parts := splitQualified(qualified)
	if len(parts) < 3 {
		return ""
	}
	return parts[1]
}
