package manager

import (
	"zkg/pkg/pm"
	"zkg/pkg/pm/installer"

	"github.com/pkg/errors"
)

// Load marks an installed package loaded: its name joins the loader
// index, its plugin marker flips to enabled, and the manifest records the
// state. Loading a loaded package is a no-op.
func (m *Manager) Load(pkgPath string) error {
	return m.withLock(func() error {
		return m.setLoaded(pkgPath, true, false)
	})
}

// Unload reverses Load. Unloading a package that loaded packages depend
// on requires force.
func (m *Manager) Unload(pkgPath string, force bool) error {
	return m.withLock(func() error {
		return m.setLoaded(pkgPath, false, force)
	})
}

func (m *Manager) setLoaded(pkgPath string, loaded, force bool) error {
	name, entry := m.Manifest.Find(pkgPath)
	if entry == nil {
		return errors.Errorf("package %q is not installed", pkgPath)
	}

	if !loaded && !force {
		for _, depender := range m.Manifest.Dependers(name) {
			if m.Manifest.Packages[depender].IsLoaded {
				return errors.Errorf("loaded package %q depends on %q; unload it first or use --force",
					depender, name)
			}
		}
	}

	stage := m.realStage()
	if loaded {
		if err := installer.AddLoad(stage.LoaderIndexPath(), name); err != nil {
			return err
		}
	} else {
		if err := installer.RemoveLoad(stage.LoaderIndexPath(), name); err != nil {
			return err
		}
	}
	if err := installer.SetPluginEnabled(stage.PackagePluginDir(name), loaded); err != nil {
		return err
	}

	entry.IsLoaded = loaded
	return m.Manifest.Save()
}

// LoadWithDependencies loads a package and, recursively, every installed
// package it depends on. Returns the names loaded, dependencies first.
func (m *Manager) LoadWithDependencies(pkgPath string) ([]string, error) {
	var loadedNames []string
	err := m.withLock(func() error {
		name, entry := m.Manifest.Find(pkgPath)
		if entry == nil {
			return errors.Errorf("package %q is not installed", pkgPath)
		}

		visited := map[string]bool{}
		var visit func(name string) error
		visit = func(name string) error {
			if visited[name] {
				return nil
			}
			visited[name] = true

			entry := m.Manifest.Packages[name]
			if entry.Metadata != nil {
				for _, dep := range entry.Metadata.Depends {
					if dep.Kind != pm.DependPackage {
						continue
					}
					if depName, depEntry := m.Manifest.Find(dep.Name); depEntry != nil {
						if err := visit(depName); err != nil {
							return err
						}
					}
				}
			}

			if !entry.IsLoaded {
				if err := m.setLoaded(name, true, false); err != nil {
					return err
				}
				loadedNames = append(loadedNames, name)
			}
			return nil
		}

		return visit(name)
	})
	return loadedNames, err
}

// UnloadWithUnusedDependers unloads a package together with any of its
// dependencies that no other loaded package still needs.
func (m *Manager) UnloadWithUnusedDependers(pkgPath string, force bool) ([]string, error) {
	var unloaded []string
	err := m.withLock(func() error {
		name, entry := m.Manifest.Find(pkgPath)
		if entry == nil {
			return errors.Errorf("package %q is not installed", pkgPath)
		}

		if err := m.setLoaded(name, false, force); err != nil {
			return err
		}
		unloaded = append(unloaded, name)

		// Keep sweeping until no loaded dependency became unused.
		for {
			swept := false
			for _, candidate := range m.Manifest.LoadedNames() {
				needed := false
				for _, depender := range m.Manifest.Dependers(candidate) {
					if m.Manifest.Packages[depender].IsLoaded {
						needed = true
						break
					}
				}
				if needed {
					continue
				}
				// Only sweep packages something in the unloaded set
				// depended on.
				if !m.dependedOnByAny(candidate, unloaded) {
					continue
				}
				if err := m.setLoaded(candidate, false, force); err != nil {
					return err
				}
				unloaded = append(unloaded, candidate)
				swept = true
			}
			if !swept {
				return nil
			}
		}
	})
	return unloaded, err
}

func (m *Manager) dependedOnByAny(candidate string, names []string) bool {
	for _, name := range names {
		entry := m.Manifest.Packages[name]
		if entry == nil || entry.Metadata == nil {
			continue
		}
		for _, dep := range entry.Metadata.Depends {
			if pm.NameFromPath(dep.Name) == candidate {
				return true
			}
		}
	}
	return false
}

// Pin protects a package from upgrade, downgrade, or replacement until
// unpinned.
func (m *Manager) Pin(pkgPath string) error {
	return m.withLock(func() error { return m.setPinned(pkgPath, true) })
}

// Unpin reverses Pin.
func (m *Manager) Unpin(pkgPath string) error {
	return m.withLock(func() error { return m.setPinned(pkgPath, false) })
}

func (m *Manager) setPinned(pkgPath string, pinned bool) error {
	_, entry := m.Manifest.Find(pkgPath)
	if entry == nil {
		return errors.Errorf("package %q is not installed", pkgPath)
	}
	if entry.IsPinned == pinned {
		return nil
	}
	entry.IsPinned = pinned
	return m.Manifest.Save()
}
