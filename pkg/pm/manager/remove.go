package manager

import (
	"os"
	"path/filepath"

	"zkg/pkg/pm/installer"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Remove deletes a package's staged artifacts, loader entry, clone, and
// manifest entry.
func (m *Manager) Remove(pkgPath string) error {
	return m.withLock(func() error {
		return m.remove(pkgPath, false)
	})
}

// Purge removes a package and additionally deletes its backed-up config
// files.
func (m *Manager) Purge(pkgPath string) error {
	return m.withLock(func() error {
		return m.remove(pkgPath, true)
	})
}

func (m *Manager) remove(pkgPath string, purge bool) error {
	name, entry := m.Manifest.Find(pkgPath)
	if entry == nil {
		return errors.Errorf("package %q is not installed", pkgPath)
	}

	if dependers := m.Manifest.Dependers(name); len(dependers) > 0 {
		logrus.Warnf("removing %q, which installed packages depend on: %v", name, dependers)
	}

	if err := installer.RemoveArtifacts(m.realStage(), name, entry); err != nil {
		return err
	}

	clone := filepath.Join(m.Config.PackageClonesDir(), name)
	if err := os.RemoveAll(clone); err != nil {
		return errors.Wrapf(err, "failed to remove clone of %q", name)
	}

	if purge {
		if err := os.RemoveAll(filepath.Join(m.Config.BackupsDir(), name)); err != nil {
			return errors.Wrapf(err, "failed to remove config backups of %q", name)
		}
	}

	delete(m.Manifest.Packages, name)
	return m.Manifest.Save()
}
