package installer

import (
	"os"
	"path/filepath"

	"zkg/pkg/pm"
	"zkg/pkg/pm/manifest"
)

// RemoveArtifacts deletes everything a package staged: loader entry,
// script tree with its alias symlinks, plugin tree, and bin links. The
// manifest entry and the clone are the caller's to remove.
func RemoveArtifacts(st *Stage, name string, entry *manifest.Entry) error {
	if err := RemoveLoad(st.LoaderIndexPath(), name); err != nil {
		return err
	}

	if entry != nil && entry.Metadata != nil {
		for _, alias := range entry.Package(name).Aliases() {
			if alias == name {
				continue
			}
			link := filepath.Join(st.ScriptDir, PackagesSubdir, alias)
			if target, err := os.Readlink(link); err == nil && target == name {
				if err := os.Remove(link); err != nil {
					return &pm.StageError{Op: "remove", Path: link, Err: err}
				}
			}
		}

		for _, rel := range entry.Metadata.Executables {
			link := filepath.Join(st.BinDir, filepath.Base(rel))
			if _, err := os.Lstat(link); err == nil {
				if err := os.Remove(link); err != nil {
					return &pm.StageError{Op: "remove", Path: link, Err: err}
				}
			}
		}
	}

	for _, dir := range []string{st.PackageScriptDir(name), st.PackagePluginDir(name)} {
		if err := os.RemoveAll(dir); err != nil {
			return &pm.StageError{Op: "remove", Path: dir, Err: err}
		}
	}
	return nil
}
