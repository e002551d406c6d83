package installer

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"zkg/pkg/pm"

	cp "github.com/otiai10/copy"
	"github.com/sirupsen/logrus"
)

// hashFile returns the content hash used to tell pristine config files
// from user-edited ones.
func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// stagedConfigFiles maps each declared config file to its staged location
// inside the given stage for the package. Every file is looked up under
// the package's script subtree, relative to script_dir when it lies
// inside it; the plugin subtree is not consulted.
func stagedConfigFiles(st *Stage, pkgName string, meta *pm.Metadata) map[string]string {
	out := map[string]string{}
	if meta == nil {
		return out
	}
	for _, rel := range meta.ConfigFiles {
		scriptRel := rel
		if meta.ScriptDir != "" {
			if r, err := filepath.Rel(meta.ScriptDir, rel); err == nil && filepath.IsLocal(r) {
				scriptRel = r
			}
		}
		out[rel] = filepath.Join(st.PackageScriptDir(pkgName), scriptRel)
	}
	return out
}

// modifiedConfigFiles returns the declared config files whose staged
// content no longer matches the hash recorded at install time.
func modifiedConfigFiles(st *Stage, pkgName string, meta *pm.Metadata, recorded map[string]string) map[string]string {
	modified := map[string]string{}
	for rel, staged := range stagedConfigFiles(st, pkgName, meta) {
		want, ok := recorded[rel]
		if !ok {
			continue
		}
		got, err := hashFile(staged)
		if err != nil {
			continue
		}
		if got != want {
			modified[rel] = staged
		}
	}
	return modified
}

// preserveConfigFiles saves user-modified config files out of the current
// stage before an upgrade replaces them, returning the backup directory
// (or "" when nothing was modified). The saved copies are restored into
// the workspace after the new version's artifacts are staged.
func preserveConfigFiles(backupsDir, pkgName string, modified map[string]string, now time.Time) (string, error) {
	if len(modified) == 0 {
		return "", nil
	}

	backupDir := filepath.Join(backupsDir, pkgName, now.Format("2006-01-02-15:04:05"))
	for rel, staged := range modified {
		dest := filepath.Join(backupDir, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", &pm.StageError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
		}
		if err := cp.Copy(staged, dest); err != nil {
			return "", &pm.StageError{Op: "backup", Path: staged, Err: err}
		}
		logrus.Infof("saved modified config file %s to %s", rel, dest)
	}
	return backupDir, nil
}

// recordConfigHashes hashes the freshly staged config files for the
// manifest entry.
func recordConfigHashes(st *Stage, pkgName string, meta *pm.Metadata) map[string]string {
	hashes := map[string]string{}
	for rel, staged := range stagedConfigFiles(st, pkgName, meta) {
		if h, err := hashFile(staged); err == nil {
			hashes[rel] = h
		}
	}
	if len(hashes) == 0 {
		return nil
	}
	return hashes
}
