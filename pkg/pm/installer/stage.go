package installer

import (
	"os"
	"path/filepath"

	"zkg/pkg/pm"

	cp "github.com/otiai10/copy"
	"github.com/pkg/errors"
)

// PackagesSubdir is the engine-owned subtree inside each stage directory.
const PackagesSubdir = "packages"

// Stage is a set of script/plugin/binary directories artifacts install
// into: either the real stage from the user config, or an ephemeral
// mirror of it.
type Stage struct {
	ScriptDir string
	PluginDir string
	BinDir    string
}

func (s *Stage) PackageScriptDir(name string) string {
	return filepath.Join(s.ScriptDir, PackagesSubdir, name)
}

func (s *Stage) PackagePluginDir(name string) string {
	return filepath.Join(s.PluginDir, PackagesSubdir, name)
}

// LoaderIndexPath is the file listing @load directives of loaded packages.
func (s *Stage) LoaderIndexPath() string {
	return filepath.Join(s.ScriptDir, PackagesSubdir, LoaderIndexName)
}

// Populate creates the stage's directory skeleton.
func (s *Stage) Populate() error {
	for _, dir := range []string{
		filepath.Join(s.ScriptDir, PackagesSubdir),
		filepath.Join(s.PluginDir, PackagesSubdir),
		s.BinDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &pm.StageError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return nil
}

// Mirror builds an ephemeral stage under root reflecting the current
// contents of s: the engine-owned packages subtrees and the loader index.
// Builds of later plan entries observe artifacts staged here by earlier
// ones; the real stage stays untouched until the final swap.
func (s *Stage) Mirror(root string) (*Stage, error) {
	ws := &Stage{
		ScriptDir: filepath.Join(root, "script_dir"),
		PluginDir: filepath.Join(root, "plugin_dir"),
		BinDir:    filepath.Join(root, "bin"),
	}

	if err := os.RemoveAll(root); err != nil {
		return nil, &pm.StageError{Op: "clear", Path: root, Err: err}
	}
	if err := ws.Populate(); err != nil {
		return nil, err
	}

	opts := cp.Options{OnSymlink: func(string) cp.SymlinkAction { return cp.Shallow }}

	for _, pair := range [][2]string{
		{filepath.Join(s.ScriptDir, PackagesSubdir), filepath.Join(ws.ScriptDir, PackagesSubdir)},
		{filepath.Join(s.PluginDir, PackagesSubdir), filepath.Join(ws.PluginDir, PackagesSubdir)},
		{s.BinDir, ws.BinDir},
	} {
		if _, err := os.Stat(pair[0]); os.IsNotExist(err) {
			continue
		}
		if err := cp.Copy(pair[0], pair[1], opts); err != nil {
			return nil, &pm.StageError{Op: "mirror", Path: pair[0], Err: err}
		}
	}

	return ws, nil
}

// Swap atomically replaces the engine-owned subtrees of s with those of
// the workspace. On any failure the already-swapped subtrees are moved
// back, so observers see either the old or the new stage.
func (s *Stage) Swap(ws *Stage) error {
	swaps := []swapRec{
		{filepath.Join(ws.ScriptDir, PackagesSubdir), filepath.Join(s.ScriptDir, PackagesSubdir), ""},
		{filepath.Join(ws.PluginDir, PackagesSubdir), filepath.Join(s.PluginDir, PackagesSubdir), ""},
		{ws.BinDir, s.BinDir, ""},
	}

	if err := s.Populate(); err != nil {
		return err
	}

	done := -1
	for i := range swaps {
		sw := &swaps[i]
		sw.backup = sw.to + ".swap-backup"

		if err := os.RemoveAll(sw.backup); err != nil {
			s.unswap(swaps[:i])
			return &pm.StageError{Op: "swap", Path: sw.backup, Err: err}
		}
		if err := os.Rename(sw.to, sw.backup); err != nil {
			s.unswap(swaps[:i])
			return &pm.StageError{Op: "swap", Path: sw.to, Err: err}
		}
		if err := os.Rename(sw.from, sw.to); err != nil {
			_ = os.Rename(sw.backup, sw.to)
			s.unswap(swaps[:i])
			return &pm.StageError{Op: "swap", Path: sw.from, Err: err}
		}
		done = i
	}

	for i := 0; i <= done; i++ {
		_ = os.RemoveAll(swaps[i].backup)
	}
	return nil
}

type swapRec struct{ from, to, backup string }

func (s *Stage) unswap(done []swapRec) {
	for i := len(done) - 1; i >= 0; i-- {
		_ = os.Rename(done[i].to, done[i].from)
		_ = os.Rename(done[i].backup, done[i].to)
	}
}

// copyTree copies src into dst, excluding VCS internals.
func copyTree(src, dst string) error {
	opts := cp.Options{
		Skip: func(_ os.FileInfo, srcPath, _ string) (bool, error) {
			return filepath.Base(srcPath) == ".git", nil
		},
		OnSymlink: func(string) cp.SymlinkAction { return cp.Shallow },
	}
	if err := cp.Copy(src, dst, opts); err != nil {
		return errors.Wrapf(err, "failed to copy %s", src)
	}
	return nil
}
