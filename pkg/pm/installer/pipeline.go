// Package installer executes an install plan transactionally: every
// package in the plan reaches installed state and the manifest commits,
// or manifest and stage revert to their pre-plan contents.
package installer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zkg/pkg/archive"
	"zkg/pkg/config"
	"zkg/pkg/git"
	"zkg/pkg/pm"
	"zkg/pkg/pm/manifest"
	"zkg/pkg/pm/resolution"
	"zkg/pkg/progress"
	"zkg/pkg/zkgmeta"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Pipeline drives the per-package stages over a plan.
type Pipeline struct {
	Driver   git.Driver
	Config   *config.Config
	Manifest *manifest.Manifest
	Progress *progress.Progress
	Out      io.Writer

	// Now stamps config-file backups; tests pin it.
	Now func() time.Time
}

// Options tune one pipeline run.
type Options struct {
	// SkipTests bypasses the test stage entirely.
	SkipTests bool
	// Force continues an install whose tests failed. It never overrides
	// test failures during upgrade; only SkipTests does.
	Force bool
	// LoadNames marks which packages end up loaded after the plan.
	LoadNames map[string]bool
	// UserVars are the resolved user-var values exported to build and
	// test commands.
	UserVars map[string]string
	// Overrides are command-line interpolation overrides, which take
	// priority over everything else.
	Overrides map[string]string
	// Upgrading names the packages this plan upgrades rather than
	// freshly installs.
	Upgrading map[string]bool
}

// Run executes the plan. On any failure the manifest and the stage are
// left byte-for-byte at their pre-plan state; the real stage is only
// swapped in after every package succeeded.
func (p *Pipeline) Run(ctx context.Context, plan []*resolution.Candidate, opts Options) (err error) {
	real := &Stage{
		ScriptDir: p.Config.ScriptDir,
		PluginDir: p.Config.PluginDir,
		BinDir:    p.Config.BinDir,
	}
	if err := real.Populate(); err != nil {
		return err
	}

	wsRoot := filepath.Join(p.Config.ScratchDir(), "stage")
	ws, err := real.Mirror(wsRoot)
	if err != nil {
		return err
	}

	pre := p.Manifest.Clone()
	rollback := func() {
		p.Manifest.Packages = pre.Packages
		if rmErr := os.RemoveAll(wsRoot); rmErr != nil {
			logrus.WithError(rmErr).Warn("failed to discard staging workspace")
		}
	}

	for _, cand := range plan {
		if cand.Builtin != nil {
			logrus.Debugf("dependency %q satisfied by built-in platform capability %s",
				cand.Builtin.Name, cand.Builtin.Version)
			continue
		}
		if err := ctx.Err(); err != nil {
			rollback()
			return err
		}
		if err := p.installOne(ctx, real, ws, cand, opts); err != nil {
			rollback()
			return err
		}
	}

	if err := real.Swap(ws); err != nil {
		rollback()
		return err
	}
	_ = os.RemoveAll(wsRoot)

	// The manifest commits exactly once, after all stages succeeded.
	if err := p.Manifest.Save(); err != nil {
		p.Manifest.Packages = pre.Packages
		return err
	}
	return nil
}

func (p *Pipeline) installOne(ctx context.Context, real, ws *Stage, cand *resolution.Candidate, opts Options) error {
	pkg := cand.Package
	name := pkg.Name()
	clone := filepath.Join(p.Config.PackageClonesDir(), name)

	// Fetch: make sure a clone at the resolved ref exists.
	if err := git.EnsureClone(ctx, p.Driver, pkg.GitURL, clone, pkg.Version.Method != pm.TrackCommit); err != nil {
		return &pm.DependencyError{Name: name, Reason: "failed to obtain repository: " + err.Error()}
	}
	if err := p.Driver.Checkout(ctx, clone, pkg.Version.Ref); err != nil {
		return &pm.VersionResolutionError{Package: name, Constraint: pkg.Version.Ref, Reason: err.Error()}
	}
	if err := p.Driver.SubmoduleUpdate(ctx, clone); err != nil {
		logrus.WithError(err).Warnf("submodule update failed for %s", name)
	}

	meta := pkg.Meta
	if meta == nil {
		loaded, _, err := zkgmeta.Load(clone, name)
		if err != nil {
			return err
		}
		meta = loaded
		pkg = pkg.ReloadMetadata(meta)
	}

	if err := p.Manifest.CheckAliasConflicts(pkg); err != nil {
		return err
	}

	interpEnv := zkgmeta.InterpolationEnv(p.Config.PathsEnv(), opts.UserVars, opts.Overrides, p.Config.ZeekDist, clone)

	// Build.
	if meta.BuildCommand != "" {
		if err := p.build(ctx, name, clone, meta.BuildCommand, interpEnv, opts, ws); err != nil {
			return err
		}
	}

	// Test.
	if meta.TestCommand != "" && !opts.SkipTests {
		if err := p.test(ctx, pkg, clone, interpEnv, opts, ws); err != nil {
			if opts.Upgrading[name] || !opts.Force {
				return err
			}
			logrus.Warnf("continuing despite test failure of %s (--force)", name)
		}
	}

	// Config file preservation: detect user-modified files against the
	// hashes recorded at the previous install, before the copy replaces
	// them.
	entry := p.Manifest.Packages[name]
	var modified map[string]string
	if entry != nil {
		modified = modifiedConfigFiles(real, name, entry.Metadata, entry.ConfigFileHashes)
		if _, err := preserveConfigFiles(p.Config.BackupsDir(), name, modified, p.now()); err != nil {
			return err
		}
	}

	// Install artifacts into the staging workspace.
	if err := p.stageArtifacts(clone, pkg, meta, ws, opts.LoadNames[name]); err != nil {
		return err
	}

	// Put the user's edited config files back in place of the pristine
	// staged ones.
	for rel, prev := range modified {
		staged := stagedConfigFiles(ws, name, meta)[rel]
		if staged == "" {
			continue
		}
		if err := copyTree(prev, staged); err != nil {
			return err
		}
		fmt.Fprintf(p.Out, "preserved modified config file %s\n", rel)
	}

	// Loader index.
	if opts.LoadNames[name] {
		if err := AddLoad(ws.LoaderIndexPath(), name); err != nil {
			return err
		}
	} else {
		if err := RemoveLoad(ws.LoaderIndexPath(), name); err != nil {
			return err
		}
	}

	p.Manifest.Packages[name] = &manifest.Entry{
		GitURL:           pkg.GitURL,
		Source:           pkg.Source,
		ModuleDir:        pkg.ModuleDir,
		Version:          pkg.Version.Ref,
		TrackingMethod:   pkg.Version.Method.String(),
		CurrentHash:      pkg.CurrentHash,
		IsLoaded:         opts.LoadNames[name],
		IsPinned:         entryPinned(entry),
		Metadata:         meta,
		ConfigFileHashes: recordConfigHashes(ws, name, meta),
	}

	fmt.Fprintf(p.Out, "installed %s (%s %s)\n", pkg.QualifiedName(), pkg.Version.Method, pkg.Version.Ref)
	return nil
}

func entryPinned(entry *manifest.Entry) bool {
	return entry != nil && entry.IsPinned
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// build runs the package's build command with the workspace bin directory
// leading PATH, capturing output to the package's build log.
func (p *Pipeline) build(ctx context.Context, name, clone, command string, interpEnv map[string]string, opts Options, ws *Stage) error {
	rendered, err := zkgmeta.Interpolate(name, command, interpEnv)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(p.Config.LogsDir(), 0o755); err != nil {
		return &pm.StageError{Op: "mkdir", Path: p.Config.LogsDir(), Err: err}
	}
	logPath := filepath.Join(p.Config.LogsDir(), name+"-build.log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return &pm.StageError{Op: "create", Path: logPath, Err: err}
	}
	defer logFile.Close()

	var res *commandResult
	runErr := p.Progress.Run("building "+name, p.Out, func() error {
		var err error
		res, err = runCommand(ctx, clone, rendered, commandEnv(opts), ws.BinDir, logFile, logFile)
		return err
	})
	if runErr != nil {
		return errors.Wrapf(runErr, "failed to run build command for %s", name)
	}

	if res.ExitCode != 0 {
		return &pm.BuildFailedError{Package: name, LogPath: logPath}
	}
	return nil
}

// test runs the package's test command in a dedicated testing area
// holding fresh copies of the package and its dependencies, so tests see
// dependencies by their declared names.
func (p *Pipeline) test(ctx context.Context, pkg *pm.Package, clone string, interpEnv map[string]string, opts Options, ws *Stage) error {
	name := pkg.Name()
	meta := pkg.Meta

	rendered, err := zkgmeta.Interpolate(name, meta.TestCommand, interpEnv)
	if err != nil {
		return err
	}

	testRoot := filepath.Join(p.Config.TestingDir(), name)
	if err := os.RemoveAll(testRoot); err != nil {
		return &pm.StageError{Op: "clear", Path: testRoot, Err: err}
	}

	clonesDir := filepath.Join(testRoot, "clones")
	if err := copyTree(clone, filepath.Join(clonesDir, name)); err != nil {
		return err
	}
	for _, dep := range meta.Depends {
		if dep.Kind != pm.DependPackage {
			continue
		}
		depName := pm.NameFromPath(dep.Name)
		depClone := filepath.Join(p.Config.PackageClonesDir(), depName)
		if _, err := os.Stat(depClone); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(depClone, filepath.Join(clonesDir, depName)); err != nil {
			return err
		}
	}

	// Mirror the plan's staging workspace so the test observes the
	// artifacts of everything installed earlier in the plan.
	testStage, err := ws.Mirror(filepath.Join(testRoot, "stage"))
	if err != nil {
		return err
	}

	stdoutPath := filepath.Join(testRoot, "stdout")
	stderrPath := filepath.Join(testRoot, "stderr")
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return &pm.StageError{Op: "create", Path: stdoutPath, Err: err}
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return &pm.StageError{Op: "create", Path: stderrPath, Err: err}
	}
	defer stderr.Close()

	env := commandEnv(opts)
	env["ZKG_TEST_BASE"] = testRoot

	var res *commandResult
	runErr := p.Progress.Run("testing "+name, p.Out, func() error {
		var err error
		res, err = runCommand(ctx, filepath.Join(clonesDir, name), rendered, env, testStage.BinDir, stdout, stderr)
		return err
	})
	if runErr != nil {
		return errors.Wrapf(runErr, "failed to run test command for %s", name)
	}

	if res.ExitCode != 0 {
		return &pm.TestFailedError{Package: name, TestDir: testRoot}
	}
	return nil
}

// stageArtifacts copies the package's script and plugin trees into the
// workspace stage and links executables and aliases.
func (p *Pipeline) stageArtifacts(clone string, pkg *pm.Package, meta *pm.Metadata, ws *Stage, loaded bool) error {
	name := pkg.Name()

	// Script tree: script_dir names a subdirectory of the clone, or the
	// clone root when unset.
	scriptSrc := clone
	if meta.ScriptDir != "" {
		scriptSrc = filepath.Join(clone, meta.ScriptDir)
	}
	scriptDst := ws.PackageScriptDir(name)
	if err := os.RemoveAll(scriptDst); err != nil {
		return &pm.StageError{Op: "clear", Path: scriptDst, Err: err}
	}
	if _, err := os.Stat(scriptSrc); err != nil {
		return &pm.BadMetadataError{Package: name, Field: "script_dir", Reason: "path does not exist: " + meta.ScriptDir}
	}
	if err := copyTree(scriptSrc, scriptDst); err != nil {
		return err
	}

	// Plugin tree: a directory is copied, a tarball extracted.
	pluginDst := ws.PackagePluginDir(name)
	if err := os.RemoveAll(pluginDst); err != nil {
		return &pm.StageError{Op: "clear", Path: pluginDst, Err: err}
	}
	if meta.PluginDir != "" {
		pluginSrc := filepath.Join(clone, meta.PluginDir)
		if fi, err := os.Stat(pluginSrc); err == nil {
			if fi.IsDir() {
				if err := copyTree(pluginSrc, pluginDst); err != nil {
					return err
				}
			} else {
				f, err := os.Open(pluginSrc)
				if err != nil {
					return &pm.StageError{Op: "open", Path: pluginSrc, Err: err}
				}
				err = archive.Untar(f, pluginDst)
				f.Close()
				if err != nil {
					return &pm.StageError{Op: "extract", Path: pluginSrc, Err: err}
				}
			}
			if err := WritePluginMarker(pluginDst, loaded); err != nil {
				return err
			}
		} else if !strings.Contains(meta.PluginDir, "build") {
			// A missing conventional build output only means the package
			// has no native plugin on this platform.
			return &pm.BadMetadataError{Package: name, Field: "plugin_dir", Reason: "path does not exist: " + meta.PluginDir}
		}
	}

	// Executables become symlinks in the stage bin directory pointing at
	// the long-lived clone.
	for _, rel := range meta.Executables {
		target := filepath.Join(clone, rel)
		link := filepath.Join(ws.BinDir, filepath.Base(rel))
		if _, err := os.Stat(target); err != nil {
			return &pm.BadMetadataError{Package: name, Field: "executables", Reason: "no such file: " + rel}
		}
		_ = os.Remove(link)
		if err := os.Symlink(target, link); err != nil {
			return &pm.StageError{Op: "symlink", Path: link, Err: err}
		}
	}

	// Alias symlinks inside the script tree let scripts @load the package
	// under any declared alias.
	for _, alias := range pkg.Aliases() {
		if alias == name {
			continue
		}
		link := filepath.Join(ws.ScriptDir, PackagesSubdir, alias)
		_ = os.Remove(link)
		if err := os.Symlink(name, link); err != nil {
			return &pm.StageError{Op: "symlink", Path: link, Err: err}
		}
	}

	return nil
}

func commandEnv(opts Options) map[string]string {
	env := map[string]string{}
	for k, v := range opts.UserVars {
		env[k] = v
	}
	for k, v := range opts.Overrides {
		env[k] = v
	}
	return env
}
