package installer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zkg/pkg/config"
	"zkg/pkg/git/gittest"
	"zkg/pkg/pm"
	"zkg/pkg/pm/manifest"
	"zkg/pkg/pm/resolution"
	"zkg/pkg/progress"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Sources:   map[string]string{},
		StateDir:  filepath.Join(root, "state"),
		ScriptDir: filepath.Join(root, "script_dir"),
		PluginDir: filepath.Join(root, "plugin_dir"),
		BinDir:    filepath.Join(root, "bin"),
		UserVars:  map[string]string{},
	}
}

func testPipeline(t *testing.T, d *gittest.Driver, cfg *config.Config) *Pipeline {
	t.Helper()
	return &Pipeline{
		Driver:   d,
		Config:   cfg,
		Manifest: manifest.New(cfg.ManifestPath()),
		Progress: progress.New(false, false),
		Out:      io.Discard,
		Now:      func() time.Time { return time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func candidate(url, ref string, method pm.TrackingMethod) *resolution.Candidate {
	return &resolution.Candidate{
		Package: &pm.Package{
			GitURL:  url,
			Version: pm.Version{Ref: ref, Method: method},
		},
		Requested: true,
	}
}

const fooURL = "https://example.com/alice/foo"

func addFooRepo(t *testing.T, d *gittest.Driver, meta string, extra gittest.Tree) {
	t.Helper()
	tree := gittest.Tree{"zkg.meta": meta}
	for k, v := range extra {
		tree[k] = v
	}
	d.AddRepo(fooURL, tree)
	d.Tag(fooURL, "1.0.0", nil)
}

func TestRunInstallsArtifacts(t *testing.T) {
	d := gittest.NewDriver()
	addFooRepo(t, d, `[package]
script_dir = scripts
executables = bin/foo-tool
aliases = foo, foolias
build_command = echo compiling with %(LAST_VAR)s && echo %(LAST_VAR)s > scripts/built.txt
`, gittest.Tree{
		"scripts/main.zeek": "event zeek_init() {}\n",
		"bin/foo-tool":      "#!/bin/sh\necho foo-tool\n",
	})

	cfg := testConfig(t)
	p := testPipeline(t, d, cfg)

	opts := Options{
		LoadNames: map[string]bool{"foo": true},
		UserVars:  map[string]string{"LAST_VAR": "/home/x/sandbox"},
	}
	if err := p.Run(context.Background(), []*resolution.Candidate{candidate(fooURL, "1.0.0", pm.TrackTag)}, opts); err != nil {
		t.Fatal(err)
	}

	// Scripts staged under the engine-owned subtree.
	staged := filepath.Join(cfg.ScriptDir, PackagesSubdir, "foo", "main.zeek")
	if _, err := os.Stat(staged); err != nil {
		t.Errorf("script not staged: %v", err)
	}

	// The build observed the resolved user var.
	built, err := os.ReadFile(filepath.Join(cfg.ScriptDir, PackagesSubdir, "foo", "built.txt"))
	if err != nil {
		t.Fatalf("build output not staged: %v", err)
	}
	if strings.TrimSpace(string(built)) != "/home/x/sandbox" {
		t.Errorf("got %q", built)
	}

	// Build log captured the command output.
	log, err := os.ReadFile(filepath.Join(cfg.LogsDir(), "foo-build.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "/home/x/sandbox") {
		t.Errorf("build log must contain the user var value: %q", log)
	}

	// Loader index names the loaded package exactly once.
	names, err := ReadLoaderIndex(filepath.Join(cfg.ScriptDir, PackagesSubdir, LoaderIndexName))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "foo" {
		t.Errorf("loader index: %v", names)
	}

	// Alias symlink points at the package directory.
	link := filepath.Join(cfg.ScriptDir, PackagesSubdir, "foolias")
	if target, err := os.Readlink(link); err != nil || target != "foo" {
		t.Errorf("alias symlink: %q, %v", target, err)
	}

	// Executable linked into the bin stage.
	if _, err := os.Lstat(filepath.Join(cfg.BinDir, "foo-tool")); err != nil {
		t.Errorf("executable not linked: %v", err)
	}

	// Manifest committed with the entry.
	m, err := manifest.Load(cfg.ManifestPath())
	if err != nil {
		t.Fatal(err)
	}
	entry := m.Packages["foo"]
	if entry == nil || entry.Version != "1.0.0" || !entry.IsLoaded {
		t.Errorf("manifest entry: %+v", entry)
	}
	if entry.Metadata == nil || len(entry.Metadata.Aliases) != 2 {
		t.Errorf("metadata snapshot missing: %+v", entry.Metadata)
	}
}

func TestRunUserVarOverrideWins(t *testing.T) {
	d := gittest.NewDriver()
	addFooRepo(t, d, `[package]
build_command = echo %(LAST_VAR)s
`, nil)

	cfg := testConfig(t)
	p := testPipeline(t, d, cfg)

	opts := Options{
		LoadNames: map[string]bool{},
		UserVars:  map[string]string{"LAST_VAR": "/home/x/sandbox"},
		Overrides: map[string]string{"LAST_VAR": "/home/x/sandbox2"},
	}
	if err := p.Run(context.Background(), []*resolution.Candidate{candidate(fooURL, "1.0.0", pm.TrackTag)}, opts); err != nil {
		t.Fatal(err)
	}

	log, err := os.ReadFile(filepath.Join(cfg.LogsDir(), "foo-build.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "/home/x/sandbox2") {
		t.Errorf("override must win: %q", log)
	}
}

func TestRunRollsBackWholePlanOnFailure(t *testing.T) {
	d := gittest.NewDriver()

	okURL := "https://example.com/alice/ok"
	badURL := "https://example.com/alice/bad"
	d.AddRepo(okURL, gittest.Tree{
		"zkg.meta":          "[package]\nscript_dir = scripts\n",
		"scripts/main.zeek": "event zeek_init() {}\n",
	})
	d.Tag(okURL, "1.0.0", nil)
	d.AddRepo(badURL, gittest.Tree{
		"zkg.meta": "[package]\nbuild_command = exit 1\n",
	})
	d.Tag(badURL, "1.0.0", nil)

	cfg := testConfig(t)
	p := testPipeline(t, d, cfg)

	plan := []*resolution.Candidate{
		candidate(okURL, "1.0.0", pm.TrackTag),
		candidate(badURL, "1.0.0", pm.TrackTag),
	}

	err := p.Run(context.Background(), plan, Options{LoadNames: map[string]bool{"ok": true}})
	var buildErr *pm.BuildFailedError
	if !errors.As(err, &buildErr) {
		t.Fatalf("expected BuildFailedError, got %v", err)
	}
	if buildErr.Package != "bad" {
		t.Errorf("error must name the package: %+v", buildErr)
	}

	// The artifacts of the earlier, successful package were rolled back
	// with the rest of the plan.
	if _, err := os.Stat(filepath.Join(cfg.ScriptDir, PackagesSubdir, "ok")); !os.IsNotExist(err) {
		t.Error("stage must not contain artifacts of a failed plan")
	}
	if _, err := os.Stat(cfg.ManifestPath()); !os.IsNotExist(err) {
		t.Error("manifest must not be written for a failed plan")
	}
	if len(p.Manifest.Packages) != 0 {
		t.Errorf("in-memory manifest must be restored, got %v", p.Manifest.Names())
	}

	// The loader index inside the untouched stage stays empty.
	names, _ := ReadLoaderIndex(filepath.Join(cfg.ScriptDir, PackagesSubdir, LoaderIndexName))
	if len(names) != 0 {
		t.Errorf("loader index must be untouched: %v", names)
	}
}

func TestRunTestFailureAsymmetry(t *testing.T) {
	d := gittest.NewDriver()
	addFooRepo(t, d, `[package]
test_command = exit 1
`, nil)

	cfg := testConfig(t)

	run := func(opts Options) error {
		p := testPipeline(t, d, cfg)
		opts.LoadNames = map[string]bool{}
		return p.Run(context.Background(), []*resolution.Candidate{candidate(fooURL, "1.0.0", pm.TrackTag)}, opts)
	}

	// Plain install: failing tests abort.
	err := run(Options{})
	var testErr *pm.TestFailedError
	if !errors.As(err, &testErr) {
		t.Fatalf("expected TestFailedError, got %v", err)
	}

	// Install with force continues despite the failure.
	if err := run(Options{Force: true}); err != nil {
		t.Fatalf("install --force must continue: %v", err)
	}

	// Upgrade with force alone refuses.
	err = run(Options{Force: true, Upgrading: map[string]bool{"foo": true}})
	if !errors.As(err, &testErr) {
		t.Fatalf("upgrade --force must still fail tests, got %v", err)
	}

	// Upgrade with tests skipped applies.
	if err := run(Options{Force: true, SkipTests: true, Upgrading: map[string]bool{"foo": true}}); err != nil {
		t.Fatalf("upgrade --force --skiptests must apply: %v", err)
	}
}

func TestRunTestFailurePreservesOutputs(t *testing.T) {
	d := gittest.NewDriver()
	addFooRepo(t, d, `[package]
test_command = echo some-test-detail && exit 1
`, nil)

	cfg := testConfig(t)
	p := testPipeline(t, d, cfg)

	err := p.Run(context.Background(), []*resolution.Candidate{candidate(fooURL, "1.0.0", pm.TrackTag)},
		Options{LoadNames: map[string]bool{}})
	var testErr *pm.TestFailedError
	if !errors.As(err, &testErr) {
		t.Fatalf("expected TestFailedError, got %v", err)
	}

	stdout, err := os.ReadFile(filepath.Join(testErr.TestDir, "stdout"))
	if err != nil {
		t.Fatalf("test stdout not preserved: %v", err)
	}
	if !strings.Contains(string(stdout), "some-test-detail") {
		t.Errorf("got %q", stdout)
	}
}

func TestRunDependencyArtifactsVisibleToDependerBuild(t *testing.T) {
	d := gittest.NewDriver()

	depURL := "https://example.com/alice/dep"
	appURL := "https://example.com/alice/app"
	d.AddRepo(depURL, gittest.Tree{
		"zkg.meta":     "[package]\nexecutables = bin/dep-tool\n",
		"bin/dep-tool": "#!/bin/sh\necho dep-tool-output\n",
	})
	d.Tag(depURL, "1.0.0", nil)
	d.AddRepo(appURL, gittest.Tree{
		"zkg.meta": "[package]\nbuild_command = dep-tool > observed.txt\n",
	})
	d.Tag(appURL, "1.0.0", nil)

	cfg := testConfig(t)
	p := testPipeline(t, d, cfg)

	plan := []*resolution.Candidate{
		candidate(depURL, "1.0.0", pm.TrackTag),
		candidate(appURL, "1.0.0", pm.TrackTag),
	}
	if err := p.Run(context.Background(), plan, Options{LoadNames: map[string]bool{}}); err != nil {
		t.Fatal(err)
	}

	observed, err := os.ReadFile(filepath.Join(cfg.ScriptDir, PackagesSubdir, "app", "observed.txt"))
	if err != nil {
		t.Fatalf("app build output missing: %v", err)
	}
	if strings.TrimSpace(string(observed)) != "dep-tool-output" {
		t.Errorf("the depender's build must observe the dependency's executable: %q", observed)
	}
}

func TestRunPreservesModifiedConfigFiles(t *testing.T) {
	d := gittest.NewDriver()
	d.AddRepo(fooURL, gittest.Tree{
		"zkg.meta":    "[package]\nconfig_files = config.zeek\n",
		"config.zeek": "option x = 1;\n",
	})
	d.Tag(fooURL, "1.0.0", nil)

	cfg := testConfig(t)
	p := testPipeline(t, d, cfg)

	plan := []*resolution.Candidate{candidate(fooURL, "1.0.0", pm.TrackTag)}
	if err := p.Run(context.Background(), plan, Options{LoadNames: map[string]bool{}}); err != nil {
		t.Fatal(err)
	}

	// The user edits the installed config file.
	staged := filepath.Join(cfg.ScriptDir, PackagesSubdir, "foo", "config.zeek")
	if err := os.WriteFile(staged, []byte("option x = 42;\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A new version ships a different default.
	d.Tag(fooURL, "1.1.0", gittest.Tree{
		"zkg.meta":    "[package]\nconfig_files = config.zeek\n",
		"config.zeek": "option x = 2;\n",
	})

	p2 := testPipeline(t, d, cfg)
	p2.Manifest, _ = manifest.Load(cfg.ManifestPath())
	if err := p2.Run(context.Background(), []*resolution.Candidate{candidate(fooURL, "1.1.0", pm.TrackTag)},
		Options{LoadNames: map[string]bool{}, Upgrading: map[string]bool{"foo": true}}); err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(staged)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "option x = 42;\n" {
		t.Errorf("user-modified config file must survive upgrade, got %q", content)
	}

	// The modified copy was saved to a backup path.
	backups, err := filepath.Glob(filepath.Join(cfg.BackupsDir(), "foo", "*", "config.zeek"))
	if err != nil || len(backups) != 1 {
		t.Errorf("expected one backup, got %v (%v)", backups, err)
	}
}

func TestRunAliasConflictAborts(t *testing.T) {
	d := gittest.NewDriver()
	addFooRepo(t, d, "[package]\naliases = foo, shared\n", nil)

	barURL := "https://example.com/bob/bar"
	d.AddRepo(barURL, gittest.Tree{"zkg.meta": "[package]\naliases = bar, shared\n"})
	d.Tag(barURL, "1.0.0", nil)

	cfg := testConfig(t)
	p := testPipeline(t, d, cfg)

	if err := p.Run(context.Background(), []*resolution.Candidate{candidate(fooURL, "1.0.0", pm.TrackTag)},
		Options{LoadNames: map[string]bool{}}); err != nil {
		t.Fatal(err)
	}

	err := p.Run(context.Background(), []*resolution.Candidate{candidate(barURL, "1.0.0", pm.TrackTag)},
		Options{LoadNames: map[string]bool{}})
	var aliasErr *pm.AliasConflictError
	if !errors.As(err, &aliasErr) {
		t.Fatalf("expected AliasConflictError, got %v", err)
	}
	if aliasErr.Alias != "shared" || aliasErr.Existing != "foo" {
		t.Errorf("got %+v", aliasErr)
	}
}
