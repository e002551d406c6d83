package manager

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"zkg/pkg/config"
	"zkg/pkg/git/gittest"
	"zkg/pkg/platform"
	"zkg/pkg/pm"
	"zkg/pkg/pm/installer"
	"zkg/pkg/progress"
)

func newTestManager(t *testing.T, d *gittest.Driver) *Manager {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Sources:   map[string]string{},
		StateDir:  filepath.Join(root, "state"),
		ScriptDir: filepath.Join(root, "script_dir"),
		PluginDir: filepath.Join(root, "plugin_dir"),
		BinDir:    filepath.Join(root, "bin"),
		UserVars:  map[string]string{},
		Filename:  filepath.Join(root, "config"),
	}

	m, err := New(cfg, d, &platform.Fake{Ver: "6.0.0"}, "3.0.0", io.Discard, io.Discard, progress.New(false, false))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func addPkg(d *gittest.Driver, url, meta string, tags ...string) {
	tree := gittest.Tree{"zkg.meta": meta}
	d.AddRepo(url, tree)
	for _, tag := range tags {
		d.Tag(url, tag, nil)
	}
}

func TestAliasConflictScenario(t *testing.T) {
	d := gittest.NewDriver()
	ctx := context.Background()

	fooURL := "https://example.com/a/foo"
	bazURL := "https://example.com/a/baz"
	corgeURL := "https://example.com/a/corge"
	addPkg(d, fooURL, "[package]\naliases = foo, bar\n", "1.0.0")
	addPkg(d, bazURL, "[package]\naliases = baz, foo\n", "1.0.0")
	addPkg(d, corgeURL, "[package]\naliases = corge, bar\n", "1.0.0")

	m := newTestManager(t, d)

	if err := m.Install(ctx, []InstallRequest{{Path: fooURL}}, InstallOptions{}); err != nil {
		t.Fatalf("first install must succeed: %v", err)
	}

	var aliasErr *pm.AliasConflictError
	if err := m.Install(ctx, []InstallRequest{{Path: bazURL}}, InstallOptions{}); !errors.As(err, &aliasErr) {
		t.Fatalf("baz must collide on alias foo, got %v", err)
	}
	if err := m.Install(ctx, []InstallRequest{{Path: corgeURL}}, InstallOptions{}); !errors.As(err, &aliasErr) {
		t.Fatalf("corge must collide on alias bar, got %v", err)
	}

	if err := m.Remove("foo"); err != nil {
		t.Fatal(err)
	}

	if err := m.Install(ctx, []InstallRequest{{Path: bazURL}}, InstallOptions{}); err != nil {
		t.Fatalf("baz must install after foo is gone: %v", err)
	}
	if err := m.Install(ctx, []InstallRequest{{Path: corgeURL}}, InstallOptions{}); err != nil {
		t.Fatalf("corge must install after foo is gone: %v", err)
	}

	if err := m.Install(ctx, []InstallRequest{{Path: fooURL}}, InstallOptions{}); !errors.As(err, &aliasErr) {
		t.Fatalf("reinstalling foo must now collide, got %v", err)
	}
}

func TestPinSafety(t *testing.T) {
	d := gittest.NewDriver()
	ctx := context.Background()

	url := "https://example.com/a/foo"
	addPkg(d, url, "[package]\ndescription = v1\n", "1.0.0")

	m := newTestManager(t, d)
	if err := m.Install(ctx, []InstallRequest{{Path: url, Version: "1.0.0"}}, InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Pin("foo"); err != nil {
		t.Fatal(err)
	}

	d.Tag(url, "2.0.0", gittest.Tree{"zkg.meta": "[package]\ndescription = v2\n"})

	if err := m.Upgrade(ctx, "foo", InstallOptions{}); err == nil {
		t.Fatal("upgrading a pinned package must fail")
	}

	entry := m.Manifest.Packages["foo"]
	if entry.Version != "1.0.0" || !entry.IsPinned {
		t.Errorf("pinned state mutated: %+v", entry)
	}

	if err := m.Unpin("foo"); err != nil {
		t.Fatal(err)
	}
	if err := m.Upgrade(ctx, "foo", InstallOptions{}); err != nil {
		t.Fatalf("upgrade after unpin: %v", err)
	}
	if got := m.Manifest.Packages["foo"].Version; got != "2.0.0" {
		t.Errorf("got %q", got)
	}
}

func TestUpgradeTestFailureAsymmetry(t *testing.T) {
	d := gittest.NewDriver()
	ctx := context.Background()

	url := "https://example.com/a/foo"
	addPkg(d, url, "[package]\ndescription = v1\n", "1.0.0")

	m := newTestManager(t, d)
	if err := m.Install(ctx, []InstallRequest{{Path: url, Version: "1.0.0"}}, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	d.Tag(url, "1.1.0", gittest.Tree{"zkg.meta": "[package]\ntest_command = exit 1\n"})

	// --force alone: refuse, old version retained.
	err := m.Upgrade(ctx, "foo", InstallOptions{Force: true})
	var testErr *pm.TestFailedError
	if !errors.As(err, &testErr) {
		t.Fatalf("expected TestFailedError, got %v", err)
	}
	if got := m.Manifest.Packages["foo"].Version; got != "1.0.0" {
		t.Errorf("old version must be retained, got %q", got)
	}

	// --force --skiptests: upgrade applies.
	if err := m.Upgrade(ctx, "foo", InstallOptions{Force: true, SkipTests: true}); err != nil {
		t.Fatal(err)
	}
	if got := m.Manifest.Packages["foo"].Version; got != "1.1.0" {
		t.Errorf("got %q", got)
	}
}

func TestLoadUnloadLoaderIndex(t *testing.T) {
	d := gittest.NewDriver()
	ctx := context.Background()

	url := "https://example.com/a/foo"
	addPkg(d, url, "[package]\n", "1.0.0")

	m := newTestManager(t, d)
	if err := m.Install(ctx, []InstallRequest{{Path: url}}, InstallOptions{NoLoad: true}); err != nil {
		t.Fatal(err)
	}

	index := m.realStage().LoaderIndexPath()

	for range 2 {
		if err := m.Load("foo"); err != nil {
			t.Fatal(err)
		}
	}
	names, err := installer.ReadLoaderIndex(index)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "foo" {
		t.Errorf("load twice must leave exactly one directive: %v", names)
	}

	for range 2 {
		if err := m.Unload("foo", false); err != nil {
			t.Fatal(err)
		}
	}
	names, _ = installer.ReadLoaderIndex(index)
	if len(names) != 0 {
		t.Errorf("unload twice must leave none: %v", names)
	}
}

func TestUnloadRefusesWhenLoadedDependerExists(t *testing.T) {
	d := gittest.NewDriver()
	ctx := context.Background()

	depURL := "https://example.com/a/dep"
	appURL := "https://example.com/a/app"
	addPkg(d, depURL, "[package]\n", "1.0.0")
	addPkg(d, appURL, "[package]\ndepends =\n\t"+depURL+" *\n", "1.0.0")

	m := newTestManager(t, d)
	if err := m.Install(ctx, []InstallRequest{{Path: appURL}}, InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Load("dep"); err != nil {
		t.Fatal(err)
	}

	if err := m.Unload("dep", false); err == nil {
		t.Fatal("unload must refuse while a loaded package depends on it")
	}
	if err := m.Unload("dep", true); err != nil {
		t.Fatalf("forced unload must work: %v", err)
	}
}

func TestBundleUnbundleRoundTrip(t *testing.T) {
	d := gittest.NewDriver()
	ctx := context.Background()

	fooURL := "https://example.com/a/foo"
	barURL := "https://example.com/a/bar"
	addPkg(d, fooURL, "[package]\ndescription = foo\n", "1.0.0", "1.1.0")
	addPkg(d, barURL, "[package]\ndescription = bar\n", "2.0.0")

	m := newTestManager(t, d)
	if err := m.Install(ctx, []InstallRequest{
		{Path: fooURL, Version: "1.0.0"},
		{Path: barURL},
	}, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	bundlePath := filepath.Join(t.TempDir(), "all.bundle")
	if err := m.Bundle(ctx, bundlePath, nil, true); err != nil {
		t.Fatal(err)
	}

	// A clean host reconstructs the same set at the same versions.
	m2 := newTestManager(t, d)
	if err := m2.Unbundle(ctx, bundlePath, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	foo := m2.Manifest.Packages["foo"]
	bar := m2.Manifest.Packages["bar"]
	if foo == nil || foo.Version != "1.0.0" {
		t.Errorf("foo: %+v", foo)
	}
	if bar == nil || bar.Version != "2.0.0" {
		t.Errorf("bar: %+v", bar)
	}

	// The stage holds the artifacts too.
	if _, err := os.Stat(filepath.Join(m2.Config.ScriptDir, installer.PackagesSubdir, "foo")); err != nil {
		t.Errorf("unbundled artifacts missing: %v", err)
	}
}

func TestRemoveCleansEverything(t *testing.T) {
	d := gittest.NewDriver()
	ctx := context.Background()

	url := "https://example.com/a/foo"
	addPkg(d, url, "[package]\naliases = foo, myfoo\n", "1.0.0")

	m := newTestManager(t, d)
	if err := m.Install(ctx, []InstallRequest{{Path: url}}, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := m.Remove("myfoo"); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.Manifest.Packages["foo"]; ok {
		t.Error("manifest entry must be gone")
	}
	if _, err := os.Stat(filepath.Join(m.Config.ScriptDir, installer.PackagesSubdir, "foo")); !os.IsNotExist(err) {
		t.Error("staged scripts must be gone")
	}
	if _, err := os.Lstat(filepath.Join(m.Config.ScriptDir, installer.PackagesSubdir, "myfoo")); !os.IsNotExist(err) {
		t.Error("alias symlink must be gone")
	}
	if _, err := os.Stat(filepath.Join(m.Config.PackageClonesDir(), "foo")); !os.IsNotExist(err) {
		t.Error("clone must be gone")
	}

	names, _ := installer.ReadLoaderIndex(m.realStage().LoaderIndexPath())
	if len(names) != 0 {
		t.Errorf("loader index must be empty: %v", names)
	}
}

func TestInstallDependencyChainThroughManager(t *testing.T) {
	d := gittest.NewDriver()
	ctx := context.Background()

	bazURL := "https://example.com/a/baz"
	barURL := "https://example.com/a/bar"
	fooURL := "https://example.com/a/foo"
	addPkg(d, bazURL, "[package]\n", "1.0.0", "2.0.0")
	addPkg(d, barURL, "[package]\ndepends =\n\t"+bazURL+" >=1.0.0\n", "1.0.0")
	addPkg(d, fooURL, "[package]\ndepends =\n\t"+barURL+" *\n")

	m := newTestManager(t, d)
	if err := m.Install(ctx, []InstallRequest{{Path: fooURL}}, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	if got := m.Manifest.Packages["baz"].Version; got != "2.0.0" {
		t.Errorf("baz: %q", got)
	}
	if got := m.Manifest.Packages["bar"].Version; got != "1.0.0" {
		t.Errorf("bar: %q", got)
	}
	if got := m.Manifest.Packages["foo"].Version; got != "main" {
		t.Errorf("foo: %q", got)
	}

	// Only the requested root gets loaded by default.
	if !m.Manifest.Packages["foo"].IsLoaded {
		t.Error("requested package must be loaded")
	}
	if m.Manifest.Packages["bar"].IsLoaded {
		t.Error("dependencies stay unloaded")
	}
}
