package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"zkg/pkg/git/gittest"
)

func TestPackagesCurrentIndexFormat(t *testing.T) {
	d := gittest.NewDriver()
	url := "https://example.com/zeek/packages"
	d.AddRepo(url, gittest.Tree{
		IndexFilename: `# index of packages
https://example.com/alice/foo
https://example.com/bob/bar
https://example.com/alice/foo
`,
	})

	src, err := New(context.Background(), d, "zeek", url, filepath.Join(t.TempDir(), "zeek"))
	if err != nil {
		t.Fatal(err)
	}

	pkgs, err := src.Packages()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("duplicates must collapse, got %d", len(pkgs))
	}
	if pkgs[0].QualifiedName() != "zeek/alice/foo" || pkgs[1].QualifiedName() != "zeek/bob/bar" {
		t.Errorf("got %v, %v", pkgs[0].QualifiedName(), pkgs[1].QualifiedName())
	}
}

func TestPackagesLegacyIndexFormat(t *testing.T) {
	d := gittest.NewDriver()
	url := "https://example.com/zeek/packages"
	d.AddRepo(url, gittest.Tree{
		LegacyIndexFilename: `[foo]
url = https://example.com/alice/foo
tags = detection

[bar]
url = https://example.com/bob/bar
`,
	})

	src, err := New(context.Background(), d, "zeek", url, filepath.Join(t.TempDir(), "zeek"))
	if err != nil {
		t.Fatal(err)
	}

	pkgs, err := src.Packages()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages", len(pkgs))
	}
}

func TestPackagesIndexFilesAnywhereInTree(t *testing.T) {
	d := gittest.NewDriver()
	url := "https://example.com/zeek/packages"
	d.AddRepo(url, gittest.Tree{
		"alice/" + IndexFilename: "https://example.com/alice/foo\n",
		"bob/" + IndexFilename:   "https://example.com/bob/bar\n",
	})

	src, err := New(context.Background(), d, "zeek", url, filepath.Join(t.TempDir(), "zeek"))
	if err != nil {
		t.Fatal(err)
	}

	files, err := src.IndexFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %v", files)
	}

	pkgs, err := src.Packages()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages", len(pkgs))
	}
}

func TestAggregateWritesMetadata(t *testing.T) {
	d := gittest.NewDriver()

	fooURL := "https://example.com/alice/foo"
	d.AddRepo(fooURL, gittest.Tree{"zkg.meta": "[package]\ndescription = finds foos\ntags = detection\n"})
	d.Tag(fooURL, "1.0.0", nil)

	srcURL := "https://example.com/zeek/packages"
	d.AddRepo(srcURL, gittest.Tree{IndexFilename: fooURL + "\n"})

	src, err := New(context.Background(), d, "zeek", srcURL, filepath.Join(t.TempDir(), "zeek"))
	if err != nil {
		t.Fatal(err)
	}

	problems, err := src.Aggregate(context.Background(), d, AggregateOptions{ScratchDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}

	agg, err := src.AggregatedMetadata()
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := agg["alice/foo"]
	if !ok {
		t.Fatalf("aggregate sections: %v", agg)
	}
	if entry["description"] != "finds foos" || entry["version"] != "1.0.0" {
		t.Errorf("got %v", entry)
	}
}

func TestAggregateProblemsAreWarningsByDefault(t *testing.T) {
	d := gittest.NewDriver()

	badURL := "https://example.com/alice/broken"
	d.AddRepo(badURL, gittest.Tree{"README": "no metadata here\n"})

	srcURL := "https://example.com/zeek/packages"
	d.AddRepo(srcURL, gittest.Tree{IndexFilename: badURL + "\n"})

	src, err := New(context.Background(), d, "zeek", srcURL, filepath.Join(t.TempDir(), "zeek"))
	if err != nil {
		t.Fatal(err)
	}

	problems, err := src.Aggregate(context.Background(), d, AggregateOptions{ScratchDir: t.TempDir()})
	if err != nil {
		t.Fatalf("problems must be warnings: %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("expected one problem, got %v", problems)
	}

	// With FailOnProblems the same input aborts.
	if _, err := src.Aggregate(context.Background(), d, AggregateOptions{
		ScratchDir:     t.TempDir(),
		FailOnProblems: true,
	}); err == nil {
		t.Fatal("expected aggregation to abort")
	}
}

func TestSourceRecloneOnURLChange(t *testing.T) {
	d := gittest.NewDriver()
	oldURL := "https://example.com/zeek/old-packages"
	newURL := "https://example.com/zeek/new-packages"
	d.AddRepo(oldURL, gittest.Tree{IndexFilename: "https://example.com/a/one\n"})
	d.AddRepo(newURL, gittest.Tree{IndexFilename: "https://example.com/a/two\n"})

	clonePath := filepath.Join(t.TempDir(), "zeek")
	if _, err := New(context.Background(), d, "zeek", oldURL, clonePath); err != nil {
		t.Fatal(err)
	}

	src, err := New(context.Background(), d, "zeek", newURL, clonePath)
	if err != nil {
		t.Fatal(err)
	}
	pkgs, err := src.Packages()
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 1 || pkgs[0].Name() != "two" {
		t.Fatalf("stale clone survived a URL change: %v", pkgs)
	}
}

func TestModuleDirOf(t *testing.T) {
	cases := map[string]string{
		"https://github.com/alice/foo":     "alice",
		"https://github.com/alice/foo.git": "alice",
		"git@github.com:alice/foo.git":     "alice",
		"https://example.com/foo":          "",
	}
	for in, want := range cases {
		if got := moduleDirOf(in); got != want {
			t.Errorf("moduleDirOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseIndexSkipsComments(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, IndexFilename)
	content := "# comment\n\nhttps://example.com/a/x\n"
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	urls, err := parseIndexFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if len(urls) != 1 || urls[0] != "https://example.com/a/x" {
		t.Errorf("got %v", urls)
	}
}
