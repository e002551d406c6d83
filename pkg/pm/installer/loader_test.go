package installer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoaderIndexIdempotence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages", LoaderIndexName)

	if err := AddLoad(path, "foo"); err != nil {
		t.Fatal(err)
	}
	if err := AddLoad(path, "foo"); err != nil {
		t.Fatal(err)
	}

	names, err := ReadLoaderIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "foo" {
		t.Fatalf("load twice must leave exactly one directive, got %v", names)
	}

	if err := RemoveLoad(path, "foo"); err != nil {
		t.Fatal(err)
	}
	if err := RemoveLoad(path, "foo"); err != nil {
		t.Fatal(err)
	}

	names, err = ReadLoaderIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("unload twice must leave none, got %v", names)
	}
}

func TestLoaderIndexKeepsOtherEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), LoaderIndexName)

	for _, name := range []string{"a", "b", "c"} {
		if err := AddLoad(path, name); err != nil {
			t.Fatal(err)
		}
	}
	if err := RemoveLoad(path, "b"); err != nil {
		t.Fatal(err)
	}

	names, _ := ReadLoaderIndex(path)
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Fatalf("got %v", names)
	}
}

func TestPluginMarkerFlip(t *testing.T) {
	dir := t.TempDir()
	if err := WritePluginMarker(dir, true); err != nil {
		t.Fatal(err)
	}

	if err := SetPluginEnabled(dir, false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, PluginMarkerDisabled)); err != nil {
		t.Error("expected the disabled marker")
	}
	if _, err := os.Stat(filepath.Join(dir, PluginMarker)); !os.IsNotExist(err) {
		t.Error("enabled marker must be gone")
	}

	// Disabling twice stays put.
	if err := SetPluginEnabled(dir, false); err != nil {
		t.Fatal(err)
	}

	if err := SetPluginEnabled(dir, true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, PluginMarker)); err != nil {
		t.Error("expected the enabled marker")
	}

	// A package without a plugin is a no-op.
	if err := SetPluginEnabled(filepath.Join(dir, "nonexistent"), true); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
