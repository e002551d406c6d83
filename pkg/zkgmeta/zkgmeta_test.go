package zkgmeta

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"zkg/pkg/pm"
)

func writeMeta(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFullMetadata(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, MetadataFilename, `[package]
description = Detect interesting traffic
tags = detection, traffic
credits = Alice <alice@example.com>
aliases = foo, oldfoo
script_dir = scripts
plugin_dir = build
executables = bin/foo-tool
config_files = scripts/config.zeek
build_command = ./configure --zeek-dist=%(zeek_dist)s && make
test_command = btest -c btest.cfg
user_vars =
	LIBDIR [/usr/lib] "Path to the library"
depends =
	zeek >=4.0.0
	https://example.com/alice/bar >=1.0.0
suggests =
	baz *
`)

	meta, file, err := Load(dir, "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(file) != MetadataFilename {
		t.Errorf("expected %s, got %s", MetadataFilename, file)
	}

	if meta.Description != "Detect interesting traffic" {
		t.Errorf("bad description: %q", meta.Description)
	}
	if len(meta.Tags) != 2 || meta.Tags[1] != "traffic" {
		t.Errorf("bad tags: %v", meta.Tags)
	}
	if len(meta.Aliases) != 2 || meta.Aliases[0] != "foo" {
		t.Errorf("bad aliases: %v", meta.Aliases)
	}
	if meta.ScriptDir != "scripts" || meta.PluginDir != "build" {
		t.Errorf("bad dirs: %q %q", meta.ScriptDir, meta.PluginDir)
	}

	if len(meta.UserVars) != 1 {
		t.Fatalf("expected 1 user var, got %v", meta.UserVars)
	}
	uv := meta.UserVars[0]
	if uv.Name != "LIBDIR" || uv.Default != "/usr/lib" || uv.Description != "Path to the library" {
		t.Errorf("bad user var: %+v", uv)
	}

	if len(meta.Depends) != 2 {
		t.Fatalf("expected 2 depends, got %v", meta.Depends)
	}
	if meta.Depends[0].Kind != pm.DependPlatform || meta.Depends[0].Constraint != ">=4.0.0" {
		t.Errorf("bad platform dep: %+v", meta.Depends[0])
	}
	if meta.Depends[1].Kind != pm.DependPackage || meta.Depends[1].Name != "https://example.com/alice/bar" {
		t.Errorf("bad package dep: %+v", meta.Depends[1])
	}
	if len(meta.Suggests) != 1 || meta.Suggests[0].Constraint != "*" {
		t.Errorf("bad suggests: %v", meta.Suggests)
	}
}

func TestLoadPrefersModernFilename(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, LegacyMetadataFilename, "[package]\ndescription = old\n")
	writeMeta(t, dir, MetadataFilename, "[package]\ndescription = new\n")

	meta, file, err := Load(dir, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(file) != MetadataFilename {
		t.Errorf("expected modern file, got %s", file)
	}
	if meta.Description != "new" {
		t.Errorf("expected modern metadata, got %q", meta.Description)
	}
}

func TestLoadLegacyFilename(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, LegacyMetadataFilename, "[package]\ndescription = legacy\n")

	meta, _, err := Load(dir, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Description != "legacy" {
		t.Errorf("got %q", meta.Description)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(t.TempDir(), "foo")
	var metaErr *pm.BadMetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected BadMetadataError, got %v", err)
	}
	if metaErr.Package != "foo" {
		t.Errorf("error should name the package: %+v", metaErr)
	}
}

func TestLoadMissingPackageSection(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, MetadataFilename, "[template]\nsource = x\n")

	_, _, err := Load(dir, "foo")
	var metaErr *pm.BadMetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected BadMetadataError, got %v", err)
	}
	if metaErr.Field != "package" {
		t.Errorf("error should name the missing section: %+v", metaErr)
	}
}

func TestLoadInvalidAlias(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, MetadataFilename, "[package]\naliases = ok, not/ok\n")

	_, _, err := Load(dir, "foo")
	var metaErr *pm.BadMetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected BadMetadataError, got %v", err)
	}
	if metaErr.Field != "aliases" {
		t.Errorf("error should name the aliases field: %+v", metaErr)
	}
}

func TestParseUserVarsMalformed(t *testing.T) {
	_, err := ParseUserVars("foo", `BADLY FORMED`)
	var metaErr *pm.BadMetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected BadMetadataError, got %v", err)
	}
}

func TestParseUserVarsMultiple(t *testing.T) {
	uvars, err := ParseUserVars("foo", `A [1] "first" B [2] "second"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(uvars) != 2 || uvars[1].Name != "B" || uvars[1].Default != "2" {
		t.Errorf("got %+v", uvars)
	}
}

func TestTemplateRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, MetadataFilename, "[package]\ndescription = from template\n")

	rec := &pm.TemplateRecord{
		Source:   "https://example.com/templates/base",
		Commit:   "abc123def456abc123def456abc123def456abcd",
		Version:  "1.2.0",
		ZkgVer:   "3.0.0",
		Features: []string{"readme"},
		UserVars: map[string]string{"name": "test3"},
	}
	if err := WriteTemplateRecord(dir, rec); err != nil {
		t.Fatal(err)
	}

	meta, _, err := Load(dir, "test3")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Description != "from template" {
		t.Errorf("existing metadata clobbered: %q", meta.Description)
	}
	got := meta.Template
	if got == nil {
		t.Fatal("no template record parsed")
	}
	if got.Source != rec.Source || got.Commit != rec.Commit || got.ZkgVer != rec.ZkgVer {
		t.Errorf("record mismatch: %+v", got)
	}
	if len(got.Features) != 1 || got.Features[0] != "readme" {
		t.Errorf("features mismatch: %v", got.Features)
	}
	if got.UserVars["name"] != "test3" {
		t.Errorf("user vars mismatch: %v", got.UserVars)
	}
}
