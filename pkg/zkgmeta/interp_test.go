package zkgmeta

import (
	"errors"
	"strings"
	"testing"

	"zkg/pkg/pm"
)

func TestInterpolateSimple(t *testing.T) {
	got, err := Interpolate("foo", "install --prefix=%(prefix)s", map[string]string{"prefix": "/opt"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "install --prefix=/opt" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateRecursive(t *testing.T) {
	env := map[string]string{
		"root":   "/opt",
		"prefix": "%(root)s/zeek",
	}
	got, err := Interpolate("foo", "%(prefix)s/bin", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/opt/zeek/bin" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolateUndefined(t *testing.T) {
	_, err := Interpolate("foo", "%(nope)s", map[string]string{})
	var metaErr *pm.BadMetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected BadMetadataError, got %v", err)
	}
	if metaErr.Field != "nope" {
		t.Errorf("error should name the reference: %+v", metaErr)
	}
}

func TestInterpolateCycle(t *testing.T) {
	env := map[string]string{
		"a": "%(b)s",
		"b": "%(a)s",
	}
	_, err := Interpolate("foo", "%(a)s", env)
	var metaErr *pm.BadMetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected BadMetadataError, got %v", err)
	}
	if !strings.Contains(metaErr.Reason, "a -> b -> a") {
		t.Errorf("error should name the cycle: %q", metaErr.Reason)
	}
}

func TestInterpolateSelfReference(t *testing.T) {
	_, err := Interpolate("foo", "%(a)s", map[string]string{"a": "x%(a)s"})
	var metaErr *pm.BadMetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected BadMetadataError, got %v", err)
	}
}

func TestInterpolationEnvPriority(t *testing.T) {
	env := InterpolationEnv(
		map[string]string{"script_dir": "/paths"},
		map[string]string{"LAST_VAR": "/home/x/sandbox", "script_dir": "/uservars"},
		map[string]string{"LAST_VAR": "/home/x/sandbox2"},
		"/dist", "/clones/foo")

	if env["LAST_VAR"] != "/home/x/sandbox2" {
		t.Errorf("overrides must win: %q", env["LAST_VAR"])
	}
	if env["script_dir"] != "/paths" {
		t.Errorf("paths must win over user vars: %q", env["script_dir"])
	}
	if env["zeek_dist"] != "/dist" || env["bro_dist"] != "/dist" {
		t.Errorf("distribution path must appear under both names: %v", env)
	}
	if env["package_base"] != "/clones/foo" {
		t.Errorf("package_base missing: %v", env)
	}
}
