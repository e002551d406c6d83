package zkgmeta

import (
	"errors"
	"testing"

	"zkg/pkg/pm"
)

func TestParseDependsKinds(t *testing.T) {
	deps, err := ParseDepends("foo", "depends", `
zeek >=4.0.0
bro-pkg >=2.0
bar branch=dev
https://example.com/alice/baz *
corge =1.2.3
`)
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		name string
		kind pm.DependKind
		spec string
	}{
		{"zeek", pm.DependPlatform, ">=4.0.0"},
		{"bro-pkg", pm.DependManager, ">=2.0"},
		{"bar", pm.DependPackage, "branch=dev"},
		{"https://example.com/alice/baz", pm.DependPackage, "*"},
		{"corge", pm.DependPackage, "=1.2.3"},
	}
	if len(deps) != len(want) {
		t.Fatalf("got %d deps: %+v", len(deps), deps)
	}
	for i, w := range want {
		if deps[i].Name != w.name || deps[i].Kind != w.kind || deps[i].Constraint != w.spec {
			t.Errorf("dep %d: got %+v, want %+v", i, deps[i], w)
		}
	}
}

func TestParseDependsInvalidConstraint(t *testing.T) {
	_, err := ParseDepends("foo", "depends", "bar not-a-version")
	var metaErr *pm.BadMetadataError
	if !errors.As(err, &metaErr) {
		t.Fatalf("expected BadMetadataError, got %v", err)
	}
}

func TestBranchConstraint(t *testing.T) {
	if got := BranchConstraint("branch=dev"); got != "dev" {
		t.Errorf("got %q", got)
	}
	if got := BranchConstraint(">=1.0.0"); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestConstraintSatisfied(t *testing.T) {
	cases := []struct {
		constraint, tag string
		want            bool
	}{
		{"*", "v0.0.1", true},
		{">=1.0.0", "2.0.0", true},
		{">=1.0.0", "v2.0.0", true},
		{">=1.0.0", "0.9.0", false},
		{"=1.0.0", "1.0.0", true},
		{"=1.0.0", "1.0.1", false},
		{"branch=dev", "1.0.0", false},
		{">=1.0.0", "not-a-tag", false},
	}
	for _, c := range cases {
		if got := ConstraintSatisfied(c.constraint, c.tag); got != c.want {
			t.Errorf("ConstraintSatisfied(%q, %q) = %v, want %v", c.constraint, c.tag, got, c.want)
		}
	}
}
