package gittest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDriverCloneCheckoutTags(t *testing.T) {
	d := NewDriver()
	ctx := context.Background()
	url := "https://example.com/a/foo"

	d.AddRepo(url, Tree{"a.txt": "v-main\n"})
	d.Tag(url, "1.0.0", Tree{"a.txt": "v1\n"})
	d.SetBranch(url, "dev", Tree{"a.txt": "v-dev\n", "dev-only.txt": "x\n"})

	dest := filepath.Join(t.TempDir(), "foo")
	if err := d.Clone(ctx, url, dest, false); err != nil {
		t.Fatal(err)
	}

	read := func() string {
		data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
		if err != nil {
			t.Fatal(err)
		}
		return string(data)
	}

	if read() != "v-main\n" {
		t.Errorf("clone must check out the default branch, got %q", read())
	}

	tags, err := d.ListTags(ctx, dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 1 || tags[0] != "1.0.0" {
		t.Errorf("got %v", tags)
	}

	if err := d.Checkout(ctx, dest, "1.0.0"); err != nil {
		t.Fatal(err)
	}
	if read() != "v1\n" {
		t.Errorf("got %q", read())
	}

	if err := d.Checkout(ctx, dest, "dev"); err != nil {
		t.Fatal(err)
	}
	if read() != "v-dev\n" {
		t.Errorf("got %q", read())
	}

	// Checkout clears files not in the target tree.
	if err := d.Checkout(ctx, dest, "1.0.0"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, "dev-only.txt")); !os.IsNotExist(err) {
		t.Error("stale file survived checkout")
	}

	hash, err := d.CurrentCommit(ctx, dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(hash) != 40 {
		t.Errorf("got %q", hash)
	}

	url2, err := d.RemoteURL(ctx, dest)
	if err != nil || url2 != url {
		t.Errorf("got %q, %v", url2, err)
	}
}

func TestDriverBranchTipMoves(t *testing.T) {
	d := NewDriver()
	ctx := context.Background()
	url := "https://example.com/a/foo"
	d.AddRepo(url, Tree{"a.txt": "one\n"})

	dest := filepath.Join(t.TempDir(), "foo")
	if err := d.Clone(ctx, url, dest, false); err != nil {
		t.Fatal(err)
	}
	before, _ := d.CurrentCommit(ctx, dest)

	d.SetBranch(url, "main", Tree{"a.txt": "two\n"})
	if err := d.Checkout(ctx, dest, "main"); err != nil {
		t.Fatal(err)
	}
	after, _ := d.CurrentCommit(ctx, dest)

	if before == after {
		t.Error("moving the branch tip must change the commit hash")
	}
}

func TestDriverTransientFailures(t *testing.T) {
	d := NewDriver()
	url := "https://example.com/a/foo"
	d.AddRepo(url, Tree{"a.txt": "x\n"})

	d.FailFetches = 1
	dest := filepath.Join(t.TempDir(), "foo")
	if err := d.Clone(context.Background(), url, dest, false); err == nil {
		t.Fatal("expected the injected failure")
	}
	if err := d.Clone(context.Background(), url, dest, false); err != nil {
		t.Fatalf("second attempt must succeed: %v", err)
	}
}
