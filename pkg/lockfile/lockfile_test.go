package lockfile

import (
	"errors"
	"path/filepath"
	"testing"

	"zkg/pkg/pm"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", ".lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}

	// Reacquire after release works.
	lock, err = Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	lock, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, err = Acquire(path)
	var lockErr *pm.LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockError, got %v", err)
	}
}

func TestReleaseNilIsSafe(t *testing.T) {
	var lock *Lock
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
}
