// Package lockfile guards the state directory against concurrent engine
// invocations with an advisory flock. Read-only operations skip it; every
// mutating operation holds it for its whole duration. The kernel releases
// the lock if the process crashes.
package lockfile

import (
	"os"
	"path/filepath"

	"zkg/pkg/pm"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Lock is a held state-directory lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the advisory lock at path without blocking. A lock held
// by another instance yields pm.LockError.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create state directory")
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire lock %s", path)
	}
	if !ok {
		return nil, &pm.LockError{Path: path}
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call on a nil receiver so callers can
// defer it unconditionally.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
