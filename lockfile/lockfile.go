// Package lockfile keeps two instances of the collection agent from running
// at once by holding an exclusive advisory lock on a file path chosen by
// the caller. The lock file holds no PID.
package lockfile

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Acquire when another process already
// holds the lock.
var ErrAlreadyRunning = errors.New("lockfile: another instance is already running")

// Lock wraps a held advisory file lock. Release must be called to give it
// up; an unreleased Lock held by a crashed process is cleared by the OS
// when its file descriptor closes.
type Lock struct {
	fl *flock.Flock
}

// Acquire attempts to take an exclusive, non-blocking lock on path. It
// returns ErrAlreadyRunning if the lock is already held.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lockfile: %s: %w", path, err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	return &Lock{fl: fl}, nil
}

// Release gives up the lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
