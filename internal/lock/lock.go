// Package lock enforces single-master-per-instance using an exclusive
// advisory flock on a well-known lock file. The lock file itself is never
// deleted; the OS releases the advisory lock when the holding process
// exits, so a leftover file from a previous run is harmless.
package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning indicates another master for the same instance name
// holds the lock on this host.
var ErrAlreadyRunning = errors.New("already running")

// FileLock is a held exclusive lock on a file.
type FileLock struct {
	path string
	f    *os.File
}

// Acquire opens (creating if absent, mode 0600) and flocks the file at
// path without blocking. On contention it returns ErrAlreadyRunning
// wrapped with an operator-facing message. The lock is held until
// Release is called or the process exits.
func Acquire(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("cannot open lock file: %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("is another einhorn master running for this instance? lock held on %s: %w", path, ErrAlreadyRunning)
		}
		return nil, fmt.Errorf("cannot lock %s: %w", path, err)
	}

	return &FileLock{path: path, f: f}, nil
}

// Release drops the lock and closes the file handle. The file stays on
// disk. Safe to call more than once.
func (l *FileLock) Release() {
	if l.f == nil {
		return
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
	l.f = nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// AcquireAndRun acquires the lock, runs action, and releases the lock on
// every exit path from action. It exists to make check-then-bind
// sequences atomic with respect to other instances.
func AcquireAndRun(path string, action func() error) error {
	l, err := Acquire(path)
	if err != nil {
		return err
	}
	defer l.Release()
	return action()
}
