package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by Lock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another faceshell instance is already running")

// InstanceLock guards against two shells binding the same port.
type InstanceLock struct {
	path string
	lock *flock.Flock
}

// DefaultLockPath returns the lock file used when none is configured.
func DefaultLockPath() string {
	return filepath.Join(os.TempDir(), "faceshell.lock")
}

// NewInstanceLock creates an unacquired lock on path.
func NewInstanceLock(path string) *InstanceLock {
	if path == "" {
		path = DefaultLockPath()
	}
	return &InstanceLock{path: path, lock: flock.New(path)}
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string { return l.path }

// Lock acquires the lock without blocking.
func (l *InstanceLock) Lock() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	return nil
}

// Unlock releases the lock. It is safe to call when not held.
func (l *InstanceLock) Unlock() error {
	return l.lock.Unlock()
}
