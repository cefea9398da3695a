// Package instance guards a database against concurrent scanner processes.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockName is the lock file created next to the database.
const LockName = "wardarr.lock"

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another wardarr process is using this database")

// Lock is an exclusive advisory lock tied to a database directory.
type Lock struct {
	path string
	fl   *flock.Flock
}

// PathFor returns the lock path for the database at dbPath.
func PathFor(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), LockName)
}

// Acquire takes the lock for dbPath without blocking.
func Acquire(dbPath string) (*Lock, error) {
	path := PathFor(dbPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
