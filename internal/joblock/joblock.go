// Package joblock provides a simple lock-file guard so overlapping batch
// invocations (cron plus a manual run) do not interleave writes.
package joblock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultMaxAge is how old a lock file may be before it is presumed left
// behind by a crashed run and broken.
const DefaultMaxAge = 2 * time.Hour

// ErrHeld means another live run holds the lock.
var ErrHeld = errors.New("job lock is held by another run")

// Lock is an acquired lock file.
type Lock struct {
	path string
}

// Acquire takes the lock at path. A lock file older than maxAge is treated
// as stale and broken; maxAge <= 0 uses DefaultMaxAge.
func Acquire(path string, maxAge time.Duration) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("joblock: empty path")
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if err := tryCreate(path); err == nil {
		return &Lock{path: path}, nil
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("joblock: create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our create and stat; take over.
			if err := tryCreate(path); err != nil {
				return nil, ErrHeld
			}
			return &Lock{path: path}, nil
		}
		return nil, fmt.Errorf("joblock: stat %s: %w", path, err)
	}
	if time.Since(info.ModTime()) < maxAge {
		return nil, ErrHeld
	}
	// Stale lock from a dead run.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("joblock: break stale lock %s: %w", path, err)
	}
	if err := tryCreate(path); err != nil {
		return nil, ErrHeld
	}
	return &Lock{path: path}, nil
}

func tryCreate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	return f.Close()
}

// Release removes the lock file. Safe to call on a nil lock.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("joblock: release %s: %w", l.path, err)
	}
	return nil
}
