// Package lock serializes rebuild passes across processes with an advisory
// flock on a well-known file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("rebuild already in progress")

// Lock is a held rebuild lock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the lock without blocking and records owner in the file.
func Acquire(path, owner string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			holder, _ := Holder(path)
			return nil, fmt.Errorf("%w (held by %s)", ErrLocked, holder)
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(fmt.Sprintf("%s pid=%d\n", owner, os.Getpid())), 0)
	}
	return &Lock{path: path, file: f}, nil
}

// Holder returns what the current or last holder wrote into the lock file.
func Holder(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Release unlocks and closes the file. The file itself is left in place so
// that concurrent acquirers always contend on the same inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
