//go:build linux || darwin

package vault

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock is an OS advisory lock (flock(2)) held for the duration of one
// vault or audit file operation. Exclusive locks guard writes; shared locks
// guard reads. The lock is independent of the in-process readers/writer
// lock — callers take the process lock first, then the file lock.
type fileLock struct {
	f *os.File
}

func lockFile(path string, exclusive bool) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s for locking: %w", path, err)
	}
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
