//go:build unix

package project

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/matzehuels/zion/pkg/errors"
)

// FileLocker holds an exclusive flock on a file for the duration of a flow.
// The kernel drops the lock if the process dies, so an orphaned lock file
// is harmless.
type FileLocker struct {
	Path string
}

// NewFileLocker returns a locker for path.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{Path: path}
}

// Lock implements Locker.
func (l *FileLocker) Lock() (func(), error) {
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodePreconditionMissing, err, "project directory %s does not exist", filepath.Dir(l.Path))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "open lock file %s", l.Path)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "flock %s", l.Path)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
