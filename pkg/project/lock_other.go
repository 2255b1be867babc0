//go:build !unix

package project

// FileLocker is a no-op where flock is unavailable.
type FileLocker struct {
	Path string
}

// NewFileLocker returns a locker for path.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{Path: path}
}

// Lock implements Locker.
func (l *FileLocker) Lock() (func(), error) { return func() {}, nil }
