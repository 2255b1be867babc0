package project

// LockFileName is the advisory lock file at the project root.
const LockFileName = ".zion.flock"

// Locker serializes mutating flows on one project across processes.
type Locker interface {
	// Lock blocks until the lock is held and returns the release function.
	Lock() (unlock func(), err error)
}

// NopLocker never blocks. It is used for in-memory filesystems and on
// platforms without flock.
type NopLocker struct{}

// Lock implements Locker.
func (NopLocker) Lock() (func(), error) { return func() {}, nil }
