//go:build !windows

package sqlite

import "syscall"

// flockTryLock acquires an exclusive file lock without blocking (Unix
// implementation using flock). Fails immediately when another process
// holds the lock.
func flockTryLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX|syscall.LOCK_NB)
}

// flockUnlock releases the file lock (Unix implementation using flock).
func flockUnlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
