package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Lock is an exclusive, non-blocking advisory lock on the camera device,
// implemented as a flock on a lock file derived from the device path.
// Two concurrent login sessions never read interleaved frames: the second
// one fails fast with ErrCameraBusy instead of queuing.
type Lock struct {
	path string
	file *os.File
}

// NewLock creates a lock handle for the given device. The lock is not
// acquired until Acquire is called.
func NewLock(lockDir, device string) *Lock {
	name := strings.ReplaceAll(strings.TrimPrefix(device, "/"), "/", "-")
	return &Lock{path: filepath.Join(lockDir, "facegate-"+name+".lock")}
}

// Acquire takes the lock without blocking. Returns ErrCameraBusy if
// another process holds it.
func (l *Lock) Acquire() error {
	if l.file != nil {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("%w: opening lock file %s: %v", ErrCameraUnavailable, l.path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return ErrCameraBusy
		}
		return fmt.Errorf("%w: locking %s: %v", ErrCameraUnavailable, l.path, err)
	}

	l.file = f
	return nil
}

// Release drops the lock. Idempotent; safe to defer on every exit path.
func (l *Lock) Release() {
	if l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
