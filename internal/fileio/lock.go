package fileio

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/untoldecay/scribe/internal/fault"
)

// lockPollInterval is how often lock acquisition retries.
const lockPollInterval = 100 * time.Millisecond

// LockPath returns the sibling lock file for a target. The lock lives in
// a separate file so it survives rename and rotation of the target.
func LockPath(target string) string {
	return target + ".lock"
}

// WithLock runs fn while holding the advisory lock for target. It polls
// every 100ms up to timeout and fails with LockTimeout afterwards.
func WithLock(target string, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fault.Wrap(fault.CodeLockTimeout, err, "cannot create directory for %s", target)
	}

	fl := flock.New(LockPath(target))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, lockPollInterval)
	if err != nil && ctx.Err() == nil {
		return fault.Wrap(fault.CodeLockTimeout, err, "lock acquisition failed for %s", target)
	}
	if !locked {
		return fault.New(fault.CodeLockTimeout, "could not lock %s within %s", target, timeout).
			WithSuggestion("another process holds the lock; retry or raise lock_timeout_seconds")
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}
