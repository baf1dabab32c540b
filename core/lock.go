package core

import (
	"context"
	"errors"
	"strings"
)

// Locker provides mutual exclusion per key. Implementations live in the
// lock package: an in-process keyed mutex and a Redis lock for deployments
// running more than one replica.
//
// Lock blocks until the key is held, ctx is done, or the implementation
// gives up; giving up must return an error wrapping ErrConcurrentModification.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LockKey joins parts into a lock key, e.g. "stock:RM1:Blenze Pro PDB|2025|L1".
func LockKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// WithRetry runs fn up to attempts times while it fails with a retryable
// error. Any other outcome is returned immediately.
func WithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(err, ctxErr)
		}
	}
	return err
}
