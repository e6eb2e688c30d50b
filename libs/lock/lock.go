// Package lock serializes work per key (a slot id, a provider id) within one
// process or across service instances.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// context or the locker's wait budget ran out.
var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Noop hands out locks without coordination. Storage-level guards still apply.
type Noop struct{}

func (Noop) Lock(context.Context, string) (Unlock, error) {
	return func() {}, nil
}
