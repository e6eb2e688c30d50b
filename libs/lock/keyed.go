package lock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedMutex is an in-process Locker with one weighted semaphore per key.
// Entries are reference counted and dropped once no caller holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	entry := k.acquireRef(key)
	if err := entry.sem.Acquire(ctx, 1); err != nil {
		k.releaseRef(key)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			k.releaseRef(key)
		})
	}, nil
}

// Len reports how many keys are currently tracked.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (k *KeyedMutex) acquireRef(key string) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{sem: semaphore.NewWeighted(1)}
		k.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (k *KeyedMutex) releaseRef(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.locks[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
}
