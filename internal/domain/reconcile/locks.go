// Package reconcile implements the vote reconciliation engine.
package reconcile

import (
	"context"
	"sync"
)

// keyedMutex serializes work per marker id. Entries are created on demand
// and removed when the last holder or waiter lets go, so the map does not
// grow with every marker ever touched.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// lockEntry is one marker's lock. Holding the buffered token means holding
// the lock; refs counts holders plus waiters.
type lockEntry struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the key's lock is held or ctx is done.
// It returns false when the context expired first.
func (k *keyedMutex) acquire(ctx context.Context, key string) bool {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return true
	case <-ctx.Done():
		k.unref(key)
		return false
	}
}

// release unlocks the key. Must only follow a successful acquire.
func (k *keyedMutex) release(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	<-e.ch
	k.unref(key)
}

// unref drops one reference and deletes the entry once nobody uses it.
func (k *keyedMutex) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// size returns the number of live lock entries.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
