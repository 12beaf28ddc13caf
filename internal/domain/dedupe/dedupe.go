// Package dedupe tracks already-seen vote ids for idempotent submission.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Default cache size.
const defaultMaxSize = 50000

// Deduper records seen vote ids to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	// This is the ONLY method for deduplication - thread-safe and atomic.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an id from the seen list, allowing it to be retried.
	// This should only be used when a vote was marked as seen but failed to
	// be processed (e.g. queue backpressure).
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper implements Deduper with FIFO eviction.
//
// Bounded mode (maxSize > 0) keeps ids in a circular buffer: inserting into
// an occupied slot evicts whatever id was recorded there maxSize inserts
// ago, so the oldest recorded id always goes first. The map remembers which
// slot holds an id's live entry, so a stale slot left behind by Unrecord
// plus re-record never evicts the newer entry. Unbounded mode (maxSize <= 0)
// is a plain map with no eviction.
type inMemoryDeduper struct {
	mu      sync.RWMutex
	seen    map[string]int // id -> live ring slot, -1 in unbounded mode
	ring    []string       // insertion order, cursor marks the oldest slot
	cursor  int
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, d.maxSize)
	}

	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
// Returns true if id was already seen, false if it was newly recorded.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	slot := -1
	if d.maxSize > 0 {
		// The slot under the cursor holds the oldest insertion; evict it
		// unless it went stale (Unrecord removed the id, or the id was
		// re-recorded and lives in a newer slot).
		if victim := d.ring[d.cursor]; victim != "" {
			if at, live := d.seen[victim]; live && at == d.cursor {
				delete(d.seen, victim)
				d.size.Add(-1)
			}
		}
		slot = d.cursor
		d.ring[d.cursor] = id
		d.cursor = (d.cursor + 1) % d.maxSize
	}
	d.seen[id] = slot
	d.size.Add(1)
	return false
}

// Unrecord removes an id from the seen list, allowing it to be retried.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; !exists {
		return
	}
	delete(d.seen, id)
	d.size.Add(-1)
	// The ring slot keeps the stale id until the cursor reclaims it.
}

// Size returns the current number of recorded ids.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
