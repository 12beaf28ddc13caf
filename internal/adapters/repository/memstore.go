// Package repository defines the marker store and event log contracts.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	geo "github.com/okian/beacon/internal/domain/geo"
	marker "github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/pkg/metrics"
)

// In-memory Store and EventLog implementation.
//
// Markers live in an id-keyed map; proximity queries scan the map and
// filter by exact great-circle distance. The event log keeps per-marker
// slices in append order and retains them after the marker itself is
// removed, so the audit trail of a cleared marker stays readable.

// MemStore implements Store and EventLog in process memory.
type MemStore struct {
	mu      sync.RWMutex
	markers map[string]marker.Marker
	events  map[string][]marker.VoteEvent
	idFn    func() string
	nowFn   func() time.Time
}

// NewMemStore constructs an empty in-memory store with configuration options.
func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{
		markers: make(map[string]marker.Marker),
		events:  make(map[string][]marker.VoteEvent),
		idFn:    uuid.NewString,
		nowFn:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// All returns a snapshot of every marker ordered by id.
func (s *MemStore) All(ctx context.Context) ([]marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("all", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]marker.Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a single marker by id.
func (s *MemStore) Get(ctx context.Context, id string) (marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("get", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markers[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return marker.Marker{}, ErrNotFound
	}
	return m, nil
}

// FindWithinRadius returns markers within radiusMeters of the point,
// matched by exact great-circle distance (inclusive bound).
func (s *MemStore) FindWithinRadius(ctx context.Context, lat, lon, radiusMeters float64, statuses ...marker.Status) ([]marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("find", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if radiusMeters <= 0 {
		metrics.RecordErrorByComponent("repository", "invalid_radius")
		return nil, ErrInvalidRadius
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]marker.Marker, 0, 8)
	for _, m := range s.markers {
		if !statusMatch(m.Status, statuses) {
			continue
		}
		if geo.Distance(lat, lon, m.Latitude, m.Longitude) <= radiusMeters {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create inserts a new marker and appends its creating event atomically.
func (s *MemStore) Create(ctx context.Context, lat, lon float64, status marker.Status, event marker.VoteEvent) (marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("create", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if !status.Valid() || !event.Color.Valid() {
		metrics.RecordErrorByComponent("repository", "invalid_marker")
		return marker.Marker{}, fmt.Errorf("create marker: %w", ErrInvalidMarker)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := event.Timestamp
	if ts.IsZero() {
		ts = s.nowFn().UTC()
		event.Timestamp = ts
	}

	m := marker.Marker{
		ID:           s.idFn(),
		Latitude:     lat,
		Longitude:    lon,
		Status:       status,
		CreatedAt:    ts,
		LastActionAt: ts,
	}
	// The creating vote is the marker's first press.
	if event.Color == marker.ColorRed {
		m.RedPressCount = 1
	} else {
		m.GreenPressCount = 1
	}

	event.MarkerID = m.ID
	s.markers[m.ID] = m
	s.events[m.ID] = append(s.events[m.ID], event)
	metrics.IncrementEventLogAppends()
	return m, nil
}

// Update applies a mutation to an existing marker and appends the event
// atomically.
func (s *MemStore) Update(ctx context.Context, id string, mut marker.Mutation, event marker.VoteEvent) (marker.Marker, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("update", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if mut.Status != nil && !mut.Status.Valid() {
		metrics.RecordErrorByComponent("repository", "invalid_marker")
		return marker.Marker{}, fmt.Errorf("update marker %s: %w", id, ErrInvalidMarker)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markers[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return marker.Marker{}, ErrNotFound
	}

	if mut.Status != nil {
		m.Status = *mut.Status
	}
	if mut.ConfirmationCount != nil {
		m.ConfirmationCount = *mut.ConfirmationCount
	}
	if mut.LastActionAt != nil {
		m.LastActionAt = *mut.LastActionAt
	}
	if mut.IncrementRed {
		m.RedPressCount++
	}
	if mut.IncrementGreen {
		m.GreenPressCount++
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.nowFn().UTC()
	}

	s.markers[id] = m
	s.events[id] = append(s.events[id], event)
	metrics.IncrementEventLogAppends()
	return m, nil
}

// Remove deletes a marker permanently and appends the event atomically.
// The marker's event history stays readable.
func (s *MemStore) Remove(ctx context.Context, id string, event marker.VoteEvent) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("remove", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markers[id]; !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return ErrNotFound
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.nowFn().UTC()
	}

	delete(s.markers, id)
	s.events[id] = append(s.events[id], event)
	metrics.IncrementEventLogAppends()
	return nil
}

// Count returns the number of markers currently stored.
func (s *MemStore) Count(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}

// Close releases the store. The in-memory store holds no resources.
func (s *MemStore) Close() error {
	return nil
}

// Append records one event without a coupled marker write.
func (s *MemStore) Append(ctx context.Context, event marker.VoteEvent) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("append", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	if event.MarkerID == "" {
		metrics.RecordErrorByComponent("repository", "invalid_marker")
		return fmt.Errorf("append event: %w", ErrInvalidMarker)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = s.nowFn().UTC()
	}
	s.events[event.MarkerID] = append(s.events[event.MarkerID], event)
	metrics.IncrementEventLogAppends()
	return nil
}

// HistoryFor returns the events recorded against a marker in append order.
func (s *MemStore) HistoryFor(ctx context.Context, markerID string) ([]marker.VoteEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("history", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[markerID]
	out := make([]marker.VoteEvent, len(evs))
	copy(out, evs)
	return out, nil
}

// LatestFor returns the most recent event recorded against a marker.
func (s *MemStore) LatestFor(ctx context.Context, markerID string) (marker.VoteEvent, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreOpLatency("latest", float64(time.Since(start).Nanoseconds())/1e6)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[markerID]
	if len(evs) == 0 {
		return marker.VoteEvent{}, ErrNoEvents
	}
	return evs[len(evs)-1], nil
}

// statusMatch reports whether st passes the status filter. An empty filter
// matches everything.
func statusMatch(st marker.Status, statuses []marker.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if st == want {
			return true
		}
	}
	return false
}
