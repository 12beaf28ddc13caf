// Package repository defines the marker store and event log contracts.
package repository

import (
	"context"

	marker "github.com/okian/beacon/internal/domain/marker"
)

// Store provides read/write access to the reconciled marker state.
//
// The write operations take the VoteEvent produced by the vote that caused
// them: the marker write and the event append are a single atomic unit, so
// a marker change is never visible without its audit record.
type Store interface {
	// All returns a consistent snapshot of every marker, ordered by id.
	All(ctx context.Context) ([]marker.Marker, error)

	// Get returns a single marker by id.
	// Returns ErrNotFound if the marker is unknown.
	Get(ctx context.Context, id string) (marker.Marker, error)

	// FindWithinRadius returns every marker within radiusMeters of the
	// given point, measured by exact great-circle distance (inclusive).
	// An empty statuses list matches all statuses.
	FindWithinRadius(ctx context.Context, lat, lon, radiusMeters float64, statuses ...marker.Status) ([]marker.Marker, error)

	// Create inserts a new marker at the given position with a fresh unique
	// id. The creating event's color seeds the press counters and its
	// timestamp becomes CreatedAt/LastActionAt; the event's MarkerID is
	// filled in with the assigned id before it is appended.
	Create(ctx context.Context, lat, lon float64, status marker.Status, event marker.VoteEvent) (marker.Marker, error)

	// Update applies the mutation to an existing marker and appends the
	// event atomically. Returns the updated marker, or ErrNotFound.
	Update(ctx context.Context, id string, mut marker.Mutation, event marker.VoteEvent) (marker.Marker, error)

	// Remove deletes a marker permanently and appends the event atomically.
	// The marker's history stays readable after removal.
	// Returns ErrNotFound if the marker is unknown.
	Remove(ctx context.Context, id string, event marker.VoteEvent) error

	// Count returns the number of markers currently stored.
	Count(ctx context.Context) int

	// Close releases the store's resources.
	Close() error
}

// EventLog provides access to the immutable vote audit trail.
type EventLog interface {
	// Append records one event. Only needed for writes that are not already
	// coupled to a marker write, such as replaying a captured trail.
	Append(ctx context.Context, event marker.VoteEvent) error

	// HistoryFor returns the events recorded against a marker in the order
	// they happened. Markers with no recorded events yield an empty slice.
	HistoryFor(ctx context.Context, markerID string) ([]marker.VoteEvent, error)

	// LatestFor returns the most recent event recorded against a marker.
	// Returns ErrNoEvents when the marker has no history.
	LatestFor(ctx context.Context, markerID string) (marker.VoteEvent, error)
}
