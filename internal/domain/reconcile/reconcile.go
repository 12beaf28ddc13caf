// Package reconcile implements the vote reconciliation engine.
//
// Every vote is matched against existing markers by great-circle distance.
// A marker strictly closer than the inner band edge absorbs the vote
// outright; markers inside the band are candidates for clearing (green votes
// against red markers) or confirmation (either color against orange markers);
// with no candidate the vote creates a new marker at its exact position.
// Clearing takes priority over confirmation. All changes to one marker are
// serialized through a per-marker lock, and every change lands in the audit
// trail together with the marker write.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/beacon/internal/domain/geo"
	"github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/pkg/logger"
	"github.com/okian/beacon/pkg/metrics"
)

// Default reconciliation configuration constants.
const (
	// DefaultMatchRadiusMin is the inner edge of the matching band in
	// meters. Markers strictly closer absorb a vote without a state change.
	DefaultMatchRadiusMin = 150.0

	// DefaultMatchRadiusMax is the outer edge of the matching band in meters.
	DefaultMatchRadiusMax = 300.0

	// DefaultConfirmationThreshold is how many matching confirmations an
	// orange marker needs before it resolves to a final color.
	DefaultConfirmationThreshold = 10

	defaultLockTimeout  = 2 * time.Second
	defaultStoreTimeout = 5 * time.Second
)

// Store is the marker state the engine reads and writes. Implementations
// report unknown markers with ErrNotFound.
type Store interface {
	// Get returns a single marker by id.
	Get(ctx context.Context, id string) (marker.Marker, error)

	// FindWithinRadius returns every marker within radiusMeters of the given
	// point by exact great-circle distance, inclusive. An empty statuses
	// list matches all statuses.
	FindWithinRadius(ctx context.Context, lat, lon, radiusMeters float64, statuses ...marker.Status) ([]marker.Marker, error)

	// Create inserts a new marker and appends its creating event atomically.
	Create(ctx context.Context, lat, lon float64, status marker.Status, event marker.VoteEvent) (marker.Marker, error)

	// Update applies the mutation and appends the event atomically.
	Update(ctx context.Context, id string, mut marker.Mutation, event marker.VoteEvent) (marker.Marker, error)

	// Remove deletes the marker and appends the event atomically.
	Remove(ctx context.Context, id string, event marker.VoteEvent) error
}

// EventLog is the slice of the audit trail the engine consults for a
// marker's implicit intent. Implementations report a marker without history
// with ErrNoHistory.
type EventLog interface {
	LatestFor(ctx context.Context, markerID string) (marker.VoteEvent, error)
}

// Engine reconciles votes against the marker map.
type Engine struct {
	store  Store
	events EventLog

	// Matching configuration
	radiusMin float64
	radiusMax float64
	threshold int

	// Per-marker serialization
	locks       *keyedMutex
	lockTimeout time.Duration

	// Bound on individual store calls
	storeTimeout time.Duration

	now    func() time.Time
	logger logger.Logger
}

// New creates a reconciliation engine with configuration options.
func New(store Store, events EventLog, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		events:       events,
		radiusMin:    DefaultMatchRadiusMin,
		radiusMax:    DefaultMatchRadiusMax,
		threshold:    DefaultConfirmationThreshold,
		locks:        newKeyedMutex(),
		lockTimeout:  defaultLockTimeout,
		storeTimeout: defaultStoreTimeout,
		now:          time.Now,
		logger:       logger.Get().Named("reconcile"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ValidateVote checks a vote before reconciliation. It returns
// ErrUnauthenticated for a blank reporter identity and ErrInvalidInput for
// out-of-range coordinates or an unknown color.
func ValidateVote(v marker.Vote) error {
	if strings.TrimSpace(v.ReporterID) == "" {
		return fmt.Errorf("%w: reporter id is required", ErrUnauthenticated)
	}
	if !geo.ValidPoint(v.Latitude, v.Longitude) {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidInput)
	}
	if !v.Color.Valid() {
		return fmt.Errorf("%w: unknown color %q", ErrInvalidInput, string(v.Color))
	}
	return nil
}

// Submit reconciles a single vote and reports what it did.
func (e *Engine) Submit(ctx context.Context, vote marker.Vote) (marker.Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordReconcileLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	if err := ValidateVote(vote); err != nil {
		metrics.IncrementVotesRejected(rejectReason(err))
		return marker.Outcome{}, err
	}

	out, err := e.decide(ctx, vote)
	if err != nil {
		metrics.RecordErrorByComponent("reconcile", errorLabel(err))
		e.logger.Error(ctx, "vote reconciliation failed",
			logger.String("voteID", vote.VoteID),
			logger.Error(err),
		)
		return marker.Outcome{}, err
	}

	metrics.IncrementOutcome(string(out.Kind))
	e.logger.Debug(ctx, "vote reconciled",
		logger.String("voteID", vote.VoteID),
		logger.String("kind", string(out.Kind)),
		logger.String("color", string(vote.Color)),
	)
	return out, nil
}

// candidate is a nearby marker with its exact distance to the vote.
type candidate struct {
	m        marker.Marker
	distance float64
}

// decide walks the decision order: absorption, clearing, confirmation,
// creation. The candidate list is sorted by (distance, id), so once the
// closest marker sits at or past the inner band edge, so does every other.
func (e *Engine) decide(ctx context.Context, vote marker.Vote) (marker.Outcome, error) {
	cands, err := e.findCandidates(ctx, vote)
	if err != nil {
		return marker.Outcome{}, err
	}

	now := e.now().UTC()

	if len(cands) > 0 && cands[0].distance < e.radiusMin {
		return e.absorb(ctx, vote, cands[0], now)
	}

	if vote.Color == marker.ColorGreen {
		for _, c := range cands {
			if c.m.Status == marker.StatusRed {
				return e.clear(ctx, vote, c, now)
			}
		}
	}

	for _, c := range cands {
		if c.m.Status == marker.StatusOrange {
			return e.confirm(ctx, vote, c, now)
		}
	}

	return e.create(ctx, vote, now)
}

// findCandidates loads every marker within the outer band edge and sorts it
// by distance, breaking ties on the lower id.
func (e *Engine) findCandidates(ctx context.Context, vote marker.Vote) ([]candidate, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	nearby, err := e.store.FindWithinRadius(opCtx, vote.Latitude, vote.Longitude, e.radiusMax)
	if err != nil {
		return nil, fmt.Errorf("%w: proximity scan: %v", ErrStorageUnavailable, err)
	}

	cands := make([]candidate, 0, len(nearby))
	for _, m := range nearby {
		cands = append(cands, candidate{
			m:        m,
			distance: geo.Distance(vote.Latitude, vote.Longitude, m.Latitude, m.Longitude),
		})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		return cands[i].m.ID < cands[j].m.ID
	})

	metrics.RecordProximityCandidates(float64(len(cands)))
	return cands, nil
}

// absorb folds a vote into a marker closer than the inner band edge. The
// marker keeps its status; the press and the audit record are still taken.
func (e *Engine) absorb(ctx context.Context, vote marker.Vote, target candidate, now time.Time) (marker.Outcome, error) {
	if !e.lock(ctx, target.m.ID) {
		return marker.Outcome{}, fmt.Errorf("%w: waiting for marker %s", ErrConcurrencyConflict, target.m.ID)
	}
	defer e.locks.release(target.m.ID)

	current, err := e.getMarker(ctx, target.m.ID)
	if err != nil {
		return marker.Outcome{}, err
	}

	ev := marker.VoteEvent{
		MarkerID:        current.ID,
		ReporterID:      vote.ReporterID,
		Color:           vote.Color,
		PriorStatus:     current.Status,
		ResultingStatus: current.Status,
		DistanceMeters:  target.distance,
		Timestamp:       now,
	}
	mut := marker.Mutation{
		LastActionAt:   &now,
		IncrementRed:   vote.Color == marker.ColorRed,
		IncrementGreen: vote.Color == marker.ColorGreen,
	}

	updated, err := e.updateMarker(ctx, current.ID, mut, ev)
	if err != nil {
		return marker.Outcome{}, err
	}

	return marker.Outcome{Kind: marker.OutcomeAbsorbed, Marker: &updated, Event: &ev}, nil
}

// clear removes the closest red marker for a green vote.
func (e *Engine) clear(ctx context.Context, vote marker.Vote, target candidate, now time.Time) (marker.Outcome, error) {
	if !e.lock(ctx, target.m.ID) {
		return marker.Outcome{}, fmt.Errorf("%w: waiting for marker %s", ErrConcurrencyConflict, target.m.ID)
	}
	defer e.locks.release(target.m.ID)

	current, err := e.getMarker(ctx, target.m.ID)
	if err != nil {
		return marker.Outcome{}, err
	}
	if current.Status != marker.StatusRed {
		return marker.Outcome{}, fmt.Errorf("%w: marker %s is no longer red", ErrConcurrencyConflict, current.ID)
	}

	ev := marker.VoteEvent{
		MarkerID:        current.ID,
		ReporterID:      vote.ReporterID,
		Color:           vote.Color,
		PriorStatus:     current.Status,
		ResultingStatus: marker.StatusCleared,
		DistanceMeters:  target.distance,
		Timestamp:       now,
	}

	if err := e.removeMarker(ctx, current.ID, ev); err != nil {
		return marker.Outcome{}, err
	}

	return marker.Outcome{
		Kind: marker.OutcomeCleared,
		Cleared: &marker.ClearedMarker{
			MarkerID:       current.ID,
			Latitude:       current.Latitude,
			Longitude:      current.Longitude,
			DistanceMeters: target.distance,
		},
		Event: &ev,
	}, nil
}

// confirm presses the closest orange marker. Every confirmation increments
// the pending count; the marker resolves to the vote's color once the vote
// matches the marker's implicit intent and the incremented count has reached
// the threshold.
func (e *Engine) confirm(ctx context.Context, vote marker.Vote, target candidate, now time.Time) (marker.Outcome, error) {
	if !e.lock(ctx, target.m.ID) {
		return marker.Outcome{}, fmt.Errorf("%w: waiting for marker %s", ErrConcurrencyConflict, target.m.ID)
	}
	defer e.locks.release(target.m.ID)

	current, err := e.getMarker(ctx, target.m.ID)
	if err != nil {
		return marker.Outcome{}, err
	}
	if current.Status != marker.StatusOrange {
		return marker.Outcome{}, fmt.Errorf("%w: marker %s is no longer orange", ErrConcurrencyConflict, current.ID)
	}

	intent, err := e.markerIntent(ctx, current.ID, vote.Color)
	if err != nil {
		return marker.Outcome{}, err
	}

	newCount := current.ConfirmationCount + 1
	resolved := intent == vote.Color && newCount >= e.threshold

	ev := marker.VoteEvent{
		MarkerID:        current.ID,
		ReporterID:      vote.ReporterID,
		Color:           vote.Color,
		PriorStatus:     current.Status,
		ResultingStatus: marker.StatusOrange,
		DistanceMeters:  target.distance,
		Timestamp:       now,
	}
	mut := marker.Mutation{
		ConfirmationCount: &newCount,
		LastActionAt:      &now,
		IncrementRed:      vote.Color == marker.ColorRed,
		IncrementGreen:    vote.Color == marker.ColorGreen,
	}

	kind := marker.OutcomeConfirmed
	if resolved {
		status := vote.Color.Status()
		zero := 0
		mut.Status = &status
		mut.ConfirmationCount = &zero
		ev.ResultingStatus = status
		kind = marker.OutcomeResolved
	}

	updated, err := e.updateMarker(ctx, current.ID, mut, ev)
	if err != nil {
		return marker.Outcome{}, err
	}

	return marker.Outcome{Kind: kind, Marker: &updated, Event: &ev}, nil
}

// create places a fresh marker at the exact vote position. No lock is taken:
// only per-marker serialization is required and the marker does not exist yet.
func (e *Engine) create(ctx context.Context, vote marker.Vote, now time.Time) (marker.Outcome, error) {
	status := vote.Color.Status()
	ev := marker.VoteEvent{
		ReporterID:      vote.ReporterID,
		Color:           vote.Color,
		PriorStatus:     marker.StatusNone,
		ResultingStatus: status,
		DistanceMeters:  0,
		Timestamp:       now,
	}

	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()
	created, err := e.store.Create(opCtx, vote.Latitude, vote.Longitude, status, ev)
	if err != nil {
		return marker.Outcome{}, fmt.Errorf("%w: creating marker: %v", ErrStorageUnavailable, err)
	}

	ev.MarkerID = created.ID
	return marker.Outcome{Kind: marker.OutcomeCreated, Marker: &created, Event: &ev}, nil
}

// markerIntent reads the color that most recently acted on the marker.
// A marker with no recorded history adopts the incoming color.
func (e *Engine) markerIntent(ctx context.Context, markerID string, fallback marker.Color) (marker.Color, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	last, err := e.events.LatestFor(opCtx, markerID)
	if err != nil {
		if errors.Is(err, ErrNoHistory) {
			return fallback, nil
		}
		return "", fmt.Errorf("%w: reading marker history: %v", ErrStorageUnavailable, err)
	}
	return last.Color, nil
}

// lock takes the marker's lock within the configured timeout.
func (e *Engine) lock(ctx context.Context, id string) bool {
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()

	if !e.locks.acquire(lockCtx, id) {
		metrics.IncrementLockConflicts()
		return false
	}
	return true
}

// getMarker re-reads a marker under its lock. ErrNotFound passes through
// untouched; anything else counts as a storage failure.
func (e *Engine) getMarker(ctx context.Context, id string) (marker.Marker, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	m, err := e.store.Get(opCtx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return marker.Marker{}, err
		}
		return marker.Marker{}, fmt.Errorf("%w: loading marker %s: %v", ErrStorageUnavailable, id, err)
	}
	return m, nil
}

func (e *Engine) updateMarker(ctx context.Context, id string, mut marker.Mutation, ev marker.VoteEvent) (marker.Marker, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	updated, err := e.store.Update(opCtx, id, mut, ev)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return marker.Marker{}, err
		}
		return marker.Marker{}, fmt.Errorf("%w: updating marker %s: %v", ErrStorageUnavailable, id, err)
	}
	return updated, nil
}

func (e *Engine) removeMarker(ctx context.Context, id string, ev marker.VoteEvent) error {
	opCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	if err := e.store.Remove(opCtx, id, ev); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: removing marker %s: %v", ErrStorageUnavailable, id, err)
	}
	return nil
}

// errorLabel maps an engine error to its metric label.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage"
	default:
		return "internal"
	}
}

// rejectReason maps a validation error to its metric label.
func rejectReason(err error) string {
	if errors.Is(err, ErrUnauthenticated) {
		return "unauthenticated"
	}
	return "invalid_input"
}
