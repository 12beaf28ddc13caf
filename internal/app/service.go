// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	votequeue "github.com/okian/beacon/internal/adapters/mq/queue"
	workerpool "github.com/okian/beacon/internal/adapters/mq/worker"
	repository "github.com/okian/beacon/internal/adapters/repository"
	"github.com/okian/beacon/internal/config"
	"github.com/okian/beacon/internal/domain/dedupe"
	"github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/internal/domain/reconcile"
	"github.com/okian/beacon/internal/domain/types"
	"github.com/okian/beacon/pkg/logger"
	"github.com/okian/beacon/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize   = 100_000
	defaultDedupeSize  = 500_000
	defaultVoteTimeout = 10 * time.Second
	defaultMaxHistory  = 500
)

// Backend is the storage the service runs on: the marker store plus its
// audit trail. Both repository implementations satisfy it.
type Backend interface {
	repository.Store
	repository.EventLog
}

// engineStore adapts the repository to the engine's Store contract,
// translating the repository's sentinels into the engine's.
type engineStore struct {
	backend Backend
}

func (a engineStore) Get(ctx context.Context, id string) (marker.Marker, error) {
	m, err := a.backend.Get(ctx, id)
	return m, mapNotFound(err)
}

func (a engineStore) FindWithinRadius(ctx context.Context, lat, lon, radiusMeters float64, statuses ...marker.Status) ([]marker.Marker, error) {
	return a.backend.FindWithinRadius(ctx, lat, lon, radiusMeters, statuses...)
}

func (a engineStore) Create(ctx context.Context, lat, lon float64, status marker.Status, event marker.VoteEvent) (marker.Marker, error) {
	return a.backend.Create(ctx, lat, lon, status, event)
}

func (a engineStore) Update(ctx context.Context, id string, mut marker.Mutation, event marker.VoteEvent) (marker.Marker, error) {
	m, err := a.backend.Update(ctx, id, mut, event)
	return m, mapNotFound(err)
}

func (a engineStore) Remove(ctx context.Context, id string, event marker.VoteEvent) error {
	return mapNotFound(a.backend.Remove(ctx, id, event))
}

func (a engineStore) LatestFor(ctx context.Context, markerID string) (marker.VoteEvent, error) {
	ev, err := a.backend.LatestFor(ctx, markerID)
	if err != nil && errors.Is(err, repository.ErrNoEvents) {
		return ev, fmt.Errorf("%w: marker %s", reconcile.ErrNoHistory, markerID)
	}
	return ev, err
}

// mapNotFound rewrites the repository's not-found sentinel into the
// engine's; everything else passes through for the engine to classify.
func mapNotFound(err error) error {
	if err != nil && errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %v", reconcile.ErrNotFound, err)
	}
	return err
}

// Service implements the API dependencies for the marker map.
type Service struct {
	mu sync.RWMutex

	// Core components
	backend Backend
	deduper dedupe.Deduper
	queue   votequeue.Queue
	engine  *reconcile.Engine
	pool    *workerpool.Pool

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int
	storage     string
	storagePath string
	radiusMin   float64
	radiusMax   float64
	threshold   int
	voteTimeout time.Duration
	lockTimeout time.Duration
	opTimeout   time.Duration
	maxHistory  int

	// State
	started     bool
	ownsBackend bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of reconciliation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the vote queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the vote-id idempotency cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithStorage selects the store backend by config driver name.
func WithStorage(driver, path string) Option {
	return func(s *Service) {
		if driver != "" {
			s.storage = driver
		}
		if path != "" {
			s.storagePath = path
		}
	}
}

// WithBackend injects a prebuilt backend. The caller keeps ownership of
// its lifecycle; Stop will not close it.
func WithBackend(b Backend) Option {
	return func(s *Service) {
		if b != nil {
			s.backend = b
			s.ownsBackend = false
		}
	}
}

// WithMatchRadius sets the inclusive matching band in meters.
func WithMatchRadius(minMeters, maxMeters float64) Option {
	return func(s *Service) {
		if minMeters > 0 && maxMeters >= minMeters {
			s.radiusMin = minMeters
			s.radiusMax = maxMeters
		}
	}
}

// WithConfirmationThreshold sets the orange resolution threshold.
func WithConfirmationThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithVoteTimeout bounds how long a submitted vote waits for its outcome.
func WithVoteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.voteTimeout = d
		}
	}
}

// WithLockTimeout bounds waiting on a hot marker's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithStoreTimeout bounds individual store operations.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithMaxHistory caps history reads.
func WithMaxHistory(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU() * 2,
		queueSize:   defaultQueueSize,
		dedupeSize:  defaultDedupeSize,
		storage:     config.StorageMemory,
		storagePath: "beacon.db",
		radiusMin:   reconcile.DefaultMatchRadiusMin,
		radiusMax:   reconcile.DefaultMatchRadiusMax,
		threshold:   reconcile.DefaultConfirmationThreshold,
		voteTimeout: defaultVoteTimeout,
		maxHistory:  defaultMaxHistory,
		ownsBackend: true,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting marker service...")

	if s.backend == nil {
		backend, err := s.openBackend()
		if err != nil {
			return fmt.Errorf("opening %s store: %w", s.storage, err)
		}
		s.backend = backend
		s.ownsBackend = true
	}
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.queue = votequeue.NewInMemoryQueue(
		votequeue.WithCapacity(s.queueSize),
		votequeue.WithBufferSize(s.queueSize),
	)

	engineOpts := []reconcile.Option{
		reconcile.WithMatchRadius(s.radiusMin, s.radiusMax),
		reconcile.WithConfirmationThreshold(s.threshold),
	}
	if s.lockTimeout > 0 {
		engineOpts = append(engineOpts, reconcile.WithLockTimeout(s.lockTimeout))
	}
	if s.opTimeout > 0 {
		engineOpts = append(engineOpts, reconcile.WithStoreTimeout(s.opTimeout))
	}
	adapter := engineStore{backend: s.backend}
	s.engine = reconcile.New(adapter, adapter, engineOpts...)

	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.engine)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "marker service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.String("storage", s.storage),
		logger.Duration("voteTimeout", s.voteTimeout),
	)

	return nil
}

// openBackend builds the configured store implementation.
func (s *Service) openBackend() (Backend, error) {
	if s.storage == config.StorageSQLite {
		return repository.OpenSQLite(s.storagePath)
	}
	return repository.NewMemStore(), nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping marker service...")

	// Closing the queue lets the workers drain what is already accepted.
	if s.pool != nil {
		_ = s.pool.Shutdown(ctx)
	}

	if s.ownsBackend && s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error(ctx, "error closing store", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "marker service stopped")
}

// SubmitVote reconciles one vote and returns what it did. Duplicate vote
// ids short-circuit without touching the store; a full queue surfaces
// ErrBackpressure with the vote id released for retry.
func (s *Service) SubmitVote(ctx context.Context, vote marker.Vote) (marker.Outcome, error) {
	if err := reconcile.ValidateVote(vote); err != nil {
		return marker.Outcome{}, err
	}

	s.mu.RLock()
	started := s.started
	q := s.queue
	deduper := s.deduper
	timeout := s.voteTimeout
	s.mu.RUnlock()

	if !started {
		return marker.Outcome{}, ErrNotStarted
	}

	if vote.VoteID != "" && deduper.SeenAndRecord(ctx, vote.VoteID) {
		metrics.RecordVoteDuplicate()
		s.logger.Debug(ctx, "duplicate vote id, skipping",
			logger.String("voteID", vote.VoteID),
		)
		return marker.Outcome{Kind: marker.OutcomeDuplicate}, nil
	}

	task := votequeue.Task{
		Vote:  vote,
		Reply: make(chan votequeue.Result, 1),
	}
	if !q.Enqueue(ctx, task) {
		s.unrecord(ctx, vote.VoteID)
		return marker.Outcome{}, ErrBackpressure
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-task.Reply:
		if res.Err != nil {
			// Failed votes stay retryable under the same id.
			s.unrecord(ctx, vote.VoteID)
			return marker.Outcome{}, res.Err
		}
		return res.Outcome, nil
	case <-timer.C:
		s.unrecord(ctx, vote.VoteID)
		return marker.Outcome{}, fmt.Errorf("%w: vote outcome not delivered within %s",
			reconcile.ErrStorageUnavailable, timeout)
	case <-ctx.Done():
		s.unrecord(ctx, vote.VoteID)
		return marker.Outcome{}, fmt.Errorf("vote canceled: %w", ctx.Err())
	}
}

func (s *Service) unrecord(ctx context.Context, voteID string) {
	if voteID != "" {
		s.deduper.Unrecord(ctx, voteID)
	}
}

// Markers returns a consistent snapshot of every marker for polling clients.
func (s *Service) Markers(ctx context.Context) ([]marker.Marker, error) {
	s.mu.RLock()
	backend := s.backend
	started := s.started
	s.mu.RUnlock()

	if !started {
		return nil, ErrNotStarted
	}
	return backend.All(ctx)
}

// Marker returns the detail view of one marker: its state, latest event and
// lifetime press count. A missing marker surfaces reconcile.ErrNotFound.
func (s *Service) Marker(ctx context.Context, id string) (types.MarkerDetails, error) {
	s.mu.RLock()
	backend := s.backend
	started := s.started
	s.mu.RUnlock()

	if !started {
		return types.MarkerDetails{}, ErrNotStarted
	}

	m, err := backend.Get(ctx, id)
	if err != nil {
		return types.MarkerDetails{}, mapNotFound(err)
	}

	details := types.MarkerDetails{
		MarkerView:   types.FromMarker(m),
		TotalPresses: m.TotalPresses(),
	}

	latest, err := backend.LatestFor(ctx, id)
	switch {
	case err == nil:
		ev := types.FromEvent(latest)
		details.LatestEvent = &ev
	case errors.Is(err, repository.ErrNoEvents):
		// A marker without history still has a valid detail view.
	default:
		return types.MarkerDetails{}, err
	}

	return details, nil
}

// History returns a marker's audit trail in timestamp order, capped by the
// configured history limit.
func (s *Service) History(ctx context.Context, id string) ([]marker.VoteEvent, error) {
	s.mu.RLock()
	backend := s.backend
	started := s.started
	limit := s.maxHistory
	s.mu.RUnlock()

	if !started {
		return nil, ErrNotStarted
	}

	// Removed markers keep their trail readable, so only a marker that was
	// never created reports not found.
	events, err := backend.HistoryFor(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		// Keep the most recent slice of the trail.
		events = events[len(events)-limit:]
	}
	return events, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"storage":     s.storage,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		markerCount := s.backend.Count(ctx)
		dedupeLen := s.deduper.Size()

		stats["queueLength"] = queueLen
		stats["markerCount"] = markerCount
		stats["dedupeSize"] = dedupeLen

		byStatus := s.statusCounts(ctx)
		for status, n := range byStatus {
			stats["markers_"+status] = n
			metrics.UpdateMarkersTotal(status, n)
		}

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateDedupeSize(dedupeLen)
	}

	return stats
}

// statusCounts scans the snapshot once for the per-status gauges.
// Caller holds at least the read lock.
func (s *Service) statusCounts(ctx context.Context) map[string]int {
	counts := map[string]int{
		string(marker.StatusGreen):  0,
		string(marker.StatusRed):    0,
		string(marker.StatusOrange): 0,
	}
	all, err := s.backend.All(ctx)
	if err != nil {
		return counts
	}
	for _, m := range all {
		counts[string(m.Status)]++
	}
	return counts
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}
