// Package worker drains the vote queue and drives the reconciliation engine.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/beacon/internal/adapters/mq/queue"
	"github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/pkg/logger"
	"github.com/okian/beacon/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 4 // multiplier for runtime.NumCPU()
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Task aliases what workers read off the queue.
type Task = queue.Task

// Reconciler turns one vote into an outcome.
type Reconciler interface {
	Submit(ctx context.Context, vote marker.Vote) (marker.Outcome, error)
}

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Task
}

// Worker processes queued votes through the reconciliation engine.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	// Votes already dequeued are answered before it stops.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing queued votes.
type InMemoryWorker struct {
	queue      Queue
	reconciler Reconciler
	name       string

	// Shutdown control
	shutdown chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, rec Reconciler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		reconciler: rec,
		name:       "worker",
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	taskChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			w.drain(taskChan)
			return
		case task, ok := <-taskChan:
			if !ok {
				// Queue closed and drained, worker is finished.
				return
			}
			select {
			case <-w.shutdown:
				w.reply(task, queue.Result{Err: queue.ErrStopped})
				w.drain(taskChan)
				return
			default:
			}
			w.processTask(ctx, task)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.signalStop()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) signalStop() {
	w.stopOnce.Do(func() { close(w.shutdown) })
}

// processTask reconciles a single vote and answers its reply channel.
func (w *InMemoryWorker) processTask(ctx context.Context, task queue.Task) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	outcome, err := w.reconciler.Submit(ctx, task.Vote)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "reconcile_error")
		w.logger.Error(ctx, "vote reconciliation failed",
			logger.String("voteID", task.Vote.VoteID),
			logger.Error(err),
		)
	} else {
		metrics.RecordVoteProcessed()
	}

	w.reply(task, queue.Result{Outcome: outcome, Err: err})
}

// reply delivers a result without ever blocking on an abandoned request.
func (w *InMemoryWorker) reply(task queue.Task, res queue.Result) {
	if task.Reply == nil {
		return
	}
	select {
	case task.Reply <- res:
	default:
		metrics.RecordErrorByComponent("worker", "reply_dropped")
		w.logger.Warn(context.Background(), "dropping reply for abandoned vote",
			logger.String("voteID", task.Vote.VoteID),
		)
	}
}

// drain answers whatever is still queued so no producer is left waiting.
func (w *InMemoryWorker) drain(taskChan <-chan Task) {
	for {
		select {
		case task, ok := <-taskChan:
			if !ok {
				return
			}
			w.reply(task, queue.Result{Err: queue.ErrStopped})
		default:
			return
		}
	}
}

// PoolQueue is what the pool needs from the queue: consumption plus
// lifecycle control.
type PoolQueue interface {
	Dequeue(ctx context.Context) <-chan Task
	Close() error
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   PoolQueue

	logger logger.Logger
}

// NewPool creates a worker pool. A count below one sizes the pool from the
// host's CPU count.
func NewPool(workerCount int, q PoolQueue, rec Reconciler) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(
			q,
			rec,
			WithName("worker-"+strconv.Itoa(i)),
		)
	}

	metrics.UpdateWorkerActiveCount(workerCount)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stop stops all workers without waiting for queued votes.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.signalStop()
	}
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-time.After(workerShutdownTimeout):
		}
	}

	metrics.UpdateWorkerActiveCount(0)
}

// Shutdown closes the queue, lets the workers finish what is queued, and
// forces stragglers down once the deadline passes.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			w.signalStop()
		}
	}

	metrics.UpdateWorkerActiveCount(0)
	return nil
}
