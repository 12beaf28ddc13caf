// Package queue carries votes from the submitting adapter to the worker
// pool.
//
// The queue is a bounded in-memory channel. Each task carries its own reply
// channel so the submitting request can wait for its vote's outcome.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/beacon/internal/domain/marker"
	"github.com/okian/beacon/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 100000
	defaultBufferSize    = 100000
)

// Result is what reconciling one vote produced.
type Result struct {
	Outcome marker.Outcome
	Err     error
}

// Task is one vote in flight together with its reply channel. Producers
// buffer Reply with capacity one so a worker never blocks delivering to an
// abandoned request.
type Task struct {
	Vote  marker.Vote
	Reply chan Result
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a task to the queue.
	// Returns false if the queue is full or closed and the task was not accepted.
	Enqueue(ctx context.Context, t Task) bool

	// Dequeue returns a channel that receives tasks as they become available.
	// The channel is closed once the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Task

	// Len returns the current number of queued tasks.
	Len(ctx context.Context) int

	// Close shuts down the queue. After closing, no new tasks are accepted;
	// tasks already queued still reach consumers.
	Close() error

	// IsClosed reports whether the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	tasks      chan Task
	capacity   int
	bufferSize int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity:   defaultQueueCapacity,
		bufferSize: defaultBufferSize,
	}

	for _, opt := range opts {
		opt(q)
	}

	// The buffer can never be smaller than the advertised capacity, or
	// Enqueue would block before the capacity check trips.
	if q.bufferSize < q.capacity {
		q.bufferSize = q.capacity
	}
	q.tasks = make(chan Task, q.bufferSize)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a task to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) bool {
	start := time.Now()
	defer func() {
		metrics.RecordQueueEnqueueLatency(float64(time.Since(start).Nanoseconds()) / 1e6)
	}()

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	if len(q.tasks) >= q.capacity {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "capacity_exceeded")
		return false
	}

	select {
	case q.tasks <- t:
		metrics.RecordQueueEnqueue()
		q.publishDepth()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// Dequeue returns a channel that receives tasks as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Task {
	out := make(chan Task)
	go func() {
		defer close(out)
		for task := range q.tasks {
			select {
			case out <- task:
				metrics.RecordQueueDequeue()
				q.publishDepth()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued tasks.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.tasks)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
	return size
}

// Close shuts down the queue. Tasks already queued still reach consumers.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.tasks)
	q.closed = true

	return nil
}

// IsClosed reports whether the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) publishDepth() {
	size := len(q.tasks)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
