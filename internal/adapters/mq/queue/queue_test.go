package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/okian/beacon/internal/domain/marker"
)

func testTask(voteID string) Task {
	return Task{
		Vote: marker.Vote{
			VoteID:     voteID,
			ReporterID: "reporter-1",
			Latitude:   52.52,
			Longitude:  13.405,
			Color:      marker.ColorRed,
		},
		Reply: make(chan Result, 1),
	}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}

	if !q.Enqueue(ctx, testTask("vote-1")) {
		t.Error("expected enqueue to succeed")
	}

	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	taskChan := q.Dequeue(ctx)
	task := <-taskChan
	if task.Vote.VoteID != "vote-1" {
		t.Errorf("expected vote-1, got %v", task.Vote.VoteID)
	}
	if task.Reply == nil {
		t.Error("expected the reply channel to travel with the task")
	}

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, testTask("vote-1")) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, testTask("vote-2")) {
		t.Error("expected enqueue to succeed")
	}

	// Full queue refuses the third task
	if q.Enqueue(ctx, testTask("vote-3")) {
		t.Error("expected enqueue to fail when full")
	}

	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	numGoroutines := 10
	numTasks := 100

	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			for j := 0; j < numTasks; j++ {
				task := testTask(fmt.Sprintf("vote-%d-%d", id, j))
				for !q.Enqueue(ctx, task) {
					time.Sleep(time.Millisecond)
				}
			}
			done <- true
		}(i)
	}

	consumed := make(chan string, numGoroutines*numTasks)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			taskChan := q.Dequeue(ctx)
			for task := range taskChan {
				consumed <- task.Vote.VoteID
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	// Give consumers a moment to drain
	time.Sleep(100 * time.Millisecond)

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected final length 0, got %d", l)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if !q.Enqueue(ctx, testTask("vote-1")) {
		t.Error("expected enqueue to succeed")
	}
	if !q.Enqueue(ctx, testTask("vote-2")) {
		t.Error("expected enqueue to succeed")
	}

	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}

	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}

	if q.Enqueue(ctx, testTask("vote-3")) {
		t.Error("expected enqueue to fail after closing")
	}

	// Queued tasks still reach the consumer, then the channel closes.
	taskChan := q.Dequeue(ctx)
	var drained []string
	timeout := time.After(time.Second)
	for {
		select {
		case task, ok := <-taskChan:
			if !ok {
				goto channelClosed
			}
			drained = append(drained, task.Vote.VoteID)
		case <-timeout:
			t.Fatal("expected dequeue channel to close after draining")
		}
	}
channelClosed:

	if len(drained) != 2 {
		t.Errorf("expected 2 drained tasks, got %d", len(drained))
	}

	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}

func TestInMemoryQueue_BufferAtLeastCapacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(50), WithBufferSize(1))
	ctx := context.Background()

	// Every accepted task must fit in the channel without blocking.
	for i := 0; i < 50; i++ {
		if !q.Enqueue(ctx, testTask(fmt.Sprintf("vote-%d", i))) {
			t.Fatalf("enqueue %d failed below capacity", i)
		}
	}
	if q.Enqueue(ctx, testTask("vote-overflow")) {
		t.Error("expected enqueue to fail at capacity")
	}
}
