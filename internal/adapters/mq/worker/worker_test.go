package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/beacon/internal/adapters/mq/queue"
	worker "github.com/okian/beacon/internal/adapters/mq/worker"
	marker "github.com/okian/beacon/internal/domain/marker"
	logging "github.com/okian/beacon/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockQueue struct {
	taskChan  chan queue.Task
	closeOnce sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		taskChan: make(chan queue.Task, 256),
	}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Task {
	return mq.taskChan
}

func (mq *mockQueue) Close() error {
	mq.closeOnce.Do(func() { close(mq.taskChan) })
	return nil
}

func (mq *mockQueue) addTask(t queue.Task) {
	mq.taskChan <- t
}

type mockReconciler struct {
	mu       sync.RWMutex
	errors   map[string]error
	received []string
}

func newMockReconciler() *mockReconciler {
	return &mockReconciler{
		errors: make(map[string]error),
	}
}

func (mr *mockReconciler) Submit(_ context.Context, vote marker.Vote) (marker.Outcome, error) {
	mr.mu.Lock()
	mr.received = append(mr.received, vote.VoteID)
	err := mr.errors[vote.VoteID]
	mr.mu.Unlock()

	if err != nil {
		return marker.Outcome{}, err
	}
	m := marker.Marker{
		ID:        "marker-" + vote.VoteID,
		Latitude:  vote.Latitude,
		Longitude: vote.Longitude,
		Status:    vote.Color.Status(),
	}
	return marker.Outcome{Kind: marker.OutcomeCreated, Marker: &m}, nil
}

func (mr *mockReconciler) setError(voteID string, err error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.errors[voteID] = err
}

func (mr *mockReconciler) sawVote(voteID string) bool {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	for _, id := range mr.received {
		if id == voteID {
			return true
		}
	}
	return false
}

func (mr *mockReconciler) receivedCount() int {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return len(mr.received)
}

func newTask(voteID string) queue.Task {
	return queue.Task{
		Vote: marker.Vote{
			VoteID:     voteID,
			ReporterID: "reporter-1",
			Latitude:   52.52,
			Longitude:  13.405,
			Color:      marker.ColorGreen,
		},
		Reply: make(chan queue.Result, 1),
	}
}

func awaitReply(t *testing.T, task queue.Task) queue.Result {
	t.Helper()
	select {
	case res := <-task.Reply:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("no reply for %s", task.Vote.VoteID)
		return queue.Result{}
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		mq := newMockQueue()
		rec := newMockReconciler()

		convey.Convey("When creating a worker with default options", func() {
			w := worker.NewInMemoryWorker(mq, rec)

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When creating a worker with custom options", func() {
			w := worker.NewInMemoryWorker(
				mq, rec,
				worker.WithName("test-worker"),
			)

			convey.Convey("Then it should be created successfully", func() {
				convey.So(w, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(mq, rec)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go w.Run(ctx)

			// Give worker time to start
			time.Sleep(10 * time.Millisecond)

			convey.Convey("And a vote is queued", func() {
				task := newTask("vote-1")
				mq.addTask(task)
				res := awaitReply(t, task)

				convey.Convey("Then the reply carries the outcome", func() {
					convey.So(res.Err, convey.ShouldBeNil)
					convey.So(res.Outcome.Kind, convey.ShouldEqual, marker.OutcomeCreated)
					convey.So(res.Outcome.Marker, convey.ShouldNotBeNil)
					convey.So(res.Outcome.Marker.ID, convey.ShouldEqual, "marker-vote-1")
				})
			})

			convey.Convey("And reconciliation fails", func() {
				rec.setError("vote-2", errors.New("reconcile error"))
				task := newTask("vote-2")
				mq.addTask(task)
				res := awaitReply(t, task)

				convey.Convey("Then the reply carries the error", func() {
					convey.So(res.Err, convey.ShouldNotBeNil)
				})
			})

			convey.Convey("And a task has no reply channel", func() {
				task := newTask("vote-3")
				task.Reply = nil
				mq.addTask(task)

				// Give worker time to process
				time.Sleep(50 * time.Millisecond)

				convey.Convey("Then the vote is still reconciled", func() {
					convey.So(rec.sawVote("vote-3"), convey.ShouldBeTrue)
				})
			})

			convey.Convey("And when shutting down", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer shutdownCancel()

				err := w.Shutdown(shutdownCtx)

				convey.Convey("Then it should shutdown gracefully", func() {
					convey.So(err, convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When the queue channel closes", func() {
			w := worker.NewInMemoryWorker(mq, rec)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go w.Run(ctx)
			time.Sleep(10 * time.Millisecond)

			_ = mq.Close()

			convey.Convey("Then the worker stops on its own", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()
				convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerDrainsOnShutdown(t *testing.T) {
	convey.Convey("Given a stopped worker with votes still queued", t, func() {
		_ = logging.Init()

		mq := newMockQueue()
		rec := newMockReconciler()
		w := worker.NewInMemoryWorker(mq, rec)

		first := newTask("vote-1")
		second := newTask("vote-2")
		mq.addTask(first)
		mq.addTask(second)

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- w.Shutdown(context.Background())
		}()
		// Let the stop signal land before the loop starts
		time.Sleep(10 * time.Millisecond)

		go w.Run(context.Background())

		convey.Convey("Then every queued vote is answered with the stop error", func() {
			for _, task := range []queue.Task{first, second} {
				res := awaitReply(t, task)
				convey.So(errors.Is(res.Err, queue.ErrStopped), convey.ShouldBeTrue)
			}

			select {
			case err := <-shutdownDone:
				convey.So(err, convey.ShouldBeNil)
			case <-time.After(2 * time.Second):
				t.Fatal("shutdown never returned")
			}
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a new worker pool", t, func() {
		_ = logging.Init()

		mq := newMockQueue()
		rec := newMockReconciler()

		convey.Convey("When creating a pool with default count", func() {
			pool := worker.NewPool(0, mq, rec)

			convey.Convey("Then it should be created successfully", func() {
				convey.So(pool, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When creating a pool with custom count", func() {
			pool := worker.NewPool(3, mq, rec)

			convey.Convey("Then it should be created successfully", func() {
				convey.So(pool, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When starting a pool", func() {
			pool := worker.NewPool(2, mq, rec)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			pool.Start(ctx)
			time.Sleep(20 * time.Millisecond)

			convey.Convey("And multiple votes are queued", func() {
				tasks := []queue.Task{
					newTask("vote-1"),
					newTask("vote-2"),
					newTask("vote-3"),
				}
				for _, task := range tasks {
					mq.addTask(task)
				}

				convey.Convey("Then every vote is answered", func() {
					for _, task := range tasks {
						res := awaitReply(t, task)
						convey.So(res.Err, convey.ShouldBeNil)
						convey.So(res.Outcome.Kind, convey.ShouldEqual, marker.OutcomeCreated)
					}
				})
			})

			convey.Convey("And when shutting down", func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
				defer shutdownCancel()

				err := pool.Shutdown(shutdownCtx)

				convey.Convey("Then it should shutdown gracefully", func() {
					convey.So(err, convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When stopping a pool", func() {
			pool := worker.NewPool(2, mq, rec)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			pool.Start(ctx)
			time.Sleep(20 * time.Millisecond)

			pool.Stop()

			convey.Convey("Then no worker picks up later votes", func() {
				task := newTask("vote-after-stop")
				mq.addTask(task)

				select {
				case <-task.Reply:
					t.Fatal("a stopped worker answered the vote")
				case <-time.After(50 * time.Millisecond):
				}
				convey.So(rec.sawVote("vote-after-stop"), convey.ShouldBeFalse)
			})
		})
	})
}

func TestWorkerConcurrency(t *testing.T) {
	convey.Convey("Given a pool with several workers", t, func() {
		_ = logging.Init()

		mq := newMockQueue()
		rec := newMockReconciler()

		pool := worker.NewPool(4, mq, rec)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pool.Start(ctx)
		time.Sleep(20 * time.Millisecond)

		convey.Convey("When many producers queue votes at once", func() {
			const producers = 5
			const perProducer = 20

			tasks := make(chan queue.Task, producers*perProducer)
			var wg sync.WaitGroup
			for i := 0; i < producers; i++ {
				wg.Add(1)
				go func(producerID int) {
					defer wg.Done()
					for j := 0; j < perProducer; j++ {
						task := newTask(fmt.Sprintf("vote-%d-%d", producerID, j))
						tasks <- task
						mq.addTask(task)
					}
				}(i)
			}
			wg.Wait()
			close(tasks)

			convey.Convey("Then every vote is reconciled and answered", func() {
				answered := 0
				for task := range tasks {
					res := awaitReply(t, task)
					convey.So(res.Err, convey.ShouldBeNil)
					answered++
				}
				convey.So(answered, convey.ShouldEqual, producers*perProducer)
				convey.So(rec.receivedCount(), convey.ShouldEqual, producers*perProducer)
			})
		})
	})
}
