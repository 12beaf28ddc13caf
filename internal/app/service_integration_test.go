package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	repository "github.com/okian/beacon/internal/adapters/repository"
	service "github.com/okian/beacon/internal/app"
	"github.com/okian/beacon/internal/domain/geo"
	"github.com/okian/beacon/internal/domain/marker"
	. "github.com/smartystreets/goconvey/convey"
)

// submit wraps SubmitVote with a deterministic vote id so each call counts
// as a distinct button press.
func submit(ctx context.Context, svc *service.Service, seq int, reporter string, color marker.Color, lat, lon float64) (marker.Outcome, error) {
	return svc.SubmitVote(ctx, marker.Vote{
		VoteID:     fmt.Sprintf("it-vote-%s-%d", reporter, seq),
		ReporterID: reporter,
		Color:      color,
		Latitude:   lat,
		Longitude:  lon,
	})
}

// seedOrange plants an orange marker directly in the store, the way an
// imported snapshot would, so confirmation flows have a target.
func seedOrange(ctx context.Context, backend *repository.MemStore, lat, lon float64, count int) (marker.Marker, error) {
	m, err := backend.Create(ctx, lat, lon, marker.StatusOrange, marker.VoteEvent{
		ReporterID:      "seed",
		Color:           marker.ColorRed,
		PriorStatus:     marker.StatusNone,
		ResultingStatus: marker.StatusOrange,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		return m, err
	}
	if count > 0 {
		m, err = backend.Update(ctx, m.ID, marker.Mutation{ConfirmationCount: &count}, marker.VoteEvent{
			MarkerID:        m.ID,
			ReporterID:      "seed",
			Color:           marker.ColorRed,
			PriorStatus:     marker.StatusOrange,
			ResultingStatus: marker.StatusOrange,
			Timestamp:       time.Now().UTC(),
		})
	}
	return m, err
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a running service", t, func() {
		backend := repository.NewMemStore()
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithQueueSize(1000),
			service.WithDedupeSize(500),
			service.WithBackend(backend),
		)
		defer svc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := svc.Start(ctx)
		So(err, ShouldBeNil)

		const baseLat, baseLon = 52.5200, 13.4050

		Convey("When a green vote lands on an empty map", func() {
			outcome, err := submit(ctx, svc, 1, "rep-a", marker.ColorGreen, baseLat, baseLon)
			So(err, ShouldBeNil)

			Convey("Then a green marker exists at the vote position", func() {
				So(outcome.Kind, ShouldEqual, marker.OutcomeCreated)
				So(outcome.Marker.Status, ShouldEqual, marker.StatusGreen)
				So(outcome.Marker.Latitude, ShouldEqual, baseLat)
				So(outcome.Marker.Longitude, ShouldEqual, baseLon)
			})
		})

		Convey("When a green vote lands inside the band of a red marker", func() {
			red, err := submit(ctx, svc, 1, "rep-b", marker.ColorRed, baseLat, baseLon)
			So(err, ShouldBeNil)
			So(red.Marker.Status, ShouldEqual, marker.StatusRed)

			lat, lon := geo.Destination(baseLat, baseLon, 200, 90)
			outcome, err := submit(ctx, svc, 2, "rep-b", marker.ColorGreen, lat, lon)
			So(err, ShouldBeNil)

			Convey("Then the red marker is cleared, not replaced", func() {
				So(outcome.Kind, ShouldEqual, marker.OutcomeCleared)
				So(outcome.Cleared.MarkerID, ShouldEqual, red.Marker.ID)

				_, err := svc.Marker(ctx, red.Marker.ID)
				So(err, ShouldNotBeNil)
			})

			Convey("And the cleared marker's trail stays readable", func() {
				events, err := svc.History(ctx, red.Marker.ID)
				So(err, ShouldBeNil)
				So(len(events), ShouldEqual, 2)
				So(events[1].ResultingStatus, ShouldEqual, marker.StatusCleared)
			})
		})

		Convey("When a red vote lands inside the band of a red marker", func() {
			first, err := submit(ctx, svc, 1, "rep-c", marker.ColorRed, baseLat, baseLon)
			So(err, ShouldBeNil)

			lat, lon := geo.Destination(baseLat, baseLon, 180, 45)
			second, err := submit(ctx, svc, 2, "rep-c", marker.ColorRed, lat, lon)
			So(err, ShouldBeNil)

			Convey("Then the red marker is a separate incident, not a match", func() {
				So(second.Kind, ShouldEqual, marker.OutcomeCreated)
				So(second.Marker.ID, ShouldNotEqual, first.Marker.ID)

				all, err := svc.Markers(ctx)
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 2)
			})
		})

		Convey("When matching votes accumulate on an orange marker", func() {
			pending, err := seedOrange(ctx, backend, baseLat, baseLon, 0)
			So(err, ShouldBeNil)

			lat, lon := geo.Destination(baseLat, baseLon, 180, 45)

			Convey("Then each match bumps the count", func() {
				outcome, err := submit(ctx, svc, 1, "rep-d", marker.ColorRed, lat, lon)
				So(err, ShouldBeNil)
				So(outcome.Kind, ShouldEqual, marker.OutcomeConfirmed)
				So(outcome.Marker.ID, ShouldEqual, pending.ID)
				So(outcome.Marker.Status, ShouldEqual, marker.StatusOrange)
				So(outcome.Marker.ConfirmationCount, ShouldEqual, 1)
			})

			Convey("And the threshold-th match resolves it to the voted color", func() {
				var last marker.Outcome
				for i := 1; i <= 10; i++ {
					last, err = submit(ctx, svc, i, "rep-d", marker.ColorRed, lat, lon)
					So(err, ShouldBeNil)
				}
				So(last.Kind, ShouldEqual, marker.OutcomeResolved)
				So(last.Marker.Status, ShouldEqual, marker.StatusRed)
				So(last.Marker.ConfirmationCount, ShouldEqual, 0)
			})
		})

		Convey("When an opposing vote hits an almost-confirmed orange marker", func() {
			pending, err := seedOrange(ctx, backend, baseLat, baseLon, 9)
			So(err, ShouldBeNil)

			lat, lon := geo.Destination(baseLat, baseLon, 250, 270)
			opposed, err := submit(ctx, svc, 1, "rep-e", marker.ColorGreen, lat, lon)
			So(err, ShouldBeNil)

			Convey("Then the marker stays orange and intent adopts the new color", func() {
				So(opposed.Kind, ShouldEqual, marker.OutcomeConfirmed)
				So(opposed.Marker.ID, ShouldEqual, pending.ID)
				So(opposed.Marker.Status, ShouldEqual, marker.StatusOrange)

				details, err := svc.Marker(ctx, pending.ID)
				So(err, ShouldBeNil)
				So(details.LatestEvent.Color, ShouldEqual, string(marker.ColorGreen))
			})

			Convey("And the next ten matching green votes resolve it green", func() {
				var last marker.Outcome
				// Intent is now green, but the count carried over: one more
				// matching vote crosses the threshold.
				last, err = submit(ctx, svc, 2, "rep-e", marker.ColorGreen, lat, lon)
				So(err, ShouldBeNil)
				So(last.Kind, ShouldEqual, marker.OutcomeResolved)
				So(last.Marker.Status, ShouldEqual, marker.StatusGreen)
			})
		})

		Convey("When a vote lands closer than the band's inner edge", func() {
			created, err := submit(ctx, svc, 1, "rep-f", marker.ColorRed, baseLat, baseLon)
			So(err, ShouldBeNil)

			lat, lon := geo.Destination(baseLat, baseLon, 50, 180)
			outcome, err := submit(ctx, svc, 2, "rep-f", marker.ColorGreen, lat, lon)
			So(err, ShouldBeNil)

			Convey("Then it is absorbed, leaving the map unchanged", func() {
				So(outcome.Kind, ShouldEqual, marker.OutcomeAbsorbed)
				So(outcome.Marker.ID, ShouldEqual, created.Marker.ID)
				So(outcome.Marker.Status, ShouldEqual, marker.StatusRed)
				So(outcome.Marker.GreenPressCount, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a service lifecycle", t, func() {
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithQueueSize(100),
		)
		defer svc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		Convey("When starting and stopping repeatedly", func() {
			err := svc.Start(ctx)
			So(err, ShouldBeNil)

			svc.Stop()
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)

			err = svc.Start(ctx)
			So(err, ShouldBeNil)
			stats = svc.GetStats()
			So(stats["started"], ShouldEqual, true)
		})
	})
}

func TestServiceConcurrency(t *testing.T) {
	Convey("Given a running service under concurrent voting", t, func() {
		backend := repository.NewMemStore()
		svc := service.New(
			service.WithWorkerCount(4),
			service.WithQueueSize(2000),
			service.WithDedupeSize(2000),
			service.WithBackend(backend),
		)
		defer svc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := svc.Start(ctx)
		So(err, ShouldBeNil)

		const baseLat, baseLon = 40.7128, -74.0060

		Convey("When many reporters confirm the same orange marker at once", func() {
			pending, err := seedOrange(ctx, backend, baseLat, baseLon, 0)
			So(err, ShouldBeNil)

			lat, lon := geo.Destination(baseLat, baseLon, 200, 0)

			const presses = 9
			var wg sync.WaitGroup
			errs := make(chan error, presses)
			for i := 0; i < presses; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					_, err := submit(ctx, svc, n, fmt.Sprintf("conc-rep-%d", n), marker.ColorRed, lat, lon)
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				So(err, ShouldBeNil)
			}

			Convey("Then no press is lost and no marker is duplicated", func() {
				all, err := svc.Markers(ctx)
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 1)

				// Nine matches against threshold ten leave it one short.
				details, err := svc.Marker(ctx, pending.ID)
				So(err, ShouldBeNil)
				So(details.Status, ShouldEqual, string(marker.StatusOrange))
				So(details.ConfirmationCount, ShouldEqual, presses)
			})
		})

		Convey("When many reporters read while votes flow", func() {
			const readers = 10
			var wg sync.WaitGroup
			errs := make(chan error, readers*10)
			for i := 0; i < readers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						if _, err := svc.Markers(ctx); err != nil {
							errs <- err
						}
					}
				}()
			}
			wg.Wait()
			close(errs)

			Convey("Then every read succeeds", func() {
				for err := range errs {
					So(err, ShouldBeNil)
				}
			})
		})
	})
}

func TestServiceErrorHandling(t *testing.T) {
	Convey("Given a service tuned for error conditions", t, func() {
		svc := service.New(
			service.WithWorkerCount(1),
			service.WithQueueSize(10),
			service.WithDedupeSize(5),
		)
		defer svc.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err := svc.Start(ctx)
		So(err, ShouldBeNil)

		Convey("When reading a marker that never existed", func() {
			_, err := svc.Marker(ctx, "ghost")

			Convey("Then it should return an error", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When a rejected vote id is retried", func() {
			// The invalid payload never reaches the queue, so the same id
			// must stay usable.
			_, err := svc.SubmitVote(ctx, marker.Vote{
				VoteID:     "retry-1",
				ReporterID: "rep-retry",
				Color:      marker.Color("purple"),
				Latitude:   1,
				Longitude:  1,
			})
			So(err, ShouldNotBeNil)

			outcome, err := svc.SubmitVote(ctx, marker.Vote{
				VoteID:     "retry-1",
				ReporterID: "rep-retry",
				Color:      marker.ColorGreen,
				Latitude:   1,
				Longitude:  1,
			})

			Convey("Then the retry succeeds as a fresh vote", func() {
				So(err, ShouldBeNil)
				So(outcome.Kind, ShouldEqual, marker.OutcomeCreated)
			})
		})

		Convey("When votes without ids repeat the same press", func() {
			first, err := svc.SubmitVote(ctx, marker.Vote{
				ReporterID: "rep-anon",
				Color:      marker.ColorRed,
				Latitude:   -33.8688,
				Longitude:  151.2093,
			})
			So(err, ShouldBeNil)
			second, err := svc.SubmitVote(ctx, marker.Vote{
				ReporterID: "rep-anon",
				Color:      marker.ColorRed,
				Latitude:   -33.8688,
				Longitude:  151.2093,
			})
			So(err, ShouldBeNil)

			Convey("Then each press counts on its own", func() {
				So(first.Kind, ShouldEqual, marker.OutcomeCreated)
				So(second.Kind, ShouldEqual, marker.OutcomeAbsorbed)
				So(errors.Is(err, service.ErrBackpressure), ShouldBeFalse)
			})
		})
	})
}

// playFixedSequence drives one fixed vote sequence against a fresh service
// whose store has pinned ids and a pinned clock, then returns the outcome
// kinds, the final marker set and the surviving marker's trail with
// wall-clock timestamps cleared so runs can be compared directly.
func playFixedSequence(ctx context.Context) ([]marker.OutcomeKind, []marker.Marker, []marker.VoteEvent, error) {
	next := 0
	backend := repository.NewMemStore(
		repository.WithIDFunc(func() string {
			next++
			return fmt.Sprintf("m-%03d", next)
		}),
		repository.WithNowFunc(func() time.Time {
			return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		}),
	)
	svc := service.New(
		service.WithWorkerCount(1),
		service.WithQueueSize(100),
		service.WithDedupeSize(100),
		service.WithBackend(backend),
	)
	if err := svc.Start(ctx); err != nil {
		return nil, nil, nil, err
	}
	defer svc.Stop()

	const baseLat, baseLon = 52.5200, 13.4050
	clearLat, clearLon := geo.Destination(baseLat, baseLon, 200, 90)
	nearLat, nearLon := geo.Destination(baseLat, baseLon, 50, 0)

	sequence := []struct {
		reporter string
		color    marker.Color
		lat, lon float64
	}{
		{"rep-r1", marker.ColorRed, baseLat, baseLon},     // create red
		{"rep-g1", marker.ColorGreen, clearLat, clearLon}, // clear it
		{"rep-g2", marker.ColorGreen, baseLat, baseLon},   // create green
		{"rep-r2", marker.ColorRed, nearLat, nearLon},     // absorbed
	}

	kinds := make([]marker.OutcomeKind, 0, len(sequence))
	for i, v := range sequence {
		outcome, err := submit(ctx, svc, i, v.reporter, v.color, v.lat, v.lon)
		if err != nil {
			return nil, nil, nil, err
		}
		kinds = append(kinds, outcome.Kind)
	}

	markers, err := svc.Markers(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	for i := range markers {
		markers[i].CreatedAt = time.Time{}
		markers[i].LastActionAt = time.Time{}
	}

	var trail []marker.VoteEvent
	if len(markers) > 0 {
		trail, err = svc.History(ctx, markers[0].ID)
		if err != nil {
			return nil, nil, nil, err
		}
		for i := range trail {
			trail[i].Timestamp = time.Time{}
		}
	}

	return kinds, markers, trail, nil
}

func TestServiceReplayIdempotence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	Convey("Given one mixed vote sequence replayed against two fresh stores", t, func() {
		firstKinds, firstMarkers, firstTrail, err := playFixedSequence(ctx)
		So(err, ShouldBeNil)
		secondKinds, secondMarkers, secondTrail, err := playFixedSequence(ctx)
		So(err, ShouldBeNil)

		Convey("Then both runs walk the same decision path", func() {
			So(firstKinds, ShouldResemble, []marker.OutcomeKind{
				marker.OutcomeCreated,
				marker.OutcomeCleared,
				marker.OutcomeCreated,
				marker.OutcomeAbsorbed,
			})
			So(secondKinds, ShouldResemble, firstKinds)
		})

		Convey("Then the final marker sets and counts are identical", func() {
			So(firstMarkers, ShouldResemble, secondMarkers)
			So(firstMarkers, ShouldHaveLength, 1)
			So(firstMarkers[0].ID, ShouldEqual, "m-002")
			So(firstMarkers[0].Status, ShouldEqual, marker.StatusGreen)
			So(firstMarkers[0].RedPressCount, ShouldEqual, 1)
			So(firstMarkers[0].GreenPressCount, ShouldEqual, 1)
			So(firstMarkers[0].ConfirmationCount, ShouldEqual, 0)
		})

		Convey("Then the surviving marker's trail replays identically", func() {
			So(firstTrail, ShouldResemble, secondTrail)
			So(firstTrail, ShouldHaveLength, 2)
			So(firstTrail[0].ResultingStatus, ShouldEqual, marker.StatusGreen)
			So(firstTrail[1].ResultingStatus, ShouldEqual, marker.StatusGreen)
		})
	})
}
