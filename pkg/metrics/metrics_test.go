package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		Convey("When creating options", func() {
			namespaceOpt := WithNamespace("test-namespace")
			subsystemOpt := WithSubsystem("test-subsystem")
			histogramBucketsOpt := WithHistogramBuckets([]float64{0.1, 0.5, 1.0})
			metricsEnabledOpt := WithMetricsEnabled(true)
			refreshIntervalOpt := WithRefreshInterval(5 * time.Second)
			customLabelsOpt := WithCustomLabels(map[string]string{"env": "test"})

			Convey("Then they should be valid functions", func() {
				So(namespaceOpt, ShouldNotBeNil)
				So(subsystemOpt, ShouldNotBeNil)
				So(histogramBucketsOpt, ShouldNotBeNil)
				So(metricsEnabledOpt, ShouldNotBeNil)
				So(refreshIntervalOpt, ShouldNotBeNil)
				So(customLabelsOpt, ShouldNotBeNil)
			})
		})
	})
}

func TestManagerCreation(t *testing.T) {
	Convey("Given manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test-namespace"),
				WithSubsystem("test-subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithCustomLabels(map[string]string{"env": "test", "version": "1.0"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
			})
		})
	})
}

func TestVoteMetrics(t *testing.T) {
	Convey("Given vote metrics", t, func() {
		Convey("When recording vote counters", func() {
			Convey("Then processed and duplicate counters should not panic", func() {
				So(func() {
					RecordVoteProcessed()
					RecordVoteProcessed()
					RecordVoteDuplicate()
				}, ShouldNotPanic)
			})

			Convey("And rejected votes should record by reason", func() {
				So(func() {
					IncrementVotesRejected("invalid_input")
					IncrementVotesRejected("unauthenticated")
				}, ShouldNotPanic)
			})

			Convey("And outcomes should record by kind", func() {
				So(func() {
					IncrementOutcome("created")
					IncrementOutcome("cleared")
					IncrementOutcome("confirmed")
					IncrementOutcome("resolved")
					IncrementOutcome("absorbed")
				}, ShouldNotPanic)
			})

			Convey("And reconciliation histograms should observe", func() {
				So(func() {
					RecordReconcileLatency(1.5)
					RecordProximityCandidates(3)
					IncrementLockConflicts()
				}, ShouldNotPanic)
			})
		})
	})
}

func TestStoreMetrics(t *testing.T) {
	Convey("Given store metrics", t, func() {
		Convey("When recording store operations", func() {
			So(func() {
				RecordStoreOpLatency("create", 0.4)
				RecordStoreOpLatency("update", 0.7)
				RecordStoreOpLatency("find", 1.1)
				IncrementEventLogAppends()
				UpdateMarkersTotal("red", 12)
				UpdateMarkersTotal("green", 4)
				UpdateMarkersTotal("orange", 1)
			}, ShouldNotPanic)
		})
	})
}

func TestQueueAndWorkerMetrics(t *testing.T) {
	Convey("Given queue and worker metrics", t, func() {
		Convey("When recording queue metrics", func() {
			So(func() {
				UpdateQueueSize(100)
				UpdateQueueCapacity(100000)
				UpdateQueueUtilization(0.001)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueEnqueueLatency(0.2)
			}, ShouldNotPanic)
		})

		Convey("When recording worker metrics", func() {
			So(func() {
				UpdateWorkerActiveCount(8)
				RecordWorkerProcessingLatency(2.0)
				RecordWorkerError()
				UpdateDedupeSize(42)
			}, ShouldNotPanic)
		})
	})
}

func TestHTTPAndErrorMetrics(t *testing.T) {
	Convey("Given HTTP and error metrics", t, func() {
		Convey("When recording HTTP metrics", func() {
			So(func() {
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordHTTPRequest("/votes", "POST", "200")
				RecordHTTPRequestDuration("/votes", "POST", "200", 3.2)
			}, ShouldNotPanic)
		})

		Convey("When recording error metrics", func() {
			So(func() {
				RecordErrorByComponent("reconcile", "storage")
				RecordErrorByType("client_error", "medium")
				RecordErrorByEndpoint("/votes", "POST", "client_error")
				RecordErrorLatency("http", "client_error", 1.0)
			}, ShouldNotPanic)
		})
	})
}

func TestSystemMetrics(t *testing.T) {
	Convey("Given system metrics", t, func() {
		Convey("When recording system metrics", func() {
			So(func() {
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(32)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the package registry", t, func() {
		Convey("When fetching it", func() {
			registry := GetRegistry()

			Convey("Then it should be usable for gathering", func() {
				So(registry, ShouldNotBeNil)
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(families, ShouldNotBeEmpty)
			})
		})
	})
}
