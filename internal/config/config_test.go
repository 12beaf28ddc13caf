package config_test

import (
	"context"
	"runtime"
	"testing"

	"github.com/okian/beacon/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Storage, convey.ShouldEqual, config.StorageMemory)
			convey.So(cfg.QueueSize, convey.ShouldEqual, 100_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*4)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 500_000)
			convey.So(cfg.MatchRadiusMinM, convey.ShouldEqual, 150)
			convey.So(cfg.MatchRadiusMaxM, convey.ShouldEqual, 300)
			convey.So(cfg.ConfirmationThreshold, convey.ShouldEqual, 10)
		})
	})
}
