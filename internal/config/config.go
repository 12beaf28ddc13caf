// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep fields unexported where possible and use functional options.
// - Provide New(...Option) initializer to build a Config with defaults.
// - All future functions must accept context.Context as the first parameter.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"context"
	"runtime"
)

// Storage driver names accepted by the Storage field.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Storage selects the marker store backend: memory or sqlite.
	Storage string `koanf:"storage"`

	// StoragePath is the sqlite database file, used when Storage is sqlite.
	StoragePath string `koanf:"storage_path"`

	// QueueSize bounds the in-memory vote queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of reconciliation workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the vote-id idempotency cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MatchRadiusMinM and MatchRadiusMaxM bound the inclusive matching band
	// in meters.
	MatchRadiusMinM float64 `koanf:"match_radius_min_m"`
	MatchRadiusMaxM float64 `koanf:"match_radius_max_m"`

	// ConfirmationThreshold is how many matching confirmations an orange
	// marker needs before it resolves to a final color.
	ConfirmationThreshold int `koanf:"confirmation_threshold"`

	// VoteTimeoutMS bounds how long a submitted vote waits for its outcome.
	VoteTimeoutMS int `koanf:"vote_timeout_ms"`

	// StoreTimeoutMS bounds individual store operations.
	StoreTimeoutMS int `koanf:"store_timeout_ms"`

	// LockTimeoutMS bounds waiting on a hot marker's lock.
	LockTimeoutMS int `koanf:"lock_timeout_ms"`

	// MaxHistory caps GET /markers/{id}/events responses.
	MaxHistory int `koanf:"max_history"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	c := &Config{
		LogLevel:              "info",
		Addr:                  ":9080",
		Storage:               StorageMemory,
		StoragePath:           "beacon.db",
		QueueSize:             100_000,
		WorkerCount:           runtime.NumCPU() * 4,
		DedupeSize:            500_000,
		MatchRadiusMinM:       150,
		MatchRadiusMaxM:       300,
		ConfirmationThreshold: 10,
		VoteTimeoutMS:         10_000,
		StoreTimeoutMS:        5_000,
		LockTimeoutMS:         2_000,
		MaxHistory:            500,
	}
	return c
}
