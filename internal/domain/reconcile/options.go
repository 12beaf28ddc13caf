// Package reconcile implements the vote reconciliation engine.
package reconcile

import (
	"time"

	"github.com/okian/beacon/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithMatchRadius sets the inclusive matching band in meters.
func WithMatchRadius(minMeters, maxMeters float64) Option {
	return func(e *Engine) {
		if minMeters > 0 && maxMeters >= minMeters {
			e.radiusMin = minMeters
			e.radiusMax = maxMeters
		}
	}
}

// WithConfirmationThreshold sets how many matching confirmations an orange
// marker needs before it resolves to a final color.
func WithConfirmationThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.threshold = n
		}
	}
}

// WithLockTimeout bounds how long a vote waits for a marker's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

// WithStoreTimeout bounds individual store operations.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithNow sets the clock used to stamp events.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
