// Package repository defines the marker store and event log contracts.
package repository

import "time"

// Option applies a configuration option to the MemStore.
type Option func(*MemStore)

// WithIDFunc sets the id generator used for new markers. Tests use this to
// pin deterministic ids; the default is a random UUID.
func WithIDFunc(fn func() string) Option {
	return func(s *MemStore) {
		if fn != nil {
			s.idFn = fn
		}
	}
}

// WithNowFunc sets the clock used when an event carries no timestamp.
func WithNowFunc(fn func() time.Time) Option {
	return func(s *MemStore) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}
