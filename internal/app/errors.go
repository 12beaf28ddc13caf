package service

import "errors"

// Sentinel kinds for service-level failures.
var (
	// ErrBackpressure reports a full vote queue. The vote was not accepted
	// and is safe to resubmit.
	ErrBackpressure = errors.New("vote queue backpressure")

	// ErrNotStarted reports an operation on a service that is not running.
	ErrNotStarted = errors.New("service not started")
)
