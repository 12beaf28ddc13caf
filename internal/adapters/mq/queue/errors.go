package queue

import "errors"

// ErrStopped is delivered on a task's reply channel when the pool shuts
// down before the vote could be reconciled.
var ErrStopped = errors.New("vote processing stopped")
