package repository

import "errors"

// Sentinel kinds for marker storage errors.
var (
	ErrNotFound      = errors.New("marker not found")
	ErrNoEvents      = errors.New("no events recorded for marker")
	ErrInvalidMarker = errors.New("invalid marker data")
	ErrInvalidRadius = errors.New("invalid search radius")
)
