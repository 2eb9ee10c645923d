package core

import "errors"

// Closed set of error kinds surfaced by the tracking services. The HTTP
// layer maps these to status codes; everything else is a 500.
var (
	// ErrNotFound — trip, geofence, or vehicle does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation — malformed input: radius <= 0, polygon with fewer
	// than 3 vertices, from > to, missing fields.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyTerminal — manual close requested on a COMPLETED trip.
	ErrAlreadyTerminal = errors.New("trip already completed")

	// ErrBatchTooLarge — batch exceeds the configured maximum size.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrEmptyBatch — batch contained no pings.
	ErrEmptyBatch = errors.New("empty batch")
)
