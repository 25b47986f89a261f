package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when no replay is stored under a file id.
	ErrNotFound = errors.New("replay not found")

	// ErrUnknownPlayer is returned when telemetry names a player that is not
	// in the stored roster.
	ErrUnknownPlayer = errors.New("player not in roster")
)
