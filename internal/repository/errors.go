// Package repository defines error types that are reused across the
// storage layer and the services built on it.  These sentinel values allow
// higher layers such as handlers to distinguish between different failure
// scenarios with errors.Is.  A rejected operation never leaves partial
// state behind, so every one of these is safe to retry with corrected
// input.
package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no participant exists for the requested
// name.  Handlers should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("participant not found")

// ErrNameConflict is returned when a different device holds a live lease
// on the name.  Handlers should translate this into an HTTP 409 response.
var ErrNameConflict = errors.New("name in use on another device")

// ErrCapacityExceeded is returned when a new name cannot be registered
// because the participant table is full.
var ErrCapacityExceeded = errors.New("maximum number of participants reached")

// ErrStorageUnavailable wraps any failure of the underlying database.  The
// core never retries; callers decide.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrInvalidInput is returned for empty or oversized names and tokens.
var ErrInvalidInput = errors.New("invalid input")

// ErrDuplicateName signals a unique-key violation on insert: another
// request created the same name first.  The registry resolves it by
// re-evaluating the registration against the row that now exists.
var ErrDuplicateName = errors.New("duplicate participant name")

// unavailable wraps a driver error so that errors.Is(err,
// ErrStorageUnavailable) holds while the cause stays inspectable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
