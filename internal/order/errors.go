package order

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrValidation marks a malformed or incomplete request. Nothing
	// was written; the caller can fix the input and retry.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition marks an operation not allowed from the
	// order's current status, ownership, or the caller's role.
	ErrInvalidTransition = errors.New("invalid order transition")

	ErrUnauthorized = errors.New("authentication required")

	// ErrTransient marks a store-level failure (lock timeout, lost
	// connection) where the whole transaction rolled back. Safe to
	// retry as-is.
	ErrTransient = errors.New("transient storage error")
)
