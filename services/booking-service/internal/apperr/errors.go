// Package apperr holds the booking error taxonomy. Callers wrap these with fmt.Errorf("%w: ...")
// and the HTTP layer maps them to status codes with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInactiveProvider     = errors.New("provider is inactive")
	ErrAvailabilityConflict = errors.New("requested slot is no longer available")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrForbidden            = errors.New("forbidden")
	ErrConfiguration        = errors.New("configuration error")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrIdempotencyConflict  = errors.New("idempotency key reused with a different request")

	// ErrBusy means the provider/day lock or a statement timed out. The caller may retry.
	ErrBusy = errors.New("booking is busy, retry later")
)
