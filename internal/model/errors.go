package model

import "errors"

var (
	// ErrConflict is returned when the host already has a booking at that instant.
	ErrConflict = errors.New("slot already booked for host")

	// ErrNotFound is returned when a booking, child or host does not exist
	// or the booking has been cancelled.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned for transitions the lifecycle does not allow.
	ErrInvalidState = errors.New("invalid booking state")

	// ErrProviderUnavailable is returned when the media provider could not be
	// reached after retries. Callers may retry.
	ErrProviderUnavailable = errors.New("media provider unavailable")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden is returned when the caller may not act on the child.
	ErrForbidden = errors.New("forbidden")
)
