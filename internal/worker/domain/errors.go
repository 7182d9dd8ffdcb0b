package domain

import "errors"

var (
	// ErrInvalidPayload is returned when a delivery body is not a JSON object
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrHandlerPanic wraps a panic recovered from a job handler
	ErrHandlerPanic = errors.New("job handler panicked")
)
