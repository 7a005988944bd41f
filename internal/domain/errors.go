package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	// ErrInsufficientCapacity means the event cannot cover the requested quantity.
	ErrInsufficientCapacity = errors.New("not enough tickets available")
	// ErrInvalidCapacity is returned when a capacity change would drop below tickets already sold.
	ErrInvalidCapacity = errors.New("capacity below tickets already sold")
	// ErrDuplicateTransaction is returned when a booking for the external transaction id already exists.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)
