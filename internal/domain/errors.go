package domain

import "github.com/cockroachdb/errors"

var (
	ErrCapacityExceeded     = errors.New("insufficient capacity")
	ErrConcertNotFound      = errors.New("concert not found")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrConstraintViolation  = errors.New("constraint violation")
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
)
