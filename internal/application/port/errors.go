package port

import "errors"

var (
	// ErrNotFound is returned when the addressed record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a create collides with an existing key
	ErrConflict = errors.New("record already exists")
	// ErrCorruptRecord is returned when a stored record cannot be decoded
	ErrCorruptRecord = errors.New("stored record cannot be decoded")
)
