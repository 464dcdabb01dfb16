package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrForeignKeyViolation is returned when a referenced record does not exist.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrConstraintViolation is returned for other constraint failures and invalid input.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrTransient is returned when the store is temporarily unavailable.
	ErrTransient = errors.New("persistence: transient failure")
)
