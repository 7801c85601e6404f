package domain

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicate is returned when a unique constraint is violated,
	// e.g. two letters for the same transport message id.
	ErrDuplicate = errors.New("duplicate entity")
)
