package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrVersionConflict indicates a conditional write lost a race: the stored
	// version no longer matches the expected one.
	ErrVersionConflict = errors.New("repository: version conflict")
	// ErrNotImplemented signals the operation is not yet implemented for the chosen backend.
	ErrNotImplemented = errors.New("repository: not implemented")
)
