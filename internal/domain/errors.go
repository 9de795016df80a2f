package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")

	// ErrIntegrity marks a data-integrity fault, e.g. more than one open
	// group found for a pooling key. It indicates a concurrency-control bug
	// and must fail the triggering call rather than be papered over.
	ErrIntegrity = errors.New("data integrity violation")
)
