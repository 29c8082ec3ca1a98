package db

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidTransition indicates a status write that would move an
	// entity backwards or out of its state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)
