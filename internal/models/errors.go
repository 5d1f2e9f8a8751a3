package models

import "errors"

var (
	// ErrNotFound is returned when an evidence file id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a file status change skips or
	// reverses the Queued→Uploading→Extracting→Complete|Failed order.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidState is returned when an operation arrives while the file is
	// in a status that cannot accept it, e.g. an entity before Extracting.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation is returned for malformed entities.
	ErrValidation = errors.New("validation error")
)
