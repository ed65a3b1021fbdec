package interfaces

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks the role the operation requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidIdentity is returned when the zero identity is supplied where forbidden.
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrInvalidArgument is returned for malformed arguments, e.g. a zero marketplace id.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyActive is returned when adding a sidechain that is currently active.
	ErrAlreadyActive = errors.New("sidechain already active")

	// ErrInvalidSnapshot is returned when a snapshot violates registry invariants.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)
