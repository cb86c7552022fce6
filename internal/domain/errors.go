package domain

import "errors"

var (
	// ErrValidation marks malformed or missing caller input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing record or user.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an update rejected by the record's current state.
	ErrConflict = errors.New("conflict")
	// ErrTokenUnavailable marks a recipient with no resolvable delivery
	// token. Non-fatal: the record parks in pending_token.
	ErrTokenUnavailable = errors.New("delivery token unavailable")
)
