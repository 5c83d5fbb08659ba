package battle

import "errors"

var (
	// ErrAlreadyQueued is returned when a user who is already waiting or in
	// a non-terminal match asks to join matchmaking again.
	ErrAlreadyQueued = errors.New("already queued or in a match")

	// ErrNotConnected is returned when an operation requires a live
	// registered transport and the user has none.
	ErrNotConnected = errors.New("no live transport for user")
)
