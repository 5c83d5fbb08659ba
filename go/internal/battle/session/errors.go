package session

import "errors"

var (
	// ErrMatchNotFound is returned for an unknown or already-archived match.
	ErrMatchNotFound = errors.New("match not found")

	// ErrNotActive is returned when a submission targets a match that is not
	// in the ACTIVE state. Submissions racing a terminal transition land
	// here; they are rejected, never applied retroactively.
	ErrNotActive = errors.New("match not active")

	// ErrNotParticipant is returned when the user is not one of the two
	// match players.
	ErrNotParticipant = errors.New("not a match participant")

	// ErrDuplicateSubmission is returned when a (user, question) pair was
	// already recorded. The stored answer is kept; the new one is dropped.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrUnknownQuestion is returned when the question is not part of the
	// match's question set.
	ErrUnknownQuestion = errors.New("question not in match set")
)
