package events

import (
	"time"

	"github.com/mcdev12/battlequiz/go/internal/models"
)

// Event payload types shared between the battle coordinator and the gateway.

// WaitingPayload is sent when a player is parked in the matchmaking queue.
type WaitingPayload struct {
	CategoryID string    `json:"category_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Position   int       `json:"position"`
}

// MatchedPayload is sent to both players when a match is created.
type MatchedPayload struct {
	MatchID    string            `json:"match_id"`
	OpponentID string            `json:"opponent_id"`
	CategoryID string            `json:"category_id,omitempty"`
	Questions  []QuestionPayload `json:"questions"`
	CreatedAt  time.Time         `json:"created_at"`
}

// QuestionPayload is the client-facing shape of a question. The correct
// choice index stays server-side.
type QuestionPayload struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
}

// MatchStartedPayload is sent once both players have acknowledged the
// question set and the clock starts.
type MatchStartedPayload struct {
	MatchID   string    `json:"match_id"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// AnswerAcceptedPayload confirms a recorded submission to its sender.
type AnswerAcceptedPayload struct {
	MatchID     string    `json:"match_id"`
	QuestionID  string    `json:"question_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// MatchResultPayload is sent to each player when a match reaches a terminal
// state. Score/OpponentScore are from the recipient's perspective.
type MatchResultPayload struct {
	MatchID       string         `json:"match_id"`
	Score         int            `json:"score"`
	OpponentScore int            `json:"opponent_score"`
	Outcome       models.Outcome `json:"outcome"`
	Forfeit       bool           `json:"forfeit"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// OpponentDisconnectedPayload is sent to the remaining player when the
// opponent's grace period expires.
type OpponentDisconnectedPayload struct {
	MatchID    string    `json:"match_id"`
	OpponentID string    `json:"opponent_id"`
	NotifiedAt time.Time `json:"notified_at"`
}

// ErrorPayload reports a caller error back over the transport.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QuestionPayloads converts domain questions to their client-facing shape.
func QuestionPayloads(qs []models.Question) []QuestionPayload {
	out := make([]QuestionPayload, len(qs))
	for i, q := range qs {
		out[i] = QuestionPayload{ID: q.ID, Prompt: q.Prompt, Choices: q.Choices}
	}
	return out
}
