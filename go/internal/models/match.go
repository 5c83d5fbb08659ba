package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchState defines the lifecycle state of a battle match.
type MatchState string

const (
	MatchStatePending   MatchState = "PENDING"
	MatchStateActive    MatchState = "ACTIVE"
	MatchStateCompleted MatchState = "COMPLETED"
	MatchStateAbandoned MatchState = "ABANDONED"
)

// Terminal reports whether the state is a terminal one.
func (s MatchState) Terminal() bool {
	return s == MatchStateCompleted || s == MatchStateAbandoned
}

// Outcome is the per-player result of a finished match.
type Outcome string

const (
	OutcomeWin  Outcome = "WIN"
	OutcomeLoss Outcome = "LOSS"
	OutcomeDraw Outcome = "DRAW"
)

// Match represents a paired battle-quiz session between two players.
type Match struct {
	ID          uuid.UUID  `json:"id"`
	PlayerA     string     `json:"player_a"`
	PlayerB     string     `json:"player_b"`
	CategoryID  string     `json:"category_id,omitempty"`
	Questions   []Question `json:"questions"`
	State       MatchState `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Opponent returns the other participant of the match.
func (m *Match) Opponent(userID string) string {
	if userID == m.PlayerA {
		return m.PlayerB
	}
	return m.PlayerA
}

// HasPlayer reports whether userID is one of the two participants.
func (m *Match) HasPlayer(userID string) bool {
	return userID == m.PlayerA || userID == m.PlayerB
}

// AnswerSubmission is a single recorded answer. Append-only: at most one
// submission per (match, user, question) is ever stored.
type AnswerSubmission struct {
	MatchID     uuid.UUID `json:"match_id"`
	UserID      string    `json:"user_id"`
	QuestionID  string    `json:"question_id"`
	Choice      int       `json:"choice"`
	Correct     bool      `json:"correct"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PlayerResult is one player's side of a final match result.
type PlayerResult struct {
	UserID     string     `json:"user_id"`
	Score      int        `json:"score"`
	Outcome    Outcome    `json:"outcome"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// MatchResult is the terminal record of a match, produced exactly once when
// the match leaves ACTIVE (or PENDING, for abandonment).
type MatchResult struct {
	MatchID    uuid.UUID      `json:"match_id"`
	CategoryID string         `json:"category_id,omitempty"`
	State      MatchState     `json:"state"`
	Forfeit    bool           `json:"forfeit"`
	Players    []PlayerResult `json:"players"`
	FinishedAt time.Time      `json:"finished_at"`
}

// OpponentOf returns the other player's id in a two-player result.
func (r *MatchResult) OpponentOf(userID string) string {
	for _, p := range r.Players {
		if p.UserID != userID {
			return p.UserID
		}
	}
	return ""
}

// ResultFor returns the result entry for the given player.
func (r *MatchResult) ResultFor(userID string) (PlayerResult, bool) {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p, true
		}
	}
	return PlayerResult{}, false
}
