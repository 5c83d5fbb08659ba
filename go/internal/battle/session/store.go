package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/battlequiz/go/internal/models"
	"github.com/rs/zerolog/log"
)

type answerKey struct {
	userID     string
	questionID string
}

// state is the mutable per-match record. It only exists while the match is
// non-terminal; finalization produces a MatchResult and drops the record.
type state struct {
	match        models.Match
	acks         map[string]bool
	answers      map[answerKey]models.AnswerSubmission
	lastAnswerAt map[string]time.Time
	deadline     time.Time
}

// Store owns all live match sessions. Every mutation runs under one lock,
// so the "both players submitted everything" check and the transition to
// COMPLETED are atomic with the submission that triggers them.
type Store struct {
	clock     clockwork.Clock
	timeLimit time.Duration

	mu      sync.Mutex
	matches map[uuid.UUID]*state
	byUser  map[string]uuid.UUID
}

// NewStore creates a session store. timeLimit bounds how long a match may
// stay ACTIVE before it is completed with whatever answers were submitted.
func NewStore(clock clockwork.Clock, timeLimit time.Duration) *Store {
	return &Store{
		clock:     clock,
		timeLimit: timeLimit,
		matches:   make(map[uuid.UUID]*state),
		byUser:    make(map[string]uuid.UUID),
	}
}

// Create initializes a PENDING match between two players. The coordinator
// guarantees neither player is queued or in another non-terminal match.
func (s *Store) Create(playerA, playerB, categoryID string, questions []models.Question) models.Match {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := models.Match{
		ID:         uuid.New(),
		PlayerA:    playerA,
		PlayerB:    playerB,
		CategoryID: categoryID,
		Questions:  questions,
		State:      models.MatchStatePending,
		CreatedAt:  s.clock.Now(),
	}

	s.matches[m.ID] = &state{
		match:        m,
		acks:         make(map[string]bool, 2),
		answers:      make(map[answerKey]models.AnswerSubmission),
		lastAnswerAt: make(map[string]time.Time, 2),
	}
	s.byUser[playerA] = m.ID
	s.byUser[playerB] = m.ID

	log.Info().
		Str("match_id", m.ID.String()).
		Str("player_a", playerA).
		Str("player_b", playerB).
		Str("category_id", categoryID).
		Int("questions", len(questions)).
		Msg("match created")

	return m
}

// UserMatch returns the non-terminal match a user participates in, if any.
func (s *Store) UserMatch(userID string) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUser[userID]
	return id, ok
}

// Get returns a copy of a live match.
func (s *Store) Get(matchID uuid.UUID) (models.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.matches[matchID]
	if !ok {
		return models.Match{}, false
	}
	return st.match, true
}

// Ready records a player's acknowledgement of the question set. Once both
// players have acknowledged, the match transitions to ACTIVE, the clock
// starts, and the submission deadline is returned. Repeated acks are no-ops.
func (s *Store) Ready(matchID uuid.UUID, userID string) (activated bool, deadline time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.matches[matchID]
	if !ok {
		return false, time.Time{}, ErrMatchNotFound
	}
	if !st.match.HasPlayer(userID) {
		return false, time.Time{}, ErrNotParticipant
	}
	if st.match.State != models.MatchStatePending {
		return false, st.deadline, nil
	}

	st.acks[userID] = true
	if !st.acks[st.match.PlayerA] || !st.acks[st.match.PlayerB] {
		return false, time.Time{}, nil
	}

	now := s.clock.Now()
	st.match.State = models.MatchStateActive
	st.match.StartedAt = &now
	st.deadline = now.Add(s.timeLimit)

	log.Info().
		Str("match_id", matchID.String()).
		Time("deadline", st.deadline).
		Msg("match activated")

	return true, st.deadline, nil
}

// Submit records an answer. The first write for a (user, question) key wins;
// later submissions are rejected with ErrDuplicateSubmission and never
// overwrite the stored choice. If this submission completes the match, the
// terminal result is produced in the same critical section and returned.
func (s *Store) Submit(matchID uuid.UUID, userID, questionID string, choice int) (models.AnswerSubmission, *models.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.matches[matchID]
	if !ok {
		return models.AnswerSubmission{}, nil, ErrMatchNotFound
	}
	if !st.match.HasPlayer(userID) {
		return models.AnswerSubmission{}, nil, ErrNotParticipant
	}
	if st.match.State != models.MatchStateActive {
		return models.AnswerSubmission{}, nil, ErrNotActive
	}

	var question *models.Question
	for i := range st.match.Questions {
		if st.match.Questions[i].ID == questionID {
			question = &st.match.Questions[i]
			break
		}
	}
	if question == nil {
		return models.AnswerSubmission{}, nil, ErrUnknownQuestion
	}

	key := answerKey{userID: userID, questionID: questionID}
	if _, exists := st.answers[key]; exists {
		return models.AnswerSubmission{}, nil, ErrDuplicateSubmission
	}

	now := s.clock.Now()
	sub := models.AnswerSubmission{
		MatchID:     matchID,
		UserID:      userID,
		QuestionID:  questionID,
		Choice:      choice,
		Correct:     choice == question.CorrectChoice,
		SubmittedAt: now,
	}
	st.answers[key] = sub
	st.lastAnswerAt[userID] = now

	if s.allSubmitted(st) {
		result := s.finalizeLocked(st, models.MatchStateCompleted, "")
		return sub, &result, nil
	}
	return sub, nil, nil
}

// ExpireDeadline completes an ACTIVE match whose time limit elapsed, scoring
// whatever was submitted so far. Returns false if the match is gone or not
// yet active (the deadline only exists for ACTIVE matches).
func (s *Store) ExpireDeadline(matchID uuid.UUID) (models.MatchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.matches[matchID]
	if !ok || st.match.State != models.MatchStateActive {
		return models.MatchResult{}, false
	}

	log.Info().Str("match_id", matchID.String()).Msg("match time limit expired")
	return s.finalizeLocked(st, models.MatchStateCompleted, ""), true
}

// Abandon terminates a PENDING or ACTIVE match after a participant's grace
// period expired. The remaining player is recorded as winner by forfeit.
func (s *Store) Abandon(matchID uuid.UUID, leaverID string) (models.MatchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.matches[matchID]
	if !ok || st.match.State.Terminal() || !st.match.HasPlayer(leaverID) {
		return models.MatchResult{}, false
	}

	log.Info().
		Str("match_id", matchID.String()).
		Str("leaver", leaverID).
		Msg("match abandoned")

	return s.finalizeLocked(st, models.MatchStateAbandoned, leaverID), true
}

// Count returns the number of live (non-terminal) matches.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.matches)
}

func (s *Store) allSubmitted(st *state) bool {
	total := len(st.match.Questions)
	countA, countB := 0, 0
	for key := range st.answers {
		switch key.userID {
		case st.match.PlayerA:
			countA++
		case st.match.PlayerB:
			countB++
		}
	}
	return countA == total && countB == total
}

// finalizeLocked transitions the match to a terminal state, computes the
// result, and archives the live record. Callers hold s.mu.
func (s *Store) finalizeLocked(st *state, terminal models.MatchState, forfeitedBy string) models.MatchResult {
	now := s.clock.Now()
	st.match.State = terminal
	st.match.CompletedAt = &now

	resultA := s.playerResult(st, st.match.PlayerA)
	resultB := s.playerResult(st, st.match.PlayerB)

	if terminal == models.MatchStateAbandoned {
		// Forfeit policy: the remaining player wins regardless of score.
		if forfeitedBy == st.match.PlayerA {
			resultA.Outcome = models.OutcomeLoss
			resultB.Outcome = models.OutcomeWin
		} else {
			resultA.Outcome = models.OutcomeWin
			resultB.Outcome = models.OutcomeLoss
		}
	} else {
		resultA.Outcome, resultB.Outcome = computeOutcome(resultA, resultB)
	}

	delete(s.matches, st.match.ID)
	delete(s.byUser, st.match.PlayerA)
	delete(s.byUser, st.match.PlayerB)

	return models.MatchResult{
		MatchID:    st.match.ID,
		CategoryID: st.match.CategoryID,
		State:      terminal,
		Forfeit:    terminal == models.MatchStateAbandoned,
		Players:    []models.PlayerResult{resultA, resultB},
		FinishedAt: now,
	}
}

func (s *Store) playerResult(st *state, userID string) models.PlayerResult {
	score, answered := 0, 0
	for key, sub := range st.answers {
		if key.userID != userID {
			continue
		}
		answered++
		if sub.Correct {
			score++
		}
	}

	pr := models.PlayerResult{UserID: userID, Score: score}
	if answered == len(st.match.Questions) {
		if t, ok := st.lastAnswerAt[userID]; ok {
			finished := t
			pr.FinishedAt = &finished
		}
	}
	return pr
}

// computeOutcome decides WIN/LOSS/DRAW for a completed match. Higher score
// wins; equal scores tie-break by earliest completion timestamp, with a
// finished player beating an unfinished one. Identical positions are a DRAW.
func computeOutcome(a, b models.PlayerResult) (models.Outcome, models.Outcome) {
	switch {
	case a.Score > b.Score:
		return models.OutcomeWin, models.OutcomeLoss
	case a.Score < b.Score:
		return models.OutcomeLoss, models.OutcomeWin
	}

	switch {
	case a.FinishedAt != nil && b.FinishedAt == nil:
		return models.OutcomeWin, models.OutcomeLoss
	case a.FinishedAt == nil && b.FinishedAt != nil:
		return models.OutcomeLoss, models.OutcomeWin
	case a.FinishedAt != nil && b.FinishedAt != nil:
		if a.FinishedAt.Before(*b.FinishedAt) {
			return models.OutcomeWin, models.OutcomeLoss
		}
		if b.FinishedAt.Before(*a.FinishedAt) {
			return models.OutcomeLoss, models.OutcomeWin
		}
	}
	return models.OutcomeDraw, models.OutcomeDraw
}
