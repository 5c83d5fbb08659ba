package battle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/battlequiz/go/internal/battle/events"
	"github.com/mcdev12/battlequiz/go/internal/battle/queue"
	"github.com/mcdev12/battlequiz/go/internal/battle/registry"
	"github.com/mcdev12/battlequiz/go/internal/battle/session"
	"github.com/mcdev12/battlequiz/go/internal/battle/supervisor"
	"github.com/mcdev12/battlequiz/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Config holds the tunable policies of the coordination core. Grace period,
// time limit, and question count are product knobs, not invariants.
type Config struct {
	GracePeriod       time.Duration
	MatchTimeLimit    time.Duration
	QuestionsPerMatch int
}

// DefaultConfig returns the default battle policies.
func DefaultConfig() Config {
	return Config{
		GracePeriod:       30 * time.Second,
		MatchTimeLimit:    2 * time.Minute,
		QuestionsPerMatch: 5,
	}
}

// Coordinator is the single owner of all matchmaking and session state:
// connection registry, waiting queue, live sessions, and the timers that
// resolve abandonment and overruns. All public operations serialize on one
// mutex, which keeps pairing and completion checks atomic; everything that
// can be slow (delivery, archival) happens outside coordination.
type Coordinator struct {
	cfg       Config
	clock     clockwork.Clock
	notifier  Notifier
	questions QuestionProvider
	sink      ResultSink

	registry   *registry.Registry
	queue      *queue.Queue
	sessions   *session.Store
	supervisor *supervisor.Supervisor

	mu  sync.Mutex
	ctx context.Context
}

// NewCoordinator wires the coordination core. The notifier is bound with
// SetNotifier once the transport layer exists; Start must be called before
// serving traffic.
func NewCoordinator(cfg Config, clock clockwork.Clock, questions QuestionProvider, sink ResultSink) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		clock:     clock,
		notifier:  noopNotifier{},
		questions: questions,
		sink:      sink,
		registry:  registry.NewRegistry(),
		queue:     queue.NewQueue(),
		sessions:  session.NewStore(clock, cfg.MatchTimeLimit),
	}
	c.supervisor = supervisor.New(clock, cfg.GracePeriod, c.handleGraceExpired, c.handleDeadline)
	return c
}

// SetNotifier binds the transport-side notifier. Called once during wiring,
// before Start; the transport layer needs the coordinator to exist first.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.notifier = n
}

// Start binds the coordinator and its supervisor to the server lifecycle.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx = ctx
	c.supervisor.Start(ctx)
	log.Info().
		Dur("grace_period", c.cfg.GracePeriod).
		Dur("match_time_limit", c.cfg.MatchTimeLimit).
		Int("questions_per_match", c.cfg.QuestionsPerMatch).
		Msg("battle coordinator started")
}

// Connect registers a user's transport, superseding any prior one, and
// cancels a pending grace timer if the user was mid-match.
func (c *Coordinator) Connect(userID string, transportID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, superseded := c.registry.Register(userID, transportID, c.clock.Now())
	if superseded {
		c.notifier.CloseTransport(prev)
	}
	c.supervisor.PlayerReconnected(userID)
}

// Disconnect handles a transport close. Stale (superseded) transports are
// ignored. The user is dequeued if waiting; if they participate in a
// non-terminal match, the grace timer is armed.
func (c *Coordinator) Disconnect(transportID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	userID, current := c.registry.Remove(transportID)
	if !current {
		return
	}

	c.queue.Remove(userID)

	if matchID, ok := c.sessions.UserMatch(userID); ok {
		c.supervisor.PlayerDisconnected(userID, matchID)
	}
}

// JoinMatchmaking pairs the user with the oldest compatible waiting player,
// or parks them in the queue. Fails with ErrAlreadyQueued if the user is
// already waiting or in a non-terminal match. The question fetch can block
// on the database, so it runs outside the coordinator mutex; both sides are
// revalidated once it returns.
func (c *Coordinator) JoinMatchmaking(ctx context.Context, userID, categoryID string) error {
	c.mu.Lock()

	if !c.registry.Connected(userID) {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if !c.pairableLocked(userID) {
		c.mu.Unlock()
		return ErrAlreadyQueued
	}

	for {
		peer, found := c.queue.TakeCompatible(categoryID)
		if !found {
			c.parkLocked(userID, categoryID)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		matchCategory := categoryID
		if matchCategory == "" {
			matchCategory = peer.CategoryID
		}
		questionSet, err := c.questions.QuestionSet(ctx, matchCategory, c.cfg.QuestionsPerMatch)

		c.mu.Lock()
		if err != nil {
			// The peer keeps their original queue priority.
			c.restorePeerLocked(peer)
			c.mu.Unlock()
			return fmt.Errorf("fetch question set: %w", err)
		}
		if !c.registry.Connected(userID) || !c.pairableLocked(userID) {
			// The joiner disconnected or was claimed while the fetch ran.
			c.restorePeerLocked(peer)
			c.mu.Unlock()
			return ErrNotConnected
		}
		if !c.registry.Connected(peer.UserID) || !c.pairableLocked(peer.UserID) {
			// The peer left or was paired elsewhere; try the next one.
			continue
		}

		match := c.sessions.Create(peer.UserID, userID, matchCategory, questionSet)
		c.notifyMatched(match)
		c.mu.Unlock()
		return nil
	}
}

// pairableLocked reports whether the user holds no matchmaking slot: not
// waiting and not in a non-terminal match. Callers hold c.mu.
func (c *Coordinator) pairableLocked(userID string) bool {
	if c.queue.Contains(userID) {
		return false
	}
	_, inMatch := c.sessions.UserMatch(userID)
	return !inMatch
}

// restorePeerLocked puts a taken queue entry back at the head of the line
// after a pairing attempt fell through, unless the peer disconnected or
// claimed another slot while the entry was out. Callers hold c.mu.
func (c *Coordinator) restorePeerLocked(peer queue.Entry) {
	if c.registry.Connected(peer.UserID) && c.pairableLocked(peer.UserID) {
		c.queue.PushFront(peer)
	}
}

// parkLocked appends the user to the waiting queue and notifies them.
// Callers hold c.mu.
func (c *Coordinator) parkLocked(userID, categoryID string) {
	transportID, _ := c.registry.Lookup(userID)
	now := c.clock.Now()
	position := c.queue.Push(queue.Entry{
		UserID:      userID,
		TransportID: transportID,
		CategoryID:  categoryID,
		EnqueuedAt:  now,
	})
	c.notifier.Send(userID, events.New(events.EventTypeWaiting, events.WaitingPayload{
		CategoryID: categoryID,
		EnqueuedAt: now,
		Position:   position,
	}))
}

// LeaveMatchmaking removes the user's waiting entry. Idempotent: leaving
// while not queued is a no-op.
func (c *Coordinator) LeaveMatchmaking(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue.Remove(userID)
}

// Ready records a player's acknowledgement of the question set. When both
// players are ready the match activates, the clock starts, and the
// time-limit timer is armed.
func (c *Coordinator) Ready(matchID uuid.UUID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	activated, deadline, err := c.sessions.Ready(matchID, userID)
	if err != nil {
		return err
	}
	if !activated {
		return nil
	}

	c.supervisor.ScheduleDeadline(matchID, deadline)

	match, ok := c.sessions.Get(matchID)
	if !ok {
		return nil
	}
	started := events.New(events.EventTypeMatchStarted, events.MatchStartedPayload{
		MatchID:   matchID.String(),
		StartedAt: *match.StartedAt,
		Deadline:  deadline,
	})
	c.notifier.Send(match.PlayerA, started)
	c.notifier.Send(match.PlayerB, started)
	return nil
}

// SubmitAnswer records a player's answer. If the submission completes the
// match, scoring and the COMPLETED transition happen atomically with it.
func (c *Coordinator) SubmitAnswer(matchID uuid.UUID, userID, questionID string, choice int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, result, err := c.sessions.Submit(matchID, userID, questionID, choice)
	if err != nil {
		return err
	}

	c.notifier.Send(userID, events.New(events.EventTypeAnswerAccepted, events.AnswerAcceptedPayload{
		MatchID:     matchID.String(),
		QuestionID:  questionID,
		SubmittedAt: sub.SubmittedAt,
	}))

	if result != nil {
		c.finishMatch(*result)
	}
	return nil
}

// Stats returns live counts for the stats endpoint.
func (c *Coordinator) Stats() map[string]int {
	return map[string]int{
		"connections":  c.registry.Count(),
		"waiting":      c.queue.Len(),
		"live_matches": c.sessions.Count(),
	}
}

// handleGraceExpired runs on the supervisor's timer goroutine when a
// disconnected participant failed to return in time.
func (c *Coordinator) handleGraceExpired(userID string, matchID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, ok := c.sessions.Abandon(matchID, userID)
	if !ok {
		// Match already reached a terminal state through another path.
		return
	}

	remaining := ""
	for _, p := range result.Players {
		if p.UserID != userID {
			remaining = p.UserID
		}
	}
	c.notifier.Send(remaining, events.New(events.EventTypeOpponentDisconnected, events.OpponentDisconnectedPayload{
		MatchID:    matchID.String(),
		OpponentID: userID,
		NotifiedAt: c.clock.Now(),
	}))

	c.finishMatch(result)
}

// handleDeadline runs on the supervisor's timer goroutine when a match's
// time limit elapses before both players finished.
func (c *Coordinator) handleDeadline(matchID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result, ok := c.sessions.ExpireDeadline(matchID)
	if !ok {
		return
	}
	c.finishMatch(result)
}

// finishMatch fans out a terminal result and hands it to the archive sink.
// Callers hold c.mu; archival runs on its own goroutine so coordination
// never waits on the database or the message bus.
func (c *Coordinator) finishMatch(result models.MatchResult) {
	c.supervisor.CancelDeadline(result.MatchID)

	for _, p := range result.Players {
		opponent, _ := result.ResultFor(result.OpponentOf(p.UserID))
		c.notifier.Send(p.UserID, events.New(events.EventTypeMatchResult, events.MatchResultPayload{
			MatchID:       result.MatchID.String(),
			Score:         p.Score,
			OpponentScore: opponent.Score,
			Outcome:       p.Outcome,
			Forfeit:       result.Forfeit,
			FinishedAt:    result.FinishedAt,
		}))
	}

	archived := result
	go func() {
		if err := c.sink.ArchiveResult(c.ctx, archived); err != nil {
			log.Error().
				Err(err).
				Str("match_id", archived.MatchID.String()).
				Msg("failed to archive match result")
		}
	}()

	log.Info().
		Str("match_id", result.MatchID.String()).
		Str("state", string(result.State)).
		Bool("forfeit", result.Forfeit).
		Msg("match finished")
}

// notifyMatched sends the Matched event to both players of a new match.
func (c *Coordinator) notifyMatched(match models.Match) {
	questionPayloads := events.QuestionPayloads(match.Questions)
	for _, pair := range [][2]string{{match.PlayerA, match.PlayerB}, {match.PlayerB, match.PlayerA}} {
		c.notifier.Send(pair[0], events.New(events.EventTypeMatched, events.MatchedPayload{
			MatchID:    match.ID.String(),
			OpponentID: pair[1],
			CategoryID: match.CategoryID,
			Questions:  questionPayloads,
			CreatedAt:  match.CreatedAt,
		}))
	}
}
