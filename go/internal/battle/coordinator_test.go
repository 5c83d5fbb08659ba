package battle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/battlequiz/go/internal/battle/events"
	"github.com/mcdev12/battlequiz/go/internal/battle/session"
	"github.com/mcdev12/battlequiz/go/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events map[string][]events.Event
	closed []uuid.UUID
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{events: make(map[string][]events.Event)}
}

func (n *fakeNotifier) Send(userID string, event events.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[userID] = append(n.events[userID], event)
}

func (n *fakeNotifier) CloseTransport(transportID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, transportID)
}

func (n *fakeNotifier) lastOfType(userID string, eventType events.EventType) (events.Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events[userID]) - 1; i >= 0; i-- {
		if n.events[userID][i].Type == eventType {
			return n.events[userID][i], true
		}
	}
	return events.Event{}, false
}

func (n *fakeNotifier) countOfType(userID string, eventType events.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events[userID] {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

type fakeQuestions struct {
	err error
}

func (f *fakeQuestions) QuestionSet(ctx context.Context, categoryID string, count int) ([]models.Question, error) {
	if f.err != nil {
		return nil, f.err
	}
	qs := make([]models.Question, count)
	for i := range qs {
		qs[i] = models.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			CategoryID:    categoryID,
			Prompt:        "?",
			Choices:       []string{"x", "y", "z"},
			CorrectChoice: 0,
		}
	}
	return qs, nil
}

// blockingQuestions parks QuestionSet until released, signalling entry so
// tests can act while the fetch is in flight.
type blockingQuestions struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingQuestions() *blockingQuestions {
	return &blockingQuestions{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingQuestions) QuestionSet(ctx context.Context, categoryID string, count int) ([]models.Question, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return (&fakeQuestions{}).QuestionSet(ctx, categoryID, count)
}

type fakeSink struct {
	mu      sync.Mutex
	results []models.MatchResult
}

func (f *fakeSink) ArchiveResult(ctx context.Context, result models.MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

func (f *fakeSink) last() models.MatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[len(f.results)-1]
}

type harness struct {
	coordinator *Coordinator
	notifier    *fakeNotifier
	sink        *fakeSink
	clock       *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := clockwork.NewFakeClock()
	notifier := newFakeNotifier()
	sink := &fakeSink{}

	c := NewCoordinator(DefaultConfig(), clock, &fakeQuestions{}, sink)
	c.SetNotifier(notifier)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Start(ctx)

	return &harness{coordinator: c, notifier: notifier, sink: sink, clock: clock}
}

func (h *harness) connect(t *testing.T, userID string) uuid.UUID {
	t.Helper()
	transportID := uuid.New()
	h.coordinator.Connect(userID, transportID)
	return transportID
}

// matchedID extracts the match id delivered to a user.
func (h *harness) matchedID(t *testing.T, userID string) uuid.UUID {
	t.Helper()
	event, ok := h.notifier.lastOfType(userID, events.EventTypeMatched)
	require.True(t, ok, "user %s never received Matched", userID)

	var payload events.MatchedPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	return uuid.MustParse(payload.MatchID)
}

// startMatch connects both players, pairs them, and acks both sides.
func (h *harness) startMatch(t *testing.T, playerA, playerB, categoryID string) uuid.UUID {
	t.Helper()

	h.connect(t, playerA)
	h.connect(t, playerB)
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), playerA, categoryID))
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), playerB, categoryID))

	matchID := h.matchedID(t, playerA)
	require.NoError(t, h.coordinator.Ready(matchID, playerA))
	require.NoError(t, h.coordinator.Ready(matchID, playerB))
	return matchID
}

func TestJoinPairsBothPlayers(t *testing.T) {
	h := newHarness(t)

	h.connect(t, "alice")
	h.connect(t, "bob")

	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "alice", "science"))
	_, ok := h.notifier.lastOfType("alice", events.EventTypeWaiting)
	require.True(t, ok)

	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "bob", "science"))

	// Exactly one match; each side sees the other as opponent.
	aliceEvent, ok := h.notifier.lastOfType("alice", events.EventTypeMatched)
	require.True(t, ok)
	bobEvent, ok := h.notifier.lastOfType("bob", events.EventTypeMatched)
	require.True(t, ok)

	var alicePayload, bobPayload events.MatchedPayload
	require.NoError(t, json.Unmarshal(aliceEvent.Data, &alicePayload))
	require.NoError(t, json.Unmarshal(bobEvent.Data, &bobPayload))

	require.Equal(t, alicePayload.MatchID, bobPayload.MatchID)
	require.Equal(t, "bob", alicePayload.OpponentID)
	require.Equal(t, "alice", bobPayload.OpponentID)
	require.Len(t, alicePayload.Questions, DefaultConfig().QuestionsPerMatch)
	require.Equal(t, 1, h.coordinator.Stats()["live_matches"])
}

func TestJoinRequiresConnection(t *testing.T) {
	h := newHarness(t)

	err := h.coordinator.JoinMatchmaking(context.Background(), "ghost", "")
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestJoinRejectsDoubleQueue(t *testing.T) {
	h := newHarness(t)

	h.connect(t, "alice")
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "alice", "science"))

	err := h.coordinator.JoinMatchmaking(context.Background(), "alice", "science")
	require.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestJoinRejectsWhileInMatch(t *testing.T) {
	h := newHarness(t)
	h.startMatch(t, "alice", "bob", "science")

	err := h.coordinator.JoinMatchmaking(context.Background(), "alice", "science")
	require.ErrorIs(t, err, ErrAlreadyQueued)
	err = h.coordinator.JoinMatchmaking(context.Background(), "bob", "")
	require.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestFIFOFairnessAcrossCategories(t *testing.T) {
	h := newHarness(t)

	h.connect(t, "early")
	h.connect(t, "late")
	h.connect(t, "joiner")

	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "early", "math"))
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "late", "science"))
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "joiner", ""))

	// The category-less joiner pairs with the earliest waiter.
	event, ok := h.notifier.lastOfType("joiner", events.EventTypeMatched)
	require.True(t, ok)
	var payload events.MatchedPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	require.Equal(t, "early", payload.OpponentID)
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newHarness(t)

	h.connect(t, "alice")
	h.coordinator.LeaveMatchmaking("alice")

	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "alice", ""))
	h.coordinator.LeaveMatchmaking("alice")
	h.coordinator.LeaveMatchmaking("alice")

	require.Equal(t, 0, h.coordinator.Stats()["waiting"])

	// After leaving, joining again works.
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "alice", ""))
}

func TestQuestionFetchFailureKeepsPeerQueued(t *testing.T) {
	clock := clockwork.NewFakeClock()
	notifier := newFakeNotifier()
	sink := &fakeSink{}
	questions := &fakeQuestions{err: errors.New("db down")}

	c := NewCoordinator(DefaultConfig(), clock, questions, sink)
	c.SetNotifier(notifier)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.Connect("alice", uuid.New())
	c.Connect("bob", uuid.New())

	require.NoError(t, c.JoinMatchmaking(context.Background(), "alice", "science"))
	err := c.JoinMatchmaking(context.Background(), "bob", "science")
	require.Error(t, err)

	// Alice keeps her spot; no half-created match exists.
	require.Equal(t, 1, c.Stats()["waiting"])
	require.Equal(t, 0, c.Stats()["live_matches"])
}

func newBlockedHarness(t *testing.T) (*Coordinator, *fakeNotifier, *blockingQuestions) {
	t.Helper()

	questions := newBlockingQuestions()
	notifier := newFakeNotifier()
	c := NewCoordinator(DefaultConfig(), clockwork.NewFakeClock(), questions, &fakeSink{})
	c.SetNotifier(notifier)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c.Start(ctx)

	return c, notifier, questions
}

func TestQuestionFetchDoesNotBlockCoordinator(t *testing.T) {
	c, notifier, questions := newBlockedHarness(t)

	c.Connect("alice", uuid.New())
	c.Connect("bob", uuid.New())
	c.Connect("carol", uuid.New())

	require.NoError(t, c.JoinMatchmaking(context.Background(), "alice", "science"))

	joinDone := make(chan error, 1)
	go func() { joinDone <- c.JoinMatchmaking(context.Background(), "bob", "science") }()
	<-questions.entered

	// Other coordinator operations must proceed while the fetch is in
	// flight; a held mutex here would also block the timer callbacks.
	require.NoError(t, c.JoinMatchmaking(context.Background(), "carol", "history"))
	_, ok := notifier.lastOfType("carol", events.EventTypeWaiting)
	require.True(t, ok)
	require.Equal(t, 3, c.Stats()["connections"])
	c.LeaveMatchmaking("carol")

	close(questions.release)
	require.NoError(t, <-joinDone)
	_, ok = notifier.lastOfType("alice", events.EventTypeMatched)
	require.True(t, ok)
	_, ok = notifier.lastOfType("bob", events.EventTypeMatched)
	require.True(t, ok)
}

func TestPeerDisconnectDuringFetchReparksJoiner(t *testing.T) {
	c, notifier, questions := newBlockedHarness(t)

	aliceTransport := uuid.New()
	c.Connect("alice", aliceTransport)
	c.Connect("bob", uuid.New())

	require.NoError(t, c.JoinMatchmaking(context.Background(), "alice", "science"))

	joinDone := make(chan error, 1)
	go func() { joinDone <- c.JoinMatchmaking(context.Background(), "bob", "science") }()
	<-questions.entered

	c.Disconnect(aliceTransport)
	close(questions.release)

	// The taken peer is gone; the joiner waits instead of entering a match
	// against a vanished opponent.
	require.NoError(t, <-joinDone)
	require.Equal(t, 0, c.Stats()["live_matches"])
	require.Equal(t, 1, c.Stats()["waiting"])
	_, ok := notifier.lastOfType("bob", events.EventTypeMatched)
	require.False(t, ok)
	_, ok = notifier.lastOfType("bob", events.EventTypeWaiting)
	require.True(t, ok)
}

func TestJoinContextCancelRestoresPeer(t *testing.T) {
	c, _, questions := newBlockedHarness(t)

	c.Connect("alice", uuid.New())
	c.Connect("bob", uuid.New())

	require.NoError(t, c.JoinMatchmaking(context.Background(), "alice", "science"))

	joinCtx, cancelJoin := context.WithCancel(context.Background())
	joinDone := make(chan error, 1)
	go func() { joinDone <- c.JoinMatchmaking(joinCtx, "bob", "science") }()
	<-questions.entered

	cancelJoin()

	// A bounded fetch that gives up returns the error to the joiner and
	// restores the peer's queue priority.
	require.Error(t, <-joinDone)
	require.Equal(t, 0, c.Stats()["live_matches"])
	require.Equal(t, 1, c.Stats()["waiting"])
}

func TestFullMatchEndsInDraw(t *testing.T) {
	h := newHarness(t)
	matchID := h.startMatch(t, "alice", "bob", "science")

	questionCount := DefaultConfig().QuestionsPerMatch
	for i := 1; i <= questionCount; i++ {
		questionID := fmt.Sprintf("q%d", i)
		require.NoError(t, h.coordinator.SubmitAnswer(matchID, "alice", questionID, 0))
		require.NoError(t, h.coordinator.SubmitAnswer(matchID, "bob", questionID, 0))
	}

	for _, userID := range []string{"alice", "bob"} {
		event, ok := h.notifier.lastOfType(userID, events.EventTypeMatchResult)
		require.True(t, ok, "user %s never received MatchResult", userID)

		var payload events.MatchResultPayload
		require.NoError(t, json.Unmarshal(event.Data, &payload))
		require.Equal(t, questionCount, payload.Score)
		require.Equal(t, questionCount, payload.OpponentScore)
		require.Equal(t, models.OutcomeDraw, payload.Outcome)
		require.False(t, payload.Forfeit)
	}

	require.Equal(t, 0, h.coordinator.Stats()["live_matches"])
	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, models.MatchStateCompleted, h.sink.last().State)
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	h := newHarness(t)
	matchID := h.startMatch(t, "alice", "bob", "")

	require.NoError(t, h.coordinator.SubmitAnswer(matchID, "alice", "q1", 0))
	err := h.coordinator.SubmitAnswer(matchID, "alice", "q1", 2)
	require.ErrorIs(t, err, session.ErrDuplicateSubmission)

	// Only the accepted submission was acknowledged.
	require.Equal(t, 1, h.notifier.countOfType("alice", events.EventTypeAnswerAccepted))
}

func TestGraceExpiryForfeitsMatch(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	transportA, _ := h.coordinator.registry.Lookup("alice")
	h.connect(t, "bob")

	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "alice", "science"))
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "bob", "science"))
	matchID := h.matchedID(t, "alice")
	require.NoError(t, h.coordinator.Ready(matchID, "alice"))
	require.NoError(t, h.coordinator.Ready(matchID, "bob"))

	h.coordinator.Disconnect(transportA)
	h.clock.Advance(DefaultConfig().GracePeriod + time.Second)

	require.Eventually(t, func() bool {
		_, ok := h.notifier.lastOfType("bob", events.EventTypeOpponentDisconnected)
		return ok
	}, time.Second, 5*time.Millisecond)

	event, _ := h.notifier.lastOfType("bob", events.EventTypeMatchResult)
	var payload events.MatchResultPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	require.Equal(t, models.OutcomeWin, payload.Outcome)
	require.True(t, payload.Forfeit)

	require.Eventually(t, func() bool { return h.sink.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, models.MatchStateAbandoned, h.sink.last().State)

	// The abandoned match accepts no further submissions.
	err := h.coordinator.SubmitAnswer(matchID, "bob", "q1", 0)
	require.ErrorIs(t, err, session.ErrMatchNotFound)
}

func TestReconnectWithinGraceContinuesMatch(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	transportA, _ := h.coordinator.registry.Lookup("alice")
	h.connect(t, "bob")

	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "alice", ""))
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "bob", ""))
	matchID := h.matchedID(t, "alice")
	require.NoError(t, h.coordinator.Ready(matchID, "alice"))
	require.NoError(t, h.coordinator.Ready(matchID, "bob"))

	require.NoError(t, h.coordinator.SubmitAnswer(matchID, "alice", "q1", 0))

	h.coordinator.Disconnect(transportA)
	h.connect(t, "alice") // back within grace
	h.clock.Advance(DefaultConfig().GracePeriod + time.Second)

	// The match survives and retains the earlier submission.
	require.Never(t, func() bool {
		_, ok := h.notifier.lastOfType("bob", events.EventTypeOpponentDisconnected)
		return ok
	}, 100*time.Millisecond, 5*time.Millisecond)
	require.Equal(t, 1, h.coordinator.Stats()["live_matches"])

	err := h.coordinator.SubmitAnswer(matchID, "alice", "q1", 0)
	require.ErrorIs(t, err, session.ErrDuplicateSubmission)
	require.NoError(t, h.coordinator.SubmitAnswer(matchID, "alice", "q2", 0))
}

func TestDisconnectWhileWaitingDequeues(t *testing.T) {
	h := newHarness(t)
	transportA := h.connect(t, "alice")

	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "alice", "science"))
	require.Equal(t, 1, h.coordinator.Stats()["waiting"])

	h.coordinator.Disconnect(transportA)
	require.Equal(t, 0, h.coordinator.Stats()["waiting"])

	// A later join by a compatible player waits instead of pairing.
	h.connect(t, "bob")
	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "bob", "science"))
	_, ok := h.notifier.lastOfType("bob", events.EventTypeMatched)
	require.False(t, ok)
}

func TestSupersededTransportDoesNotDequeue(t *testing.T) {
	h := newHarness(t)
	oldTransport := h.connect(t, "alice")
	h.connect(t, "alice") // supersedes

	require.NoError(t, h.coordinator.JoinMatchmaking(context.Background(), "alice", ""))

	// Closing the stale transport must not remove the waiting entry.
	h.coordinator.Disconnect(oldTransport)
	require.Equal(t, 1, h.coordinator.Stats()["waiting"])
	require.NotEmpty(t, h.notifier.closed)
}

func TestTimeLimitCompletesMatch(t *testing.T) {
	h := newHarness(t)
	matchID := h.startMatch(t, "alice", "bob", "science")

	require.NoError(t, h.coordinator.SubmitAnswer(matchID, "alice", "q1", 0))
	require.NoError(t, h.coordinator.SubmitAnswer(matchID, "alice", "q2", 0))
	require.NoError(t, h.coordinator.SubmitAnswer(matchID, "bob", "q1", 2))

	h.clock.Advance(DefaultConfig().MatchTimeLimit + time.Second)

	require.Eventually(t, func() bool {
		_, ok := h.notifier.lastOfType("alice", events.EventTypeMatchResult)
		return ok
	}, time.Second, 5*time.Millisecond)

	event, _ := h.notifier.lastOfType("alice", events.EventTypeMatchResult)
	var payload events.MatchResultPayload
	require.NoError(t, json.Unmarshal(event.Data, &payload))
	require.Equal(t, 2, payload.Score)
	require.Equal(t, 0, payload.OpponentScore)
	require.Equal(t, models.OutcomeWin, payload.Outcome)

	require.Equal(t, 0, h.coordinator.Stats()["live_matches"])
}
