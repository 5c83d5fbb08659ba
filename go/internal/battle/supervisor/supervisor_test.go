package supervisor

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	expired  []string
	deadline []uuid.UUID
}

func (r *recorder) onGraceExpired(userID string, matchID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, userID)
}

func (r *recorder) onDeadline(matchID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadline = append(r.deadline, matchID)
}

func (r *recorder) expiredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expired)
}

func (r *recorder) deadlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deadline)
}

func newTestSupervisor(t *testing.T, grace time.Duration) (*Supervisor, *clockwork.FakeClock, *recorder) {
	t.Helper()

	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	sup := New(clock, grace, rec.onGraceExpired, rec.onDeadline)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sup.Start(ctx)

	return sup, clock, rec
}

func TestGraceExpiryFiresCallback(t *testing.T) {
	sup, clock, rec := newTestSupervisor(t, 30*time.Second)

	sup.PlayerDisconnected("alice", uuid.New())
	clock.Advance(31 * time.Second)

	require.Eventually(t, func() bool {
		return rec.expiredCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestReconnectCancelsGraceTimer(t *testing.T) {
	sup, clock, rec := newTestSupervisor(t, 30*time.Second)

	sup.PlayerDisconnected("alice", uuid.New())
	sup.PlayerReconnected("alice")
	clock.Advance(31 * time.Second)

	// The callback must never fire after a reconnect within grace.
	require.Never(t, func() bool {
		return rec.expiredCount() > 0
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestReconnectWithoutTimerIsNoop(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, 30*time.Second)

	sup.PlayerReconnected("never-disconnected")
}

func TestRepeatedDisconnectReplacesTimer(t *testing.T) {
	sup, clock, rec := newTestSupervisor(t, 30*time.Second)
	matchID := uuid.New()

	sup.PlayerDisconnected("alice", matchID)
	clock.Advance(20 * time.Second)
	sup.PlayerDisconnected("alice", matchID)

	// The replacement reset the countdown; the original deadline passing
	// must not fire.
	clock.Advance(15 * time.Second)
	require.Never(t, func() bool {
		return rec.expiredCount() > 0
	}, 100*time.Millisecond, 5*time.Millisecond)

	clock.Advance(20 * time.Second)
	require.Eventually(t, func() bool {
		return rec.expiredCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDisarmedTimersReleaseGoroutines(t *testing.T) {
	sup, clock, _ := newTestSupervisor(t, 30*time.Second)

	before := runtime.NumGoroutine()

	// Every armed timer runs a goroutine; disarming must unblock it, or a
	// long-lived server accumulates one goroutine per finished match and
	// per reconnect.
	for i := 0; i < 200; i++ {
		matchID := uuid.New()
		sup.ScheduleDeadline(matchID, clock.Now().Add(time.Minute))
		sup.CancelDeadline(matchID)

		sup.PlayerDisconnected("alice", matchID)
		sup.PlayerReconnected("alice")
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, time.Second, 10*time.Millisecond)
}

func TestDeadlineFires(t *testing.T) {
	sup, clock, rec := newTestSupervisor(t, 30*time.Second)
	matchID := uuid.New()

	sup.ScheduleDeadline(matchID, clock.Now().Add(2*time.Minute))
	clock.Advance(2*time.Minute + time.Second)

	require.Eventually(t, func() bool {
		return rec.deadlineCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCancelDeadline(t *testing.T) {
	sup, clock, rec := newTestSupervisor(t, 30*time.Second)
	matchID := uuid.New()

	sup.ScheduleDeadline(matchID, clock.Now().Add(2*time.Minute))
	sup.CancelDeadline(matchID)
	clock.Advance(3 * time.Minute)

	require.Never(t, func() bool {
		return rec.deadlineCount() > 0
	}, 100*time.Millisecond, 5*time.Millisecond)
}
