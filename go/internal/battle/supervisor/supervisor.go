package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// GraceExpiredFunc is invoked when a disconnected participant's grace
// period elapses without a reconnect.
type GraceExpiredFunc func(userID string, matchID uuid.UUID)

// DeadlineFunc is invoked when a match's time limit elapses.
type DeadlineFunc func(matchID uuid.UUID)

// armedTimer pairs a one-shot timer with the channel that releases its
// waiting goroutine when the timer is disarmed before firing.
type armedTimer struct {
	timer  clockwork.Timer
	cancel chan struct{}
}

// disarm stops the timer and unblocks its goroutine. Call at most once,
// while the entry is still the registered one.
func (a *armedTimer) disarm() {
	stopAndDrainTimer(a.timer)
	close(a.cancel)
}

// Supervisor owns the one-shot timers that resolve abandoned and overrun
// matches: a per-user grace timer armed on disconnect, and a per-match
// deadline timer armed on activation. Timer callbacks run on their own
// goroutine; the coordinator re-serializes them.
type Supervisor struct {
	clock          clockwork.Clock
	grace          time.Duration
	onGraceExpired GraceExpiredFunc
	onDeadline     DeadlineFunc

	ctx context.Context

	mu             sync.Mutex
	graceTimers    map[string]*armedTimer
	deadlineTimers map[uuid.UUID]*armedTimer
}

// New creates a supervisor. Start must be called before any timer is armed.
func New(clock clockwork.Clock, grace time.Duration, onGraceExpired GraceExpiredFunc, onDeadline DeadlineFunc) *Supervisor {
	return &Supervisor{
		clock:          clock,
		grace:          grace,
		onGraceExpired: onGraceExpired,
		onDeadline:     onDeadline,
		graceTimers:    make(map[string]*armedTimer),
		deadlineTimers: make(map[uuid.UUID]*armedTimer),
	}
}

// Start binds the supervisor to its lifecycle context. Cancelling the
// context stops all outstanding timers without firing their callbacks.
func (s *Supervisor) Start(ctx context.Context) {
	s.ctx = ctx
	log.Info().Dur("grace_period", s.grace).Msg("disconnect supervisor started")
}

// PlayerDisconnected arms the grace timer for a match participant. A
// second disconnect notification for the same user replaces the timer.
func (s *Supervisor) PlayerDisconnected(userID string, matchID uuid.UUID) {
	armed := &armedTimer{timer: s.clock.NewTimer(s.grace), cancel: make(chan struct{})}

	s.mu.Lock()
	if existing, ok := s.graceTimers[userID]; ok {
		existing.disarm()
	}
	s.graceTimers[userID] = armed
	s.mu.Unlock()

	log.Info().
		Str("user_id", userID).
		Str("match_id", matchID.String()).
		Dur("grace_period", s.grace).
		Msg("grace timer armed")

	go func() {
		select {
		case <-armed.timer.Chan():
			// Only fire if this timer is still the registered one; a
			// reconnect that raced the expiry wins.
			s.mu.Lock()
			current, ok := s.graceTimers[userID]
			if ok && current == armed {
				delete(s.graceTimers, userID)
			}
			s.mu.Unlock()
			if !ok || current != armed {
				return
			}

			log.Info().
				Str("user_id", userID).
				Str("match_id", matchID.String()).
				Msg("grace period expired")
			s.onGraceExpired(userID, matchID)

		case <-armed.cancel:

		case <-s.ctx.Done():
			stopAndDrainTimer(armed.timer)
			s.mu.Lock()
			if current, ok := s.graceTimers[userID]; ok && current == armed {
				delete(s.graceTimers, userID)
			}
			s.mu.Unlock()
		}
	}()
}

// PlayerReconnected disarms the user's grace timer. No-op when no timer is
// armed, so it is safe to call on every connect.
func (s *Supervisor) PlayerReconnected(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if armed, ok := s.graceTimers[userID]; ok {
		armed.disarm()
		delete(s.graceTimers, userID)
		log.Info().Str("user_id", userID).Msg("grace timer cancelled on reconnect")
	}
}

// ScheduleDeadline arms the time-limit timer for an activated match,
// replacing any existing one.
func (s *Supervisor) ScheduleDeadline(matchID uuid.UUID, at time.Time) {
	duration := at.Sub(s.clock.Now())
	if duration < 0 {
		duration = 0
	}
	armed := &armedTimer{timer: s.clock.NewTimer(duration), cancel: make(chan struct{})}

	s.mu.Lock()
	if existing, ok := s.deadlineTimers[matchID]; ok {
		existing.disarm()
	}
	s.deadlineTimers[matchID] = armed
	s.mu.Unlock()

	log.Debug().
		Str("match_id", matchID.String()).
		Time("deadline", at).
		Dur("duration", duration).
		Msg("match deadline scheduled")

	go func() {
		select {
		case <-armed.timer.Chan():
			s.mu.Lock()
			current, ok := s.deadlineTimers[matchID]
			if ok && current == armed {
				delete(s.deadlineTimers, matchID)
			}
			s.mu.Unlock()
			if !ok || current != armed {
				return
			}
			s.onDeadline(matchID)

		case <-armed.cancel:

		case <-s.ctx.Done():
			stopAndDrainTimer(armed.timer)
			s.mu.Lock()
			if current, ok := s.deadlineTimers[matchID]; ok && current == armed {
				delete(s.deadlineTimers, matchID)
			}
			s.mu.Unlock()
		}
	}()
}

// CancelDeadline disarms a match's time-limit timer, typically because the
// match reached a terminal state first.
func (s *Supervisor) CancelDeadline(matchID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if armed, ok := s.deadlineTimers[matchID]; ok {
		armed.disarm()
		delete(s.deadlineTimers, matchID)
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent
// goroutine leaks, per the time.Timer.Stop() documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
