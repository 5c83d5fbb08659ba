package battle

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/battlequiz/go/internal/battle/events"
	"github.com/mcdev12/battlequiz/go/internal/models"
)

// Notifier delivers typed events to a user's transport. Delivery is
// best-effort and must never block coordination: state transitions are the
// source of truth independent of delivery success.
type Notifier interface {
	// Send delivers an event to the user's current transport, or buffers it
	// for the next reconnect when none is live.
	Send(userID string, event events.Event)

	// CloseTransport asks the transport layer to close a superseded
	// connection. A user only ever occupies one matchmaking slot.
	CloseTransport(transportID uuid.UUID)
}

// QuestionProvider fetches a question set for a category from the durable
// store. An empty categoryID means any category.
type QuestionProvider interface {
	QuestionSet(ctx context.Context, categoryID string, count int) ([]models.Question, error)
}

// ResultSink archives terminal match results (persistence, downstream
// event publication). Failures are logged, never surfaced to players.
type ResultSink interface {
	ArchiveResult(ctx context.Context, result models.MatchResult) error
}

// noopNotifier is the default notifier until the transport layer is bound.
type noopNotifier struct{}

func (noopNotifier) Send(string, events.Event) {}
func (noopNotifier) CloseTransport(uuid.UUID)  {}
