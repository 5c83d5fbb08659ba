package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/battlequiz/go/internal/battle/events"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct{}

func (fakeCoordinator) Connect(string, uuid.UUID)                             {}
func (fakeCoordinator) Disconnect(uuid.UUID)                                  {}
func (fakeCoordinator) JoinMatchmaking(context.Context, string, string) error { return nil }
func (fakeCoordinator) LeaveMatchmaking(string)                               {}
func (fakeCoordinator) Ready(uuid.UUID, string) error                         { return nil }
func (fakeCoordinator) SubmitAnswer(uuid.UUID, string, string, int) error     { return nil }
func (fakeCoordinator) Stats() map[string]int                                 { return map[string]int{} }

func newTestConnection(cm *ConnectionManager, userID string) *Connection {
	return &Connection{
		TransportID: uuid.New(),
		UserID:      userID,
		Send:        make(chan []byte, 8),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
}

func TestSendDeliversToLiveConnection(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), fakeCoordinator{})
	conn := newTestConnection(cm, "alice")
	cm.registerConnection(conn)

	cm.Send("alice", events.New(events.EventTypeWaiting, events.WaitingPayload{}))
	require.Len(t, conn.Send, 1)
}

func TestSendAfterUnregisterBuffersForReconnect(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), fakeCoordinator{})
	conn := newTestConnection(cm, "alice")
	cm.registerConnection(conn)
	cm.unregisterConnection(conn)

	// The connection's Send channel is closed at this point; delivery must
	// land in the pending buffer, never on the closed channel.
	cm.Send("alice", events.New(events.EventTypeMatchResult, events.MatchResultPayload{}))

	replacement := newTestConnection(cm, "alice")
	cm.registerConnection(replacement)
	require.Len(t, replacement.Send, 1)
}

func TestUnregisterStaleConnectionIsNoop(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), fakeCoordinator{})
	conn := newTestConnection(cm, "alice")
	cm.registerConnection(conn)

	replacement := newTestConnection(cm, "alice")
	cm.registerConnection(replacement)

	// Tearing down the superseded connection must not unbind the live one.
	cm.unregisterConnection(conn)
	cm.Send("alice", events.New(events.EventTypeWaiting, events.WaitingPayload{}))
	require.Len(t, replacement.Send, 1)
}

func TestPendingBufferDropsOldest(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), fakeCoordinator{})

	for i := 0; i < maxPendingEvents+5; i++ {
		cm.Send("alice", events.New(events.EventTypeWaiting, events.WaitingPayload{Position: i}))
	}

	cm.mu.Lock()
	buffered := len(cm.pending["alice"])
	cm.mu.Unlock()
	require.Equal(t, maxPendingEvents, buffered)
}
