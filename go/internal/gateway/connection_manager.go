package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/battlequiz/go/internal/battle/events"
	"github.com/rs/zerolog/log"
)

// maxPendingEvents bounds the per-user reconnect buffer. Oldest events are
// dropped first; coordinator state remains the source of truth.
const maxPendingEvents = 32

// ConnectionManager owns the WebSocket connections of the battle gateway.
// Each user has at most one live connection; events for an absent user are
// buffered and flushed on the next register, giving at-least-once delivery
// across a reconnect. It implements battle.Notifier.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]*Connection
	byUser      map[string]*Connection
	pending     map[string][]json.RawMessage

	upgrader websocket.Upgrader
	config   ConnectionConfig

	coordinator Coordinator
}

// Connection represents a WebSocket connection to a client.
type Connection struct {
	TransportID uuid.UUID
	UserID      string
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  2048,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig, coordinator Coordinator) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[uuid.UUID]*Connection),
		byUser:      make(map[string]*Connection),
		pending:     make(map[string][]json.RawMessage),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		coordinator: coordinator,
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection for
// an authenticated user and registers it with the coordinator.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return err
	}

	connection := &Connection{
		TransportID: uuid.New(),
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan []byte, 64),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("transport_id", connection.TransportID.String()).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection binds the connection, tells the coordinator (which
// evicts any superseded transport), and flushes buffered events.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn.TransportID] = conn
	cm.byUser[conn.UserID] = conn
	buffered := cm.pending[conn.UserID]
	delete(cm.pending, conn.UserID)
	cm.mu.Unlock()

	cm.coordinator.Connect(conn.UserID, conn.TransportID)

	for _, data := range buffered {
		select {
		case conn.Send <- data:
		default:
			log.Warn().
				Str("user_id", conn.UserID).
				Msg("send buffer full while flushing pending events")
			return
		}
	}
	if len(buffered) > 0 {
		log.Debug().
			Str("user_id", conn.UserID).
			Int("events", len(buffered)).
			Msg("flushed pending events on reconnect")
	}
}

// unregisterConnection removes a connection and notifies the coordinator.
// The coordinator ignores transports that were already superseded.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if _, exists := cm.connections[conn.TransportID]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn.TransportID)
	if current, ok := cm.byUser[conn.UserID]; ok && current == conn {
		delete(cm.byUser, conn.UserID)
	}
	close(conn.Send)
	cm.mu.Unlock()

	cm.coordinator.Disconnect(conn.TransportID)

	log.Info().
		Str("transport_id", conn.TransportID.String()).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// Send delivers an event to the user's live connection, or buffers it for
// the next reconnect. Implements battle.Notifier.
func (cm *ConnectionManager) Send(userID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}

	cm.mu.Lock()
	conn, live := cm.byUser[userID]
	if !live {
		buf := append(cm.pending[userID], data)
		if len(buf) > maxPendingEvents {
			buf = buf[len(buf)-maxPendingEvents:]
		}
		cm.pending[userID] = buf
		cm.mu.Unlock()
		log.Debug().
			Str("user_id", userID).
			Str("event_type", string(event.Type)).
			Msg("user offline, event buffered")
		return
	}
	// Deliver while holding the lock: unregister closes Send under the same
	// lock, so the channel cannot close mid-send.
	select {
	case conn.Send <- data:
		cm.mu.Unlock()
	default:
		cm.mu.Unlock()
		// Connection is slow/dead, close it; the read pump will unregister.
		log.Warn().
			Str("transport_id", conn.TransportID.String()).
			Str("user_id", userID).
			Msg("send buffer full, closing connection")
		conn.Conn.Close()
	}
}

// CloseTransport closes a superseded connection. Implements battle.Notifier.
func (cm *ConnectionManager) CloseTransport(transportID uuid.UUID) {
	cm.mu.RLock()
	conn, ok := cm.connections[transportID]
	cm.mu.RUnlock()
	if !ok {
		return
	}

	log.Info().
		Str("transport_id", transportID.String()).
		Str("user_id", conn.UserID).
		Msg("closing superseded connection")
	conn.Conn.Close()
}

// ConnectionCount returns the number of live connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("transport_id", c.TransportID.String()).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("transport_id", c.TransportID.String()).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.Manager.handleClientMessage(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
