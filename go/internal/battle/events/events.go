package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for every server-to-client battle event.
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of battle event.
type EventType string

const (
	EventTypeWaiting              EventType = "Waiting"
	EventTypeMatched              EventType = "Matched"
	EventTypeMatchStarted         EventType = "MatchStarted"
	EventTypeAnswerAccepted       EventType = "AnswerAccepted"
	EventTypeMatchResult          EventType = "MatchResult"
	EventTypeOpponentDisconnected EventType = "OpponentDisconnected"
	EventTypeError                EventType = "Error"
)

// New builds an event envelope around a payload. Marshal failures are
// programming errors (payloads are plain structs) and yield an empty body.
func New(eventType EventType, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
