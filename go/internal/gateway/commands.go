package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/battlequiz/go/internal/battle"
	"github.com/mcdev12/battlequiz/go/internal/battle/events"
	"github.com/mcdev12/battlequiz/go/internal/battle/session"
	"github.com/rs/zerolog/log"
)

// Coordinator defines what the gateway needs from the battle coordinator.
type Coordinator interface {
	Connect(userID string, transportID uuid.UUID)
	Disconnect(transportID uuid.UUID)
	JoinMatchmaking(ctx context.Context, userID, categoryID string) error
	LeaveMatchmaking(userID string)
	Ready(matchID uuid.UUID, userID string) error
	SubmitAnswer(matchID uuid.UUID, userID, questionID string, choice int) error
	Stats() map[string]int
}

// ClientCommand is the envelope of every client-to-server message.
type ClientCommand struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	CommandJoin   = "join"
	CommandLeave  = "leave"
	CommandReady  = "ready"
	CommandAnswer = "answer"
)

// joinTimeout bounds the question fetch behind a join so a slow database
// cannot hang the command indefinitely.
const joinTimeout = 5 * time.Second

// JoinCommand asks to enter matchmaking, optionally for one category.
type JoinCommand struct {
	CategoryID string `json:"category_id,omitempty"`
}

// ReadyCommand acknowledges receipt of a match's question set.
type ReadyCommand struct {
	MatchID string `json:"match_id"`
}

// AnswerCommand submits one answer choice.
type AnswerCommand struct {
	MatchID    string `json:"match_id"`
	QuestionID string `json:"question_id"`
	Choice     int    `json:"choice"`
}

// handleClientMessage dispatches a client command to the coordinator and
// reports caller errors back as Error events.
func (cm *ConnectionManager) handleClientMessage(c *Connection, message []byte) {
	var cmd ClientCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		cm.sendError(c.UserID, "BAD_REQUEST", "malformed command")
		return
	}

	log.Debug().
		Str("user_id", c.UserID).
		Str("command", cmd.Type).
		Msg("received client command")

	switch cmd.Type {
	case CommandJoin:
		var join JoinCommand
		if len(cmd.Data) > 0 {
			if err := json.Unmarshal(cmd.Data, &join); err != nil {
				cm.sendError(c.UserID, "BAD_REQUEST", "malformed join command")
				return
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		err := cm.coordinator.JoinMatchmaking(ctx, c.UserID, join.CategoryID)
		cancel()
		if err != nil {
			cm.sendCommandError(c.UserID, err)
		}

	case CommandLeave:
		cm.coordinator.LeaveMatchmaking(c.UserID)

	case CommandReady:
		var ready ReadyCommand
		if err := json.Unmarshal(cmd.Data, &ready); err != nil {
			cm.sendError(c.UserID, "BAD_REQUEST", "malformed ready command")
			return
		}
		matchID, err := uuid.Parse(ready.MatchID)
		if err != nil {
			cm.sendError(c.UserID, "BAD_REQUEST", "invalid match_id")
			return
		}
		if err := cm.coordinator.Ready(matchID, c.UserID); err != nil {
			cm.sendCommandError(c.UserID, err)
		}

	case CommandAnswer:
		var answer AnswerCommand
		if err := json.Unmarshal(cmd.Data, &answer); err != nil {
			cm.sendError(c.UserID, "BAD_REQUEST", "malformed answer command")
			return
		}
		matchID, err := uuid.Parse(answer.MatchID)
		if err != nil {
			cm.sendError(c.UserID, "BAD_REQUEST", "invalid match_id")
			return
		}
		if err := cm.coordinator.SubmitAnswer(matchID, c.UserID, answer.QuestionID, answer.Choice); err != nil {
			cm.sendCommandError(c.UserID, err)
		}

	default:
		cm.sendError(c.UserID, "BAD_REQUEST", "unknown command type")
	}
}

// sendCommandError maps a coordinator error to its wire code.
func (cm *ConnectionManager) sendCommandError(userID string, err error) {
	cm.sendError(userID, errorCode(err), err.Error())
}

func (cm *ConnectionManager) sendError(userID, code, message string) {
	cm.Send(userID, events.New(events.EventTypeError, events.ErrorPayload{
		Code:    code,
		Message: message,
	}))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, battle.ErrAlreadyQueued):
		return "ALREADY_QUEUED"
	case errors.Is(err, battle.ErrNotConnected):
		return "NOT_CONNECTED"
	case errors.Is(err, session.ErrNotActive):
		return "NOT_ACTIVE"
	case errors.Is(err, session.ErrNotParticipant):
		return "NOT_PARTICIPANT"
	case errors.Is(err, session.ErrDuplicateSubmission):
		return "DUPLICATE_SUBMISSION"
	case errors.Is(err, session.ErrMatchNotFound):
		return "MATCH_NOT_FOUND"
	case errors.Is(err, session.ErrUnknownQuestion):
		return "UNKNOWN_QUESTION"
	default:
		return "INTERNAL"
	}
}
