package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Binding ties an authenticated user to their single live transport.
type Binding struct {
	UserID      string
	TransportID uuid.UUID
	ConnectedAt time.Time
}

// Registry tracks the one live transport per user. A new connection for the
// same user supersedes the old one; removal of a superseded transport is a
// no-op so a stale close can never unbind the fresh connection.
type Registry struct {
	mu          sync.RWMutex
	byUser      map[string]Binding
	byTransport map[uuid.UUID]string
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:      make(map[string]Binding),
		byTransport: make(map[uuid.UUID]string),
	}
}

// Register binds userID to transportID, evicting any prior binding. The
// superseded transport ID is returned so the caller can signal it to close.
func (r *Registry) Register(userID string, transportID uuid.UUID, now time.Time) (prev uuid.UUID, superseded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok {
		delete(r.byTransport, old.TransportID)
		prev = old.TransportID
		superseded = true
	}

	r.byUser[userID] = Binding{UserID: userID, TransportID: transportID, ConnectedAt: now}
	r.byTransport[transportID] = userID

	log.Debug().
		Str("user_id", userID).
		Str("transport_id", transportID.String()).
		Bool("superseded", superseded).
		Msg("transport registered")

	return prev, superseded
}

// Lookup returns the current transport for a user.
func (r *Registry) Lookup(userID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.byUser[userID]
	return b.TransportID, ok
}

// Remove unbinds a transport on close. It returns the owning user only if
// the transport was the user's current binding; superseded transports
// return ok=false and leave the registry untouched.
func (r *Registry) Remove(transportID uuid.UUID) (userID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.byTransport[transportID]
	if !ok {
		return "", false
	}

	delete(r.byTransport, transportID)
	delete(r.byUser, userID)

	log.Debug().
		Str("user_id", userID).
		Str("transport_id", transportID.String()).
		Msg("transport removed")

	return userID, true
}

// Connected reports whether the user currently has a live transport.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byUser[userID]
	return ok
}

// Count returns the number of live bindings.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser)
}
