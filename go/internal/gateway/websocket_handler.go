package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Verifier resolves a presented credential to a stable user id. Token
// issuance is out of scope; the gateway only consumes verification.
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// WebSocketHandler handles WebSocket upgrade requests for battle connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          Verifier
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, verifier Verifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
	}
}

// HandleBattleConnection authenticates the credential and upgrades the
// connection. Unauthenticated requests are rejected at the boundary before
// any coordinator state is touched.
func (h *WebSocketHandler) HandleBattleConnection(w http.ResponseWriter, r *http.Request) {
	credential := bearerCredential(r)
	if credential == "" {
		http.Error(w, "credential is required", http.StatusUnauthorized)
		return
	}

	userID, err := h.verifier.Verify(r.Context(), credential)
	if err != nil {
		log.Warn().Err(err).Msg("credential verification failed")
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, userID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleStats returns live gateway and coordinator counters.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.coordinator.Stats()
	stats["transports"] = h.connectionManager.ConnectionCount()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/battle", h.HandleBattleConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}

// bearerCredential extracts the credential from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func bearerCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
