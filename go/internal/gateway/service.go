package gateway

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service composes the battle gateway: connection manager plus the HTTP
// handlers that front it.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the battle gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the battle gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new battle gateway service.
func NewService(config Config, coordinator Coordinator, verifier Verifier) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, coordinator)
	wsHandler := NewWebSocketHandler(connectionManager, verifier)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
	}
}

// Notifier exposes the connection manager as the coordinator's notifier.
func (s *Service) Notifier() *ConnectionManager {
	return s.connectionManager
}

// RegisterRoutes registers all gateway routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("battle gateway routes registered")
}
