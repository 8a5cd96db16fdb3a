package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service is the auction gateway: WebSocket fan-out of engine events plus
// the state endpoint.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	eventConsumer     *EventConsumer
}

// Config holds configuration for the auction gateway service. A nil
// JetStreamConfig means events are published to the service directly.
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  *JetStreamConsumerConfig
}

// DefaultConfig returns default configuration for an in-process gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new auction gateway service
func NewService(config Config, state StateProvider, syncer TimerSyncer) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, state, syncer)

	s := &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(state),
	}

	if config.JetStreamConfig != nil {
		consumer, err := NewEventConsumer(connectionManager, *config.JetStreamConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create event consumer: %w", err)
		}
		s.eventConsumer = consumer
	}
	return s, nil
}

// Sink is the engine event sink feeding the WebSocket clients.
func (s *Service) Sink() *ConnectionManager {
	return s.connectionManager
}

// Start runs the gateway until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Bool("jetstream", s.eventConsumer != nil).Msg("starting auction gateway service")

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()

	log.Info().Msg("auction gateway service shutting down")
	return s.Stop()
}

// Stop shuts down the event consumer, if any
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	log.Info().Msg("auction gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("auction gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
