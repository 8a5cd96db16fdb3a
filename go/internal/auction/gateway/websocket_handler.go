package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for auction connections
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleAuctionConnection handles GET /ws/auction?auction_id=...
func (h *WebSocketHandler) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	auctionIDStr := r.URL.Query().Get("auction_id")
	if auctionIDStr == "" {
		http.Error(w, "auction_id is required", http.StatusBadRequest)
		return
	}
	auctionID, err := uuid.Parse(auctionIDStr)
	if err != nil {
		http.Error(w, "invalid auction_id format", http.StatusBadRequest)
		return
	}

	// The auth proxy sets X-Actor-Id; browsers cannot, so fall back to the query.
	actorID := r.Header.Get("X-Actor-Id")
	if actorID == "" {
		actorID = r.URL.Query().Get("actor_id")
	}
	if actorID == "" {
		actorID = "anonymous"
	}

	// On failure the upgrader has already written an HTTP error.
	if err := h.connectionManager.UpgradeConnection(w, r, actorID, auctionID); err != nil {
		log.Error().
			Err(err).
			Str("auction_id", auctionID.String()).
			Str("actor_id", actorID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/auction", h.HandleAuctionConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
