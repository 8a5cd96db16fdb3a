package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/rs/zerolog/log"
)

// StateHandler serves auction snapshots to clients that join late or
// reconnect.
type StateHandler struct {
	stateProvider StateProvider
}

// NewStateHandler creates a new state handler
func NewStateHandler(provider StateProvider) *StateHandler {
	return &StateHandler{
		stateProvider: provider,
	}
}

// HandleGetAuctionState handles GET /api/auction/state?auction_id=...
func (h *StateHandler) HandleGetAuctionState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

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

	snap, err := h.stateProvider.Snapshot(r.Context(), auctionID)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to get auction state")
		http.Error(w, "failed to get auction state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.Error().Err(err).Msg("failed to encode auction state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auction/state", h.HandleGetAuctionState)
}

func isNotFound(err error) bool {
	return errors.Is(err, engine.ErrNotFound) || connect.CodeOf(err) == connect.CodeNotFound
}
