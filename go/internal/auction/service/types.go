package service

import (
	"encoding/json"

	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/shopspring/decimal"
)

type AuctionRequest struct {
	AuctionID string `json:"auction_id"`
}

type Empty struct{}

type CreateAuctionRequest struct {
	ID           string              `json:"id,omitempty"`
	TournamentID string              `json:"tournament_id,omitempty"`
	Name         string              `json:"name"`
	TotalBudget  decimal.Decimal     `json:"total_budget"`
	Rules        models.AuctionRules `json:"rules"`
}

type AuctionResponse struct {
	Auction *models.Auction `json:"auction"`
}

type AddParticipantRequest struct {
	AuctionID string           `json:"auction_id"`
	TeamID    string           `json:"team_id"`
	TeamName  string           `json:"team_name"`
	Budget    *decimal.Decimal `json:"budget,omitempty"`
}

type ParticipantResponse struct {
	Participant *models.Participant `json:"participant"`
}

type AddPlayerRequest struct {
	AuctionID string          `json:"auction_id"`
	PlayerID  string          `json:"player_id,omitempty"`
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	BasePrice decimal.Decimal `json:"base_price"`
	Foreign   bool            `json:"foreign"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type PlayerResponse struct {
	Player *models.Player `json:"player"`
}

type PlayerRequest struct {
	AuctionID string `json:"auction_id"`
	PlayerID  string `json:"player_id"`
}

// BidRequest is used by PlaceBid and SellToTeam. An empty TeamID falls back
// to the caller's X-Team-Id.
type BidRequest struct {
	AuctionID string          `json:"auction_id"`
	PlayerID  string          `json:"player_id,omitempty"`
	TeamID    string          `json:"team_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
}

type BidResponse struct {
	LeadingBid models.Bid   `json:"leading_bid"`
	BidHistory []models.Bid `json:"bid_history"`
}

type FinalizeResponse struct {
	Result *Sale `json:"result,omitempty"`
}

// Sale is a finalize outcome on the wire.
type Sale struct {
	PlayerID string           `json:"player_id"`
	Outcome  engine.Outcome   `json:"outcome"`
	TeamID   string           `json:"team_id,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

type QueueResponse struct {
	Queue []string `json:"queue"`
}

type HammerResponse struct {
	Count     int   `json:"count"`
	Finalized bool  `json:"finalized"`
	Sale      *Sale `json:"sale,omitempty"`
}

type SyncTimerRequest struct {
	AuctionID        string `json:"auction_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

type SyncTimerResponse struct {
	Timer     models.TimerState `json:"timer"`
	Corrected bool              `json:"corrected"`
}

type SnapshotResponse struct {
	Snapshot *engine.Snapshot `json:"snapshot"`
}

func saleToWire(r *engine.FinalizeResult) *Sale {
	if r == nil {
		return nil
	}
	out := &Sale{
		PlayerID: r.PlayerID.String(),
		Outcome:  r.Outcome,
		Amount:   r.Amount,
	}
	if r.TeamID != nil {
		out.TeamID = r.TeamID.String()
	}
	return out
}
