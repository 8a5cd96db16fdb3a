package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidStatus is the lifecycle status of a bid.
type BidStatus string

const (
	BidStatusActive BidStatus = "active"
	BidStatusOutbid BidStatus = "outbid"
	BidStatusWon    BidStatus = "won"
)

// Bid is an accepted bid. Only Status changes after it is recorded.
type Bid struct {
	ID        uuid.UUID       `json:"id"`
	AuctionID uuid.UUID       `json:"auction_id"`
	PlayerID  uuid.UUID       `json:"player_id"`
	TeamID    uuid.UUID       `json:"team_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    BidStatus       `json:"status"`
	PlacedAt  time.Time       `json:"placed_at"`
}
