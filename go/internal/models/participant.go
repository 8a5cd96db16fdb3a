package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WonPlayer is a player acquired by a participant.
type WonPlayer struct {
	PlayerID   uuid.UUID       `json:"player_id"`
	SoldPrice  decimal.Decimal `json:"sold_price"`
	AcquiredAt time.Time       `json:"acquired_at"`
}

// Participant is a team's auction-scoped budget and acquisitions.
type Participant struct {
	AuctionID       uuid.UUID       `json:"auction_id"`
	TeamID          uuid.UUID       `json:"team_id"`
	TeamName        string          `json:"team_name"`
	RemainingBudget decimal.Decimal `json:"remaining_budget"`
	PlayersWon      []WonPlayer     `json:"players_won"`
}

// Clone returns a deep copy.
func (p Participant) Clone() Participant {
	p.PlayersWon = append([]WonPlayer(nil), p.PlayersWon...)
	return p
}
