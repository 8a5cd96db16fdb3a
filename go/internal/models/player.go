package models

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlayerStatus is the auction-scoped status of a player.
type PlayerStatus string

const (
	PlayerStatusQueued  PlayerStatus = "queued"
	PlayerStatusCurrent PlayerStatus = "current"
	PlayerStatusSold    PlayerStatus = "sold"
	PlayerStatusUnsold  PlayerStatus = "unsold"
)

// Resolved reports whether the player has left the auction floor.
func (s PlayerStatus) Resolved() bool {
	return s == PlayerStatusSold || s == PlayerStatusUnsold
}

// Player is a player entered into an auction. Identity and profile belong to
// the player registry; the auction only owns the status fields.
type Player struct {
	ID        uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Role      string           `json:"role"` // 'Batsman', 'Bowler', 'Forward', ...
	BasePrice decimal.Decimal  `json:"base_price"`
	Foreign   bool             `json:"foreign"`
	Status    PlayerStatus     `json:"status"`
	SoldTo    *uuid.UUID       `json:"sold_to,omitempty"`
	SoldPrice *decimal.Decimal `json:"sold_price,omitempty"`
	Metadata  json.RawMessage  `json:"metadata,omitempty"`
}
