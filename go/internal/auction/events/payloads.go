package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event payload types shared between the engine, the outbox and the gateway

// Type identifies an auction event.
type Type string

const (
	TypeAuctionStarted   Type = "auction_started"
	TypeAuctionPaused    Type = "auction_paused"
	TypeAuctionResumed   Type = "auction_resumed"
	TypeAuctionEnded     Type = "auction_ended"
	TypeAuctionCancelled Type = "auction_cancelled"
	TypePlayerChanged    Type = "player_changed"
	TypeBidPlaced        Type = "bid_placed"
	TypePlayerSold       Type = "player_sold"
	TypePlayerUnsold     Type = "player_unsold"
	TypeQueueShuffled    Type = "queue_shuffled"
	TypeTimerSync        Type = "timer_sync"
	TypeHammerStruck     Type = "hammer_struck"
)

// Known reports whether t is an event type the engine emits.
func (t Type) Known() bool {
	switch t {
	case TypeAuctionStarted, TypeAuctionPaused, TypeAuctionResumed, TypeAuctionEnded,
		TypeAuctionCancelled, TypePlayerChanged, TypeBidPlaced, TypePlayerSold,
		TypePlayerUnsold, TypeQueueShuffled, TypeTimerSync, TypeHammerStruck:
		return true
	}
	return false
}

// Event is the envelope for everything the engine emits.
type Event struct {
	ID              uuid.UUID       `json:"id"`
	AuctionID       uuid.UUID       `json:"auction_id"`
	Type            Type            `json:"type"`
	Seq             uint64          `json:"seq"` // per auction, in serialization order
	Data            json.RawMessage `json:"data"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
}

// AuctionStartedPayload is the payload for an auction_started event
type AuctionStartedPayload struct {
	AuctionID    string    `json:"auction_id"`
	StartedAt    time.Time `json:"started_at"`
	TotalPlayers int       `json:"total_players"`
	Participants int       `json:"participants"`
	ActorID      string    `json:"actor_id,omitempty"`
}

// AuctionPausedPayload is the payload for an auction_paused event
type AuctionPausedPayload struct {
	AuctionID string    `json:"auction_id"`
	PausedAt  time.Time `json:"paused_at"`
	ActorID   string    `json:"actor_id,omitempty"`
}

// AuctionResumedPayload is the payload for an auction_resumed event
type AuctionResumedPayload struct {
	AuctionID        string    `json:"auction_id"`
	ResumedAt        time.Time `json:"resumed_at"`
	RemainingSeconds int       `json:"remaining_seconds"`
	ActorID          string    `json:"actor_id,omitempty"`
}

// AuctionEndedPayload is the payload for auction_ended and auction_cancelled events
type AuctionEndedPayload struct {
	AuctionID     string    `json:"auction_id"`
	Status        string    `json:"status"`
	EndedAt       time.Time `json:"ended_at"`
	Duration      string    `json:"duration,omitempty"`
	SoldPlayers   int       `json:"sold_players"`
	UnsoldPlayers int       `json:"unsold_players"`
	ActorID       string    `json:"actor_id,omitempty"`
}

// PlayerChangedPayload is the payload for a player_changed event. A nil
// PlayerID means the queue is exhausted and the moderator has to decide.
type PlayerChangedPayload struct {
	PlayerID         *uuid.UUID       `json:"player_id"`
	PlayerName       string           `json:"player_name,omitempty"`
	Role             string           `json:"role,omitempty"`
	BasePrice        *decimal.Decimal `json:"base_price,omitempty"`
	MinimumBid       *decimal.Decimal `json:"minimum_bid,omitempty"`
	RemainingInQueue int              `json:"remaining_in_queue"`
	AwaitingDecision bool             `json:"awaiting_decision"`
	TimerSeconds     int              `json:"timer_seconds"`
	PreviousPlayerID *uuid.UUID       `json:"previous_player_id,omitempty"`
}

// BidPlacedPayload is the payload for a bid_placed event
type BidPlacedPayload struct {
	BidID            string          `json:"bid_id"`
	PlayerID         string          `json:"player_id"`
	TeamID           string          `json:"team_id"`
	TeamName         string          `json:"team_name"`
	Amount           decimal.Decimal `json:"amount"`
	NextMinimumBid   decimal.Decimal `json:"next_minimum_bid"`
	OutbidTeamID     string          `json:"outbid_team_id,omitempty"`
	PlacedAt         time.Time       `json:"placed_at"`
	RemainingSeconds int             `json:"remaining_seconds"`
}

// PlayerSoldPayload is the payload for a player_sold event
type PlayerSoldPayload struct {
	PlayerID        string          `json:"player_id"`
	PlayerName      string          `json:"player_name"`
	TeamID          string          `json:"team_id"`
	TeamName        string          `json:"team_name"`
	Amount          decimal.Decimal `json:"amount"`
	RemainingBudget decimal.Decimal `json:"remaining_budget"`
	Trigger         string          `json:"trigger"`
	SoldAt          time.Time       `json:"sold_at"`
}

// PlayerUnsoldPayload is the payload for a player_unsold event
type PlayerUnsoldPayload struct {
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Trigger    string    `json:"trigger"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// QueueShuffledPayload is the payload for a queue_shuffled event
type QueueShuffledPayload struct {
	Queue           []uuid.UUID `json:"queue"`
	CurrentPlayerID *uuid.UUID  `json:"current_player_id,omitempty"`
	ActorID         string      `json:"actor_id,omitempty"`
}

// TimerSyncPayload carries the authoritative countdown so clients can correct drift
type TimerSyncPayload struct {
	PlayerID         *uuid.UUID `json:"player_id,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds"`
	Running          bool       `json:"running"`
	ServerTime       time.Time  `json:"server_time"`
}

// HammerStruckPayload is the payload for a hammer_struck event
type HammerStruckPayload struct {
	PlayerID string `json:"player_id"`
	Count    int    `json:"count"`
	ActorID  string `json:"actor_id,omitempty"`
}

// Decode unmarshals the event data into the payload type matching its Type.
func Decode(evt Event) (interface{}, error) {
	var target interface{}
	switch evt.Type {
	case TypeAuctionStarted:
		target = &AuctionStartedPayload{}
	case TypeAuctionPaused:
		target = &AuctionPausedPayload{}
	case TypeAuctionResumed:
		target = &AuctionResumedPayload{}
	case TypeAuctionEnded, TypeAuctionCancelled:
		target = &AuctionEndedPayload{}
	case TypePlayerChanged:
		target = &PlayerChangedPayload{}
	case TypeBidPlaced:
		target = &BidPlacedPayload{}
	case TypePlayerSold:
		target = &PlayerSoldPayload{}
	case TypePlayerUnsold:
		target = &PlayerUnsoldPayload{}
	case TypeQueueShuffled:
		target = &QueueShuffledPayload{}
	case TypeTimerSync:
		target = &TimerSyncPayload{}
	case TypeHammerStruck:
		target = &HammerStruckPayload{}
	default:
		return nil, nil // Unknown event type
	}
	if err := json.Unmarshal(evt.Data, target); err != nil {
		return nil, err
	}
	return target, nil
}
