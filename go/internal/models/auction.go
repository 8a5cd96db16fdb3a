package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle status of an auction.
type AuctionStatus string

const (
	AuctionStatusUpcoming  AuctionStatus = "upcoming"
	AuctionStatusLive      AuctionStatus = "live"
	AuctionStatusPaused    AuctionStatus = "paused"
	AuctionStatusCompleted AuctionStatus = "completed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusCompleted || s == AuctionStatusCancelled
}

// AuctionRules holds the bidding rules of an auction.
type AuctionRules struct {
	MinIncrement      decimal.Decimal `json:"min_increment"`
	BidTimeoutSeconds int             `json:"bid_timeout_seconds"`
	MaxPlayersPerTeam int             `json:"max_players_per_team"` // 0 = unlimited
	MaxForeignPlayers int             `json:"max_foreign_players"`  // 0 = unlimited
	AllowSelfRaise    bool            `json:"allow_self_raise,omitempty"`
}

// AuctionCounts tracks how many players have been resolved.
type AuctionCounts struct {
	Sold   int `json:"sold"`
	Unsold int `json:"unsold"`
	Total  int `json:"total"`
}

// Auction represents one live player auction.
type Auction struct {
	ID              uuid.UUID       `json:"id"`
	TournamentID    uuid.UUID       `json:"tournament_id"`
	Name            string          `json:"name"`
	Status          AuctionStatus   `json:"status"`
	TotalBudget     decimal.Decimal `json:"total_budget"`
	Rules           AuctionRules    `json:"rules"`
	CurrentPlayerID *uuid.UUID      `json:"current_player_id,omitempty"`
	Queue           []uuid.UUID     `json:"queue"`
	Counts          AuctionCounts   `json:"counts"`
	HammerCount     int             `json:"hammer_count"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AuctionRecord is the whole auction aggregate as exchanged with storage.
type AuctionRecord struct {
	Auction      Auction       `json:"auction"`
	Participants []Participant `json:"participants"`
	Players      []Player      `json:"players"`
	Bids         []Bid         `json:"bids"`
}

// TimerState is the countdown for the current lot. It is never persisted.
type TimerState struct {
	RemainingSeconds int  `json:"remaining_seconds"`
	Running          bool `json:"running"`
}
