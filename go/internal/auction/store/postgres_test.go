package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

// openPostgres connects to DATABASE_URL and applies the schema.
func openPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", url)
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := NewPostgres(db)
	assert.NoError(t, p.Migrate(context.Background()))
	return p
}

func countRows(t *testing.T, p *Postgres, table string, auctionID uuid.UUID) int {
	t.Helper()
	var n int
	assert.NoError(t, p.db.QueryRowContext(context.Background(),
		"SELECT count(*) FROM "+table+" WHERE auction_id = $1", auctionID).Scan(&n))
	return n
}

func TestPostgresLoadUnknownAuction(t *testing.T) {
	p := openPostgres(t)
	rec, err := p.LoadAuction(context.Background(), uuid.New())
	check.Nil(t, rec)
	check.True(t, errors.Is(err, engine.ErrNotFound))
}

func TestPostgresRoundTrip(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()

	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	auctionID := uuid.New()
	teamA, teamB := uuid.New(), uuid.New()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	bid1 := models.Bid{ID: uuid.New(), AuctionID: auctionID, PlayerID: p1, TeamID: teamA,
		Amount: decimal.RequireFromString("1000000"), Status: models.BidStatusActive, PlacedAt: at}

	rec := &models.AuctionRecord{
		Auction: models.Auction{
			ID:              auctionID,
			Name:            "Round Trip Auction",
			Status:          models.AuctionStatusLive,
			TotalBudget:     decimal.RequireFromString("5000000"),
			Rules:           models.AuctionRules{MinIncrement: decimal.RequireFromString("250000"), BidTimeoutSeconds: 20, MaxPlayersPerTeam: 5},
			CurrentPlayerID: &p1,
			Queue:           []uuid.UUID{p2, p3},
			Counts:          models.AuctionCounts{Total: 3},
			CreatedAt:       at,
			StartedAt:       &at,
			UpdatedAt:       at,
		},
		Participants: []models.Participant{
			{AuctionID: auctionID, TeamID: teamA, TeamName: "Team A", RemainingBudget: decimal.RequireFromString("5000000"), PlayersWon: []models.WonPlayer{}},
			{AuctionID: auctionID, TeamID: teamB, TeamName: "Team B", RemainingBudget: decimal.RequireFromString("5000000"), PlayersWon: []models.WonPlayer{}},
		},
		Players: []models.Player{
			{ID: p1, Name: "One", Role: "Batsman", BasePrice: decimal.RequireFromString("1000000"), Status: models.PlayerStatusCurrent, Metadata: json.RawMessage(`{"country":"IN"}`)},
			{ID: p2, Name: "Two", Role: "Bowler", BasePrice: decimal.RequireFromString("500000"), Foreign: true, Status: models.PlayerStatusQueued},
			{ID: p3, Name: "Three", Role: "Keeper", BasePrice: decimal.RequireFromString("500000"), Status: models.PlayerStatusQueued},
		},
		Bids: []models.Bid{bid1},
	}
	assert.NoError(t, p.SaveAuction(ctx, rec))

	got, err := p.LoadAuction(ctx, auctionID)
	assert.NoError(t, err)
	check.Equal(t, "Round Trip Auction", got.Auction.Name)
	check.Equal(t, models.AuctionStatusLive, got.Auction.Status)
	check.Equal(t, 20, got.Auction.Rules.BidTimeoutSeconds)
	check.True(t, got.Auction.Rules.MinIncrement.Equal(decimal.RequireFromString("250000")))
	check.Equal(t, p1, *got.Auction.CurrentPlayerID)
	check.Equal(t, []uuid.UUID{p2, p3}, got.Auction.Queue)
	check.True(t, got.Auction.StartedAt.Equal(at))
	check.Nil(t, got.Auction.CompletedAt)
	check.Equal(t, 2, len(got.Participants))
	check.Equal(t, teamA, got.Participants[0].TeamID)
	check.Equal(t, 3, len(got.Players))
	check.True(t, got.Players[1].Foreign)
	var meta map[string]string
	assert.NoError(t, json.Unmarshal(got.Players[0].Metadata, &meta))
	check.Equal(t, "IN", meta["country"])
	assert.Equal(t, 1, len(got.Bids))
	check.Equal(t, bid1.ID, got.Bids[0].ID)
	check.True(t, got.Bids[0].PlacedAt.Equal(at))

	// Sell p1 to B, drop p3 and append a bid. Existing rows are updated in place.
	price := decimal.RequireFromString("1250000")
	bid2 := models.Bid{ID: uuid.New(), AuctionID: auctionID, PlayerID: p1, TeamID: teamB,
		Amount: price, Status: models.BidStatusWon, PlacedAt: at.Add(time.Second)}
	rec.Bids[0].Status = models.BidStatusOutbid
	rec.Bids = append(rec.Bids, bid2)
	rec.Participants[1].RemainingBudget = decimal.RequireFromString("3750000")
	rec.Participants[1].PlayersWon = []models.WonPlayer{{PlayerID: p1, SoldPrice: price, AcquiredAt: at.Add(time.Second)}}
	rec.Players[0].Status = models.PlayerStatusSold
	rec.Players[0].SoldTo = &teamB
	rec.Players[0].SoldPrice = &price
	rec.Players[1].Status = models.PlayerStatusCurrent
	rec.Players = rec.Players[:2]
	rec.Auction.CurrentPlayerID = &p2
	rec.Auction.Queue = []uuid.UUID{}
	rec.Auction.Counts = models.AuctionCounts{Sold: 1, Total: 2}
	assert.NoError(t, p.SaveAuction(ctx, rec))

	got, err = p.LoadAuction(ctx, auctionID)
	assert.NoError(t, err)
	check.Equal(t, p2, *got.Auction.CurrentPlayerID)
	check.Equal(t, 0, len(got.Auction.Queue))
	check.Equal(t, 1, got.Auction.Counts.Sold)
	assert.Equal(t, 2, len(got.Players))
	check.Equal(t, models.PlayerStatusSold, got.Players[0].Status)
	check.Equal(t, teamB, *got.Players[0].SoldTo)
	check.True(t, got.Players[0].SoldPrice.Equal(price))
	check.Equal(t, models.PlayerStatusCurrent, got.Players[1].Status)
	assert.Equal(t, 2, len(got.Bids))
	check.Equal(t, models.BidStatusOutbid, got.Bids[0].Status)
	check.Equal(t, bid2.ID, got.Bids[1].ID)
	check.Equal(t, models.BidStatusWon, got.Bids[1].Status)
	check.True(t, got.Participants[1].RemainingBudget.Equal(decimal.RequireFromString("3750000")))
	assert.Equal(t, 1, len(got.Participants[1].PlayersWon))
	check.Equal(t, p1, got.Participants[1].PlayersWon[0].PlayerID)

	check.Equal(t, 2, countRows(t, p, "auction_players", auctionID))
	check.Equal(t, 2, countRows(t, p, "auction_bids", auctionID))
	check.Equal(t, 1, countRows(t, p, "auction_won_players", auctionID))

	// Saving the same record twice leaves it unchanged.
	assert.NoError(t, p.SaveAuction(ctx, rec))
	check.Equal(t, 2, countRows(t, p, "auction_bids", auctionID))

	ids, err := p.ActiveAuctionIDs(ctx)
	assert.NoError(t, err)
	check.True(t, slices.Contains(ids, auctionID))
}
