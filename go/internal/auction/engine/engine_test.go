package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestStartPresentsFirstPlayer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	snap := f.snapshot(t)
	check.Equal(t, models.AuctionStatusLive, snap.Auction.Status)
	assert.NotNil(t, snap.CurrentPlayer)
	check.Equal(t, f.players[0], snap.CurrentPlayer.ID)
	check.Equal(t, models.PlayerStatusCurrent, snap.CurrentPlayer.Status)
	check.Equal(t, []uuid.UUID{f.players[1], f.players[2]}, snap.Auction.Queue)
	check.Equal(t, models.TimerState{RemainingSeconds: 30, Running: true}, snap.Timer)

	evts := f.rec.waitFor(t, events.TypePlayerChanged, 1)
	changed := decode[events.PlayerChangedPayload](t, evts[0])
	assert.NotNil(t, changed.PlayerID)
	check.Equal(t, f.players[0], *changed.PlayerID)
	check.True(t, changed.MinimumBid.Equal(amount("1500000")))

	all := f.rec.all()
	check.Equal(t, events.TypeAuctionStarted, all[0].Type)
	check.Equal(t, events.TypePlayerChanged, all[1].Type)
	for i, evt := range all {
		check.Equal(t, uint64(i+1), evt.Seq)
		check.Equal(t, f.auctionID, evt.AuctionID)
	}
}

func TestStartGuards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	err := f.eng.PauseAuction(ctx, f.auctionID, moderator)
	check.True(t, errors.Is(err, ErrInvalidState))
	err = f.eng.ResumeAuction(ctx, f.auctionID, moderator)
	check.True(t, errors.Is(err, ErrInvalidState))

	empty, err := f.eng.CreateAuction(ctx, CreateAuctionParams{
		Name:        "Empty",
		TotalBudget: amount("100"),
		Rules:       models.AuctionRules{MinIncrement: amount("1")},
	})
	assert.NoError(t, err)
	check.Equal(t, DefaultBidTimeoutSeconds, empty.Rules.BidTimeoutSeconds)
	err = f.eng.StartAuction(ctx, empty.ID, moderator)
	check.True(t, errors.Is(err, ErrInvalidState))

	f.start(t)
	err = f.eng.StartAuction(ctx, f.auctionID, moderator)
	check.True(t, errors.Is(err, ErrInvalidState))
	_, err = f.eng.AddParticipant(ctx, AddParticipantParams{AuctionID: f.auctionID, TeamID: uuid.New(), Actor: moderator})
	check.True(t, errors.Is(err, ErrInvalidState))
}

func TestCreateAuctionValidatesRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.CreateAuction(ctx, CreateAuctionParams{Name: "x", TotalBudget: amount("100")})
	check.True(t, errors.Is(err, ErrInvalidState))
	_, err = f.eng.CreateAuction(ctx, CreateAuctionParams{Name: "x", TotalBudget: amount("0"), Rules: models.AuctionRules{MinIncrement: amount("1")}})
	check.True(t, errors.Is(err, ErrInvalidState))
	_, err = f.eng.CreateAuction(ctx, CreateAuctionParams{ID: f.auctionID, Name: "x", TotalBudget: amount("100"), Rules: models.AuctionRules{MinIncrement: amount("1")}})
	check.True(t, errors.Is(err, ErrInvalidState))
}

func TestUnknownAuctionIsNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	err := f.eng.StartAuction(context.Background(), uuid.New(), moderator)
	check.True(t, errors.Is(err, ErrNotFound))
}

func TestBidBelowMinimumIncrement(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	_, err := f.bid(f.teamB, "1400000")
	check.True(t, errors.Is(err, ErrBidTooLow))
	var ee *Error
	assert.True(t, errors.As(err, &ee))
	assert.NotNil(t, ee.MinimumBid)
	check.True(t, ee.MinimumBid.Equal(amount("1500000")))
	check.Equal(t, "minimum bid is 1500000", ee.Reason)

	res, err := f.bid(f.teamB, "1500000")
	assert.NoError(t, err)
	check.True(t, res.LeadingBid.Amount.Equal(amount("1500000")))
	check.Equal(t, models.BidStatusActive, res.LeadingBid.Status)
	check.Equal(t, 1, len(res.BidHistory))

	_, err = f.bid(f.teamA, "1999999")
	check.True(t, errors.Is(err, ErrBidTooLow))
}

func TestSelfOutbidAndTimerSale(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withRules(func(r *models.AuctionRules) { r.MinIncrement = amount("100000") }))
	f.start(t)
	priorB := f.participant(t, f.teamB).RemainingBudget

	_, err := f.bid(f.teamA, "1500000")
	assert.NoError(t, err)

	_, err = f.bid(f.teamA, "2100000")
	check.True(t, errors.Is(err, ErrSelfOutbid))

	res, err := f.bid(f.teamB, "1600000")
	assert.NoError(t, err)
	check.Equal(t, 2, len(res.BidHistory))
	check.Equal(t, models.BidStatusOutbid, res.BidHistory[0].Status)
	check.Equal(t, f.teamB, res.LeadingBid.TeamID)

	placed := f.rec.waitFor(t, events.TypeBidPlaced, 2)
	check.Equal(t, f.teamA.String(), decode[events.BidPlacedPayload](t, placed[1]).OutbidTeamID)

	f.clock.Advance(30 * time.Second)
	sold := f.rec.waitFor(t, events.TypePlayerSold, 1)
	payload := decode[events.PlayerSoldPayload](t, sold[0])
	check.Equal(t, f.players[0].String(), payload.PlayerID)
	check.Equal(t, f.teamB.String(), payload.TeamID)
	check.True(t, payload.Amount.Equal(amount("1600000")))
	check.Equal(t, TriggerTimer, payload.Trigger)
	f.rec.waitFor(t, events.TypePlayerChanged, 2)

	b := f.participant(t, f.teamB)
	check.True(t, b.RemainingBudget.Equal(priorB.Sub(amount("1600000"))))
	check.Equal(t, 1, len(b.PlayersWon))
	a := f.participant(t, f.teamA)
	check.True(t, a.RemainingBudget.Equal(amount("2000000")))
	check.Equal(t, 0, len(a.PlayersWon))

	p := f.player(t, f.players[0])
	check.Equal(t, models.PlayerStatusSold, p.Status)
	check.Equal(t, f.teamB, *p.SoldTo)

	snap := f.snapshot(t)
	check.Equal(t, f.players[1], snap.CurrentPlayer.ID)
	check.Equal(t, 1, snap.Auction.Counts.Sold)
	f.checkQueueInvariant(t)
}

func TestInsufficientBudget(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	_, err := f.bid(f.teamA, "2500000")
	check.True(t, errors.Is(err, ErrInsufficientBudget))
	check.Equal(t, "bid of 2500000 exceeds remaining budget of 2000000", Reason(err))

	_, err = f.bid(uuid.New(), "1500000")
	check.True(t, errors.Is(err, ErrInvalidState))
}

func TestAllowSelfRaise(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withRules(func(r *models.AuctionRules) { r.AllowSelfRaise = true }))
	f.start(t)

	_, err := f.bid(f.teamB, "1500000")
	assert.NoError(t, err)
	res, err := f.bid(f.teamB, "2000000")
	assert.NoError(t, err)
	check.True(t, res.LeadingBid.Amount.Equal(amount("2000000")))
}

func TestBidOnStaleLotIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	_, err := f.eng.AdvanceToNextPlayer(context.Background(), f.auctionID, moderator)
	assert.NoError(t, err)

	_, err = f.eng.PlaceBid(context.Background(), BidParams{
		AuctionID: f.auctionID,
		PlayerID:  f.players[0],
		TeamID:    f.teamB,
		Amount:    amount("1500000"),
		Actor:     bidder,
	})
	check.True(t, errors.Is(err, ErrInvalidState))
}

func TestRejectedBidLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	_, err := f.bid(f.teamB, "1500000")
	assert.NoError(t, err)
	before := f.snapshot(t)

	_, err = f.bid(f.teamA, "1600000")
	check.True(t, errors.Is(err, ErrBidTooLow))

	after := f.snapshot(t)
	check.Equal(t, before.LastSeq, after.LastSeq)
	check.Equal(t, before.Auction, after.Auction)
	check.Equal(t, before.BidHistory, after.BidHistory)
	check.Equal(t, before.Participants, after.Participants)
}

func TestHammerWithoutBidsMarksUnsold(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	budgets := f.snapshot(t).Participants

	for i := 1; i < HammerStrikes; i++ {
		res, err := f.eng.Hammer(ctx, f.auctionID, moderator)
		assert.NoError(t, err)
		check.Equal(t, i, res.Count)
		check.False(t, res.Finalized)
	}
	res, err := f.eng.Hammer(ctx, f.auctionID, moderator)
	assert.NoError(t, err)
	check.Equal(t, HammerStrikes, res.Count)
	check.True(t, res.Finalized)
	assert.NotNil(t, res.Sale)
	check.Equal(t, OutcomeUnsold, res.Sale.Outcome)

	snap := f.snapshot(t)
	check.Equal(t, 0, snap.Auction.HammerCount)
	check.Equal(t, 1, snap.Auction.Counts.Unsold)
	check.Equal(t, f.players[1], snap.CurrentPlayer.ID)
	check.Equal(t, models.PlayerStatusUnsold, f.player(t, f.players[0]).Status)
	check.Equal(t, budgets, snap.Participants)

	unsold := f.rec.waitFor(t, events.TypePlayerUnsold, 1)
	check.Equal(t, TriggerHammer, decode[events.PlayerUnsoldPayload](t, unsold[0]).Trigger)
	check.Equal(t, 3, len(f.rec.waitFor(t, events.TypeHammerStruck, 3)))
	f.checkQueueInvariant(t)
}

func TestBidResetsHammer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	_, err := f.eng.Hammer(ctx, f.auctionID, moderator)
	assert.NoError(t, err)
	_, err = f.eng.Hammer(ctx, f.auctionID, moderator)
	assert.NoError(t, err)
	_, err = f.bid(f.teamB, "1500000")
	assert.NoError(t, err)
	check.Equal(t, 0, f.snapshot(t).Auction.HammerCount)

	res, err := f.eng.Hammer(ctx, f.auctionID, moderator)
	assert.NoError(t, err)
	check.Equal(t, 1, res.Count)

	assert.NoError(t, f.eng.ResetHammer(ctx, f.auctionID, moderator))
	check.Equal(t, 0, f.snapshot(t).Auction.HammerCount)
}

func TestHammerSellsToLeader(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	_, err := f.bid(f.teamB, "1500000")
	assert.NoError(t, err)

	var res *HammerResult
	for range HammerStrikes {
		res, err = f.eng.Hammer(ctx, f.auctionID, moderator)
		assert.NoError(t, err)
	}
	check.True(t, res.Finalized)
	check.Equal(t, OutcomeSold, res.Sale.Outcome)
	check.Equal(t, f.teamB, *res.Sale.TeamID)
	check.True(t, f.participant(t, f.teamB).RemainingBudget.Equal(amount("8500000")))
}

func TestFinalizeIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	_, err := f.bid(f.teamB, "1500000")
	assert.NoError(t, err)

	res, err := f.eng.Finalize(ctx, f.auctionID, uuid.Nil, moderator)
	assert.NoError(t, err)
	check.Equal(t, OutcomeSold, res.Outcome)
	check.Equal(t, f.players[0], res.PlayerID)

	again, err := f.eng.Finalize(ctx, f.auctionID, f.players[0], moderator)
	assert.NoError(t, err)
	check.Equal(t, OutcomeSkipped, again.Outcome)

	none, err := f.eng.Finalize(ctx, f.auctionID, uuid.Nil, moderator)
	assert.NoError(t, err)
	check.Equal(t, OutcomeSkipped, none.Outcome)

	b := f.participant(t, f.teamB)
	check.True(t, b.RemainingBudget.Equal(amount("8500000")))
	check.Equal(t, 1, len(b.PlayersWon))
	check.Equal(t, 1, len(f.rec.waitFor(t, events.TypePlayerSold, 1)))

	snap := f.snapshot(t)
	check.Nil(t, snap.CurrentPlayer)
	check.Equal(t, 1, snap.Auction.Counts.Sold)
	check.False(t, snap.Timer.Running)

	won := 0
	for _, r := range f.store.load(t, f.auctionID).Bids {
		if r.Status == models.BidStatusWon {
			won++
		}
	}
	check.Equal(t, 1, won)

	// The moderator moves on from the resolved lot.
	next, err := f.eng.AdvanceToNextPlayer(ctx, f.auctionID, moderator)
	assert.NoError(t, err)
	check.Nil(t, next)
	check.Equal(t, f.players[1], f.snapshot(t).CurrentPlayer.ID)
	f.checkQueueInvariant(t)
}

func TestFinalizeQueuedPlayerConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	_, err := f.eng.Finalize(context.Background(), f.auctionID, f.players[2], moderator)
	check.True(t, errors.Is(err, ErrConflict))
}

func TestShuffleKeepsCurrentPlayer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for range 7 {
		p, err := f.eng.AddPlayer(ctx, AddPlayerParams{AuctionID: f.auctionID, Name: "Extra", BasePrice: amount("100"), Actor: moderator})
		assert.NoError(t, err)
		f.players = append(f.players, p.ID)
	}
	f.start(t)

	_, err := f.eng.ShuffleQueue(ctx, f.auctionID, moderator)
	assert.NoError(t, err)
	snap := f.snapshot(t)
	check.Equal(t, f.players[0], snap.CurrentPlayer.ID)
	check.Equal(t, 9, len(snap.Auction.Queue))

	shuffled := f.rec.waitFor(t, events.TypeQueueShuffled, 1)
	payload := decode[events.QueueShuffledPayload](t, shuffled[0])
	check.Equal(t, snap.Auction.Queue, payload.Queue)
	check.Equal(t, f.players[0], *payload.CurrentPlayerID)
	f.checkQueueInvariant(t)

	assert.NoError(t, f.eng.StopAuction(ctx, f.auctionID, moderator))
	_, err = f.eng.ShuffleQueue(ctx, f.auctionID, moderator)
	check.True(t, errors.Is(err, ErrInvalidState))
}

func TestSetCurrentPlayer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	res, err := f.eng.SetCurrentPlayer(ctx, f.auctionID, f.players[2], moderator)
	assert.NoError(t, err)
	assert.NotNil(t, res)
	check.Equal(t, OutcomeUnsold, res.Outcome)
	check.Equal(t, f.players[0], res.PlayerID)

	snap := f.snapshot(t)
	check.Equal(t, f.players[2], snap.CurrentPlayer.ID)
	check.Equal(t, []uuid.UUID{f.players[1]}, snap.Auction.Queue)
	seq := snap.LastSeq

	res, err = f.eng.SetCurrentPlayer(ctx, f.auctionID, f.players[2], moderator)
	assert.NoError(t, err)
	check.Nil(t, res)
	check.Equal(t, seq, f.snapshot(t).LastSeq)

	_, err = f.eng.SetCurrentPlayer(ctx, f.auctionID, f.players[0], moderator)
	check.True(t, errors.Is(err, ErrInvalidState))
	_, err = f.eng.SetCurrentPlayer(ctx, f.auctionID, uuid.New(), moderator)
	check.True(t, errors.Is(err, ErrNotFound))
	f.checkQueueInvariant(t)
}

func TestSellToTeamAdvances(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	res, err := f.eng.SellToTeam(context.Background(), SaleParams{
		AuctionID: f.auctionID,
		TeamID:    f.teamA,
		Amount:    amount("2000000"),
		Actor:     moderator,
	})
	assert.NoError(t, err)
	check.Equal(t, OutcomeSold, res.Outcome)
	check.True(t, res.Amount.Equal(amount("2000000")))
	check.True(t, f.participant(t, f.teamA).RemainingBudget.IsZero())
	check.Equal(t, f.players[1], f.snapshot(t).CurrentPlayer.ID)

	sold := f.rec.waitFor(t, events.TypePlayerSold, 1)
	check.Equal(t, TriggerManualSale, decode[events.PlayerSoldPayload](t, sold[0]).Trigger)

	_, err = f.eng.SellToTeam(context.Background(), SaleParams{
		AuctionID: f.auctionID,
		TeamID:    f.teamA,
		Amount:    amount("1500000"),
		Actor:     moderator,
	})
	check.True(t, errors.Is(err, ErrInsufficientBudget))
}

func TestRosterLimits(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withRules(func(r *models.AuctionRules) {
		r.MaxPlayersPerTeam = 2
		r.MaxForeignPlayers = 1
	}))
	ctx := context.Background()
	var foreign []uuid.UUID
	for range 2 {
		p, err := f.eng.AddPlayer(ctx, AddPlayerParams{AuctionID: f.auctionID, Name: "Overseas", BasePrice: amount("1000000"), Foreign: true, Actor: moderator})
		assert.NoError(t, err)
		foreign = append(foreign, p.ID)
	}
	extra, err := f.eng.AddPlayer(ctx, AddPlayerParams{AuctionID: f.auctionID, Name: "Local", BasePrice: amount("1000000"), Actor: moderator})
	assert.NoError(t, err)
	f.start(t)
	sell := func(team uuid.UUID, value string) error {
		_, err := f.eng.SellToTeam(ctx, SaleParams{AuctionID: f.auctionID, TeamID: team, Amount: amount(value), Actor: moderator})
		return err
	}

	_, err = f.eng.SetCurrentPlayer(ctx, f.auctionID, foreign[0], moderator)
	assert.NoError(t, err)
	assert.NoError(t, sell(f.teamB, "1500000"))

	_, err = f.eng.SetCurrentPlayer(ctx, f.auctionID, foreign[1], moderator)
	assert.NoError(t, err)
	_, err = f.bid(f.teamB, "1500000")
	check.True(t, errors.Is(err, ErrInvalidState))
	_, err = f.bid(f.teamA, "1500000")
	assert.NoError(t, err)

	_, err = f.eng.AdvanceToNextPlayer(ctx, f.auctionID, moderator)
	assert.NoError(t, err)
	assert.NoError(t, sell(f.teamB, "1500000"))
	check.Equal(t, extra.ID, f.snapshot(t).CurrentPlayer.ID)
	_, err = f.bid(f.teamB, "1500000")
	check.True(t, errors.Is(err, ErrInvalidState))
	check.Equal(t, "team already holds the maximum of 2 players", Reason(err))
}

func TestPauseStopsCountdownAndResumeRestartsIt(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	f.clock.Advance(10 * time.Second)
	assert.NoError(t, f.eng.PauseAuction(ctx, f.auctionID, moderator))
	check.Equal(t, models.TimerState{}, f.snapshot(t).Timer)

	_, err := f.bid(f.teamB, "1500000")
	check.True(t, errors.Is(err, ErrInvalidState))

	f.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	check.Equal(t, 0, len(f.rec.ofType(events.TypePlayerUnsold)))

	assert.NoError(t, f.eng.ResumeAuction(ctx, f.auctionID, moderator))
	check.Equal(t, models.TimerState{RemainingSeconds: 30, Running: true}, f.snapshot(t).Timer)
	resumed := f.rec.waitFor(t, events.TypeAuctionResumed, 1)
	check.Equal(t, 30, decode[events.AuctionResumedPayload](t, resumed[0]).RemainingSeconds)
}

func TestBidInvalidatesPendingExpiry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.clock.Advance(20 * time.Second)
	_, err := f.bid(f.teamB, "1500000")
	assert.NoError(t, err)

	// The original deadline passes; the lot stays open.
	f.clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	check.Equal(t, 0, len(f.rec.ofType(events.TypePlayerSold)))
	check.Equal(t, 20, f.snapshot(t).Timer.RemainingSeconds)

	f.clock.Advance(20 * time.Second)
	f.rec.waitFor(t, events.TypePlayerSold, 1)
}

func TestTimerSyncTicks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.clock.Advance(5 * time.Second)
	syncs := f.rec.waitFor(t, events.TypeTimerSync, 1)
	payload := decode[events.TimerSyncPayload](t, syncs[0])
	check.True(t, payload.Running)
	check.Equal(t, 25, payload.RemainingSeconds)
	check.Equal(t, f.players[0], *payload.PlayerID)
}

func TestSyncTimerCorrectsDrift(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	res, err := f.eng.SyncTimer(ctx, f.auctionID, 29)
	assert.NoError(t, err)
	check.False(t, res.Corrected)
	check.Equal(t, 30, res.Timer.RemainingSeconds)

	res, err = f.eng.SyncTimer(ctx, f.auctionID, 20)
	assert.NoError(t, err)
	check.True(t, res.Corrected)
	check.Equal(t, 30, res.Timer.RemainingSeconds)
	check.Equal(t, 30, f.snapshot(t).Timer.RemainingSeconds)

	_, err = f.eng.SyncTimer(ctx, f.auctionID, -1)
	check.True(t, errors.Is(err, ErrInvalidState))
}

func TestQueueExhaustionAwaitsModerator(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	for range f.players {
		_, err := f.eng.AdvanceToNextPlayer(ctx, f.auctionID, moderator)
		assert.NoError(t, err)
		f.checkQueueInvariant(t)
	}
	snap := f.snapshot(t)
	check.Nil(t, snap.CurrentPlayer)
	check.False(t, snap.Timer.Running)
	check.Equal(t, 3, snap.Auction.Counts.Unsold)

	changed := f.rec.waitFor(t, events.TypePlayerChanged, 4)
	last := decode[events.PlayerChangedPayload](t, changed[3])
	check.Nil(t, last.PlayerID)
	check.True(t, last.AwaitingDecision)

	_, err := f.eng.AdvanceToNextPlayer(ctx, f.auctionID, moderator)
	check.True(t, errors.Is(err, ErrInvalidState))

	assert.NoError(t, f.eng.StopAuction(ctx, f.auctionID, moderator))
	check.Equal(t, models.AuctionStatusCompleted, f.snapshot(t).Auction.Status)
}

func TestStopFinalizesOpenLot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	_, err := f.bid(f.teamB, "3000000")
	assert.NoError(t, err)

	assert.NoError(t, f.eng.StopAuction(ctx, f.auctionID, moderator))
	snap := f.snapshot(t)
	check.Equal(t, models.AuctionStatusCompleted, snap.Auction.Status)
	assert.NotNil(t, snap.Auction.CompletedAt)
	check.Equal(t, models.PlayerStatusSold, f.player(t, f.players[0]).Status)
	check.Equal(t, 2, len(snap.Auction.Queue))
	f.checkQueueInvariant(t)

	ended := f.rec.waitFor(t, events.TypeAuctionEnded, 1)
	payload := decode[events.AuctionEndedPayload](t, ended[0])
	check.Equal(t, 1, payload.SoldPlayers)
	check.Equal(t, "completed", payload.Status)

	// Terminal: nothing is accepted any more.
	_, err = f.bid(f.teamA, "3500000")
	check.True(t, errors.Is(err, ErrInvalidState))
	check.True(t, errors.Is(f.eng.StartAuction(ctx, f.auctionID, moderator), ErrInvalidState))
	check.True(t, errors.Is(f.eng.CancelAuction(ctx, f.auctionID, moderator), ErrInvalidState))
	_, err = f.eng.AddPlayer(ctx, AddPlayerParams{AuctionID: f.auctionID, Name: "Late", BasePrice: amount("1"), Actor: moderator})
	check.True(t, errors.Is(err, ErrInvalidState))
}

func TestCancelReturnsOpenLotToQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	_, err := f.bid(f.teamB, "1500000")
	assert.NoError(t, err)

	assert.NoError(t, f.eng.CancelAuction(ctx, f.auctionID, moderator))
	snap := f.snapshot(t)
	check.Equal(t, models.AuctionStatusCancelled, snap.Auction.Status)
	check.Nil(t, snap.CurrentPlayer)
	check.Equal(t, f.players, snap.Auction.Queue)
	check.Equal(t, models.PlayerStatusQueued, f.player(t, f.players[0]).Status)
	check.True(t, f.participant(t, f.teamB).RemainingBudget.Equal(amount("10000000")))
	f.rec.waitFor(t, events.TypeAuctionCancelled, 1)
	f.checkQueueInvariant(t)
}

func TestRemovePlayer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	check.True(t, errors.Is(f.eng.RemovePlayer(ctx, f.auctionID, f.players[0], moderator), ErrInvalidState))
	assert.NoError(t, f.eng.RemovePlayer(ctx, f.auctionID, f.players[1], moderator))
	snap := f.snapshot(t)
	check.Equal(t, 2, snap.Auction.Counts.Total)
	check.Equal(t, []uuid.UUID{f.players[2]}, snap.Auction.Queue)
	f.checkQueueInvariant(t)
}

func TestConflictWhileLocked(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	ent := f.eng.lookup(f.auctionID)
	assert.NotNil(t, ent)
	check.True(t, ent.sem.TryAcquire(1))
	_, err := f.bid(f.teamB, "1500000")
	ent.release()
	check.True(t, errors.Is(err, ErrConflict))
	check.Equal(t, "conflicting operation in progress", Reason(err))

	_, err = f.bid(f.teamB, "1500000")
	check.NoError(t, err)
}

func TestTimerCallbackGivesUpOnClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	ent := f.eng.lookup(f.auctionID)
	assert.NotNil(t, ent)
	assert.True(t, ent.sem.TryAcquire(1))
	defer ent.release()

	got := make(chan bool, 1)
	go func() {
		_, ok := f.eng.lockForTimer(f.auctionID)
		got <- ok
	}()
	f.eng.Close()

	select {
	case ok := <-got:
		check.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timer callback still waiting after close")
	}
}

func TestConcurrentBidsAreStrictlyIncreasing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, withRules(func(r *models.AuctionRules) { r.MinIncrement = amount("1000") }))
	ctx := context.Background()
	var teams []uuid.UUID
	for range 8 {
		// Participants can only be added before the start.
		team := uuid.New()
		_, err := f.eng.AddParticipant(ctx, AddParticipantParams{AuctionID: f.auctionID, TeamID: team, Actor: moderator})
		assert.NoError(t, err)
		teams = append(teams, team)
	}
	f.start(t)

	var wg sync.WaitGroup
	for i, team := range teams {
		wg.Add(1)
		go func(i int, team uuid.UUID) {
			defer wg.Done()
			for step := 0; step < 20; step++ {
				value := amount("1001000").Add(amount("1000").Mul(decimal.NewFromInt(int64(step*len(teams) + i))))
				_, _ = f.eng.PlaceBid(ctx, BidParams{AuctionID: f.auctionID, TeamID: team, Amount: value, Actor: bidder})
			}
		}(i, team)
	}
	wg.Wait()

	history := f.snapshot(t).BidHistory
	assert.True(t, len(history) > 0)
	active := 0
	for i, b := range history {
		if b.Status == models.BidStatusActive {
			active++
		}
		if i == 0 {
			check.True(t, b.Amount.GreaterThanOrEqual(amount("1001000")))
			continue
		}
		prev := history[i-1]
		check.True(t, b.Amount.GreaterThanOrEqual(prev.Amount.Add(amount("1000"))))
		check.NotEqual(t, prev.TeamID, b.TeamID)
		check.False(t, b.PlacedAt.Before(prev.PlacedAt))
	}
	check.Equal(t, 1, active)
}

func TestReloadRearmsOpenLot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	_, err := f.bid(f.teamB, "1500000")
	assert.NoError(t, err)
	f.clock.Advance(12 * time.Second)
	f.eng.Close()

	eng, err := New(Config{Store: f.store, Clock: f.clock})
	assert.NoError(t, err)
	defer eng.Close()

	snap, err := eng.Snapshot(context.Background(), f.auctionID)
	assert.NoError(t, err)
	check.Equal(t, models.AuctionStatusLive, snap.Auction.Status)
	check.Equal(t, f.players[0], snap.CurrentPlayer.ID)
	assert.NotNil(t, snap.LeadingBid)
	check.Equal(t, f.teamB, snap.LeadingBid.TeamID)
	check.Equal(t, models.TimerState{RemainingSeconds: 30, Running: true}, snap.Timer)
}

func TestInvariantViolationRollsBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	_, err := f.bid(f.teamA, "1500000")
	assert.NoError(t, err)
	f.eng.Close()

	// A stored budget below the leading bid cannot come from bid validation.
	rec := f.store.load(t, f.auctionID)
	for i := range rec.Participants {
		if rec.Participants[i].TeamID == f.teamA {
			rec.Participants[i].RemainingBudget = amount("100")
		}
	}
	assert.NoError(t, f.store.SaveAuction(context.Background(), rec))

	sink := &recorder{}
	eng, err := New(Config{Store: f.store, Sinks: []EventSink{sink}, Clock: f.clock})
	assert.NoError(t, err)
	defer eng.Close()

	res, err := eng.Finalize(context.Background(), f.auctionID, uuid.Nil, moderator)
	check.Nil(t, res)
	check.True(t, errors.Is(err, ErrInvariantViolation))

	snap, err := eng.Snapshot(context.Background(), f.auctionID)
	assert.NoError(t, err)
	assert.NotNil(t, snap.CurrentPlayer)
	check.Equal(t, f.players[0], snap.CurrentPlayer.ID)
	check.Equal(t, 0, snap.Auction.Counts.Sold)
	check.Equal(t, uint64(0), snap.LastSeq)
	assert.NotNil(t, snap.LeadingBid)
	check.Equal(t, f.teamA, snap.LeadingBid.TeamID)
	for _, p := range snap.Participants {
		if p.TeamID == f.teamA {
			check.True(t, p.RemainingBudget.Equal(amount("100")))
			check.Equal(t, 0, len(p.PlayersWon))
		}
	}

	eng.Close()
	check.Equal(t, 0, len(sink.all()))
	stored := f.store.load(t, f.auctionID)
	check.Equal(t, f.players[0], *stored.Auction.CurrentPlayerID)
	check.Equal(t, 0, stored.Auction.Counts.Sold)
}

func TestTerminalAuctionIsEvicted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()
	assert.NoError(t, f.eng.CancelAuction(ctx, f.auctionID, moderator))
	f.rec.waitFor(t, events.TypeAuctionCancelled, 1)

	ent := f.eng.lookup(f.auctionID)
	assert.NotNil(t, ent)
	deadline := time.Now().Add(2 * time.Second)
	for f.eng.lookup(f.auctionID) != nil {
		if time.Now().After(deadline) {
			t.Fatal("cancelled auction still loaded")
		}
		f.clock.Advance(DefaultEvictAfter)
		time.Sleep(2 * time.Millisecond)
	}
	assert.NoError(t, ent.sem.Acquire(ctx, 1))
	check.True(t, ent.evicted)
	ent.release()
	select {
	case <-ent.stop:
	default:
		t.Fatal("evicted auction still has a pump")
	}
	check.Equal(t, 0, len(f.eng.Loaded()))

	// Reads and commands load it from the store again.
	snap := f.snapshot(t)
	check.Equal(t, models.AuctionStatusCancelled, snap.Auction.Status)
	check.True(t, errors.Is(f.eng.StartAuction(ctx, f.auctionID, moderator), ErrInvalidState))
	check.True(t, f.eng.lookup(f.auctionID) != ent)
}

func TestLiveAuctionIsNotEvicted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	assert.NoError(t, f.eng.PauseAuction(context.Background(), f.auctionID, moderator))
	f.rec.waitFor(t, events.TypeAuctionPaused, 1)

	f.clock.Advance(2 * DefaultEvictAfter)
	check.NotNil(t, f.eng.lookup(f.auctionID))
}
