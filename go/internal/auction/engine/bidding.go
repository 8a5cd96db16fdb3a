package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// BidParams is a team's bid on the open lot. PlayerID is optional; when set
// the bid is rejected if the lot has moved on.
type BidParams struct {
	AuctionID uuid.UUID
	PlayerID  uuid.UUID
	TeamID    uuid.UUID
	Amount    decimal.Decimal
	Actor     Actor
}

// BidResult is the lot after an accepted bid.
type BidResult struct {
	LeadingBid models.Bid
	BidHistory []models.Bid
}

// SaleParams is a moderator sale of the open lot to a team.
type SaleParams struct {
	AuctionID uuid.UUID
	PlayerID  uuid.UUID
	TeamID    uuid.UUID
	Amount    decimal.Decimal
	Actor     Actor
}

// PlaceBid validates and records a bid on the open lot. The lot countdown
// restarts and the hammer sequence is cleared.
func (e *Engine) PlaceBid(ctx context.Context, params BidParams) (*BidResult, error) {
	var res *BidResult
	err := e.mutate(ctx, params.AuctionID, params.Actor, func(tx *txn) error {
		bid, err := tx.acceptBid(params.PlayerID, params.TeamID, params.Amount)
		if err != nil {
			return err
		}
		tx.resetTimer(bid.PlayerID)
		res = &BidResult{
			LeadingBid: bid,
			BidHistory: tx.st.bids.History(bid.PlayerID),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SellToTeam records the moderator's price as the winning bid and resolves
// the lot at once. The price passes the same checks as a normal bid.
func (e *Engine) SellToTeam(ctx context.Context, params SaleParams) (*FinalizeResult, error) {
	var res *FinalizeResult
	err := e.mutate(ctx, params.AuctionID, params.Actor, func(tx *txn) error {
		if _, err := tx.acceptBid(params.PlayerID, params.TeamID, params.Amount); err != nil {
			return err
		}
		var err error
		res, err = tx.resolveLot(TriggerManualSale)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// acceptBid runs the bid pipeline and records the bid as leading.
func (tx *txn) acceptBid(playerID, teamID uuid.UUID, amount decimal.Decimal) (models.Bid, error) {
	if err := tx.validateBid(playerID, teamID, amount); err != nil {
		return models.Bid{}, err
	}

	cur, _ := tx.st.queue.Current()
	bid := models.Bid{
		ID:        uuid.New(),
		AuctionID: tx.st.auction.ID,
		PlayerID:  cur,
		TeamID:    teamID,
		Amount:    amount,
		PlacedAt:  tx.now,
	}
	previous, err := tx.st.bids.Accept(bid)
	if err != nil {
		return models.Bid{}, err
	}
	bid.Status = models.BidStatusActive
	tx.st.auction.HammerCount = 0

	participant, _ := tx.st.budgets.Get(teamID)
	payload := events.BidPlacedPayload{
		BidID:            bid.ID.String(),
		PlayerID:         cur.String(),
		TeamID:           teamID.String(),
		TeamName:         participant.TeamName,
		Amount:           amount,
		NextMinimumBid:   amount.Add(tx.st.auction.Rules.MinIncrement),
		PlacedAt:         tx.now,
		RemainingSeconds: tx.st.auction.Rules.BidTimeoutSeconds,
	}
	if previous != nil {
		payload.OutbidTeamID = previous.TeamID.String()
	}
	if err := tx.emit(events.TypeBidPlaced, payload); err != nil {
		return models.Bid{}, err
	}

	log.Info().
		Str("auction_id", tx.st.auction.ID.String()).
		Str("player_id", cur.String()).
		Str("team_id", teamID.String()).
		Str("amount", amount.String()).
		Str("actor_id", tx.actor.ID).
		Msg("bid accepted")
	return bid, nil
}

// validateBid applies the acceptance rules in order. A leading team is
// turned away before the amount is looked at.
func (tx *txn) validateBid(playerID, teamID uuid.UUID, amount decimal.Decimal) error {
	a := &tx.st.auction
	if a.Status != models.AuctionStatusLive {
		return invalidState("auction is not live")
	}
	cur, ok := tx.st.queue.Current()
	if !ok {
		return invalidState("no player is open for bidding")
	}
	if playerID != uuid.Nil && playerID != cur {
		return invalidState("player %s is no longer open for bidding", playerID)
	}
	if _, ok := tx.st.budgets.Get(teamID); !ok {
		return invalidState("team %s is not participating in this auction", teamID)
	}
	p, err := tx.st.player(cur)
	if err != nil {
		return err
	}

	leading, hasLeader := tx.st.bids.Leading(cur)
	if hasLeader && leading.TeamID == teamID && !a.Rules.AllowSelfRaise {
		return newError(ErrSelfOutbid, "your team already holds the leading bid")
	}

	floor := p.BasePrice
	if hasLeader {
		floor = leading.Amount
	}
	minimum := floor.Add(a.Rules.MinIncrement)
	if amount.LessThan(minimum) {
		return bidTooLow(minimum)
	}
	if err := tx.st.budgets.CanAfford(teamID, amount); err != nil {
		return err
	}

	if limit := a.Rules.MaxPlayersPerTeam; limit > 0 && tx.st.budgets.WonCount(teamID) >= limit {
		return invalidState("team already holds the maximum of %d players", limit)
	}
	if limit := a.Rules.MaxForeignPlayers; limit > 0 && p.Foreign && tx.st.foreignCount(teamID) >= limit {
		return invalidState("team already holds the maximum of %d foreign players", limit)
	}
	return nil
}
