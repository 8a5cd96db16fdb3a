package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Outcome is how a finalize call resolved a player.
type Outcome string

const (
	OutcomeSold    Outcome = "sold"
	OutcomeUnsold  Outcome = "unsold"
	OutcomeSkipped Outcome = "skipped" // already resolved or nothing open
)

// Triggers recorded on player_sold / player_unsold.
const (
	TriggerNext       = "next"
	TriggerTimer      = "timer"
	TriggerHammer     = "hammer"
	TriggerManualSale = "manual_sale"
	TriggerSetCurrent = "set_current"
	TriggerStop       = "stop"
	TriggerFinalize   = "finalize"
)

// FinalizeResult describes one resolved lot.
type FinalizeResult struct {
	PlayerID uuid.UUID
	Outcome  Outcome
	TeamID   *uuid.UUID
	Amount   *decimal.Decimal
}

// Finalize resolves a lot without opening the next one. A uuid.Nil playerID
// means the open lot. Finalizing a player that is already sold or unsold is
// a no-op, which absorbs duplicate triggers such as the timer racing the
// hammer.
func (e *Engine) Finalize(ctx context.Context, auctionID, playerID uuid.UUID, actor Actor) (*FinalizeResult, error) {
	var res *FinalizeResult
	err := e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		target := playerID
		if target == uuid.Nil {
			cur, ok := tx.st.queue.Current()
			if !ok {
				tx.noop = true
				res = &FinalizeResult{Outcome: OutcomeSkipped}
				return nil
			}
			target = cur
		}

		p, err := tx.st.player(target)
		if err != nil {
			return err
		}
		if p.Status.Resolved() {
			tx.noop = true
			res = &FinalizeResult{PlayerID: target, Outcome: OutcomeSkipped}
			return nil
		}
		switch tx.st.auction.Status {
		case models.AuctionStatusLive, models.AuctionStatusPaused:
		default:
			return invalidState("cannot finalize a lot while the auction is %s", tx.st.auction.Status)
		}
		if !tx.st.queue.IsCurrent(target) {
			return newError(ErrConflict, "player %s is not the open lot", target)
		}

		r, err := tx.finalize(target, TriggerFinalize)
		if err != nil {
			return err
		}
		res = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// finalize resolves the open lot to its leading bidder or to unsold, then
// closes it. The caller opens the next lot.
func (tx *txn) finalize(playerID uuid.UUID, trigger string) (FinalizeResult, error) {
	p, err := tx.st.player(playerID)
	if err != nil {
		return FinalizeResult{}, err
	}
	if p.Status.Resolved() {
		return FinalizeResult{PlayerID: playerID, Outcome: OutcomeSkipped}, nil
	}
	if !tx.st.queue.IsCurrent(playerID) {
		return FinalizeResult{}, invariantViolation("finalize of player %s which is not the open lot", playerID)
	}

	res := FinalizeResult{PlayerID: playerID}
	leading, ok := tx.st.bids.Settle(playerID)
	if !ok {
		p.Status = models.PlayerStatusUnsold
		tx.st.auction.Counts.Unsold++
		res.Outcome = OutcomeUnsold
		if err := tx.emit(events.TypePlayerUnsold, events.PlayerUnsoldPayload{
			PlayerID:   playerID.String(),
			PlayerName: p.Name,
			Trigger:    trigger,
			ResolvedAt: tx.now,
		}); err != nil {
			return FinalizeResult{}, err
		}
	} else {
		remaining, err := tx.st.budgets.Debit(leading.TeamID, playerID, leading.Amount, tx.now)
		if err != nil {
			return FinalizeResult{}, err
		}
		teamID, amount := leading.TeamID, leading.Amount
		p.Status = models.PlayerStatusSold
		p.SoldTo = &teamID
		p.SoldPrice = &amount
		tx.st.auction.Counts.Sold++
		res.Outcome = OutcomeSold
		res.TeamID = &teamID
		res.Amount = &amount

		participant, _ := tx.st.budgets.Get(teamID)
		if err := tx.emit(events.TypePlayerSold, events.PlayerSoldPayload{
			PlayerID:        playerID.String(),
			PlayerName:      p.Name,
			TeamID:          teamID.String(),
			TeamName:        participant.TeamName,
			Amount:          amount,
			RemainingBudget: remaining,
			Trigger:         trigger,
			SoldAt:          tx.now,
		}); err != nil {
			return FinalizeResult{}, err
		}
	}

	tx.st.queue.ClearCurrent()
	tx.st.auction.HammerCount = 0
	tx.stopTimer()

	log.Info().
		Str("auction_id", tx.st.auction.ID.String()).
		Str("player_id", playerID.String()).
		Str("outcome", string(res.Outcome)).
		Str("trigger", trigger).
		Msg("lot finalized")
	return res, nil
}

// resolveLot finalizes the open lot, if any, and opens the next queued one.
func (tx *txn) resolveLot(trigger string) (*FinalizeResult, error) {
	var (
		res      *FinalizeResult
		previous *uuid.UUID
	)
	if cur, ok := tx.st.queue.Current(); ok {
		r, err := tx.finalize(cur, trigger)
		if err != nil {
			return nil, err
		}
		res = &r
		previous = &cur
	}
	if err := tx.advance(previous); err != nil {
		return nil, err
	}
	return res, nil
}

// advance opens the next queued player. With an empty queue the auction
// waits for a moderator decision with no lot open.
func (tx *txn) advance(previous *uuid.UUID) error {
	next, ok := tx.st.queue.PopFront()
	if !ok {
		tx.stopTimer()
		return tx.emit(events.TypePlayerChanged, events.PlayerChangedPayload{
			AwaitingDecision: true,
			PreviousPlayerID: previous,
		})
	}
	return tx.openLot(next, previous)
}

// openLot marks an already-current player as the open lot and starts its
// countdown.
func (tx *txn) openLot(playerID uuid.UUID, previous *uuid.UUID) error {
	p, err := tx.st.player(playerID)
	if err != nil {
		return err
	}
	p.Status = models.PlayerStatusCurrent
	tx.st.auction.HammerCount = 0
	tx.resetTimer(playerID)

	id := playerID
	base := p.BasePrice
	minimum := p.BasePrice.Add(tx.st.auction.Rules.MinIncrement)
	return tx.emit(events.TypePlayerChanged, events.PlayerChangedPayload{
		PlayerID:         &id,
		PlayerName:       p.Name,
		Role:             p.Role,
		BasePrice:        &base,
		MinimumBid:       &minimum,
		RemainingInQueue: tx.st.queue.Len(),
		TimerSeconds:     tx.st.auction.Rules.BidTimeoutSeconds,
		PreviousPlayerID: previous,
	})
}
