package engine

import (
	"context"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

var allowedTransitions = map[models.AuctionStatus][]models.AuctionStatus{
	models.AuctionStatusUpcoming:  {models.AuctionStatusLive, models.AuctionStatusCompleted, models.AuctionStatusCancelled},
	models.AuctionStatusLive:      {models.AuctionStatusPaused, models.AuctionStatusCompleted, models.AuctionStatusCancelled},
	models.AuctionStatusPaused:    {models.AuctionStatusLive, models.AuctionStatusCompleted, models.AuctionStatusCancelled},
	models.AuctionStatusCompleted: {}, // terminal
	models.AuctionStatusCancelled: {}, // terminal
}

// validateTransition checks a status change against the lifecycle.
func validateTransition(from, to models.AuctionStatus) error {
	allowedNext, ok := allowedTransitions[from]
	if !ok {
		return invariantViolation("unknown auction status %q", from)
	}
	if !slices.Contains(allowedNext, to) {
		return invalidState("auction cannot go from %s to %s", from, to)
	}
	return nil
}

func requireStatus(a *models.Auction, allowed ...models.AuctionStatus) error {
	if slices.Contains(allowed, a.Status) {
		return nil
	}
	return invalidState("operation not allowed while auction is %s", a.Status)
}

func (tx *txn) transition(to models.AuctionStatus) error {
	if err := validateTransition(tx.st.auction.Status, to); err != nil {
		return err
	}
	tx.st.auction.Status = to
	return nil
}

// StartAuction opens the auction and presents the first queued player.
func (e *Engine) StartAuction(ctx context.Context, auctionID uuid.UUID, actor Actor) error {
	return e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := tx.transition(models.AuctionStatusLive); err != nil {
			return err
		}
		if tx.st.queue.Len() == 0 {
			return invalidState("cannot start an auction with an empty queue")
		}
		if tx.st.budgets.Len() == 0 {
			return invalidState("cannot start an auction without participants")
		}
		now := tx.now
		tx.st.auction.StartedAt = &now

		if err := tx.emit(events.TypeAuctionStarted, events.AuctionStartedPayload{
			AuctionID:    tx.st.auction.ID.String(),
			StartedAt:    now,
			TotalPlayers: tx.st.auction.Counts.Total,
			Participants: tx.st.budgets.Len(),
			ActorID:      actor.ID,
		}); err != nil {
			return err
		}
		log.Info().Str("auction_id", auctionID.String()).Str("actor_id", actor.ID).Msg("auction started")
		return tx.advance(nil)
	})
}

// PauseAuction stops the countdown. Resume restarts it from the full bid
// timeout.
func (e *Engine) PauseAuction(ctx context.Context, auctionID uuid.UUID, actor Actor) error {
	return e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := requireStatus(&tx.st.auction, models.AuctionStatusLive); err != nil {
			return err
		}
		if err := tx.transition(models.AuctionStatusPaused); err != nil {
			return err
		}
		tx.stopTimer()
		log.Info().Str("auction_id", auctionID.String()).Str("actor_id", actor.ID).Msg("auction paused")
		return tx.emit(events.TypeAuctionPaused, events.AuctionPausedPayload{
			AuctionID: tx.st.auction.ID.String(),
			PausedAt:  tx.now,
			ActorID:   actor.ID,
		})
	})
}

// ResumeAuction reopens a paused auction.
func (e *Engine) ResumeAuction(ctx context.Context, auctionID uuid.UUID, actor Actor) error {
	return e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := requireStatus(&tx.st.auction, models.AuctionStatusPaused); err != nil {
			return err
		}
		if err := tx.transition(models.AuctionStatusLive); err != nil {
			return err
		}
		remaining := 0
		if cur, ok := tx.st.queue.Current(); ok {
			tx.resetTimer(cur)
			remaining = tx.st.auction.Rules.BidTimeoutSeconds
		}
		log.Info().Str("auction_id", auctionID.String()).Str("actor_id", actor.ID).Msg("auction resumed")
		return tx.emit(events.TypeAuctionResumed, events.AuctionResumedPayload{
			AuctionID:        tx.st.auction.ID.String(),
			ResumedAt:        tx.now,
			RemainingSeconds: remaining,
			ActorID:          actor.ID,
		})
	})
}

// StopAuction finalizes the open lot, if any, and completes the auction.
func (e *Engine) StopAuction(ctx context.Context, auctionID uuid.UUID, actor Actor) error {
	return e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := validateTransition(tx.st.auction.Status, models.AuctionStatusCompleted); err != nil {
			return err
		}
		if cur, ok := tx.st.queue.Current(); ok {
			if _, err := tx.finalize(cur, TriggerStop); err != nil {
				return err
			}
		}
		return tx.end(models.AuctionStatusCompleted, events.TypeAuctionEnded)
	})
}

// CancelAuction abandons the auction. An open lot is not finalized; its
// player goes back to the head of the queue and its bids are voided.
func (e *Engine) CancelAuction(ctx context.Context, auctionID uuid.UUID, actor Actor) error {
	return e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := validateTransition(tx.st.auction.Status, models.AuctionStatusCancelled); err != nil {
			return err
		}
		if cur, ok := tx.st.queue.ClearCurrent(); ok {
			tx.st.bids.Void(cur)
			tx.st.queue.PushFront(cur)
			if p, err := tx.st.player(cur); err == nil {
				p.Status = models.PlayerStatusQueued
			}
		}
		return tx.end(models.AuctionStatusCancelled, events.TypeAuctionCancelled)
	})
}

func (tx *txn) end(status models.AuctionStatus, typ events.Type) error {
	if err := tx.transition(status); err != nil {
		return err
	}
	now := tx.now
	tx.st.auction.CompletedAt = &now
	tx.st.auction.HammerCount = 0
	tx.stopTimer()

	payload := events.AuctionEndedPayload{
		AuctionID:     tx.st.auction.ID.String(),
		Status:        string(status),
		EndedAt:       now,
		SoldPlayers:   tx.st.auction.Counts.Sold,
		UnsoldPlayers: tx.st.auction.Counts.Unsold,
		ActorID:       tx.actor.ID,
	}
	if started := tx.st.auction.StartedAt; started != nil {
		payload.Duration = now.Sub(*started).String()
	}
	log.Info().
		Str("auction_id", tx.st.auction.ID.String()).
		Str("status", string(status)).
		Str("actor_id", tx.actor.ID).
		Msg("auction ended")
	return tx.emit(typ, payload)
}

// AdvanceToNextPlayer finalizes the open lot and presents the next queued
// player. The returned result is nil when no lot was open.
func (e *Engine) AdvanceToNextPlayer(ctx context.Context, auctionID uuid.UUID, actor Actor) (*FinalizeResult, error) {
	var res *FinalizeResult
	err := e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := requireStatus(&tx.st.auction, models.AuctionStatusLive); err != nil {
			return err
		}
		if _, ok := tx.st.queue.Current(); !ok && tx.st.queue.Len() == 0 {
			return invalidState("no players left in the queue")
		}
		var err error
		res, err = tx.resolveLot(TriggerNext)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetCurrentPlayer jumps the queue: the open lot, if any, is finalized and
// playerID becomes the open lot. Selecting the open lot again is a no-op.
func (e *Engine) SetCurrentPlayer(ctx context.Context, auctionID, playerID uuid.UUID, actor Actor) (*FinalizeResult, error) {
	var res *FinalizeResult
	err := e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := requireStatus(&tx.st.auction, models.AuctionStatusLive); err != nil {
			return err
		}
		if tx.st.queue.IsCurrent(playerID) {
			tx.noop = true
			return nil
		}
		p, err := tx.st.player(playerID)
		if err != nil {
			return err
		}
		if p.Status.Resolved() {
			return invalidState("player %s is already %s", playerID, p.Status)
		}

		var previous *uuid.UUID
		if cur, ok := tx.st.queue.Current(); ok {
			r, err := tx.finalize(cur, TriggerSetCurrent)
			if err != nil {
				return err
			}
			res = &r
			previous = &cur
		}
		if err := tx.st.queue.Take(playerID); err != nil {
			return err
		}
		return tx.openLot(playerID, previous)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ShuffleQueue randomly reorders the queued players. The open lot keeps its
// place.
func (e *Engine) ShuffleQueue(ctx context.Context, auctionID uuid.UUID, actor Actor) ([]uuid.UUID, error) {
	var order []uuid.UUID
	err := e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := requireStatus(&tx.st.auction, models.AuctionStatusLive, models.AuctionStatusPaused); err != nil {
			return err
		}
		tx.rng(func(r *rand.Rand) {
			tx.st.queue.Shuffle(r)
		})
		order = tx.st.queue.Pending()

		payload := events.QueueShuffledPayload{Queue: order, ActorID: actor.ID}
		if cur, ok := tx.st.queue.Current(); ok {
			payload.CurrentPlayerID = &cur
		}
		log.Info().Str("auction_id", auctionID.String()).Int("queued", len(order)).Msg("queue shuffled")
		return tx.emit(events.TypeQueueShuffled, payload)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
