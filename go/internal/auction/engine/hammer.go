package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// HammerStrikes is the number of hammer calls that close a lot.
const HammerStrikes = 3

// HammerResult reports the hammer count after a strike. Count is
// HammerStrikes when the strike finalized the lot; the stored counter is
// back at zero by then.
type HammerResult struct {
	Count     int
	Finalized bool
	Sale      *FinalizeResult
}

// Hammer strikes the hammer on the open lot. The third strike resolves the
// lot exactly like timer expiry.
func (e *Engine) Hammer(ctx context.Context, auctionID uuid.UUID, actor Actor) (*HammerResult, error) {
	var res *HammerResult
	err := e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if err := requireStatus(&tx.st.auction, models.AuctionStatusLive); err != nil {
			return err
		}
		cur, ok := tx.st.queue.Current()
		if !ok {
			return invalidState("no player is open for bidding")
		}

		count := tx.st.auction.HammerCount + 1
		if err := tx.emit(events.TypeHammerStruck, events.HammerStruckPayload{
			PlayerID: cur.String(),
			Count:    count,
			ActorID:  actor.ID,
		}); err != nil {
			return err
		}
		res = &HammerResult{Count: count}
		if count < HammerStrikes {
			tx.st.auction.HammerCount = count
			return nil
		}

		sale, err := tx.resolveLot(TriggerHammer)
		if err != nil {
			return err
		}
		tx.st.auction.HammerCount = 0
		res.Finalized = true
		res.Sale = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ResetHammer clears the hammer sequence.
func (e *Engine) ResetHammer(ctx context.Context, auctionID uuid.UUID, actor Actor) error {
	return e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if tx.st.auction.Status.Terminal() {
			return invalidState("auction is %s", tx.st.auction.Status)
		}
		if tx.st.auction.HammerCount == 0 {
			tx.noop = true
			return nil
		}
		tx.st.auction.HammerCount = 0
		payload := events.HammerStruckPayload{ActorID: actor.ID}
		if cur, ok := tx.st.queue.Current(); ok {
			payload.PlayerID = cur.String()
		}
		return tx.emit(events.TypeHammerStruck, payload)
	})
}
