package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// SyncResult is the authoritative countdown returned to a client hint.
type SyncResult struct {
	Timer     models.TimerState
	Corrected bool
}

// SyncTimer compares a client's countdown with the server's. The server
// countdown never changes; a client that drifted beyond the tolerance gets
// a corrective timer_sync broadcast.
func (e *Engine) SyncTimer(ctx context.Context, auctionID uuid.UUID, remainingSeconds int) (*SyncResult, error) {
	if remainingSeconds < 0 {
		return nil, invalidState("remaining seconds cannot be negative")
	}
	var res *SyncResult
	err := e.mutate(ctx, auctionID, Actor{ID: "client", Role: RoleTeam}, func(tx *txn) error {
		tx.noop = true
		state := e.timers.State(auctionID)
		res = &SyncResult{Timer: state}

		drift := remainingSeconds - state.RemainingSeconds
		if drift < 0 {
			drift = -drift
		}
		if drift <= e.cfg.DriftTolerance {
			return nil
		}
		res.Corrected = true
		log.Debug().
			Str("auction_id", auctionID.String()).
			Int("client_remaining", remainingSeconds).
			Int("server_remaining", state.RemainingSeconds).
			Msg("client timer drifted, sending correction")
		return tx.emitTimerSync(state)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (tx *txn) emitTimerSync(state models.TimerState) error {
	payload := events.TimerSyncPayload{
		RemainingSeconds: state.RemainingSeconds,
		Running:          state.Running,
		ServerTime:       tx.now,
	}
	if cur, ok := tx.st.queue.Current(); ok {
		payload.PlayerID = &cur
	}
	return tx.emit(events.TypeTimerSync, payload)
}

// lockForTimer waits for the critical section without a deadline; a timer
// callback must not be dropped because a command is in flight.
func (e *Engine) lockForTimer(auctionID uuid.UUID) (*entry, bool) {
	ent := e.lookup(auctionID)
	if ent == nil {
		return nil, false
	}
	if err := ent.sem.Acquire(e.ctx, 1); err != nil {
		return nil, false
	}
	if ent.evicted {
		ent.release()
		return nil, false
	}
	return ent, true
}

// onTimerExpired resolves the lot the countdown was armed for. Callbacks of
// a replaced or stopped arming are dropped.
func (e *Engine) onTimerExpired(auctionID, playerID uuid.UUID, generation uint64) {
	ent, ok := e.lockForTimer(auctionID)
	if !ok {
		return
	}
	defer ent.release()

	if !e.timers.Armed(auctionID, playerID, generation) {
		log.Debug().
			Str("auction_id", auctionID.String()).
			Str("player_id", playerID.String()).
			Uint64("generation", generation).
			Msg("dropping stale timer expiry")
		return
	}

	err := e.apply(ent, SystemActor, func(tx *txn) error {
		if tx.st.auction.Status != models.AuctionStatusLive || !tx.st.queue.IsCurrent(playerID) {
			tx.noop = true
			return nil
		}
		_, err := tx.resolveLot(TriggerTimer)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("auction_id", auctionID.String()).Msg("failed to resolve lot on timer expiry")
	}
}

// onTimerTick broadcasts the countdown so clients can correct drift.
func (e *Engine) onTimerTick(auctionID, playerID uuid.UUID, generation uint64) {
	ent, ok := e.lockForTimer(auctionID)
	if !ok {
		return
	}
	defer ent.release()

	if !e.timers.Armed(auctionID, playerID, generation) {
		return
	}
	err := e.apply(ent, SystemActor, func(tx *txn) error {
		tx.noop = true
		return tx.emitTimerSync(e.timers.State(auctionID))
	})
	if err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("failed to emit timer sync")
	}
}
