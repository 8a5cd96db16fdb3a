package gateway

import (
	"context"

	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/rs/zerolog/log"
)

// Clients run a local countdown from player_changed and bid_placed and send
// {"type":"timer_sync","remaining_seconds":N} hints. The server timer stays
// authoritative: the caller gets a timer_state reply and, when it drifted,
// the engine broadcasts a corrective timer_sync to everyone.
func (c *Connection) handleTimerSync(msg ClientMessage) {
	syncer := c.Manager.syncer
	if syncer == nil {
		c.reply(errorMessage(c.AuctionID, "timer sync is not available"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.SyncTimeout)
	defer cancel()

	res, err := syncer.SyncTimer(ctx, c.AuctionID, msg.RemainingSeconds)
	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Int("remaining_seconds", msg.RemainingSeconds).
			Msg("timer sync rejected")
		c.reply(errorMessage(c.AuctionID, engine.Reason(err)))
		return
	}
	c.reply(ServerMessage{
		Type:      ServerMessageTimerState,
		AuctionID: c.AuctionID.String(),
		Data: TimerStateData{
			RemainingSeconds: res.Timer.RemainingSeconds,
			Running:          res.Timer.Running,
			Corrected:        res.Corrected,
		},
	})
}
