package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// Snapshot is a read-only copy of an auction for clients joining late.
type Snapshot struct {
	Auction       models.Auction       `json:"auction"`
	Participants  []models.Participant `json:"participants"`
	Players       []models.Player      `json:"players"`
	CurrentPlayer *models.Player       `json:"current_player,omitempty"`
	LeadingBid    *models.Bid          `json:"leading_bid,omitempty"`
	BidHistory    []models.Bid         `json:"bid_history"`
	Timer         models.TimerState    `json:"timer"`
	LastSeq       uint64               `json:"last_seq"`
	ServerTime    time.Time            `json:"server_time"`
}

// Snapshot copies the committed state of an auction without entering its
// critical section.
func (e *Engine) Snapshot(ctx context.Context, auctionID uuid.UUID) (*Snapshot, error) {
	ent, err := e.entry(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	st, seq := ent.committed()
	rec := st.record()

	snap := &Snapshot{
		Auction:      rec.Auction,
		Participants: rec.Participants,
		Players:      rec.Players,
		BidHistory:   []models.Bid{},
		Timer:        e.timers.State(auctionID),
		LastSeq:      seq,
		ServerTime:   e.clock.Now(),
	}
	if p, ok := st.currentPlayer(); ok {
		cp := *p
		snap.CurrentPlayer = &cp
		if lead, ok := st.bids.Leading(p.ID); ok {
			snap.LeadingBid = &lead
		}
		if h := st.bids.History(p.ID); h != nil {
			snap.BidHistory = h
		}
	}
	return snap, nil
}

// Loaded returns the ids of the auctions held in memory.
func (e *Engine) Loaded() []uuid.UUID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(e.auctions))
	for id := range e.auctions {
		ids = append(ids, id)
	}
	return ids
}
