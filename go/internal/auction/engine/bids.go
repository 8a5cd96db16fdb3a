package engine

import (
	"slices"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// BidLedger keeps every accepted bid of an auction in acceptance order.
// Bids of resolved lots stay in the ledger as the archive.
type BidLedger struct {
	bids []models.Bid
}

// NewBidLedger builds a ledger from persisted bids.
func NewBidLedger(bids []models.Bid) *BidLedger {
	return &BidLedger{bids: slices.Clone(bids)}
}

func (l *BidLedger) clone() *BidLedger {
	return NewBidLedger(l.bids)
}

// Leading returns the active bid for a player.
func (l *BidLedger) Leading(playerID uuid.UUID) (models.Bid, bool) {
	for i := len(l.bids) - 1; i >= 0; i-- {
		b := l.bids[i]
		if b.PlayerID == playerID && b.Status == models.BidStatusActive {
			return b, true
		}
	}
	return models.Bid{}, false
}

// History returns all bids for a player, oldest first.
func (l *BidLedger) History(playerID uuid.UUID) []models.Bid {
	var out []models.Bid
	for _, b := range l.bids {
		if b.PlayerID == playerID {
			out = append(out, b)
		}
	}
	return out
}

// All returns a copy of the archive.
func (l *BidLedger) All() []models.Bid {
	return slices.Clone(l.bids)
}

// Accept records a new leading bid and supersedes the previous one. Callers
// validate the amount first; Accept only guards the ordering invariant.
func (l *BidLedger) Accept(bid models.Bid) (*models.Bid, error) {
	var previous *models.Bid
	for i := range l.bids {
		b := &l.bids[i]
		if b.PlayerID != bid.PlayerID || b.Status != models.BidStatusActive {
			continue
		}
		if !bid.Amount.GreaterThan(b.Amount) || bid.PlacedAt.Before(b.PlacedAt) {
			return nil, invariantViolation("bid %s does not exceed leading bid %s", bid.Amount, b.Amount)
		}
		b.Status = models.BidStatusOutbid
		prev := *b
		previous = &prev
	}
	bid.Status = models.BidStatusActive
	l.bids = append(l.bids, bid)
	return previous, nil
}

// Settle marks the leading bid of a player as won.
func (l *BidLedger) Settle(playerID uuid.UUID) (models.Bid, bool) {
	for i := len(l.bids) - 1; i >= 0; i-- {
		b := &l.bids[i]
		if b.PlayerID == playerID && b.Status == models.BidStatusActive {
			b.Status = models.BidStatusWon
			return *b, true
		}
	}
	return models.Bid{}, false
}

// Void supersedes any open bid on a player without a winner.
func (l *BidLedger) Void(playerID uuid.UUID) {
	for i := range l.bids {
		if l.bids[i].PlayerID == playerID && l.bids[i].Status == models.BidStatusActive {
			l.bids[i].Status = models.BidStatusOutbid
		}
	}
}

// countByStatus is used by the consistency check.
func (l *BidLedger) countByStatus(playerID uuid.UUID, status models.BidStatus) int {
	n := 0
	for _, b := range l.bids {
		if b.PlayerID == playerID && b.Status == status {
			n++
		}
	}
	return n
}
