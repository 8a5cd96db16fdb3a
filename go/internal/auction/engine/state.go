package engine

import (
	"slices"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// aggregate is the in-memory auction. A committed aggregate is never
// mutated; commands work on a clone that replaces it on success.
type aggregate struct {
	auction     models.Auction
	players     map[uuid.UUID]*models.Player
	playerOrder []uuid.UUID
	queue       *PlayerQueue
	budgets     *BudgetLedger
	bids        *BidLedger
}

func newAggregate(rec *models.AuctionRecord) *aggregate {
	a := &aggregate{
		auction: rec.Auction,
		players: make(map[uuid.UUID]*models.Player, len(rec.Players)),
		queue:   NewPlayerQueue(rec.Auction.CurrentPlayerID, rec.Auction.Queue),
		budgets: NewBudgetLedger(rec.Participants),
		bids:    NewBidLedger(rec.Bids),
	}
	a.auction.Queue = nil
	a.auction.CurrentPlayerID = nil
	for _, p := range rec.Players {
		cp := p
		a.players[p.ID] = &cp
		a.playerOrder = append(a.playerOrder, p.ID)
	}
	return a
}

func (a *aggregate) clone() *aggregate {
	c := &aggregate{
		auction:     a.auction,
		players:     make(map[uuid.UUID]*models.Player, len(a.players)),
		playerOrder: slices.Clone(a.playerOrder),
		queue:       a.queue.clone(),
		budgets:     a.budgets.clone(),
		bids:        a.bids.clone(),
	}
	for id, p := range a.players {
		cp := *p
		c.players[id] = &cp
	}
	return c
}

// record converts the aggregate into its storage form.
func (a *aggregate) record() *models.AuctionRecord {
	rec := &models.AuctionRecord{
		Auction:      a.view(),
		Participants: a.budgets.Participants(),
		Players:      make([]models.Player, 0, len(a.playerOrder)),
		Bids:         a.bids.All(),
	}
	for _, id := range a.playerOrder {
		rec.Players = append(rec.Players, *a.players[id])
	}
	return rec
}

// view returns the auction with its queue fields filled in.
func (a *aggregate) view() models.Auction {
	out := a.auction
	out.Queue = a.queue.Pending()
	if cur, ok := a.queue.Current(); ok {
		out.CurrentPlayerID = &cur
	}
	return out
}

func (a *aggregate) player(playerID uuid.UUID) (*models.Player, error) {
	p, ok := a.players[playerID]
	if !ok {
		return nil, NotFoundError("player", playerID)
	}
	return p, nil
}

func (a *aggregate) currentPlayer() (*models.Player, bool) {
	id, ok := a.queue.Current()
	if !ok {
		return nil, false
	}
	p, ok := a.players[id]
	return p, ok
}

// foreignCount is the number of foreign players a team has won.
func (a *aggregate) foreignCount(teamID uuid.UUID) int {
	n := 0
	for _, id := range a.budgets.Won(teamID) {
		if p, ok := a.players[id]; ok && p.Foreign {
			n++
		}
	}
	return n
}

// verify checks the cross-component invariants before a commit.
func (a *aggregate) verify() error {
	counts := a.auction.Counts
	if counts.Total != len(a.players) {
		return invariantViolation("player total %d does not match %d entered players", counts.Total, len(a.players))
	}
	open := 0
	if _, ok := a.queue.Current(); ok {
		open = 1
	}
	if got := a.queue.Len() + open + counts.Sold + counts.Unsold; got != counts.Total {
		return invariantViolation("queue %d + current %d + sold %d + unsold %d != total %d",
			a.queue.Len(), open, counts.Sold, counts.Unsold, counts.Total)
	}

	sold, unsold := 0, 0
	for id, p := range a.players {
		won := a.bids.countByStatus(id, models.BidStatusWon)
		if active := a.bids.countByStatus(id, models.BidStatusActive); active > 1 {
			return invariantViolation("player %s has %d active bids", id, active)
		}
		switch p.Status {
		case models.PlayerStatusSold:
			sold++
			if won != 1 {
				return invariantViolation("sold player %s has %d winning bids", id, won)
			}
		case models.PlayerStatusUnsold:
			unsold++
			fallthrough
		default:
			if won != 0 {
				return invariantViolation("player %s is %s but has a winning bid", id, p.Status)
			}
		}
	}
	if sold != counts.Sold || unsold != counts.Unsold {
		return invariantViolation("sold/unsold counts %d/%d do not match players %d/%d",
			counts.Sold, counts.Unsold, sold, unsold)
	}

	for _, p := range a.budgets.Participants() {
		if p.RemainingBudget.IsNegative() {
			return invariantViolation("team %s has negative budget %s", p.TeamID, p.RemainingBudget)
		}
	}
	return nil
}
