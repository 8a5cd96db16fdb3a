package engine

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/shopspring/decimal"
)

// BudgetLedger tracks every participant's remaining budget and won players
// for one auction.
type BudgetLedger struct {
	entries map[uuid.UUID]*models.Participant
	order   []uuid.UUID
}

// NewBudgetLedger builds a ledger from persisted participants.
func NewBudgetLedger(participants []models.Participant) *BudgetLedger {
	l := &BudgetLedger{entries: make(map[uuid.UUID]*models.Participant, len(participants))}
	for _, p := range participants {
		cp := p.Clone()
		l.entries[p.TeamID] = &cp
		l.order = append(l.order, p.TeamID)
	}
	return l
}

func (l *BudgetLedger) clone() *BudgetLedger {
	return NewBudgetLedger(l.Participants())
}

// Add registers a new participant.
func (l *BudgetLedger) Add(p models.Participant) error {
	if _, ok := l.entries[p.TeamID]; ok {
		return invalidState("team %s is already participating", p.TeamID)
	}
	if p.RemainingBudget.IsNegative() {
		return invalidState("budget cannot be negative")
	}
	cp := p.Clone()
	l.entries[p.TeamID] = &cp
	l.order = append(l.order, p.TeamID)
	return nil
}

// Get returns a copy of the participant for teamID.
func (l *BudgetLedger) Get(teamID uuid.UUID) (models.Participant, bool) {
	p, ok := l.entries[teamID]
	if !ok {
		return models.Participant{}, false
	}
	return p.Clone(), true
}

// Len is the number of participants.
func (l *BudgetLedger) Len() int {
	return len(l.order)
}

// Participants returns copies in registration order.
func (l *BudgetLedger) Participants() []models.Participant {
	out := make([]models.Participant, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.entries[id].Clone())
	}
	return out
}

// CanAfford fails with ErrInsufficientBudget when amount exceeds the team's
// remaining budget.
func (l *BudgetLedger) CanAfford(teamID uuid.UUID, amount decimal.Decimal) error {
	p, ok := l.entries[teamID]
	if !ok {
		return invalidState("team %s is not participating in this auction", teamID)
	}
	if amount.GreaterThan(p.RemainingBudget) {
		return newError(ErrInsufficientBudget, "bid of %s exceeds remaining budget of %s",
			amount.String(), p.RemainingBudget.String())
	}
	return nil
}

// Debit charges the winning amount for a player. It is the only place a
// budget decreases. Both failure modes mean bid validation was bypassed.
func (l *BudgetLedger) Debit(teamID, playerID uuid.UUID, amount decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	p, ok := l.entries[teamID]
	if !ok {
		return decimal.Zero, invariantViolation("sale to unknown team %s", teamID)
	}
	if slices.ContainsFunc(p.PlayersWon, func(w models.WonPlayer) bool { return w.PlayerID == playerID }) {
		return decimal.Zero, invariantViolation("player %s already debited to team %s", playerID, teamID)
	}
	remaining := p.RemainingBudget.Sub(amount)
	if remaining.IsNegative() {
		return decimal.Zero, invariantViolation("budget of team %s would go negative (%s)", teamID, remaining.String())
	}
	p.RemainingBudget = remaining
	p.PlayersWon = append(p.PlayersWon, models.WonPlayer{PlayerID: playerID, SoldPrice: amount, AcquiredAt: at})
	return remaining, nil
}

// WonCount returns how many players the team holds.
func (l *BudgetLedger) WonCount(teamID uuid.UUID) int {
	if p, ok := l.entries[teamID]; ok {
		return len(p.PlayersWon)
	}
	return 0
}

// Won returns the ids of the players a team holds.
func (l *BudgetLedger) Won(teamID uuid.UUID) []uuid.UUID {
	p, ok := l.entries[teamID]
	if !ok {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(p.PlayersWon))
	for _, w := range p.PlayersWon {
		ids = append(ids, w.PlayerID)
	}
	return ids
}
