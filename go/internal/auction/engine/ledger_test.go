package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBidLedgerSupersedesLeader(t *testing.T) {
	t.Parallel()
	player, teamA, teamB := uuid.New(), uuid.New(), uuid.New()
	at := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	l := NewBidLedger(nil)

	prev, err := l.Accept(models.Bid{ID: uuid.New(), PlayerID: player, TeamID: teamA, Amount: amount("1500000"), PlacedAt: at})
	assert.NoError(t, err)
	check.Nil(t, prev)

	prev, err = l.Accept(models.Bid{ID: uuid.New(), PlayerID: player, TeamID: teamB, Amount: amount("1600000"), PlacedAt: at.Add(time.Second)})
	assert.NoError(t, err)
	assert.NotNil(t, prev)
	check.Equal(t, teamA, prev.TeamID)
	check.Equal(t, models.BidStatusOutbid, prev.Status)

	lead, ok := l.Leading(player)
	check.True(t, ok)
	check.Equal(t, teamB, lead.TeamID)
	check.Equal(t, 1, l.countByStatus(player, models.BidStatusActive))

	_, err = l.Accept(models.Bid{ID: uuid.New(), PlayerID: player, TeamID: teamA, Amount: amount("1600000"), PlacedAt: at.Add(2 * time.Second)})
	check.True(t, errors.Is(err, ErrInvariantViolation))

	won, ok := l.Settle(player)
	check.True(t, ok)
	check.Equal(t, models.BidStatusWon, won.Status)
	_, ok = l.Leading(player)
	check.False(t, ok)

	history := l.History(player)
	check.Equal(t, 2, len(history))
	check.Equal(t, models.BidStatusOutbid, history[0].Status)
	check.Equal(t, models.BidStatusWon, history[1].Status)
}

func TestBidLedgerVoid(t *testing.T) {
	t.Parallel()
	player := uuid.New()
	l := NewBidLedger(nil)
	_, err := l.Accept(models.Bid{PlayerID: player, TeamID: uuid.New(), Amount: amount("10")})
	assert.NoError(t, err)

	l.Void(player)
	_, ok := l.Leading(player)
	check.False(t, ok)
	_, ok = l.Settle(player)
	check.False(t, ok)
}

func TestBudgetLedgerDebit(t *testing.T) {
	t.Parallel()
	team, player := uuid.New(), uuid.New()
	l := NewBudgetLedger([]models.Participant{{TeamID: team, RemainingBudget: amount("2000000")}})

	check.True(t, errors.Is(l.CanAfford(team, amount("2000001")), ErrInsufficientBudget))
	check.NoError(t, l.CanAfford(team, amount("2000000")))
	check.True(t, errors.Is(l.CanAfford(uuid.New(), amount("1")), ErrInvalidState))

	remaining, err := l.Debit(team, player, amount("1600000"), time.Now())
	assert.NoError(t, err)
	check.True(t, remaining.Equal(amount("400000")))
	check.Equal(t, 1, l.WonCount(team))

	_, err = l.Debit(team, player, amount("1"), time.Now())
	check.True(t, errors.Is(err, ErrInvariantViolation))

	_, err = l.Debit(team, uuid.New(), amount("400001"), time.Now())
	check.True(t, errors.Is(err, ErrInvariantViolation))

	p, _ := l.Get(team)
	check.True(t, p.RemainingBudget.Equal(amount("400000")))
	check.Equal(t, 1, len(p.PlayersWon))
}

func TestBudgetLedgerAddRejectsDuplicates(t *testing.T) {
	t.Parallel()
	team := uuid.New()
	l := NewBudgetLedger(nil)
	assert.NoError(t, l.Add(models.Participant{TeamID: team, RemainingBudget: amount("5")}))
	check.True(t, errors.Is(l.Add(models.Participant{TeamID: team}), ErrInvalidState))
	check.True(t, errors.Is(l.Add(models.Participant{TeamID: uuid.New(), RemainingBudget: amount("-1")}), ErrInvalidState))
	check.Equal(t, 1, l.Len())
}
