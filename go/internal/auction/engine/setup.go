package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CreateAuctionParams describes a new auction. A zero ID is generated.
type CreateAuctionParams struct {
	ID           uuid.UUID
	TournamentID uuid.UUID
	Name         string
	TotalBudget  decimal.Decimal
	Rules        models.AuctionRules
	Actor        Actor
}

// AddParticipantParams enters a team. A nil Budget means the auction's
// total budget.
type AddParticipantParams struct {
	AuctionID uuid.UUID
	TeamID    uuid.UUID
	TeamName  string
	Budget    *decimal.Decimal
	Actor     Actor
}

// AddPlayerParams enters a player at the back of the queue. A zero ID is
// generated.
type AddPlayerParams struct {
	AuctionID uuid.UUID
	PlayerID  uuid.UUID
	Name      string
	Role      string
	BasePrice decimal.Decimal
	Foreign   bool
	Metadata  json.RawMessage
	Actor     Actor
}

// CreateAuction validates the rules, stores the auction and loads it.
func (e *Engine) CreateAuction(ctx context.Context, params CreateAuctionParams) (*models.Auction, error) {
	rules := params.Rules
	if rules.BidTimeoutSeconds == 0 {
		rules.BidTimeoutSeconds = e.cfg.DefaultBidTimeoutSeconds
	}
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, invalidState("auction name is required")
	}
	if !params.TotalBudget.IsPositive() {
		return nil, invalidState("total budget must be greater than 0")
	}

	id := params.ID
	if id == uuid.Nil {
		id = uuid.New()
	} else if _, err := e.store.LoadAuction(ctx, id); err == nil {
		return nil, invalidState("auction %s already exists", id)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check auction %s: %w", id, err)
	}

	now := e.clock.Now()
	rec := &models.AuctionRecord{
		Auction: models.Auction{
			ID:           id,
			TournamentID: params.TournamentID,
			Name:         params.Name,
			Status:       models.AuctionStatusUpcoming,
			TotalBudget:  params.TotalBudget,
			Rules:        rules,
			Queue:        []uuid.UUID{},
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}
	if err := e.store.SaveAuction(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save auction: %w", err)
	}
	ent, created, err := e.register(newAggregate(rec))
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, invalidState("auction %s already exists", id)
	}

	log.Info().
		Str("auction_id", id.String()).
		Str("name", params.Name).
		Str("actor_id", params.Actor.ID).
		Msg("auction created")
	st, _ := ent.committed()
	out := st.view()
	return &out, nil
}

func validateRules(r models.AuctionRules) error {
	if !r.MinIncrement.IsPositive() {
		return invalidState("minimum increment must be greater than 0")
	}
	if r.BidTimeoutSeconds <= 0 {
		return invalidState("bid timeout must be greater than 0")
	}
	if r.MaxPlayersPerTeam < 0 || r.MaxForeignPlayers < 0 {
		return invalidState("roster limits cannot be negative")
	}
	return nil
}

// AddParticipant enters a team while the auction is upcoming.
func (e *Engine) AddParticipant(ctx context.Context, params AddParticipantParams) (*models.Participant, error) {
	var out models.Participant
	err := e.mutate(ctx, params.AuctionID, params.Actor, func(tx *txn) error {
		if err := requireStatus(&tx.st.auction, models.AuctionStatusUpcoming); err != nil {
			return err
		}
		budget := tx.st.auction.TotalBudget
		if params.Budget != nil {
			budget = *params.Budget
		}
		p := models.Participant{
			AuctionID:       params.AuctionID,
			TeamID:          params.TeamID,
			TeamName:        params.TeamName,
			RemainingBudget: budget,
			PlayersWon:      []models.WonPlayer{},
		}
		if err := tx.st.budgets.Add(p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("auction_id", params.AuctionID.String()).
		Str("team_id", params.TeamID.String()).
		Str("budget", out.RemainingBudget.String()).
		Msg("participant added")
	return &out, nil
}

// AddPlayer enters a player at the back of the queue of a non-terminal
// auction.
func (e *Engine) AddPlayer(ctx context.Context, params AddPlayerParams) (*models.Player, error) {
	playerID := params.PlayerID
	if playerID == uuid.Nil {
		playerID = uuid.New()
	}
	var out models.Player
	err := e.mutate(ctx, params.AuctionID, params.Actor, func(tx *txn) error {
		if tx.st.auction.Status.Terminal() {
			return invalidState("auction is %s", tx.st.auction.Status)
		}
		if _, ok := tx.st.players[playerID]; ok {
			return invalidState("player %s is already in the auction", playerID)
		}
		if params.BasePrice.IsNegative() {
			return invalidState("base price cannot be negative")
		}
		if err := tx.st.queue.Enqueue(playerID); err != nil {
			return err
		}
		p := &models.Player{
			ID:        playerID,
			Name:      params.Name,
			Role:      params.Role,
			BasePrice: params.BasePrice,
			Foreign:   params.Foreign,
			Status:    models.PlayerStatusQueued,
			Metadata:  params.Metadata,
		}
		tx.st.players[playerID] = p
		tx.st.playerOrder = append(tx.st.playerOrder, playerID)
		tx.st.auction.Counts.Total++
		out = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RemovePlayer takes a queued player out of the auction. The open lot and
// resolved players cannot be removed.
func (e *Engine) RemovePlayer(ctx context.Context, auctionID, playerID uuid.UUID, actor Actor) error {
	return e.mutate(ctx, auctionID, actor, func(tx *txn) error {
		if tx.st.auction.Status.Terminal() {
			return invalidState("auction is %s", tx.st.auction.Status)
		}
		p, err := tx.st.player(playerID)
		if err != nil {
			return err
		}
		if p.Status.Resolved() {
			return invalidState("player %s is already %s", playerID, p.Status)
		}
		if err := tx.st.queue.Remove(playerID); err != nil {
			return err
		}
		delete(tx.st.players, playerID)
		for i, id := range tx.st.playerOrder {
			if id == playerID {
				tx.st.playerOrder = append(tx.st.playerOrder[:i], tx.st.playerOrder[i+1:]...)
				break
			}
		}
		tx.st.auction.Counts.Total--
		return nil
	})
}
