package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/mcdev12/auctionhouse/go/internal/sqlutil"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

//go:embed schema.sql
var schema string

// Postgres stores auction aggregates in Postgres. Each save syncs the
// aggregate's rows in one transaction: rows are upserted by key, unchanged
// rows are left alone and rows the aggregate no longer has are deleted.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the auction tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply auction schema: %w", err)
	}
	return nil
}

const selectAuction = `
SELECT id, tournament_id, name, status, total_budget, min_increment, bid_timeout_seconds,
       max_players_per_team, max_foreign_players, allow_self_raise, current_player_id, queue,
       sold_count, unsold_count, total_count, hammer_count, created_at, started_at, completed_at, updated_at
FROM auctions WHERE id = $1`

func (p *Postgres) LoadAuction(ctx context.Context, auctionID uuid.UUID) (*models.AuctionRecord, error) {
	rec := &models.AuctionRecord{}
	a := &rec.Auction

	var (
		tournamentID uuid.NullUUID
		current      uuid.NullUUID
		queue        pq.StringArray
		startedAt    sql.NullTime
		completedAt  sql.NullTime
		status       string
	)
	err := p.db.QueryRowContext(ctx, selectAuction, auctionID).Scan(
		&a.ID, &tournamentID, &a.Name, &status, &a.TotalBudget, &a.Rules.MinIncrement,
		&a.Rules.BidTimeoutSeconds, &a.Rules.MaxPlayersPerTeam, &a.Rules.MaxForeignPlayers,
		&a.Rules.AllowSelfRaise, &current, &queue, &a.Counts.Sold, &a.Counts.Unsold,
		&a.Counts.Total, &a.HammerCount, &a.CreatedAt, &startedAt, &completedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.NotFoundError("auction", auctionID)
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	if tournamentID.Valid {
		a.TournamentID = tournamentID.UUID
	}
	a.Status = models.AuctionStatus(status)
	a.CurrentPlayerID = sqlutil.FromNullUUID(current)
	a.StartedAt = sqlutil.FromNullTime(startedAt)
	a.CompletedAt = sqlutil.FromNullTime(completedAt)
	a.Queue = make([]uuid.UUID, 0, len(queue))
	for _, s := range queue {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("invalid queue entry %q: %w", s, err)
		}
		a.Queue = append(a.Queue, id)
	}

	if rec.Participants, err = p.loadParticipants(ctx, auctionID); err != nil {
		return nil, err
	}
	if rec.Players, err = p.loadPlayers(ctx, auctionID); err != nil {
		return nil, err
	}
	if rec.Bids, err = p.loadBids(ctx, auctionID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Postgres) loadParticipants(ctx context.Context, auctionID uuid.UUID) ([]models.Participant, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT team_id, team_name, remaining_budget FROM auction_participants
WHERE auction_id = $1 ORDER BY position`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		part := models.Participant{AuctionID: auctionID, PlayersWon: []models.WonPlayer{}}
		if err := rows.Scan(&part.TeamID, &part.TeamName, &part.RemainingBudget); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		index[part.TeamID] = len(out)
		out = append(out, part)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	won, err := p.db.QueryContext(ctx, `
SELECT team_id, player_id, sold_price, acquired_at FROM auction_won_players
WHERE auction_id = $1 ORDER BY position`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list won players: %w", err)
	}
	defer won.Close()
	for won.Next() {
		var (
			teamID uuid.UUID
			w      models.WonPlayer
		)
		if err := won.Scan(&teamID, &w.PlayerID, &w.SoldPrice, &w.AcquiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan won player: %w", err)
		}
		i, ok := index[teamID]
		if !ok {
			return nil, fmt.Errorf("won player %s belongs to unknown team %s", w.PlayerID, teamID)
		}
		out[i].PlayersWon = append(out[i].PlayersWon, w)
	}
	return out, won.Err()
}

func (p *Postgres) loadPlayers(ctx context.Context, auctionID uuid.UUID) ([]models.Player, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, name, role, base_price, is_foreign, status, sold_to, sold_price, metadata
FROM auction_players WHERE auction_id = $1 ORDER BY position`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var out []models.Player
	for rows.Next() {
		var (
			pl        models.Player
			status    string
			soldTo    uuid.NullUUID
			soldPrice decimal.NullDecimal
			metadata  pqtype.NullRawMessage
		)
		if err := rows.Scan(&pl.ID, &pl.Name, &pl.Role, &pl.BasePrice, &pl.Foreign, &status,
			&soldTo, &soldPrice, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		pl.Status = models.PlayerStatus(status)
		pl.SoldTo = sqlutil.FromNullUUID(soldTo)
		pl.SoldPrice = sqlutil.FromNullDecimal(soldPrice)
		pl.Metadata = sqlutil.FromNullRawMessage(metadata)
		out = append(out, pl)
	}
	return out, rows.Err()
}

func (p *Postgres) loadBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	rows, err := p.db.QueryContext(ctx, `
SELECT id, player_id, team_id, amount, status, placed_at
FROM auction_bids WHERE auction_id = $1 ORDER BY position`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	var out []models.Bid
	for rows.Next() {
		b := models.Bid{AuctionID: auctionID}
		var status string
		if err := rows.Scan(&b.ID, &b.PlayerID, &b.TeamID, &b.Amount, &status, &b.PlacedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		b.Status = models.BidStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

const upsertAuction = `
INSERT INTO auctions (id, tournament_id, name, status, total_budget, min_increment, bid_timeout_seconds,
    max_players_per_team, max_foreign_players, allow_self_raise, current_player_id, queue,
    sold_count, unsold_count, total_count, hammer_count, created_at, started_at, completed_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    status = EXCLUDED.status,
    total_budget = EXCLUDED.total_budget,
    min_increment = EXCLUDED.min_increment,
    bid_timeout_seconds = EXCLUDED.bid_timeout_seconds,
    max_players_per_team = EXCLUDED.max_players_per_team,
    max_foreign_players = EXCLUDED.max_foreign_players,
    allow_self_raise = EXCLUDED.allow_self_raise,
    current_player_id = EXCLUDED.current_player_id,
    queue = EXCLUDED.queue,
    sold_count = EXCLUDED.sold_count,
    unsold_count = EXCLUDED.unsold_count,
    total_count = EXCLUDED.total_count,
    hammer_count = EXCLUDED.hammer_count,
    started_at = EXCLUDED.started_at,
    completed_at = EXCLUDED.completed_at,
    updated_at = EXCLUDED.updated_at`

func (p *Postgres) SaveAuction(ctx context.Context, record *models.AuctionRecord) error {
	a := record.Auction
	queue := make(pq.StringArray, 0, len(a.Queue))
	for _, id := range a.Queue {
		queue = append(queue, id.String())
	}
	var tournamentID uuid.NullUUID
	if a.TournamentID != uuid.Nil {
		tournamentID = uuid.NullUUID{UUID: a.TournamentID, Valid: true}
	}

	return sqlutil.Run(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertAuction,
			a.ID, tournamentID, a.Name, string(a.Status), a.TotalBudget, a.Rules.MinIncrement,
			a.Rules.BidTimeoutSeconds, a.Rules.MaxPlayersPerTeam, a.Rules.MaxForeignPlayers,
			a.Rules.AllowSelfRaise, sqlutil.ToNullUUID(a.CurrentPlayerID), queue,
			a.Counts.Sold, a.Counts.Unsold, a.Counts.Total, a.HammerCount, a.CreatedAt,
			sqlutil.ToNullTime(a.StartedAt), sqlutil.ToNullTime(a.CompletedAt), a.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert auction: %w", err)
		}

		if err := saveParticipants(ctx, tx, a.ID, record.Participants); err != nil {
			return err
		}
		if err := savePlayers(ctx, tx, a.ID, record.Players); err != nil {
			return err
		}
		return saveBids(ctx, tx, a.ID, record.Bids)
	})
}

// prune deletes the rows of table for auctionID whose key column is not in keep.
func prune(ctx context.Context, tx *sql.Tx, table, column string, auctionID uuid.UUID, keep []string) error {
	query := "DELETE FROM " + table + " WHERE auction_id = $1 AND NOT (" + column + " = ANY($2::uuid[]))"
	if _, err := tx.ExecContext(ctx, query, auctionID, pq.StringArray(keep)); err != nil {
		return fmt.Errorf("failed to prune %s: %w", table, err)
	}
	return nil
}

func saveParticipants(ctx context.Context, tx *sql.Tx, auctionID uuid.UUID, parts []models.Participant) error {
	teams := make([]string, 0, len(parts))
	var won []string
	for i, part := range parts {
		teams = append(teams, part.TeamID.String())
		if _, err := tx.ExecContext(ctx, `
INSERT INTO auction_participants (auction_id, team_id, team_name, remaining_budget, position)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (auction_id, team_id) DO UPDATE SET
    team_name = EXCLUDED.team_name,
    remaining_budget = EXCLUDED.remaining_budget,
    position = EXCLUDED.position
WHERE (auction_participants.team_name, auction_participants.remaining_budget, auction_participants.position)
    IS DISTINCT FROM (EXCLUDED.team_name, EXCLUDED.remaining_budget, EXCLUDED.position)`,
			auctionID, part.TeamID, part.TeamName, part.RemainingBudget, i); err != nil {
			return fmt.Errorf("failed to save participant: %w", err)
		}
		for _, w := range part.PlayersWon {
			// Acquisitions are never rewritten.
			if _, err := tx.ExecContext(ctx, `
INSERT INTO auction_won_players (auction_id, player_id, team_id, sold_price, acquired_at, position)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (auction_id, player_id) DO NOTHING`,
				auctionID, w.PlayerID, part.TeamID, w.SoldPrice, w.AcquiredAt, len(won)); err != nil {
				return fmt.Errorf("failed to save won player: %w", err)
			}
			won = append(won, w.PlayerID.String())
		}
	}
	if err := prune(ctx, tx, "auction_won_players", "player_id", auctionID, won); err != nil {
		return err
	}
	return prune(ctx, tx, "auction_participants", "team_id", auctionID, teams)
}

func savePlayers(ctx context.Context, tx *sql.Tx, auctionID uuid.UUID, players []models.Player) error {
	ids := make([]string, 0, len(players))
	for i, pl := range players {
		ids = append(ids, pl.ID.String())
		if _, err := tx.ExecContext(ctx, `
INSERT INTO auction_players (auction_id, id, name, role, base_price, is_foreign, status, sold_to, sold_price, metadata, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (auction_id, id) DO UPDATE SET
    status = EXCLUDED.status,
    sold_to = EXCLUDED.sold_to,
    sold_price = EXCLUDED.sold_price,
    position = EXCLUDED.position
WHERE (auction_players.status, auction_players.sold_to, auction_players.sold_price, auction_players.position)
    IS DISTINCT FROM (EXCLUDED.status, EXCLUDED.sold_to, EXCLUDED.sold_price, EXCLUDED.position)`,
			auctionID, pl.ID, pl.Name, pl.Role, pl.BasePrice, pl.Foreign, string(pl.Status),
			sqlutil.ToNullUUID(pl.SoldTo), sqlutil.ToNullDecimal(pl.SoldPrice),
			sqlutil.ToNullRawMessage(pl.Metadata), i); err != nil {
			return fmt.Errorf("failed to save player: %w", err)
		}
	}
	return prune(ctx, tx, "auction_players", "id", auctionID, ids)
}

// saveBids appends new bids and updates the status of known ones. A bid's
// other columns never change once recorded.
func saveBids(ctx context.Context, tx *sql.Tx, auctionID uuid.UUID, bids []models.Bid) error {
	ids := make([]string, 0, len(bids))
	for i, b := range bids {
		ids = append(ids, b.ID.String())
		if _, err := tx.ExecContext(ctx, `
INSERT INTO auction_bids (id, auction_id, player_id, team_id, amount, status, placed_at, position)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
WHERE auction_bids.status <> EXCLUDED.status`,
			b.ID, auctionID, b.PlayerID, b.TeamID, b.Amount, string(b.Status), b.PlacedAt, i); err != nil {
			return fmt.Errorf("failed to save bid: %w", err)
		}
	}
	return prune(ctx, tx, "auction_bids", "id", auctionID, ids)
}

// ActiveAuctionIDs lists auctions that are live or paused.
func (p *Postgres) ActiveAuctionIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM auctions WHERE status IN ($1, $2) ORDER BY started_at`,
		string(models.AuctionStatusLive), string(models.AuctionStatusPaused))
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
