package outbox

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schema string

// ErrEventNotFound is returned by FetchOutboxByID for unknown ids.
var ErrEventNotFound = errors.New("outbox event not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the outbox table and its NOTIFY trigger.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply outbox schema: %w", err)
	}
	return nil
}

func (r *Repository) InsertOutboxEvent(ctx context.Context, event OutboxEvent) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO auction_outbox (id, auction_id, event_type, seq, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`,
		event.ID, event.AuctionID, event.EventType, int64(event.Seq), event.Payload)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", event.EventType, err)
	}
	return nil
}

const selectOutbox = `SELECT id, auction_id, event_type, seq, payload, created_at, sent_at FROM auction_outbox`

func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, selectOutbox+`
WHERE sent_at IS NULL
ORDER BY position
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		evt, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox events: %w", err)
	}
	return out, nil
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row := r.db.QueryRowContext(ctx, selectOutbox+` WHERE id = $1`, id)
	evt, err := scanOutboxEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE auction_outbox SET sent_at = now() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to mark outbox event sent: %w", err)
	}
	return nil
}

func (r *Repository) CountPendingOutbox(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auction_outbox WHERE sent_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutboxEvent(s scanner) (OutboxEvent, error) {
	var (
		evt    OutboxEvent
		seq    int64
		sentAt sql.NullTime
	)
	if err := s.Scan(&evt.ID, &evt.AuctionID, &evt.EventType, &seq, &evt.Payload, &evt.CreatedAt, &sentAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return evt, err
		}
		return evt, fmt.Errorf("failed to scan outbox event: %w", err)
	}
	evt.Seq = uint64(seq)
	if sentAt.Valid {
		t := sentAt.Time
		evt.SentAt = &t
	}
	return evt, nil
}

var _ OutboxRepository = (*Repository)(nil)
