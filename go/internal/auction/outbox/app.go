package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// OutboxRepository defines what the app layer needs from the repository
type OutboxRepository interface {
	InsertOutboxEvent(ctx context.Context, event OutboxEvent) error
	FetchUnsentOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error)
	CountPendingOutbox(ctx context.Context) (int, error)
}

// App records committed auction events in the outbox. It is the engine's
// event sink when the server runs in outbox broadcast mode.
type App struct {
	repo OutboxRepository
}

func NewApp(repo OutboxRepository) *App {
	return &App{repo: repo}
}

var _ engine.EventSink = (*App)(nil)

// Publish inserts evt into the outbox. Inserting the same event id twice is
// a no-op.
func (a *App) Publish(ctx context.Context, evt events.Event) error {
	if err := validateEvent(evt); err != nil {
		return fmt.Errorf("invalid %s event: %w", evt.Type, err)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", evt.Type, err)
	}

	row := OutboxEvent{
		ID:        evt.ID,
		AuctionID: evt.AuctionID,
		EventType: string(evt.Type),
		Seq:       evt.Seq,
		Payload:   payload,
	}
	if err := a.repo.InsertOutboxEvent(ctx, row); err != nil {
		return fmt.Errorf("failed to insert %s event: %w", evt.Type, err)
	}

	log.Debug().
		Str("auction_id", evt.AuctionID.String()).
		Str("event_type", string(evt.Type)).
		Uint64("seq", evt.Seq).
		Msg("outbox event inserted")

	return nil
}

func validateEvent(evt events.Event) error {
	switch {
	case evt.ID == uuid.Nil:
		return errors.New("event id is required")
	case evt.AuctionID == uuid.Nil:
		return errors.New("auction id is required")
	case !evt.Type.Known():
		return fmt.Errorf("unknown event type %q", evt.Type)
	case len(evt.Data) > 0 && !json.Valid(evt.Data):
		return errors.New("payload is not valid JSON")
	}
	return nil
}

// FetchUnsentEvents fetches unsent outbox events
func (a *App) FetchUnsentEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than 0")
	}

	unsent, err := a.repo.FetchUnsentOutbox(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent events: %w", err)
	}

	if len(unsent) > 0 {
		log.Debug().
			Int("count", len(unsent)).
			Msg("fetched unsent outbox events")
	}

	return unsent, nil
}

// MarkEventSent marks an outbox event as sent
func (a *App) MarkEventSent(ctx context.Context, eventID uuid.UUID) error {
	if err := a.repo.MarkOutboxSent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

func (a *App) GetEventByID(ctx context.Context, eventID uuid.UUID) (*OutboxEvent, error) {
	event, err := a.repo.FetchOutboxByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event by ID: %w", err)
	}
	return event, nil
}

func (a *App) PendingEvents(ctx context.Context) (int, error) {
	return a.repo.CountPendingOutbox(ctx)
}

// ProcessUnsentEvents hands one batch of unsent events to processor in
// insertion order and marks each success as sent. Once an event of an
// auction fails, the rest of that auction's events in the batch are left
// for the next pass so subscribers never see them out of order.
func (a *App) ProcessUnsentEvents(ctx context.Context, batchSize int, processor func(event OutboxEvent) error) (int, error) {
	unsent, err := a.FetchUnsentEvents(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	blocked := make(map[uuid.UUID]bool)
	processedCount := 0
	errorCount := 0

	for _, event := range unsent {
		if blocked[event.AuctionID] {
			continue
		}
		if err := processor(event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Msg("failed to process event")
			blocked[event.AuctionID] = true
			errorCount++
			continue
		}

		if err := a.MarkEventSent(ctx, event.ID); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID.String()).
				Msg("failed to mark event as sent after processing")
			blocked[event.AuctionID] = true
			errorCount++
			continue
		}

		processedCount++
	}

	if processedCount > 0 || errorCount > 0 {
		log.Info().
			Int("processed", processedCount).
			Int("errors", errorCount).
			Int("total", len(unsent)).
			Msg("processed unsent events batch")
	}

	return processedCount, nil
}
