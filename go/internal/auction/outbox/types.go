package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one row of auction_outbox. Payload holds the full
// events.Event envelope as JSON.
type OutboxEvent struct {
	ID        uuid.UUID
	AuctionID uuid.UUID
	EventType string
	Seq       uint64
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}

// Publisher relays an outbox event to a broker.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event OutboxEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event OutboxEvent) error {
	return f(ctx, event)
}
