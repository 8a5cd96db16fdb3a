package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// Store loads and saves whole auction aggregates. LoadAuction returns an
// error matching ErrNotFound for unknown auctions.
type Store interface {
	LoadAuction(ctx context.Context, auctionID uuid.UUID) (*models.AuctionRecord, error)
	SaveAuction(ctx context.Context, record *models.AuctionRecord) error
}

// EventSink receives events after the state change that produced them has
// been committed. Publish is never called while an auction is locked.
type EventSink interface {
	Publish(ctx context.Context, evt events.Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, evt events.Event) error

func (f EventSinkFunc) Publish(ctx context.Context, evt events.Event) error {
	return f(ctx, evt)
}

// Role is the already-authenticated role of the caller.
type Role string

const (
	RoleModerator Role = "moderator"
	RoleTeam      Role = "team"
	RoleSystem    Role = "system"
)

// Actor identifies who issued a command. The engine does not authorize; it
// records the actor in logs and event payloads.
type Actor struct {
	ID     string
	Role   Role
	TeamID *uuid.UUID
}

// SystemActor is used for timer-driven actions.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
