package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/auction/gateway"
	"github.com/mcdev12/auctionhouse/go/internal/auction/outbox"
	"github.com/mcdev12/auctionhouse/go/internal/auction/service"
	"github.com/mcdev12/auctionhouse/go/internal/auction/store"
)

type Services struct {
	Engine  *engine.Engine
	Auction *service.Service
	Gateway *gateway.Service
}

// activeLister is implemented by stores that can enumerate in-flight auctions.
type activeLister interface {
	ActiveAuctionIDs(ctx context.Context) ([]uuid.UUID, error)
}

func setupServices(ctx context.Context, config *Config, database *sql.DB) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Engine → Connect service / Gateway

	var auctionStore engine.Store
	if database != nil {
		pg := store.NewPostgres(database)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		auctionStore = pg
	} else {
		auctionStore = store.NewMemory()
	}

	engineConfig := config.engineConfig()
	engineConfig.Store = auctionStore

	gatewayConfig := gateway.DefaultConfig()

	switch config.Broadcast.Mode {
	case BroadcastOutbox:
		repo := outbox.NewRepository(database)
		if err := repo.Migrate(ctx); err != nil {
			return nil, err
		}
		engineConfig.Sinks = append(engineConfig.Sinks, outbox.NewApp(repo))

		jsConfig := gateway.DefaultJetStreamConsumerConfig()
		if config.Broadcast.NatsURL != "" {
			jsConfig.URL = config.Broadcast.NatsURL
		}
		if config.Broadcast.Stream != "" {
			jsConfig.StreamName = config.Broadcast.Stream
		}
		gatewayConfig.JetStreamConfig = &jsConfig
	}

	eng, err := engine.New(engineConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	gw, err := gateway.NewService(gatewayConfig, eng, eng)
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	if config.Broadcast.Mode == BroadcastDirect {
		eng.AddSink(gw.Sink())
	}

	if lister, ok := auctionStore.(activeLister); ok {
		resumeActiveAuctions(ctx, eng, lister)
	}

	log.Info().
		Str("store", config.Store).
		Str("broadcast_mode", string(config.Broadcast.Mode)).
		Msg("services initialized")

	return &Services{
		Engine:  eng,
		Auction: service.NewService(eng),
		Gateway: gw,
	}, nil
}

// resumeActiveAuctions loads every live or paused auction so that open lots
// get their countdowns back without waiting for the next command.
func resumeActiveAuctions(ctx context.Context, eng *engine.Engine, lister activeLister) {
	ids, err := lister.ActiveAuctionIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active auctions")
		return
	}
	for _, id := range ids {
		if _, err := eng.Snapshot(ctx, id); err != nil {
			log.Error().Err(err).Str("auction_id", id.String()).Msg("failed to resume auction")
			continue
		}
		log.Info().Str("auction_id", id.String()).Msg("resumed auction")
	}
}
