package main

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/dbconfig"
)

func setupDatabase(ctx context.Context) (*sql.DB, error) {
	dbConfig := dbconfig.NewConfigFromEnv()
	database, err := dbConfig.Open(ctx)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("url", dbConfig.Redacted()).
		Int("max_open_conns", dbConfig.MaxOpenConns).
		Msg("connected to database")
	return database, nil
}
