package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/auctionhouse/go/internal/auction/outbox"
	"github.com/mcdev12/auctionhouse/go/internal/dbconfig"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	cfg := dbconfig.NewConfigFromEnv()
	db, err := cfg.Open(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	log.Info().Str("url", cfg.Redacted()).Msg("connected to database")

	repo := outbox.NewRepository(db)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("migrate outbox")
	}
	app := outbox.NewApp(repo)

	var (
		publisher outbox.Publisher = outbox.LogPublisher{}
		natsConn  *nats.Conn
	)
	if os.Getenv("OUTBOX_PUBLISHER") != "log" {
		jsCfg := outbox.DefaultJetStreamConfig()
		if url := os.Getenv("NATS_URL"); url != "" {
			jsCfg.URL = url
		}
		if stream := os.Getenv("NATS_STREAM"); stream != "" {
			jsCfg.StreamName = stream
		}
		js, err := outbox.NewJetStreamPublisher(jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("create JetStream publisher")
		}
		defer func() {
			if err := js.Close(); err != nil {
				log.Error().Err(err).Msg("close publisher")
			}
		}()
		publisher = js
		natsConn = js.Conn()
	}

	ltCfg := outbox.DefaultListenerConfig()
	ltCfg.DatabaseURL = cfg.DSN()
	if iv := os.Getenv("FALLBACK_INTERVAL"); iv != "" {
		if d, err := time.ParseDuration(iv); err == nil {
			ltCfg.FallbackInterval = d
		}
	}

	listener, err := outbox.NewListener(app, publisher, ltCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create outbox listener")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	healthAddr := os.Getenv("OUTBOX_HEALTH_ADDR")
	if healthAddr == "" {
		healthAddr = ":8082"
	}
	mux := http.NewServeMux()
	mux.Handle("/health", outbox.NewHealthChecker(listener, db, natsConn, 2*time.Minute))
	healthServer := &http.Server{Addr: healthAddr, Handler: mux}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msg("starting outbox relay")
		errCh <- listener.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		<-errCh
	case err := <-errCh:
		log.Error().Err(err).Msg("listener exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown")
	}
	log.Info().Msg("graceful shutdown complete")
}
