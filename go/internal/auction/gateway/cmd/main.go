package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/auctionhouse/go/internal/auction/gateway"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	port := getEnv("GATEWAY_PORT", "8081")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	apiURL := getEnv("AUCTION_API_URL", "http://localhost:8080")

	log.Info().
		Str("nats_url", natsURL).
		Str("api_url", apiURL).
		Str("port", port).
		Msg("starting auction gateway")

	jsConfig := gateway.DefaultJetStreamConsumerConfig()
	jsConfig.URL = natsURL
	jsConfig.StreamName = getEnv("NATS_STREAM", jsConfig.StreamName)
	jsConfig.ConsumerName = getEnv("NATS_CONSUMER", jsConfig.ConsumerName)
	jsConfig.MaxDeliver = getEnvAsInt("NATS_MAX_DELIVER", jsConfig.MaxDeliver)

	// Snapshots and timer hints go to the API server that owns the engine.
	remote := gateway.NewRemoteEngine(&http.Client{Timeout: 10 * time.Second}, apiURL)

	gatewayService, err := gateway.NewService(gateway.Config{
		ConnectionConfig: gateway.DefaultConnectionConfig(),
		JetStreamConfig:  &jsConfig,
	}, remote, remote)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway service")
	}

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"service":     "auction-gateway",
			"connections": gatewayService.GetStats(),
		})
	})

	// No write timeout: WebSocket connections are long-lived.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     gateway.CORS(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	<-done

	log.Info().Msg("auction gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
