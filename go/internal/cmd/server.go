package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/auctionhouse/go/internal/auction/service"
)

func setupServer(config *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Connect-Protocol-Version", "Grpc-Status", "Grpc-Message"},
	})

	registerServices(mux, services)
	setupHealthCheck(mux, config, services)

	handler := c.Handler(mux)

	// HTTP/2 without TLS so connect and gRPC clients can share the port
	return &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Server.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	// Register auction command service
	auctionServicePath, auctionServiceHandler := service.NewHandler(services.Auction)
	mux.Handle(auctionServicePath, auctionServiceHandler)

	// Register websocket gateway and state endpoint
	services.Gateway.RegisterRoutes(mux)
}

func setupHealthCheck(mux *http.ServeMux, config *Config, services *Services) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		stats := services.Gateway.GetStats()
		resp := map[string]any{
			"status":            "ok",
			"store":             config.Store,
			"broadcast_mode":    config.Broadcast.Mode,
			"loaded_auctions":   len(services.Engine.Loaded()),
			"total_connections": stats.TotalConnections,
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
