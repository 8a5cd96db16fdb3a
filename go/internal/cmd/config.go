package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"gopkg.in/yaml.v3"
)

type BroadcastMode string

const (
	// BroadcastDirect hands events straight to the in-process gateway.
	BroadcastDirect BroadcastMode = "direct"
	// BroadcastOutbox writes events to the Postgres outbox; the relay
	// publishes them to JetStream and the gateway consumes the stream.
	BroadcastOutbox BroadcastMode = "outbox"
)

type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Store string `yaml:"store"` // memory | postgres

	Engine struct {
		LockTimeout              time.Duration `yaml:"lock_timeout"`
		SyncInterval             time.Duration `yaml:"sync_interval"`
		DriftTolerance           int           `yaml:"drift_tolerance"`
		DefaultBidTimeoutSeconds int           `yaml:"default_bid_timeout_seconds"`
		PublishTimeout           time.Duration `yaml:"publish_timeout"`
		EvictAfter               time.Duration `yaml:"evict_after"`
	} `yaml:"engine"`

	Broadcast struct {
		Mode    BroadcastMode `yaml:"mode"`
		NatsURL string        `yaml:"nats_url"`
		Stream  string        `yaml:"stream"`
	} `yaml:"broadcast"`
}

func defaultConfig() *Config {
	cfg := &Config{Store: "memory"}
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Engine.LockTimeout = engine.DefaultLockTimeout
	cfg.Engine.SyncInterval = engine.MaxSyncInterval
	cfg.Engine.DriftTolerance = engine.DefaultDriftTolerance
	cfg.Engine.DefaultBidTimeoutSeconds = engine.DefaultBidTimeoutSeconds
	cfg.Engine.EvictAfter = engine.DefaultEvictAfter
	cfg.Broadcast.Mode = BroadcastDirect
	return cfg
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadConfig reads the YAML file at path over the defaults. A missing file
// leaves the defaults in place. Environment variables win over both.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.applyEnv()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Store = getEnv("AUCTION_STORE", c.Store)
	c.Broadcast.Mode = BroadcastMode(getEnv("BROADCAST_MODE", string(c.Broadcast.Mode)))
	c.Broadcast.NatsURL = getEnv("NATS_URL", c.Broadcast.NatsURL)
	c.Broadcast.Stream = getEnv("NATS_STREAM", c.Broadcast.Stream)
	c.Engine.LockTimeout = getEnvAsDuration("AUCTION_LOCK_TIMEOUT", c.Engine.LockTimeout)
	c.Engine.DriftTolerance = getEnvAsInt("AUCTION_DRIFT_TOLERANCE", c.Engine.DriftTolerance)
	c.Engine.DefaultBidTimeoutSeconds = getEnvAsInt("AUCTION_BID_TIMEOUT_SECONDS", c.Engine.DefaultBidTimeoutSeconds)
	c.Engine.EvictAfter = getEnvAsDuration("AUCTION_EVICT_AFTER", c.Engine.EvictAfter)
}

func (c *Config) validate() error {
	switch c.Store {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Broadcast.Mode {
	case BroadcastDirect:
	case BroadcastOutbox:
		if c.Store != "postgres" {
			return fmt.Errorf("outbox broadcast requires the postgres store")
		}
	default:
		return fmt.Errorf("unknown broadcast mode %q", c.Broadcast.Mode)
	}
	if c.Engine.SyncInterval > engine.MaxSyncInterval {
		return fmt.Errorf("sync_interval must be at most %s", engine.MaxSyncInterval)
	}
	return nil
}

func (c *Config) engineConfig() engine.Config {
	return engine.Config{
		LockTimeout:              c.Engine.LockTimeout,
		SyncInterval:             c.Engine.SyncInterval,
		DriftTolerance:           c.Engine.DriftTolerance,
		DefaultBidTimeoutSeconds: c.Engine.DefaultBidTimeoutSeconds,
		PublishTimeout:           c.Engine.PublishTimeout,
		EvictAfter:               c.Engine.EvictAfter,
	}
}
