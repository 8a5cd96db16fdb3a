package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionhouse/go/internal/dbconfig"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// seedNamespace keeps generated ids stable across runs so reseeding is a no-op.
var seedNamespace = uuid.MustParse("8f2b7c1e-4d3a-4b6f-9a0e-1c5d7e9f2a4b")

type Seed struct {
	Name        string              `json:"name"`
	TotalBudget decimal.Decimal     `json:"total_budget"`
	Rules       models.AuctionRules `json:"rules"`
	Teams       []struct {
		Name string `json:"name"`
	} `json:"teams"`
	Players []struct {
		Name      string          `json:"name"`
		Role      string          `json:"role"`
		BasePrice decimal.Decimal `json:"base_price"`
		Foreign   bool            `json:"foreign"`
	} `json:"players"`
}

const defaultSeedFile = "go/internal/assets/auction_seed.json"

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	// 1) Load the seed file
	seed, err := loadSeed(seedFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// 2) Connect to DB
	cfg := dbconfig.NewConfigFromEnv()
	poolCfg, err := cfg.PoolConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "database config: %v\n", err)
		os.Exit(1)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Seed in one transaction
	auctionID := uuid.NewSHA1(seedNamespace, []byte(seed.Name))
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return seedAuction(ctx, tx, auctionID, *seed)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed auction: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Auction seed: id=%s teams=%d players=%d\n", auctionID, len(seed.Teams), len(seed.Players))
}

// seedFile is SEED_FILE, or the bundled seed relative to the repo root.
func seedFile() string {
	if v := os.Getenv("SEED_FILE"); v != "" {
		return v
	}
	return defaultSeedFile
}

func loadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("unmarshal seed: %w", err)
	}
	if seed.Name == "" || len(seed.Teams) == 0 || len(seed.Players) == 0 {
		return nil, fmt.Errorf("seed file %s needs a name, teams and players", path)
	}
	return &seed, nil
}

func seedAuction(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, seed Seed) error {
	queue := make([]string, 0, len(seed.Players))
	playerIDs := make([]uuid.UUID, 0, len(seed.Players))
	for _, p := range seed.Players {
		id := uuid.NewSHA1(auctionID, []byte(p.Name))
		playerIDs = append(playerIDs, id)
		queue = append(queue, id.String())
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
        INSERT INTO auctions (
          id, name, status, total_budget, min_increment, bid_timeout_seconds,
          max_players_per_team, max_foreign_players, allow_self_raise, queue,
          total_count, created_at, updated_at
        ) VALUES ($1,$2,$3,$4::text::numeric,$5::text::numeric,$6,$7,$8,$9,$10,$11,$12,$12)
        ON CONFLICT (id) DO NOTHING
    `, auctionID, seed.Name, string(models.AuctionStatusUpcoming), seed.TotalBudget.String(),
		seed.Rules.MinIncrement.String(), seed.Rules.BidTimeoutSeconds, seed.Rules.MaxPlayersPerTeam,
		seed.Rules.MaxForeignPlayers, seed.Rules.AllowSelfRaise, queue, len(queue), now)
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		fmt.Println("Auction already seeded, skipping")
		return nil
	}

	for i, team := range seed.Teams {
		if _, err := tx.Exec(ctx, `
            INSERT INTO auction_participants (auction_id, team_id, team_name, remaining_budget, position)
            VALUES ($1,$2,$3,$4::text::numeric,$5)
        `, auctionID, uuid.NewSHA1(auctionID, []byte("team:"+team.Name)), team.Name, seed.TotalBudget.String(), i); err != nil {
			return fmt.Errorf("insert team %s: %w", team.Name, err)
		}
	}

	for i, p := range seed.Players {
		if _, err := tx.Exec(ctx, `
            INSERT INTO auction_players (auction_id, id, name, role, base_price, is_foreign, status, position)
            VALUES ($1,$2,$3,$4,$5::text::numeric,$6,$7,$8)
        `, auctionID, playerIDs[i], p.Name, p.Role, p.BasePrice.String(), p.Foreign,
			string(models.PlayerStatusQueued), i); err != nil {
			return fmt.Errorf("insert player %s: %w", p.Name, err)
		}
	}
	return nil
}
