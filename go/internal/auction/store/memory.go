// Package store implements the engine's persistence port.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/models"
)

// Memory keeps auction records in process. Records are deep-copied on the
// way in and out so callers never share state with the store.
type Memory struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID][]byte
	saves    int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{auctions: make(map[uuid.UUID][]byte)}
}

func (m *Memory) LoadAuction(ctx context.Context, auctionID uuid.UUID) (*models.AuctionRecord, error) {
	m.mu.RLock()
	data, ok := m.auctions[auctionID]
	m.mu.RUnlock()
	if !ok {
		return nil, engine.NotFoundError("auction", auctionID)
	}
	var rec models.AuctionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode auction %s: %w", auctionID, err)
	}
	return &rec, nil
}

func (m *Memory) SaveAuction(ctx context.Context, record *models.AuctionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode auction %s: %w", record.Auction.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[record.Auction.ID] = data
	m.saves++
	return nil
}

// Saves returns how many times SaveAuction succeeded.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// ActiveAuctionIDs lists auctions that are live or paused.
func (m *Memory) ActiveAuctionIDs(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []uuid.UUID
	for id, data := range m.auctions {
		var rec struct {
			Auction struct {
				Status models.AuctionStatus `json:"status"`
			} `json:"auction"`
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode auction %s: %w", id, err)
		}
		if rec.Auction.Status == models.AuctionStatusLive || rec.Auction.Status == models.AuctionStatusPaused {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
