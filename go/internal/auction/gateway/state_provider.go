package gateway

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/auction/service"
)

// RemoteEngine implements StateProvider and TimerSyncer against the auction
// API server. The standalone gateway uses it.
type RemoteEngine struct {
	snapshot *connect.Client[service.AuctionRequest, service.SnapshotResponse]
	sync     *connect.Client[service.SyncTimerRequest, service.SyncTimerResponse]
}

// NewRemoteEngine creates clients for the API server at baseURL
func NewRemoteEngine(httpClient connect.HTTPClient, baseURL string) *RemoteEngine {
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &RemoteEngine{
		snapshot: connect.NewClient[service.AuctionRequest, service.SnapshotResponse](
			httpClient, baseURL+service.GetSnapshotProcedure, connect.WithCodec(service.Codec)),
		sync: connect.NewClient[service.SyncTimerRequest, service.SyncTimerResponse](
			httpClient, baseURL+service.SyncTimerProcedure, connect.WithCodec(service.Codec)),
	}
}

// Snapshot fetches the auction state via GetSnapshot
func (p *RemoteEngine) Snapshot(ctx context.Context, auctionID uuid.UUID) (*engine.Snapshot, error) {
	res, err := p.snapshot.CallUnary(ctx, connect.NewRequest(&service.AuctionRequest{AuctionID: auctionID.String()}))
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return res.Msg.Snapshot, nil
}

// SyncTimer forwards a client countdown hint via SyncTimer
func (p *RemoteEngine) SyncTimer(ctx context.Context, auctionID uuid.UUID, remainingSeconds int) (*engine.SyncResult, error) {
	res, err := p.sync.CallUnary(ctx, connect.NewRequest(&service.SyncTimerRequest{
		AuctionID:        auctionID.String(),
		RemainingSeconds: remainingSeconds,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to sync timer: %w", err)
	}
	return &engine.SyncResult{Timer: res.Msg.Timer, Corrected: res.Msg.Corrected}, nil
}
