package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/auction/store"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type harness struct {
	eng       *engine.Engine
	srv       *httptest.Server
	auctionID uuid.UUID
	teamID    uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	eng, err := engine.New(engine.Config{Store: store.NewMemory(), Clock: clockwork.NewFakeClock()})
	assert.NoError(t, err)
	t.Cleanup(eng.Close)

	svc, err := NewService(DefaultConfig(), eng, eng)
	assert.NoError(t, err)
	eng.AddSink(svc.Sink())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.connectionManager.Start(ctx)

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(CORS(mux))
	t.Cleanup(srv.Close)

	h := &harness{eng: eng, srv: srv, teamID: uuid.New()}
	a, err := eng.CreateAuction(ctx, engine.CreateAuctionParams{
		Name:        "Gateway Cup",
		TotalBudget: decimal.RequireFromString("1000"),
		Rules:       models.AuctionRules{MinIncrement: decimal.RequireFromString("10"), BidTimeoutSeconds: 30},
	})
	assert.NoError(t, err)
	h.auctionID = a.ID
	_, err = eng.AddParticipant(ctx, engine.AddParticipantParams{AuctionID: a.ID, TeamID: h.teamID, TeamName: "Hawks"})
	assert.NoError(t, err)
	_, err = eng.AddPlayer(ctx, engine.AddPlayerParams{AuctionID: a.ID, Name: "Keeper", BasePrice: decimal.RequireFromString("100")})
	assert.NoError(t, err)
	return h
}

type received struct {
	snapshots chan *engine.Snapshot
	events    chan events.Event
	messages  chan ServerMessage
}

func (h *harness) watch(t *testing.T) (*Watcher, *received) {
	t.Helper()
	r := &received{
		snapshots: make(chan *engine.Snapshot, 4),
		events:    make(chan events.Event, 64),
		messages:  make(chan ServerMessage, 16),
	}
	w := NewWatcher(h.srv.URL, h.auctionID, "viewer-1")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = w.Watch(ctx, WatchHandlers{
			OnSnapshot: func(s *engine.Snapshot) { r.snapshots <- s },
			OnEvent:    func(e events.Event) { r.events <- e },
			OnMessage:  func(m ServerMessage) { r.messages <- m },
		})
	}()
	return w, r
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gateway message")
	}
	var zero T
	return zero
}

func TestWatcherReceivesSnapshotThenEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	_, r := h.watch(t)

	snap := next(t, r.snapshots)
	check.Equal(t, models.AuctionStatusUpcoming, snap.Auction.Status)
	check.Equal(t, uint64(0), snap.LastSeq)

	ctx := context.Background()
	assert.NoError(t, h.eng.StartAuction(ctx, h.auctionID, engine.Actor{ID: "mod"}))
	_, err := h.eng.PlaceBid(ctx, engine.BidParams{
		AuctionID: h.auctionID,
		TeamID:    h.teamID,
		Amount:    decimal.RequireFromString("110"),
		Actor:     engine.Actor{ID: "owner", Role: engine.RoleTeam},
	})
	assert.NoError(t, err)

	want := []events.Type{events.TypeAuctionStarted, events.TypePlayerChanged, events.TypeBidPlaced}
	for i, typ := range want {
		evt := next(t, r.events)
		check.Equal(t, typ, evt.Type)
		check.Equal(t, uint64(i+1), evt.Seq)
		check.Equal(t, h.auctionID, evt.AuctionID)
	}
}

func TestTimerSyncOverSocket(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	assert.NoError(t, h.eng.StartAuction(context.Background(), h.auctionID, engine.Actor{ID: "mod"}))

	w, r := h.watch(t)
	snap := next(t, r.snapshots)
	check.True(t, snap.Timer.Running)
	check.Equal(t, uint64(2), snap.LastSeq)

	assert.NoError(t, w.SendTimerSync(12))
	reply := next(t, r.messages)
	check.Equal(t, ServerMessageTimerState, reply.Type)
	var data TimerStateData
	raw, ok := reply.Data.(json.RawMessage)
	assert.True(t, ok)
	assert.NoError(t, json.Unmarshal(raw, &data))
	check.Equal(t, TimerStateData{RemainingSeconds: 30, Running: true, Corrected: true}, data)

	// The correction is broadcast to every watcher.
	for {
		evt := next(t, r.events)
		if evt.Type == events.TypeTimerSync {
			check.Equal(t, uint64(3), evt.Seq)
			break
		}
	}
}

func TestStateEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	snap, err := NewWatcher(h.srv.URL, h.auctionID, "viewer").FetchState(context.Background())
	assert.NoError(t, err)
	check.Equal(t, h.auctionID, snap.Auction.ID)
	check.Equal(t, 1, len(snap.Participants))

	_, err = NewWatcher(h.srv.URL, uuid.New(), "viewer").FetchState(context.Background())
	check.Error(t, err)

	resp, err := http.Get(h.srv.URL + "/api/auction/state?auction_id=nope")
	assert.NoError(t, err)
	resp.Body.Close()
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(h.srv.URL + "/api/auction/state?auction_id=" + uuid.NewString())
	assert.NoError(t, err)
	resp.Body.Close()
	check.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(h.srv.URL + "/ws/auction")
	assert.NoError(t, err)
	resp.Body.Close()
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type sinkFunc func(ctx context.Context, evt events.Event) error

func (f sinkFunc) Publish(ctx context.Context, evt events.Event) error { return f(ctx, evt) }

func TestEventConsumerProcessMessage(t *testing.T) {
	t.Parallel()
	var got []events.Event
	ec := &EventConsumer{sink: sinkFunc(func(_ context.Context, evt events.Event) error {
		got = append(got, evt)
		return nil
	})}

	evt := events.Event{
		ID:        uuid.New(),
		AuctionID: uuid.New(),
		Type:      events.TypeHammerStruck,
		Seq:       7,
		Data:      json.RawMessage(`{"player_id":"p","count":1}`),
	}
	raw, err := json.Marshal(evt)
	assert.NoError(t, err)

	assert.NoError(t, ec.processMessage(context.Background(), raw))
	assert.Equal(t, 1, len(got))
	check.Equal(t, evt.ID, got[0].ID)
	check.Equal(t, uint64(7), got[0].Seq)

	check.Error(t, ec.processMessage(context.Background(), []byte(`{"type":"pick_made"}`)))
	check.Error(t, ec.processMessage(context.Background(), []byte(`not json`)))
}
