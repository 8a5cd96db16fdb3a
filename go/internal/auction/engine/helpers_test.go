package engine

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/peterldowns/testy/assert"
)

// memStore is a copy-on-write store for engine tests.
type memStore struct {
	mu   sync.Mutex
	data map[uuid.UUID][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[uuid.UUID][]byte)}
}

func (m *memStore) LoadAuction(ctx context.Context, auctionID uuid.UUID) (*models.AuctionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[auctionID]
	if !ok {
		return nil, NotFoundError("auction", auctionID)
	}
	var rec models.AuctionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *memStore) SaveAuction(ctx context.Context, rec *models.AuctionRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[rec.Auction.ID] = raw
	return nil
}

func (m *memStore) load(t *testing.T, auctionID uuid.UUID) *models.AuctionRecord {
	t.Helper()
	rec, err := m.LoadAuction(context.Background(), auctionID)
	assert.NoError(t, err)
	return rec
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ctx context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) ofType(typ events.Type) []events.Event {
	var out []events.Event
	for _, evt := range r.all() {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

// waitFor polls until n events of typ were published.
func (r *recorder) waitFor(t *testing.T, typ events.Type, n int) []events.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := r.ofType(typ)
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s events, got %d", n, typ, len(got))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func decode[T any](t *testing.T, evt events.Event) T {
	t.Helper()
	var out T
	assert.NoError(t, json.Unmarshal(evt.Data, &out))
	return out
}

var (
	moderator = Actor{ID: "mod-1", Role: RoleModerator}
	bidder    = Actor{ID: "owner-1", Role: RoleTeam}
)

type fixture struct {
	eng       *Engine
	clock     *clockwork.FakeClock
	store     *memStore
	rec       *recorder
	auctionID uuid.UUID
	teamA     uuid.UUID // budget 2,000,000
	teamB     uuid.UUID // budget 10,000,000
	players   []uuid.UUID
}

type fixtureOption func(*CreateAuctionParams)

func withRules(fn func(r *models.AuctionRules)) fixtureOption {
	return func(p *CreateAuctionParams) { fn(&p.Rules) }
}

// newFixture creates an upcoming auction with two teams and three players
// at a base price of 1,000,000 and an increment of 500,000.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)),
		store: newMemStore(),
		rec:   &recorder{},
		teamA: uuid.New(),
		teamB: uuid.New(),
	}
	eng, err := New(Config{
		Store:        f.store,
		Sinks:        []EventSink{f.rec},
		Clock:        f.clock,
		LockTimeout:  200 * time.Millisecond,
		SyncInterval: 5 * time.Second,
		Rand:         rand.New(rand.NewPCG(1, 2)),
	})
	assert.NoError(t, err)
	f.eng = eng
	t.Cleanup(eng.Close)

	ctx := context.Background()
	params := CreateAuctionParams{
		Name:        "Spring League Auction",
		TotalBudget: amount("10000000"),
		Rules: models.AuctionRules{
			MinIncrement:      amount("500000"),
			BidTimeoutSeconds: 30,
		},
		Actor: moderator,
	}
	for _, opt := range opts {
		opt(&params)
	}
	a, err := eng.CreateAuction(ctx, params)
	assert.NoError(t, err)
	f.auctionID = a.ID

	budgetA := amount("2000000")
	_, err = eng.AddParticipant(ctx, AddParticipantParams{AuctionID: a.ID, TeamID: f.teamA, TeamName: "Team A", Budget: &budgetA, Actor: moderator})
	assert.NoError(t, err)
	_, err = eng.AddParticipant(ctx, AddParticipantParams{AuctionID: a.ID, TeamID: f.teamB, TeamName: "Team B", Actor: moderator})
	assert.NoError(t, err)

	for _, name := range []string{"Player One", "Player Two", "Player Three"} {
		p, err := eng.AddPlayer(ctx, AddPlayerParams{AuctionID: a.ID, Name: name, Role: "Batsman", BasePrice: amount("1000000"), Actor: moderator})
		assert.NoError(t, err)
		f.players = append(f.players, p.ID)
	}
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	assert.NoError(t, f.eng.StartAuction(context.Background(), f.auctionID, moderator))
}

func (f *fixture) bid(team uuid.UUID, value string) (*BidResult, error) {
	return f.eng.PlaceBid(context.Background(), BidParams{
		AuctionID: f.auctionID,
		TeamID:    team,
		Amount:    amount(value),
		Actor:     bidder,
	})
}

func (f *fixture) snapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := f.eng.Snapshot(context.Background(), f.auctionID)
	assert.NoError(t, err)
	return snap
}

func (f *fixture) participant(t *testing.T, team uuid.UUID) models.Participant {
	t.Helper()
	for _, p := range f.snapshot(t).Participants {
		if p.TeamID == team {
			return p
		}
	}
	t.Fatalf("team %s not found", team)
	return models.Participant{}
}

func (f *fixture) player(t *testing.T, id uuid.UUID) models.Player {
	t.Helper()
	for _, p := range f.snapshot(t).Players {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("player %s not found", id)
	return models.Player{}
}

// checkQueueInvariant asserts queue + current + sold + unsold == total.
func (f *fixture) checkQueueInvariant(t *testing.T) {
	t.Helper()
	a := f.snapshot(t).Auction
	open := 0
	if a.CurrentPlayerID != nil {
		open = 1
	}
	if got := len(a.Queue) + open + a.Counts.Sold + a.Counts.Unsold; got != a.Counts.Total {
		t.Fatalf("queue invariant broken: %d queued + %d open + %d sold + %d unsold != %d",
			len(a.Queue), open, a.Counts.Sold, a.Counts.Unsold, a.Counts.Total)
	}
}
