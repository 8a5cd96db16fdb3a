package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
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

type memRepo struct {
	mu   sync.Mutex
	rows []OutboxEvent
}

func (r *memRepo) InsertOutboxEvent(_ context.Context, event OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == event.ID {
			return nil
		}
	}
	event.CreatedAt = time.Now()
	r.rows = append(r.rows, event)
	return nil
}

func (r *memRepo) FetchUnsentOutbox(_ context.Context, limit int) ([]OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []OutboxEvent
	for _, row := range r.rows {
		if row.SentAt == nil && len(out) < limit {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memRepo) MarkOutboxSent(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			now := time.Now()
			r.rows[i].SentAt = &now
		}
	}
	return nil
}

func (r *memRepo) FetchOutboxByID(_ context.Context, id uuid.UUID) (*OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			return &row, nil
		}
	}
	return nil, ErrEventNotFound
}

func (r *memRepo) CountPendingOutbox(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range r.rows {
		if row.SentAt == nil {
			n++
		}
	}
	return n, nil
}

func newEvent(auctionID uuid.UUID, seq uint64) events.Event {
	return events.Event{
		ID:              uuid.New(),
		AuctionID:       auctionID,
		Type:            events.TypeBidPlaced,
		Seq:             seq,
		Data:            json.RawMessage(`{"amount":"10"}`),
		ServerTimestamp: time.Now().UTC(),
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []OutboxEvent
	fail func(OutboxEvent) error
}

func (p *recorder) Publish(_ context.Context, event OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(event); err != nil {
			return err
		}
	}
	p.seen = append(p.seen, event)
	return nil
}

func testListener(repo *memRepo, pub Publisher) *Listener {
	cfg := DefaultListenerConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 2
	cfg.BatchSize = 2
	return &Listener{app: NewApp(repo), publisher: pub, cfg: cfg}
}

func TestPublishStoresEnvelope(t *testing.T) {
	t.Parallel()
	repo := &memRepo{}
	app := NewApp(repo)
	evt := newEvent(uuid.New(), 4)

	assert.NoError(t, app.Publish(context.Background(), evt))
	assert.NoError(t, app.Publish(context.Background(), evt))
	assert.Equal(t, 1, len(repo.rows))

	row := repo.rows[0]
	check.Equal(t, evt.ID, row.ID)
	check.Equal(t, evt.AuctionID, row.AuctionID)
	check.Equal(t, "bid_placed", row.EventType)
	check.Equal(t, uint64(4), row.Seq)

	var decoded events.Event
	assert.NoError(t, json.Unmarshal(row.Payload, &decoded))
	check.Equal(t, evt.ID, decoded.ID)
	check.Equal(t, uint64(4), decoded.Seq)
	check.Equal(t, events.TypeBidPlaced, decoded.Type)
}

func TestPublishRejectsInvalidEvents(t *testing.T) {
	t.Parallel()
	app := NewApp(&memRepo{})
	ctx := context.Background()

	noID := newEvent(uuid.New(), 1)
	noID.ID = uuid.Nil
	check.Error(t, app.Publish(ctx, noID))

	noAuction := newEvent(uuid.Nil, 1)
	check.Error(t, app.Publish(ctx, noAuction))

	unknown := newEvent(uuid.New(), 1)
	unknown.Type = "bid_withdrawn"
	check.Error(t, app.Publish(ctx, unknown))

	badData := newEvent(uuid.New(), 1)
	badData.Data = json.RawMessage(`{"amount":`)
	check.Error(t, app.Publish(ctx, badData))
}

func TestFailedEventHoldsBackLaterEventsOfSameAuction(t *testing.T) {
	t.Parallel()
	repo := &memRepo{}
	app := NewApp(repo)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	a1, a2, b1, a3 := newEvent(a, 1), newEvent(a, 2), newEvent(b, 1), newEvent(a, 3)
	for _, evt := range []events.Event{a1, a2, b1, a3} {
		assert.NoError(t, app.Publish(ctx, evt))
	}

	pub := &recorder{fail: func(e OutboxEvent) error {
		if e.ID == a2.ID {
			return errors.New("broker unavailable")
		}
		return nil
	}}
	processed, err := app.ProcessUnsentEvents(ctx, 10, func(e OutboxEvent) error {
		return pub.Publish(ctx, e)
	})
	assert.NoError(t, err)
	check.Equal(t, 2, processed)
	assert.Equal(t, 2, len(pub.seen))
	check.Equal(t, a1.ID, pub.seen[0].ID)
	check.Equal(t, b1.ID, pub.seen[1].ID)

	pending, err := app.PendingEvents(ctx)
	assert.NoError(t, err)
	check.Equal(t, 2, pending)

	pub.fail = nil
	processed, err = app.ProcessUnsentEvents(ctx, 10, func(e OutboxEvent) error {
		return pub.Publish(ctx, e)
	})
	assert.NoError(t, err)
	check.Equal(t, 2, processed)
	check.Equal(t, a2.ID, pub.seen[2].ID)
	check.Equal(t, a3.ID, pub.seen[3].ID)
}

func TestFetchUnsentRequiresLimit(t *testing.T) {
	t.Parallel()
	_, err := NewApp(&memRepo{}).FetchUnsentEvents(context.Background(), 0)
	check.Error(t, err)
}

func TestPublishWithRetry(t *testing.T) {
	t.Parallel()
	attempts := 0
	pub := &recorder{fail: func(OutboxEvent) error {
		attempts++
		if attempts < 3 {
			return errors.New("timeout")
		}
		return nil
	}}
	l := testListener(&memRepo{}, pub)

	assert.NoError(t, l.publishWithRetry(context.Background(), OutboxEvent{ID: uuid.New()}))
	check.Equal(t, 3, attempts)

	attempts = -10
	check.Error(t, l.publishWithRetry(context.Background(), OutboxEvent{ID: uuid.New()}))
	check.Equal(t, -7, attempts)
}

func TestListenerDrainsAllBatches(t *testing.T) {
	t.Parallel()
	repo := &memRepo{}
	pub := &recorder{}
	l := testListener(repo, pub)
	ctx := context.Background()

	auctionID := uuid.New()
	for seq := uint64(1); seq <= 5; seq++ {
		assert.NoError(t, l.app.Publish(ctx, newEvent(auctionID, seq)))
	}

	assert.NoError(t, l.processUnsent(ctx))
	assert.Equal(t, 5, len(pub.seen))
	for i, e := range pub.seen {
		check.Equal(t, uint64(i+1), e.Seq)
	}
	processed, last := l.Stats()
	check.Equal(t, uint64(5), processed)
	check.False(t, last.IsZero())
}

func TestHandleNotification(t *testing.T) {
	t.Parallel()
	repo := &memRepo{}
	pub := &recorder{}
	l := testListener(repo, pub)
	ctx := context.Background()

	check.Error(t, l.handleNotification(ctx, "not-a-uuid"))
	check.NoError(t, l.handleNotification(ctx, uuid.NewString()))
	check.Equal(t, 0, len(pub.seen))

	evt := newEvent(uuid.New(), 1)
	assert.NoError(t, l.app.Publish(ctx, evt))
	assert.NoError(t, l.handleNotification(ctx, evt.ID.String()))
	assert.Equal(t, 1, len(pub.seen))

	// already relayed by the first notification
	assert.NoError(t, l.handleNotification(ctx, evt.ID.String()))
	check.Equal(t, 1, len(pub.seen))
}

func TestSubjectIsPerAuction(t *testing.T) {
	t.Parallel()
	auctionID := uuid.MustParse("5f0c6f1e-2a51-4d0a-9d0e-4c1a3e7b8f10")
	got := subjectFor(DefaultJetStreamConfig().SubjectPrefix, OutboxEvent{AuctionID: auctionID})
	check.Equal(t, "auction.events.5f0c6f1e-2a51-4d0a-9d0e-4c1a3e7b8f10", got)
}

func TestEngineEventsLandInOutbox(t *testing.T) {
	t.Parallel()
	repo := &memRepo{}
	app := NewApp(repo)
	eng, err := engine.New(engine.Config{
		Store: store.NewMemory(),
		Clock: clockwork.NewFakeClock(),
		Sinks: []engine.EventSink{app},
	})
	assert.NoError(t, err)

	ctx := context.Background()
	a, err := eng.CreateAuction(ctx, engine.CreateAuctionParams{
		Name:        "Outbox Cup",
		TotalBudget: decimal.RequireFromString("1000"),
		Rules:       models.AuctionRules{MinIncrement: decimal.RequireFromString("10"), BidTimeoutSeconds: 30},
	})
	assert.NoError(t, err)
	_, err = eng.AddParticipant(ctx, engine.AddParticipantParams{AuctionID: a.ID, TeamID: uuid.New(), TeamName: "Hawks"})
	assert.NoError(t, err)
	_, err = eng.AddPlayer(ctx, engine.AddPlayerParams{AuctionID: a.ID, Name: "Opener", BasePrice: decimal.RequireFromString("100")})
	assert.NoError(t, err)
	assert.NoError(t, eng.StartAuction(ctx, a.ID, engine.Actor{ID: "mod", Role: engine.RoleModerator}))
	eng.Close()

	assert.True(t, len(repo.rows) >= 2)
	check.Equal(t, "auction_started", repo.rows[0].EventType)
	check.Equal(t, "player_changed", repo.rows[1].EventType)
	for i, row := range repo.rows {
		check.Equal(t, a.ID, row.AuctionID)
		check.Equal(t, uint64(i+1), row.Seq)
	}
}
