// Package engine runs live player auctions: the lifecycle state machine, bid
// acceptance, budget accounting, the player queue, the lot countdown and sale
// finalization.
//
// Every command against one auction runs in that auction's critical section
// on a clone of the aggregate. Events are numbered inside the critical
// section and handed to a per-auction pump, which persists the latest state
// and publishes the events to the registered sinks outside of it.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultLockTimeout       = 2 * time.Second
	DefaultDriftTolerance    = 2
	DefaultBidTimeoutSeconds = 30
	defaultPublishTimeout    = 5 * time.Second
	DefaultEvictAfter        = 10 * time.Minute
)

// Config configures an Engine. Zero values pick the defaults.
type Config struct {
	Store Store
	Sinks []EventSink
	Clock clockwork.Clock

	// LockTimeout bounds how long a command waits for the auction's
	// critical section before failing with ErrConflict.
	LockTimeout time.Duration
	// SyncInterval is the timer_sync period while a countdown runs, at most 5s.
	SyncInterval time.Duration
	// DriftTolerance is how far, in seconds, a client countdown may drift
	// before SyncTimer sends a correction.
	DriftTolerance int
	// DefaultBidTimeoutSeconds applies to auctions created without a timeout.
	DefaultBidTimeoutSeconds int
	PublishTimeout           time.Duration
	// EvictAfter is how long a completed or cancelled auction stays loaded
	// once its state is persisted.
	EvictAfter time.Duration
	Rand       *rand.Rand
}

// Engine serializes commands per auction and owns every loaded auction.
type Engine struct {
	cfg    Config
	clock  clockwork.Clock
	store  Store
	timers *TimerCoordinator

	sinksMu sync.RWMutex
	sinks   []EventSink

	mu       sync.Mutex
	auctions map[uuid.UUID]*entry
	closed   bool

	rngMu sync.Mutex
	rng   *rand.Rand

	// ctx is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Auctions are loaded lazily from the store.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine requires a store")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.SyncInterval <= 0 || cfg.SyncInterval > MaxSyncInterval {
		cfg.SyncInterval = MaxSyncInterval
	}
	if cfg.DriftTolerance <= 0 {
		cfg.DriftTolerance = DefaultDriftTolerance
	}
	if cfg.DefaultBidTimeoutSeconds <= 0 {
		cfg.DefaultBidTimeoutSeconds = DefaultBidTimeoutSeconds
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = DefaultEvictAfter
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		clock:    cfg.Clock,
		store:    cfg.Store,
		sinks:    append([]EventSink(nil), cfg.Sinks...),
		auctions: make(map[uuid.UUID]*entry),
		rng:      cfg.Rand,
		ctx:      ctx,
		cancel:   cancel,
	}
	e.timers = NewTimerCoordinator(cfg.Clock, cfg.SyncInterval, e.onTimerExpired, e.onTimerTick)
	return e, nil
}

// AddSink registers another event sink. Events already handed to the pumps
// are not replayed.
func (e *Engine) AddSink(sink EventSink) {
	e.sinksMu.Lock()
	defer e.sinksMu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// Close stops all timers, flushes pending events and waits for the pumps.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.timers.Close()
	e.cancel()
	e.wg.Wait()
	log.Info().Msg("auction engine stopped")
}

// entry is the per-auction serialization point.
type entry struct {
	id uuid.UUID

	// sem is the critical section. Holding it is required to change state,
	// seq or timers for this auction.
	sem *semaphore.Weighted
	seq uint64

	stateMu sync.RWMutex
	state   *aggregate
	lastSeq uint64

	outMu   sync.Mutex
	outbox  []events.Event
	unsaved *aggregate
	wake    chan struct{}

	// evicting is set once removal is scheduled. evicted is guarded by sem;
	// a command that acquires an evicted entry reloads the auction.
	evicting atomic.Bool
	evicted  bool
	flushing atomic.Bool
	stop     chan struct{}
}

func newEntry(st *aggregate) *entry {
	return &entry{
		id:    st.auction.ID,
		sem:   semaphore.NewWeighted(1),
		state: st,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

func (ent *entry) release() {
	ent.sem.Release(1)
}

// committed returns the current aggregate. The result must not be mutated.
func (ent *entry) committed() (*aggregate, uint64) {
	ent.stateMu.RLock()
	defer ent.stateMu.RUnlock()
	return ent.state, ent.lastSeq
}

func (ent *entry) commit(st *aggregate, seq uint64) {
	ent.stateMu.Lock()
	defer ent.stateMu.Unlock()
	if st != nil {
		ent.state = st
	}
	ent.lastSeq = seq
}

// enqueue hands events and the state to persist to the pump.
func (ent *entry) enqueue(evts []events.Event, st *aggregate) {
	ent.outMu.Lock()
	ent.outbox = append(ent.outbox, evts...)
	if st != nil {
		ent.unsaved = st
	}
	ent.outMu.Unlock()

	select {
	case ent.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) lookup(auctionID uuid.UUID) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auctions[auctionID]
}

// entry returns the loaded auction, loading it from the store on first use.
func (e *Engine) entry(ctx context.Context, auctionID uuid.UUID) (*entry, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, invalidState("auction engine is shutting down")
	}
	if ent, ok := e.auctions[auctionID]; ok {
		e.mu.Unlock()
		return ent, nil
	}
	e.mu.Unlock()

	rec, err := e.store.LoadAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NotFoundError("auction", auctionID)
		}
		return nil, fmt.Errorf("failed to load auction %s: %w", auctionID, err)
	}
	ent, _, err := e.register(newAggregate(rec))
	return ent, err
}

// register adds a loaded aggregate to the registry and starts its pump. An
// auction that was live with an open lot gets a fresh full countdown.
func (e *Engine) register(st *aggregate) (*entry, bool, error) {
	ent := newEntry(st)
	if !ent.sem.TryAcquire(1) {
		return nil, false, invariantViolation("auction %s entry already locked", ent.id)
	}
	defer ent.release()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, false, invalidState("auction engine is shutting down")
	}
	if existing, ok := e.auctions[ent.id]; ok {
		e.mu.Unlock()
		return existing, false, nil
	}
	e.auctions[ent.id] = ent
	e.wg.Add(1)
	go e.pump(ent)
	e.mu.Unlock()

	if cur, ok := st.queue.Current(); ok && st.auction.Status == models.AuctionStatusLive {
		e.timers.Reset(ent.id, cur, time.Duration(st.auction.Rules.BidTimeoutSeconds)*time.Second)
	}
	if st.auction.Status.Terminal() {
		e.scheduleEviction(ent)
	}
	log.Debug().Str("auction_id", ent.id.String()).Str("status", string(st.auction.Status)).Msg("auction loaded")
	return ent, true, nil
}

// acquire enters the auction's critical section, waiting at most
// LockTimeout.
func (e *Engine) acquire(ctx context.Context, ent *entry) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.LockTimeout)
	defer cancel()
	if err := ent.sem.Acquire(ctx, 1); err != nil {
		return newError(ErrConflict, "conflicting operation in progress")
	}
	return nil
}

// lock returns the auction's entry with its critical section held.
func (e *Engine) lock(ctx context.Context, auctionID uuid.UUID) (*entry, error) {
	for {
		ent, err := e.entry(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if err := e.acquire(ctx, ent); err != nil {
			return nil, err
		}
		if !ent.evicted {
			return ent, nil
		}
		ent.release()
	}
}

// mutate runs fn in the auction's critical section.
func (e *Engine) mutate(ctx context.Context, auctionID uuid.UUID, actor Actor, fn func(tx *txn) error) error {
	ent, err := e.lock(ctx, auctionID)
	if err != nil {
		return err
	}
	defer ent.release()
	return e.apply(ent, actor, fn)
}

// apply runs fn against a clone of the committed state and commits it only
// if fn and the consistency check succeed. The caller holds ent.sem.
func (e *Engine) apply(ent *entry, actor Actor, fn func(tx *txn) error) error {
	tx := &txn{
		st:    ent.state.clone(),
		now:   e.clock.Now(),
		actor: actor,
		cfg:   &e.cfg,
		rng:   e.withRand,
	}
	if err := fn(tx); err != nil {
		return e.reject(ent.id, actor, err)
	}

	var saved *aggregate
	if !tx.noop {
		if err := tx.st.verify(); err != nil {
			return e.reject(ent.id, actor, err)
		}
		tx.st.auction.UpdatedAt = tx.now
		saved = tx.st
	}

	evts := make([]events.Event, 0, len(tx.events))
	for _, pe := range tx.events {
		ent.seq++
		evts = append(evts, events.Event{
			ID:              uuid.New(),
			AuctionID:       ent.id,
			Type:            pe.typ,
			Seq:             ent.seq,
			Data:            pe.data,
			ServerTimestamp: tx.now,
		})
	}
	ent.commit(saved, ent.seq)

	switch tx.timer.op {
	case timerReset:
		e.timers.Reset(ent.id, tx.timer.playerID, tx.timer.d)
	case timerStop:
		e.timers.Stop(ent.id)
	}

	if saved != nil || len(evts) > 0 {
		ent.enqueue(evts, saved)
	}
	return nil
}

func (e *Engine) reject(auctionID uuid.UUID, actor Actor, err error) error {
	if errors.Is(err, ErrInvariantViolation) {
		log.Error().
			Err(err).
			Str("auction_id", auctionID.String()).
			Str("actor_id", actor.ID).
			Msg("auction invariant violated, command rolled back")
		return err
	}
	log.Debug().
		Err(err).
		Str("auction_id", auctionID.String()).
		Str("actor_id", actor.ID).
		Msg("command rejected")
	return err
}

func (e *Engine) withRand(fn func(r *rand.Rand)) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	fn(e.rng)
}

// pump persists and publishes everything the auction's commands produced,
// in commit order.
func (e *Engine) pump(ent *entry) {
	defer e.wg.Done()
	for {
		select {
		case <-ent.wake:
			if st, ok := e.flush(ent); ok && st != nil && st.auction.Status.Terminal() {
				e.scheduleEviction(ent)
			}
		case <-ent.stop:
			e.flush(ent)
			return
		case <-e.ctx.Done():
			e.flush(ent)
			return
		}
	}
}

// flush returns the state it persisted, and false if persisting failed.
func (e *Engine) flush(ent *entry) (*aggregate, bool) {
	ent.outMu.Lock()
	batch := ent.outbox
	st := ent.unsaved
	ent.outbox = nil
	ent.unsaved = nil
	ent.flushing.Store(true)
	ent.outMu.Unlock()
	defer ent.flushing.Store(false)

	ok := true
	if st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PublishTimeout)
		if err := e.store.SaveAuction(ctx, st.record()); err != nil {
			log.Error().Err(err).Str("auction_id", ent.id.String()).Msg("failed to save auction")
			ok = false
		}
		cancel()
	}
	if len(batch) == 0 {
		return st, ok
	}

	e.sinksMu.RLock()
	sinks := append([]EventSink(nil), e.sinks...)
	e.sinksMu.RUnlock()

	for _, evt := range batch {
		for _, sink := range sinks {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PublishTimeout)
			if err := sink.Publish(ctx, evt); err != nil {
				log.Warn().
					Err(err).
					Str("auction_id", ent.id.String()).
					Str("event_type", string(evt.Type)).
					Uint64("seq", evt.Seq).
					Msg("failed to publish event")
			}
			cancel()
		}
	}
	return st, ok
}

// scheduleEviction drops a terminal auction from memory after EvictAfter.
// Later reads and commands load it from the store again.
func (e *Engine) scheduleEviction(ent *entry) {
	if !ent.evicting.CompareAndSwap(false, true) {
		return
	}
	e.clock.AfterFunc(e.cfg.EvictAfter, func() { e.evict(ent) })
}

func (e *Engine) evict(ent *entry) {
	if err := ent.sem.Acquire(e.ctx, 1); err != nil {
		return
	}
	defer ent.release()

	ent.outMu.Lock()
	pending := len(ent.outbox) > 0 || ent.unsaved != nil || ent.flushing.Load()
	ent.outMu.Unlock()
	if st, _ := ent.committed(); pending || !st.auction.Status.Terminal() {
		ent.evicting.Store(false)
		return
	}

	e.mu.Lock()
	if e.auctions[ent.id] == ent {
		delete(e.auctions, ent.id)
	}
	e.mu.Unlock()
	ent.evicted = true
	e.timers.Stop(ent.id)
	close(ent.stop)
	log.Debug().Str("auction_id", ent.id.String()).Msg("auction evicted")
}

type timerOp int

const (
	timerKeep timerOp = iota
	timerReset
	timerStop
)

type timerAction struct {
	op       timerOp
	playerID uuid.UUID
	d        time.Duration
}

type pendingEvent struct {
	typ  events.Type
	data json.RawMessage
}

// txn is one command's view of an auction. Timer changes and events are
// applied only if the command commits.
type txn struct {
	st     *aggregate
	now    time.Time
	actor  Actor
	cfg    *Config
	rng    func(fn func(r *rand.Rand))
	events []pendingEvent
	timer  timerAction
	// noop marks a command that left the aggregate unchanged.
	noop bool
}

func (tx *txn) emit(typ events.Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	tx.events = append(tx.events, pendingEvent{typ: typ, data: data})
	return nil
}

func (tx *txn) bidTimeout() time.Duration {
	return time.Duration(tx.st.auction.Rules.BidTimeoutSeconds) * time.Second
}

func (tx *txn) resetTimer(playerID uuid.UUID) {
	tx.timer = timerAction{op: timerReset, playerID: playerID, d: tx.bidTimeout()}
}

func (tx *txn) stopTimer() {
	tx.timer = timerAction{op: timerStop}
}
