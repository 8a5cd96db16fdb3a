package engine

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/rs/zerolog/log"
)

// MaxSyncInterval bounds how long clients may run their countdown without a
// timer_sync.
const MaxSyncInterval = 5 * time.Second

// TimerFunc is called from timer goroutines. It must acquire the auction
// lock and check Armed before acting.
type TimerFunc func(auctionID, playerID uuid.UUID, generation uint64)

// lotTimer is one arming of an auction's countdown.
type lotTimer struct {
	playerID   uuid.UUID
	generation uint64
	deadline   time.Time
	timer      clockwork.Timer
	ticker     clockwork.Ticker
	stop       chan struct{}
}

// TimerCoordinator owns the countdown of every live auction.
type TimerCoordinator struct {
	clock        clockwork.Clock
	syncInterval time.Duration
	onExpire     TimerFunc
	onTick       TimerFunc

	mu         sync.Mutex
	lots       map[uuid.UUID]*lotTimer
	generation uint64
	closed     bool
}

// NewTimerCoordinator creates a coordinator. syncInterval is clamped to
// MaxSyncInterval.
func NewTimerCoordinator(clock clockwork.Clock, syncInterval time.Duration, onExpire, onTick TimerFunc) *TimerCoordinator {
	if syncInterval <= 0 || syncInterval > MaxSyncInterval {
		syncInterval = MaxSyncInterval
	}
	return &TimerCoordinator{
		clock:        clock,
		syncInterval: syncInterval,
		onExpire:     onExpire,
		onTick:       onTick,
		lots:         make(map[uuid.UUID]*lotTimer),
	}
}

// Reset arms the countdown for playerID, replacing any existing one, and
// returns the generation of the new arming. The timer and ticker are created
// before Reset returns so a fake clock sees them immediately.
func (tc *TimerCoordinator) Reset(auctionID, playerID uuid.UUID, d time.Duration) uint64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return 0
	}

	tc.stopLocked(auctionID)
	tc.generation++
	lt := &lotTimer{
		playerID:   playerID,
		generation: tc.generation,
		deadline:   tc.clock.Now().Add(d),
		timer:      tc.clock.NewTimer(d),
		ticker:     tc.clock.NewTicker(tc.syncInterval),
		stop:       make(chan struct{}),
	}
	tc.lots[auctionID] = lt

	go tc.run(auctionID, lt)

	log.Debug().
		Str("auction_id", auctionID.String()).
		Str("player_id", playerID.String()).
		Uint64("generation", lt.generation).
		Time("deadline", lt.deadline).
		Msg("armed lot timer")
	return lt.generation
}

func (tc *TimerCoordinator) run(auctionID uuid.UUID, lt *lotTimer) {
	defer lt.ticker.Stop()
	for {
		select {
		case <-lt.stop:
			return
		case <-lt.ticker.Chan():
			tc.onTick(auctionID, lt.playerID, lt.generation)
		case <-lt.timer.Chan():
			tc.onExpire(auctionID, lt.playerID, lt.generation)
			return
		}
	}
}

// Stop cancels the countdown of an auction, if any.
func (tc *TimerCoordinator) Stop(auctionID uuid.UUID) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.stopLocked(auctionID)
}

func (tc *TimerCoordinator) stopLocked(auctionID uuid.UUID) {
	lt, ok := tc.lots[auctionID]
	if !ok {
		return
	}
	stopAndDrainTimer(lt.timer)
	close(lt.stop)
	delete(tc.lots, auctionID)
	log.Debug().
		Str("auction_id", auctionID.String()).
		Uint64("generation", lt.generation).
		Msg("stopped lot timer")
}

// Armed reports whether generation is still the live arming for playerID.
func (tc *TimerCoordinator) Armed(auctionID, playerID uuid.UUID, generation uint64) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	lt, ok := tc.lots[auctionID]
	return ok && lt.generation == generation && lt.playerID == playerID
}

// State returns the authoritative countdown of an auction.
func (tc *TimerCoordinator) State(auctionID uuid.UUID) models.TimerState {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	lt, ok := tc.lots[auctionID]
	if !ok {
		return models.TimerState{}
	}
	return models.TimerState{
		RemainingSeconds: remainingSeconds(lt.deadline, tc.clock.Now()),
		Running:          true,
	}
}

// Close stops every countdown. Reset is a no-op afterwards.
func (tc *TimerCoordinator) Close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for id := range tc.lots {
		tc.stopLocked(id)
	}
	tc.closed = true
}

// remainingSeconds rounds up so a client never shows 0 while the lot is
// still open.
func remainingSeconds(deadline, now time.Time) int {
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Seconds()))
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
