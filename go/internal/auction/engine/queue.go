package engine

import (
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"
)

// PlayerQueue is the FIFO of pending players plus the current lot pointer.
// The current player is never part of the pending list.
type PlayerQueue struct {
	current *uuid.UUID
	pending []uuid.UUID
}

// NewPlayerQueue builds a queue from persisted state.
func NewPlayerQueue(current *uuid.UUID, pending []uuid.UUID) *PlayerQueue {
	q := &PlayerQueue{pending: slices.Clone(pending)}
	if current != nil {
		id := *current
		q.current = &id
	}
	return q
}

func (q *PlayerQueue) clone() *PlayerQueue {
	return NewPlayerQueue(q.current, q.pending)
}

// Current returns the player open for bidding, if any.
func (q *PlayerQueue) Current() (uuid.UUID, bool) {
	if q.current == nil {
		return uuid.Nil, false
	}
	return *q.current, true
}

// IsCurrent reports whether playerID is the open lot.
func (q *PlayerQueue) IsCurrent(playerID uuid.UUID) bool {
	return q.current != nil && *q.current == playerID
}

// Pending returns a copy of the queued player ids in order.
func (q *PlayerQueue) Pending() []uuid.UUID {
	return append([]uuid.UUID{}, q.pending...)
}

// Len is the number of queued players, excluding the current one.
func (q *PlayerQueue) Len() int {
	return len(q.pending)
}

// Contains reports whether playerID is queued or current.
func (q *PlayerQueue) Contains(playerID uuid.UUID) bool {
	return q.IsCurrent(playerID) || slices.Contains(q.pending, playerID)
}

// Enqueue appends a player to the back of the queue.
func (q *PlayerQueue) Enqueue(playerID uuid.UUID) error {
	if q.Contains(playerID) {
		return invalidState("player %s is already in the auction", playerID)
	}
	q.pending = append(q.pending, playerID)
	return nil
}

// Remove drops a queued player. The current lot cannot be removed this way.
func (q *PlayerQueue) Remove(playerID uuid.UUID) error {
	if q.IsCurrent(playerID) {
		return invalidState("player %s is the current lot and cannot be removed", playerID)
	}
	i := slices.Index(q.pending, playerID)
	if i < 0 {
		return NotFoundError("queued player", playerID)
	}
	q.pending = slices.Delete(q.pending, i, i+1)
	return nil
}

// PopFront makes the head of the queue current. It fails if a lot is
// already open.
func (q *PlayerQueue) PopFront() (uuid.UUID, bool) {
	if q.current != nil || len(q.pending) == 0 {
		return uuid.Nil, false
	}
	id := q.pending[0]
	q.pending = slices.Delete(q.pending, 0, 1)
	q.current = &id
	return id, true
}

// Take moves a queued player straight to the current slot.
func (q *PlayerQueue) Take(playerID uuid.UUID) error {
	if q.current != nil {
		return invalidState("a lot is already open")
	}
	if err := q.Remove(playerID); err != nil {
		return err
	}
	q.current = &playerID
	return nil
}

// ClearCurrent closes the open lot and returns its player.
func (q *PlayerQueue) ClearCurrent() (uuid.UUID, bool) {
	id, ok := q.Current()
	q.current = nil
	return id, ok
}

// PushFront puts a player back at the head of the queue.
func (q *PlayerQueue) PushFront(playerID uuid.UUID) {
	q.pending = slices.Insert(q.pending, 0, playerID)
}

// Shuffle permutes the pending players with Fisher-Yates. The current lot
// is untouched.
func (q *PlayerQueue) Shuffle(r *rand.Rand) {
	for i := len(q.pending) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		q.pending[i], q.pending[j] = q.pending[j], q.pending[i]
	}
}
