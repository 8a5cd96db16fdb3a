package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
)

// Engine events are written to clients as events.Event JSON. The messages
// below are gateway-level and never carry a seq.

// Client message types
const (
	ClientMessageTimerSync = "timer_sync"
	ClientMessagePing      = "ping"
)

// Server message types
const (
	ServerMessageSnapshot   = "snapshot"
	ServerMessageTimerState = "timer_state"
	ServerMessagePong       = "pong"
	ServerMessageError      = "error"
)

// ClientMessage is a message sent by a client over the socket
type ClientMessage struct {
	Type             string `json:"type"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

// ServerMessage is a reply to one connection
type ServerMessage struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TimerStateData is the data of a timer_state reply
type TimerStateData struct {
	RemainingSeconds int  `json:"remaining_seconds"`
	Running          bool `json:"running"`
	Corrected        bool `json:"corrected"`
}

// StateProvider returns the current state of an auction. *engine.Engine
// implements it in-process; RemoteEngine implements it over connect.
type StateProvider interface {
	Snapshot(ctx context.Context, auctionID uuid.UUID) (*engine.Snapshot, error)
}

// TimerSyncer accepts client countdown hints.
type TimerSyncer interface {
	SyncTimer(ctx context.Context, auctionID uuid.UUID, remainingSeconds int) (*engine.SyncResult, error)
}

// envelope peeks at the type and seq of any message from the gateway.
type envelope struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

func errorMessage(auctionID uuid.UUID, reason string) ServerMessage {
	return ServerMessage{Type: ServerMessageError, AuctionID: auctionID.String(), Error: reason}
}
