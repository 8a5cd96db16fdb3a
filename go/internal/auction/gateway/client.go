package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/auctionhouse/go/internal/auction/engine"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
)

// Watcher is a Go client of the gateway: it receives the snapshot sent on
// connect and then every event newer than it.
type Watcher struct {
	baseURL    string
	auctionID  uuid.UUID
	actorID    string
	httpClient *http.Client
	dialer     *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	lastSeq uint64
}

// WatchHandlers receive what the Watcher reads. Nil handlers are skipped.
type WatchHandlers struct {
	OnSnapshot func(*engine.Snapshot)
	OnEvent    func(events.Event)
	OnMessage  func(ServerMessage)
}

// NewWatcher creates a client for the gateway at baseURL (http or https).
func NewWatcher(baseURL string, auctionID uuid.UUID, actorID string) *Watcher {
	return &Watcher{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		auctionID:  auctionID,
		actorID:    actorID,
		httpClient: http.DefaultClient,
		dialer:     websocket.DefaultDialer,
	}
}

// FetchState fetches the auction state via the REST endpoint
func (w *Watcher) FetchState(ctx context.Context) (*engine.Snapshot, error) {
	u := fmt.Sprintf("%s/api/auction/state?auction_id=%s", w.baseURL, w.auctionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Actor-Id", w.actorID)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	var snap engine.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &snap, nil
}

func (w *Watcher) wsURL() (string, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/auction"
	q := url.Values{}
	q.Set("auction_id", w.auctionID.String())
	q.Set("actor_id", w.actorID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Watch connects and reads until ctx is done or the connection drops.
// Events at or below the last snapshot's seq are skipped.
func (w *Watcher) Watch(ctx context.Context, h WatchHandlers) error {
	target, err := w.wsURL()
	if err != nil {
		return fmt.Errorf("invalid gateway url: %w", err)
	}
	conn, _, err := w.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to connect WebSocket: %w", err)
	}
	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("WebSocket read error: %w", err)
		}
		if err := w.dispatch(raw, h); err != nil {
			return err
		}
	}
}

func (w *Watcher) dispatch(raw []byte, h WatchHandlers) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	if events.Type(env.Type).Known() {
		var evt events.Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			return fmt.Errorf("failed to parse event: %w", err)
		}
		if evt.Seq <= w.lastSeq {
			return nil
		}
		w.lastSeq = evt.Seq
		if h.OnEvent != nil {
			h.OnEvent(evt)
		}
		return nil
	}

	if env.Type == ServerMessageSnapshot {
		var snap engine.Snapshot
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			return fmt.Errorf("failed to parse snapshot: %w", err)
		}
		// A restarted server numbers events from zero again.
		w.lastSeq = snap.LastSeq
		if h.OnSnapshot != nil {
			h.OnSnapshot(&snap)
		}
		return nil
	}

	if h.OnMessage != nil {
		var msg ServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("failed to parse server message: %w", err)
		}
		msg.Data = env.Data
		h.OnMessage(msg)
	}
	return nil
}

// SendTimerSync sends the client's countdown to the server
func (w *Watcher) SendTimerSync(remainingSeconds int) error {
	return w.send(ClientMessage{Type: ClientMessageTimerSync, RemainingSeconds: remainingSeconds})
}

func (w *Watcher) send(msg ClientMessage) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("not connected")
	}
	return w.conn.WriteJSON(msg)
}
