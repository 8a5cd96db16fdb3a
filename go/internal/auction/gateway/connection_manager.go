package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/auctionhouse/go/internal/auction/events"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections for auction events. It is
// an engine event sink: events are fanned out to every connection watching
// the auction, in the order they were published.
type ConnectionManager struct {
	// Connection pools organized by auction ID
	auctionConnections map[uuid.UUID]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	// Inbound timer_sync hints go here; nil disables them.
	syncer TimerSyncer

	// Snapshot sent to a client right after it connects; nil disables it.
	state StateProvider

	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	ActorID   string
	AuctionID uuid.UUID
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time

	pingMu   sync.Mutex
	lastPing time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	SyncTimeout     time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is an encoded message for every connection of an auction
type BroadcastMessage struct {
	AuctionID uuid.UUID
	Type      string
	Data      []byte
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		SyncTimeout:     5 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// Origin checks belong to the auth proxy in front of the gateway.
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, state StateProvider, syncer TimerSyncer) *ConnectionManager {
	return &ConnectionManager{
		auctionConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		syncer:      syncer,
		state:       state,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Publish implements engine.EventSink. It blocks while the broadcast queue
// is full, so a slow gateway pushes back on the engine pump instead of
// reordering events.
func (cm *ConnectionManager) Publish(ctx context.Context, evt events.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", evt.ID, err)
	}
	select {
	case cm.broadcastCh <- BroadcastMessage{AuctionID: evt.AuctionID, Type: string(evt.Type), Data: data}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("broadcast of %s for auction %s: %w", evt.Type, evt.AuctionID, ctx.Err())
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, actorID string, auctionID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		ActorID:     actorID,
		AuctionID:   auctionID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: now,
		lastPing:    now,
	}

	// Register before reading the snapshot: events that race the snapshot
	// carry a seq the client compares against the snapshot's last_seq.
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("actor_id", actorID).
		Str("auction_id", auctionID.String()).
		Msg("WebSocket connection established")

	if cm.state != nil {
		connection.sendSnapshot(r.Context())
	}
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.auctionConnections[conn.AuctionID] == nil {
		cm.auctionConnections[conn.AuctionID] = make(map[*Connection]bool)
	}
	cm.auctionConnections[conn.AuctionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("auction_id", conn.AuctionID.String()).
		Int("total_connections", len(cm.auctionConnections[conn.AuctionID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection and closes its send channel.
// It is safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.auctionConnections[conn.AuctionID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	close(conn.Send)

	if len(connections) == 0 {
		delete(cm.auctionConnections, conn.AuctionID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("actor_id", conn.ActorID).
		Str("auction_id", conn.AuctionID.String()).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.auctionConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// sendTo queues data for one connection. Send channels are only closed
// under the write lock, so sending under the read lock is safe.
func (cm *ConnectionManager) sendTo(conn *Connection, data []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.auctionConnections[conn.AuctionID][conn] {
		return true
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	var slow []*Connection

	cm.mu.RLock()
	connections := cm.auctionConnections[message.AuctionID]
	for conn := range connections {
		select {
		case conn.Send <- message.Data:
		default:
			slow = append(slow, conn)
		}
	}
	delivered := len(connections) - len(slow)
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("actor_id", conn.ActorID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
	}

	log.Debug().
		Str("event_type", message.Type).
		Str("auction_id", message.AuctionID.String()).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// ConnectionStats summarizes active connections
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveAuctions     int            `json:"active_auctions"`
	AuctionConnections map[string]int `json:"auction_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveAuctions:     len(cm.auctionConnections),
		AuctionConnections: make(map[string]int, len(cm.auctionConnections)),
	}
	for auctionID, connections := range cm.auctionConnections {
		stats.TotalConnections += len(connections)
		stats.AuctionConnections[auctionID.String()] = len(connections)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) touch() {
	c.pingMu.Lock()
	c.lastPing = time.Now()
	c.pingMu.Unlock()
}

// LastSeen is the last time the client answered a ping or sent a message.
func (c *Connection) LastSeen() time.Time {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.lastPing
}

// reply queues a server message for this connection only.
func (c *Connection) reply(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("failed to marshal server message")
		return
	}
	if !c.Manager.sendTo(c, data) {
		log.Warn().Str("connection_id", c.ID).Str("type", msg.Type).Msg("send buffer full, dropping reply")
	}
}

// handleClientMessage processes messages received from the client
func (c *Connection) handleClientMessage(message []byte) {
	c.touch()

	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(errorMessage(c.AuctionID, "malformed message"))
		return
	}

	switch msg.Type {
	case ClientMessageTimerSync:
		c.handleTimerSync(msg)
	case ClientMessagePing:
		c.reply(ServerMessage{Type: ServerMessagePong, AuctionID: c.AuctionID.String()})
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("actor_id", c.ActorID).
			Str("type", msg.Type).
			Msg("ignoring unknown client message")
		c.reply(errorMessage(c.AuctionID, fmt.Sprintf("unknown message type %q", msg.Type)))
	}
}

func (c *Connection) sendSnapshot(ctx context.Context) {
	snap, err := c.Manager.state.Snapshot(ctx, c.AuctionID)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", c.AuctionID.String()).Msg("failed to load snapshot for new connection")
		c.reply(errorMessage(c.AuctionID, "state unavailable"))
		return
	}
	c.reply(ServerMessage{Type: ServerMessageSnapshot, AuctionID: c.AuctionID.String(), Data: snap})
}
