// Package stream pushes bus events to browsers over WebSocket.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/scott-c-hughes/polymarket-terminal/internal/metrics"
	syncer "github.com/scott-c-hughes/polymarket-terminal/internal/sync"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

// Control message types sent by the hub itself.
const (
	TypeConnected  = "connected"
	TypeSubscribed = "subscribed"
)

// DefaultTypes are the event types a new client receives.
var DefaultTypes = []string{
	string(syncer.EventMarketsRefreshed),
	string(syncer.EventAlertTriggered),
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Envelope is every message written to a client.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// subscribeMsg is what a client sends to change its event types.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Types  []string `json:"types"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

type broadcastMsg struct {
	eventType string
	data      []byte
}

// Hub fans bus events out to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run forwards events to clients until ctx is cancelled or events is
// closed, then disconnects every client.
func (h *Hub) Run(ctx context.Context, events <-chan syncer.Event) {
	defer close(h.done)
	defer h.closeAll()

	log.Info().Msg("Stream hub started")

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Publish(string(ev.Type), ev.Payload)

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			metrics.StreamClients.Inc()
			log.Debug().Int("clients", h.ClientCount()).Msg("Stream client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.StreamClients.Dec()
			}
			h.mu.Unlock()
			log.Debug().Int("clients", h.ClientCount()).Msg("Stream client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.eventType) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					log.Warn().Str("type", msg.eventType).Msg("Dropping message for slow stream client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
		metrics.StreamClients.Dec()
	}
}

// Publish queues a message for every client subscribed to eventType. It
// never blocks; messages are dropped when the hub is backed up.
func (h *Hub) Publish(eventType string, payload interface{}) {
	data, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Failed to encode stream message")
		return
	}
	select {
	case h.broadcast <- broadcastMsg{eventType: eventType, data: data}:
	default:
		log.Warn().Str("type", eventType).Msg("Stream broadcast full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client.
// GET /api/stream
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Stream upgrade failed")
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, t := range DefaultTypes {
		c.subs[t] = true
	}

	if data, err := c.status(TypeConnected); err == nil {
		c.send <- data
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump applies subscription changes sent by the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Stream client closed unexpectedly")
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		if c.apply(sub) {
			c.reply(TypeSubscribed)
		}
	}
}

func (c *client) apply(msg subscribeMsg) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, t := range msg.Types {
			c.subs[t] = true
		}
	case "unsubscribe":
		for _, t := range msg.Types {
			delete(c.subs, t)
		}
	default:
		return false
	}
	return true
}

// status encodes the client's current subscriptions.
func (c *client) status(msgType string) ([]byte, error) {
	c.mu.RLock()
	types := make([]string, 0, len(c.subs))
	for t := range c.subs {
		types = append(types, t)
	}
	c.mu.RUnlock()
	sort.Strings(types)

	return json.Marshal(Envelope{Type: msgType, Payload: map[string]interface{}{"types": types}})
}

// reply sends the client its current subscriptions.
func (c *client) reply(msgType string) {
	data, err := c.status(msgType)
	if err != nil {
		return
	}

	// The hub may close send concurrently on shutdown.
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[eventType]
}

// writePump writes queued messages and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
