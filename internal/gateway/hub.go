// Package gateway serves the local rendering front-end: it pushes a state
// snapshot to every connected UI client whenever the store mutates, and
// exposes a small REST surface for health and introspection. Rendering
// itself stays outside this repository.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/encoding/json"

	"github.com/lottopos/terminal/internal/state"
)

// Envelope is one push frame to a UI client.
type Envelope struct {
	Type string          `json:"type"` // "state" or "peer"
	Data json.RawMessage `json:"data"`
}

type peerFrame struct {
	Active bool `json:"active"`
}

// HubConfig holds WebSocket connection settings.
type HubConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultHubConfig returns settings suited to a UI on the same box.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The UI is served from the same terminal.
			return true
		},
	}
}

// Hub fans state pushes out to the connected UI clients of one display.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	upgrader    websocket.Upgrader
	config      HubConfig
	broadcastCh chan []byte
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates an empty hub.
func NewHub(config HubConfig) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan []byte, 256),
	}
}

// Run processes broadcasts until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("ui hub started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("ui hub shutting down")
			h.closeAll()
			return
		case frame := <-h.broadcastCh:
			h.fanOut(frame)
		}
	}
}

// PushState queues a state snapshot for every connected UI client.
func (h *Hub) PushState(snap state.Snapshot) {
	h.push("state", snap)
}

// PushPeer queues a peer-presence transition. The UI renders it as an
// advisory "Offline" badge, nothing more.
func (h *Hub) PushPeer(active bool) {
	h.push("peer", peerFrame{Active: active})
}

func (h *Hub) push(kind string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("type", kind).Msg("could not marshal ui frame")
		return
	}
	frame, err := json.Marshal(Envelope{Type: kind, Data: raw})
	if err != nil {
		log.Error().Err(err).Str("type", kind).Msg("could not marshal ui envelope")
		return
	}
	select {
	case h.broadcastCh <- frame:
	default:
		log.Warn().Str("type", kind).Msg("ui broadcast queue full, dropping frame")
	}
}

func (h *Hub) fanOut(frame []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			log.Warn().Str("client_id", c.id).Msg("ui client send buffer full, closing")
			h.unregister(c)
			c.conn.Close()
		}
	}
}

// ServeWS upgrades an HTTP request to a UI client connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ui websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()

	log.Info().Str("client_id", c.id).Msg("ui client connected")
}

// ClientCount returns the number of connected UI clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Info().Str("client_id", c.id).Msg("ui client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("ui write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		// The UI pushes nothing over the socket today; reads only service
		// control frames and detect the client going away.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("client_id", c.id).Msg("ui client read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
