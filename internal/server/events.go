package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/olmchat/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Event names pushed to /events subscribers.
const (
	EventSessionCreated  = "session.created"
	EventSessionSaved    = "session.saved"
	EventSessionsChanged = "sessions.changed"
)

const eventWriteTimeout = 5 * time.Second

// EventMessage is the frame written to subscribers.
type EventMessage struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Seq       int64  `json:"seq"`
}

type eventClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *eventClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// EventHub fans session events out to websocket subscribers. Subscribers
// only listen; anything they send is read and discarded.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	seq      uint64

	mu      sync.RWMutex
	clients map[string]*eventClient
}

// NewEventHub creates an empty hub.
func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger.With().Str("component", "events").Logger(),
		clients: make(map[string]*eventClient),
	}
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}

	client := &eventClient{id: id, conn: conn}
	h.mu.Lock()
	h.clients[id] = client
	count := len(h.clients)
	h.mu.Unlock()
	observability.SetEventClients(count)

	h.logger.Info().Str("clientId", id).Str("ip", r.RemoteAddr).Msg("Event subscriber connected")

	go h.readLoop(client)
}

func (h *EventHub) readLoop(client *eventClient) {
	defer h.remove(client)

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("clientId", client.id).Msg("Event subscriber read error")
			}
			return
		}
	}
}

func (h *EventHub) remove(client *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	count := len(h.clients)
	h.mu.Unlock()

	client.conn.Close()
	observability.SetEventClients(count)
	h.logger.Info().Str("clientId", client.id).Msg("Event subscriber disconnected")
}

// Count returns the number of connected subscribers.
func (h *EventHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every subscriber. Failed writes drop the subscriber.
func (h *EventHub) Broadcast(event string, data any) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       int64(atomic.AddUint64(&h.seq, 1)),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	clients := make([]*eventClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	failed := 0
	for _, c := range clients {
		if err := c.write(payload); err != nil {
			h.logger.Warn().Err(err).Str("clientId", c.id).Str("event", event).Msg("Failed to deliver event")
			h.remove(c)
			failed++
		}
	}

	h.logger.Debug().
		Str("event", event).
		Int64("seq", msg.Seq).
		Int("delivered", len(clients)-failed).
		Int("failed", failed).
		Msg("Event broadcast complete")
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*eventClient)
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.conn.Close()
	}
	observability.SetEventClients(0)
}
