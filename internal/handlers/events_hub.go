package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/buscai/backend/internal/services"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPongWait   = 60 * time.Second
	eventPingPeriod = (eventPongWait * 9) / 10
	eventBuffer     = 64
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one message of the admin live feed.
type Event struct {
	Type    string    `json:"type"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

type eventClient struct {
	userID int
	send   chan []byte
}

// EventHub pushes back office events to connected admins. Slow clients drop
// events rather than block publishers.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*eventClient]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*eventClient]struct{})}
}

var _ services.EventPublisher = (*EventHub)(nil)

func (h *EventHub) Publish(eventType string, payload any) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		log.Printf("[EVENTS] Failed to encode %s event: %v", eventType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("[EVENTS] Dropped %s event for admin %d", eventType, c.userID)
		}
	}
}

func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) register(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ServeWS upgrades an admin to the live feed
// @Summary Admin live feed
// @Description WebSocket pushing serpapi.progress, claim.created and recharge.confirmed events.
// @Description Browsers cannot set headers on the upgrade, so the JWT goes in the token query.
// @Tags admin
// @Param token query string true "Admin JWT"
// @Success 101
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Security BearerAuth
// @Router /admin/events/ws [get]
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[EVENTS] Upgrade failed for admin %d: %v", userID, err)
		return
	}

	client := &eventClient{userID: userID, send: make(chan []byte, eventBuffer)}
	h.register(client)
	log.Printf("[EVENTS] Admin %d connected", userID)

	go h.writePump(conn, client)
	h.readPump(conn, client)
}

// readPump only consumes control frames; the feed is one way.
func (h *EventHub) readPump(conn *websocket.Conn, c *eventClient) {
	defer func() {
		h.unregister(c)
		conn.Close()
		log.Printf("[EVENTS] Admin %d disconnected", c.userID)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(conn *websocket.Conn, c *eventClient) {
	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
