package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types pushed to connected stations
const (
	EventSessionStarted   = "session_started"
	EventSessionFinished  = "session_finished"
	EventSessionCancelled = "session_cancelled"
	EventCountSaved       = "count_saved"
	EventTapLevel         = "tap_level"
)

// Event is one push message
type Event struct {
	Type      string      `json:"type"`
	MsgID     string      `json:"msgId"`
	SessionID int64       `json:"sessionId,omitempty"`
	At        time.Time   `json:"at"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event with a message id and time
func NewEvent(eventType string, sessionID int64, payload interface{}) Event {
	return Event{
		Type:      eventType,
		MsgID:     uuid.NewString(),
		SessionID: sessionID,
		At:        time.Now().UTC(),
		Payload:   payload,
	}
}

type identifyRequest struct {
	client    *Client
	stationID string
}

// Hub maintains the set of connected stations and fans events out to them
type Hub struct {
	// Registered clients map: StationID -> Client
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	identify   chan identifyRequest
	broadcast  chan []byte

	// closed when Run returns so pumps never block on a stopped hub
	done chan struct{}

	log *zap.Logger

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		identify:   make(chan identifyRequest),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		log:        log,
	}
}

// Run is the hub's main loop. It returns when ctx is done and must be started once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			// A station reconnecting replaces its old connection
			if old, ok := h.clients[client.StationID]; ok && old != client {
				close(old.send)
			}
			h.clients[client.StationID] = client
			h.mu.Unlock()
			h.log.Info("station connected", zap.String("station_id", client.StationID))

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.StationID]; ok && cur == client {
				delete(h.clients, client.StationID)
				close(client.send)
				h.log.Info("station disconnected", zap.String("station_id", client.StationID))
			}
			h.mu.Unlock()

		case req := <-h.identify:
			h.mu.Lock()
			if cur, ok := h.clients[req.client.StationID]; ok && cur == req.client {
				delete(h.clients, req.client.StationID)
			}
			if old, ok := h.clients[req.stationID]; ok && old != req.client {
				close(old.send)
			}
			req.client.StationID = req.stationID
			h.clients[req.stationID] = req.client
			h.mu.Unlock()
			h.log.Info("station identified", zap.String("station_id", req.stationID))

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Buffer full, drop the slow client
					close(c.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// join registers a new connection. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) rename(c *Client, stationID string) bool {
	select {
	case h.identify <- identifyRequest{client: c, stationID: stationID}:
		return true
	case <-h.done:
		return false
	}
}

// Broadcast queues an event for every connected station. It never blocks.
func (h *Hub) Broadcast(e Event) {
	if h == nil {
		return
	}
	msg, err := json.Marshal(e)
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("type", e.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast queue full, dropping event", zap.String("type", e.Type))
	}
}

// SendToStation sends a message to a specific station without blocking
func (h *Hub) SendToStation(stationID string, message interface{}) bool {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return false
	}

	// The read lock keeps Run from closing the channel mid-send
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[stationID]
	if !ok {
		return false
	}

	select {
	case client.send <- jsonMsg:
		return true
	default:
		return false
	}
}

// Connected returns the number of connected stations
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
