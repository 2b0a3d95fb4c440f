package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dipeo/core/internal/infrastructure/logger"
)

// WebSocketObserver broadcasts execution events to connected WebSocket clients.
type WebSocketObserver struct {
	name   string
	filter EventFilter
	logger *logger.Logger
	hub    *WebSocketHub
}

type WebSocketObserverOption func(*WebSocketObserver)

func WithWebSocketFilter(filter EventFilter) WebSocketObserverOption {
	return func(o *WebSocketObserver) { o.filter = filter }
}

func WithWebSocketLogger(l *logger.Logger) WebSocketObserverOption {
	return func(o *WebSocketObserver) { o.logger = l }
}

func NewWebSocketObserver(hub *WebSocketHub, opts ...WebSocketObserverOption) *WebSocketObserver {
	obs := &WebSocketObserver{name: "websocket", hub: hub}
	for _, opt := range opts {
		opt(obs)
	}
	return obs
}

func (o *WebSocketObserver) Name() string          { return o.name }
func (o *WebSocketObserver) Filter() EventFilter   { return o.filter }
func (o *WebSocketObserver) GetHub() *WebSocketHub { return o.hub }

func (o *WebSocketObserver) OnEvent(ctx context.Context, event Event) error {
	data, err := json.Marshal(o.toMessage(event))
	if err != nil {
		if o.logger != nil {
			o.logger.ErrorContext(ctx, "failed to marshal websocket message", "error", err, "event_type", string(event.Type))
		}
		return fmt.Errorf("marshal message: %w", err)
	}
	o.hub.BroadcastToExecution(event.ExecutionID, data)
	return nil
}

// WebSocketMessage is the envelope pushed to every subscribed client.
type WebSocketMessage struct {
	Type      string        `json:"type"`
	Event     *EventPayload `json:"event,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventPayload is the wire-friendly projection of Event.
type EventPayload struct {
	EventType   string    `json:"event_type"`
	ExecutionID string    `json:"execution_id"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	NodeID      *string   `json:"node_id,omitempty"`
	NodeType    *string   `json:"node_type,omitempty"`
	Epoch       *int      `json:"epoch,omitempty"`
	DurationMs  *int64    `json:"duration_ms,omitempty"`
	Error       *string   `json:"error,omitempty"`
}

func (o *WebSocketObserver) toMessage(event Event) *WebSocketMessage {
	payload := &EventPayload{
		EventType:   string(event.Type),
		ExecutionID: event.ExecutionID,
		Timestamp:   event.Timestamp,
		Status:      event.Status,
		NodeID:      event.NodeID,
		NodeType:    event.NodeType,
		Epoch:       event.Epoch,
		DurationMs:  event.DurationMs,
	}
	if event.Error != nil {
		errStr := event.Error.Error()
		payload.Error = &errStr
	}
	return &WebSocketMessage{Type: "event", Event: payload, Timestamp: time.Now()}
}

// WebSocketHub tracks connected clients and broadcasts to them, grounded
// on the teacher's hub: one register/unregister/broadcast channel fed by
// a single run loop, mutex-guarded client set for direct reads.
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan []byte
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	logger     *logger.Logger
	mu         sync.RWMutex
}

func NewWebSocketHub(l *logger.Logger) *WebSocketHub {
	hub := &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		logger:     l,
	}
	go hub.run()
	return hub
}

func (h *WebSocketHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *WebSocketHub) Register(c *WebSocketClient)   { h.register <- c }
func (h *WebSocketHub) Unregister(c *WebSocketClient) { h.unregister <- c }
func (h *WebSocketHub) Broadcast(msg []byte)          { h.broadcast <- msg }

// BroadcastToExecution sends msg to every client with no execution filter
// or whose filter matches executionID.
func (h *WebSocketHub) BroadcastToExecution(executionID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.executionID == "" || c.executionID == executionID {
			select {
			case c.send <- msg:
			default:
				if h.logger != nil {
					h.logger.Warn("websocket client send buffer full, dropping message", "client_id", c.ID)
				}
			}
		}
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WebSocketClient is one connected subscriber, optionally scoped to a
// single execution ID.
type WebSocketClient struct {
	ID          string
	conn        *websocket.Conn
	send        chan []byte
	hub         *WebSocketHub
	executionID string
}

func NewWebSocketClient(id string, conn *websocket.Conn, hub *WebSocketHub, executionID string) *WebSocketClient {
	return &WebSocketClient{ID: id, conn: conn, send: make(chan []byte, 256), hub: hub, executionID: executionID}
}

func (c *WebSocketClient) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *WebSocketClient) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
