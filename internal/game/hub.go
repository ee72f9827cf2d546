package game

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"wager/internal/metrics"
)

const (
	writeWait = 10 * time.Second
	// sendBuffer is how many messages a client may lag behind before the
	// hub disconnects it.
	sendBuffer = 64
)

// Message is the envelope written to websocket clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// conn is the part of a websocket connection the hub writes to.
type conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one websocket connection. Its messages are written in order by
// a single writer goroutine.
type Client struct {
	conn   conn
	userID string
	out    chan []byte
	quit   chan struct{}
	once   sync.Once
}

func newClient(c conn, userID string) *Client {
	return &Client{
		conn:   c,
		userID: userID,
		out:    make(chan []byte, sendBuffer),
		quit:   make(chan struct{}),
	}
}

// Hub fans broadcast events out to the websocket clients of this instance.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			go client.writeLoop(h.log)
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client connected", zap.String("user_id", client.userID), zap.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client disconnected", zap.String("user_id", client.userID), zap.Int("clients", n))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.offer(message) {
					delete(h.clients, client)
					client.close()
					metrics.BroadcastsDropped.Inc()
					h.log.Warn("client too slow, disconnecting", zap.String("user_id", client.userID))
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues an event for every client. It never blocks; when the
// queue is full the event is dropped.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(Message{Type: event, Data: payload})
	if err != nil {
		h.log.Error("marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		metrics.BroadcastsDropped.Inc()
		h.log.Warn("broadcast queue full, dropping event", zap.String("event", event))
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RegisterClient(c *websocket.Conn, userID string) *Client {
	return h.add(c, userID)
}

func (h *Hub) add(c conn, userID string) *Client {
	client := newClient(c, userID)
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// SendState writes the current round snapshot to a newly connected client.
func (c *Client) SendState(log *zap.Logger, s RoundSnapshot) {
	c.Send(log, EventState, s)
}

// Send queues one message for this client only, behind any broadcasts
// already queued. It waits for room unless the client is closed.
func (c *Client) Send(log *zap.Logger, msgType string, payload any) {
	data, err := json.Marshal(Message{Type: msgType, Data: payload})
	if err != nil {
		log.Error("failed to marshal client message", zap.String("type", msgType), zap.Error(err))
		return
	}
	select {
	case c.out <- data:
	case <-c.quit:
	}
}

func (c *Client) UserID() string { return c.userID }

// offer queues data without waiting. It reports false when the queue is full.
func (c *Client) offer(data []byte) bool {
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *Client) writeLoop(log *zap.Logger) {
	for {
		select {
		case <-c.quit:
			return
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("websocket write failed", zap.String("user_id", c.userID), zap.Error(err))
			}
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
}
