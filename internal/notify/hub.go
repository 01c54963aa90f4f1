// Package notify relays TaskActions to interested processes.
//
// The daemon owns a Hub that broadcasts messages to websocket
// subscribers. Short-lived processes such as the CLI use a Poster to hand
// their actions to a running daemon, which rebroadcasts them.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/o324/o324/internal/tasks"
)

// MessageType defines the type of a hub message
type MessageType string

const (
	// MessageTypeHello is sent once to every new subscriber
	MessageTypeHello MessageType = "hello"

	// MessageTypeTaskActions carries the actions of a committed change
	MessageTypeTaskActions MessageType = "task_actions"

	// MessageTypeRefresh tells subscribers to reload everything, after
	// changes whose actions are unknown
	MessageTypeRefresh MessageType = "refresh"
)

// Message is one broadcast frame.
type Message struct {
	ID        string             `json:"id"`
	Type      MessageType        `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	ClientID  string             `json:"client_id,omitempty"`
	Actions   []tasks.TaskAction `json:"actions,omitempty"`
}

// Config holds hub configuration
type Config struct {
	// BufferSize is the number of messages queued before new ones are
	// dropped (default: 100)
	BufferSize int

	// WriteTimeout bounds each write to a subscriber (default: 5s)
	WriteTimeout time.Duration

	// Logger for hub activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BufferSize:   100,
		WriteTimeout: 5 * time.Second,
		Logger:       log.New(os.Stderr, "[notify] ", log.LstdFlags),
	}
}

type client struct {
	id   string
	conn *websocket.Conn
}

// Hub manages websocket subscribers and broadcasts messages to them.
type Hub struct {
	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once

	config *Config
}

var _ tasks.Notifier = (*Hub)(nil)

// NewHub creates a hub. Call Start to begin delivering messages.
func NewHub(config *Config) *Hub {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan Message, config.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
		config:    config,
	}
}

// Start launches the broadcast loop. It is safe to call more than once.
func (h *Hub) Start() {
	h.start.Do(func() {
		h.wg.Add(1)
		go h.broadcastLoop()
	})
}

// Stop closes every subscriber and waits for the broadcast loop.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for c := range h.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues msg for every subscriber. It never blocks; when the
// queue is full the message is dropped and false is returned.
func (h *Hub) Broadcast(msg Message) bool {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case <-h.ctx.Done():
		return false
	default:
	}

	select {
	case h.broadcast <- msg:
		return true
	default:
		h.config.Logger.Printf("Warning: broadcast queue full, dropping %s message", msg.Type)
		return false
	}
}

// Notify broadcasts committed task actions.
func (h *Hub) Notify(actions []tasks.TaskAction) {
	if len(actions) == 0 {
		return
	}
	h.Broadcast(Message{Type: MessageTypeTaskActions, Actions: actions})
}

// Refresh tells subscribers to reload.
func (h *Hub) Refresh() {
	h.Broadcast(Message{Type: MessageTypeRefresh})
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.config.Logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.clientsMu.RUnlock()

			for _, c := range clients {
				if err := h.write(c, data); err != nil {
					h.config.Logger.Printf("Failed to send to client %s: %v", c.id, err)
					h.removeClient(c)
				}
			}
		}
	}
}

func (h *Hub) write(c *client, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, h.config.WriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// ServeHTTP upgrades the request to a websocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Subscribers are local tools, not browsers on other origins
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.config.Logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}

	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.config.Logger.Printf("Client %s connected (total: %d)", c.id, count)

	hello, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Type:      MessageTypeHello,
		Timestamp: time.Now(),
		ClientID:  c.id,
	})
	if err == nil {
		if err := h.write(c, hello); err != nil {
			h.removeClient(c)
			return
		}
	}

	// Reading is what notices a closed connection
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.removeClient(c)

	for {
		if _, _, err := c.conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(c *client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	h.config.Logger.Printf("Client %s disconnected (total: %d)", c.id, count)
}

// ClientCount returns the current number of subscribers
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

