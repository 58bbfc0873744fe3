package ws

import (
	"log/slog"
	"sync"

	"nhooyr.io/websocket"
)

// LatestFunc returns the most recent analysis result as JSON, or nil when
// nothing has been analysed yet.
type LatestFunc func() ([]byte, error)

type event struct {
	typ  MessageType
	data []byte
}

// Hub fans analysis events out to every connected client.
type Hub struct {
	clients    map[*Client]bool
	events     chan event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	logger     *slog.Logger
	mu         sync.RWMutex
	latest     LatestFunc
}

// Client is one WebSocket connection and the events it subscribed to.
type Client struct {
	hub  *Hub
	send chan []byte
	conn *websocket.Conn

	// ready is closed once the hub has registered the client.
	ready chan struct{}

	mu     sync.Mutex
	topics map[MessageType]bool
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		events:     make(chan event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetLatest sets the function used to greet new clients and answer sync
// requests.
func (h *Hub) SetLatest(fn LatestFunc) {
	h.latest = fn
}

// Run starts the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			if c.ready != nil {
				close(c.ready)
			}
			h.logger.Debug("websocket client connected", "clients", h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())

		case ev := <-h.events:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(ev.typ) {
					continue
				}
				select {
				case c.send <- ev.data:
				default:
					h.logger.Warn("dropping slow websocket client", "event", ev.typ)
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends the event loop and disconnects all clients.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish broadcasts payload under the given message type to every client
// subscribed to it.
func (h *Hub) Publish(typ MessageType, payload any) {
	data, err := NewMessage(typ, payload)
	if err != nil {
		h.logger.Error("failed to encode websocket message", "type", typ, "error", err)
		return
	}
	select {
	case h.events <- event{typ: typ, data: data}:
	case <-h.done:
	}
}

// BroadcastError sends an error event to all clients.
func (h *Hub) BroadcastError(errMsg string) {
	h.Publish(MsgError, map[string]string{"message": errMsg})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// subscribe replaces the client's topics. Errors are always delivered.
func (c *Client) subscribe(types []MessageType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(types) == 0 {
		c.topics = nil
		return
	}
	c.topics = map[MessageType]bool{MsgError: true}
	for _, t := range types {
		c.topics[t] = true
	}
}

func (c *Client) wants(typ MessageType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics == nil || c.topics[typ]
}
