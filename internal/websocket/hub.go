package websocket

import (
	"sync"

	"go.uber.org/zap"
)

// Hub fans events out to all connected WebSocket clients. Every client
// receives every broadcast — dashboards want the whole cluster picture, so
// there is no per-topic routing.
//
// All mutations to the client set (register, unregister) are serialised
// through a single goroutine — the Run loop — via channels. Broadcast
// reads the set under a read-lock and delivers with non-blocking sends,
// so it never waits on a slow client channel while holding the lock.
type Hub struct {
	// clients is the set of connected clients. Keyed by pointer for O(1)
	// register/unregister.
	clients map[*Client]struct{}

	// mu protects clients during Broadcast, which reads the set from
	// outside the Run goroutine. Register and unregister writes happen
	// exclusively inside Run.
	mu sync.RWMutex

	// register receives clients that have just completed the WebSocket
	// upgrade and are ready to receive events.
	register chan *Client

	// unregister receives clients that have disconnected or fallen too
	// far behind on their send buffer.
	unregister chan *Client

	logger *zap.Logger
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		logger:     logger.Named("ws"),
	}
}

// Run starts the hub's event loop. It must be called exactly once, in its
// own goroutine. It exits when ctx is cancelled during graceful shutdown.
//
//	go hub.Run(ctx)
func (h *Hub) Run(ctx interface{ Done() <-chan struct{} }) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", zap.Int("active", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				// Signal the client's writePump to drain and exit.
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.Int("active", count))

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast queues event on every connected client. It is safe to call
// from any goroutine (registry callbacks, handlers, the broadcaster).
// Clients whose send buffer is full are disconnected so a slow consumer
// cannot stall the rest.
func (h *Hub) Broadcast(event Event) {
	// Sends happen under the read-lock: client.send is only ever closed
	// by Run while holding the write-lock, so a channel seen here cannot
	// be closed mid-send. The sends are non-blocking, so the lock is
	// never held waiting on a full buffer.
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// Queued after releasing the lock: Run needs the write-lock to
	// process an unregister.
	for _, c := range slow {
		h.unregister <- c
	}
}

// Subscribe registers client with the hub. Called by the upgrade handler
// after the client is initialised.
func (h *Hub) Subscribe(client *Client) {
	h.register <- client
}

// Unsubscribe removes client from the hub. Called by the client's
// readPump when the connection closes.
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister <- client
}

// ConnectedCount returns the current number of connected clients.
// The broadcaster uses it to skip snapshot work with nobody listening.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
