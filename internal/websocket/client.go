package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voicegrid/voicegrid/internal/types"
)

const (
	// writeWait is the maximum time allowed to write an event to the peer.
	// If the write does not complete within this window the connection is
	// closed — this prevents a stalled client from blocking the writePump.
	writeWait = 10 * time.Second

	// pingInterval is how long the connection may sit idle before the
	// server sends a JSON-level ping event. Reset whenever an event goes
	// out, so active connections are never pinged.
	pingInterval = 30 * time.Second

	// maxMessageSize is the maximum size in bytes accepted from the
	// client. Clients only send small control messages.
	maxMessageSize = 512

	// sendBufferSize is the capacity of the per-client event channel.
	// If the buffer fills up the client is considered too slow and is
	// disconnected by Broadcast to prevent backpressure on the rest.
	sendBufferSize = 32
)

// upgrader performs the HTTP → WebSocket protocol upgrade.
// CheckOrigin always returns true — origin validation is the responsibility
// of the reverse proxy in production deployments.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusFunc supplies the current cluster snapshot for the initial push
// and for get_status requests.
type StatusFunc func() types.SystemStatus

// Client represents a single connected WebSocket peer. Each client runs
// two goroutines: readPump (handles the client's JSON control messages and
// detects disconnection) and writePump (serialises outgoing events onto
// the wire).
//
// The send channel is the handoff point between the hub's Broadcast calls
// and the writePump. It is closed by the hub when the client is
// unregistered, which causes writePump to drain and exit cleanly.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// send is the outbound event buffer. The hub and readPump write here;
	// writePump reads from here and forwards to the wire.
	send chan Event

	status StatusFunc
	logger *zap.Logger
}

// NewClient upgrades the HTTP connection to WebSocket and wraps it in a
// Client. Returns an error if the upgrade fails (e.g. the request is not
// a valid WebSocket handshake).
func NewClient(hub *Hub, w http.ResponseWriter, r *http.Request, status StatusFunc, logger *zap.Logger) (*Client, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan Event, sendBufferSize),
		status: status,
		logger: logger.With(zap.String("remote_addr", r.RemoteAddr)),
	}
	return c, nil
}

// Run registers the client with the hub, pushes the initial status
// snapshot, and starts the read and write pumps. It blocks until the
// connection closes.
func (c *Client) Run() {
	c.hub.Subscribe(c)
	c.send <- NewEvent(EventSystemStatus, c.status())

	// writePump runs in a separate goroutine because it blocks on the
	// send channel and the wire write. readPump runs on this goroutine.
	go c.writePump()
	c.readPump()
}

// controlMessage is the client→server protocol: ping and get_status.
type controlMessage struct {
	Type string `json:"type"`
}

// readPump handles incoming JSON control messages: a ping is answered with
// a pong, get_status with a personal status snapshot. Malformed JSON is
// logged and ignored. When the loop exits (connection closed or error),
// the client is unregistered from the hub so resources are freed.
//
// There is no read deadline: a quiet dashboard is still a valid client,
// and dead connections surface as write failures in writePump since the
// broadcaster pushes snapshots continuously.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("ws: unexpected close", zap.Error(err))
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ws: invalid json from client", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "ping":
			c.enqueue(Event{Type: EventPong})
		case "get_status":
			c.enqueue(NewEvent(EventSystemStatus, c.status()))
		}
	}
}

// enqueue queues an event for the writePump without blocking readPump.
// Dropping is fine here — the client is behind and will be disconnected
// by the hub on the next broadcast anyway.
func (c *Client) enqueue(event Event) {
	select {
	case c.send <- event:
	default:
	}
}

// writePump forwards events from the send channel to the WebSocket wire,
// and sends a JSON ping event after pingInterval of idle time so the peer
// can tell the connection is alive.
//
// writePump is the only goroutine that writes to conn — gorilla/websocket
// connections are not safe for concurrent writes.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ws: failed to set write deadline", zap.Error(err))
				return
			}

			if !ok {
				// The hub closed the channel — send a close frame and exit.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Warn("ws: write error", zap.Error(err))
				return
			}
			ticker.Reset(pingInterval)

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("ws: failed to set write deadline", zap.Error(err))
				return
			}
			if err := c.conn.WriteJSON(Event{Type: EventPing}); err != nil {
				c.logger.Warn("ws: ping error", zap.Error(err))
				return
			}
		}
	}
}
