package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goscan/internal/bus"
	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// Client represents a single WebSocket connection.
type Client struct {
	id            string
	conn          *websocket.Conn
	server        *Server
	authenticated bool
	userID        string // set during connect from the access token
	send          chan []byte
	seq           int64
	closed        bool
	topics        map[string]protocol.PresenceEvent // joined topic → presence sent on join
	mu            sync.Mutex
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, 256),
		topics: make(map[string]protocol.PresenceEvent),
	}
}

// Run starts the read and write pumps for this client.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

// maxWSMessageSize is the maximum allowed WebSocket message size (512KB).
// Gorilla/websocket closes the connection with ErrReadLimit if exceeded.
// Images never travel over the socket, only references.
const maxWSMessageSize = 512 * 1024

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// readPump reads frames from the WebSocket connection.
func (c *Client) readPump(ctx context.Context) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		// Reset read deadline on activity
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		c.handleFrame(ctx, data)
	}
}

// writePump writes frames and pings to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame parses and dispatches a single frame.
func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.sendError("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error())
		return
	}

	switch frameType {
	case protocol.FrameTypeRequest:
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendError("", protocol.ErrInvalidRequest, "malformed request: "+err.Error())
			return
		}

		// First request must be "connect"; health is allowed for probes.
		if !c.authenticated && req.Method != protocol.MethodConnect && req.Method != protocol.MethodHealth {
			c.sendError(req.ID, protocol.ErrUnauthorized, "first request must be 'connect'")
			return
		}

		c.server.router.Handle(ctx, c, &req)

	default:
		c.sendError("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType)
	}
}

// SendResponse sends a response frame to this client.
func (c *Client) SendResponse(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response failed", "error", err)
		return
	}
	if !c.enqueue(data) {
		slog.Warn("client send buffer full, dropping message", "client", c.id)
	}
}

// SendEvent sends an event frame to this client, stamping the per-connection
// sequence number.
func (c *Client) SendEvent(event *protocol.EventFrame) {
	c.mu.Lock()
	c.seq++
	event.Seq = c.seq
	c.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal event failed", "error", err)
		return
	}
	if !c.enqueue(data) {
		slog.Warn("client send buffer full, dropping event", "client", c.id, "event", event.Event)
	}
}

// enqueue never blocks: a slow client loses frames rather than stalling the
// publisher.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		c.server.metrics.Dropped.Inc()
		return false
	}
}

// deliver is the bus handler for every topic this client joined.
func (c *Client) deliver(ev bus.Event) {
	var (
		frame *protocol.EventFrame
		err   error
	)
	if ev.Name == presenceBusEvent {
		frame, err = protocol.NewEvent(protocol.EventPresence, ev.Payload)
	} else {
		frame, err = protocol.NewEvent(protocol.EventBroadcast, protocol.BroadcastEnvelope{
			Topic:   ev.Topic,
			Event:   ev.Name,
			Payload: ev.Payload,
			From:    ev.From,
		})
	}
	if err != nil {
		slog.Error("build event frame failed", "client", c.id, "error", err)
		return
	}
	c.SendEvent(frame)
}

func (c *Client) sendError(id, code, message string) {
	c.SendResponse(protocol.NewErrorResponse(id, code, message))
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// UserID returns the user ID taken from the access token during connect.
func (c *Client) UserID() string { return c.userID }

// Authenticate marks the client as connected for userID.
func (c *Client) Authenticate(userID string) {
	c.authenticated = true
	c.userID = userID
}

// Joined reports whether the client is subscribed to topic.
func (c *Client) Joined(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Client) addTopic(topic string, p protocol.PresenceEvent) {
	c.mu.Lock()
	c.topics[topic] = p
	c.mu.Unlock()
}

func (c *Client) removeTopic(topic string) (protocol.PresenceEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.topics[topic]
	delete(c.topics, topic)
	return p, ok
}

func (c *Client) joinedTopics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// Close shuts down the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
