// Package gateway is the realtime side of goscan: a WebSocket RPC server
// whose clients join scan-session topics and broadcast to each other
// through the message bus.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/bus"
	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// presenceBusEvent carries a PresenceDiff over the bus. Client broadcasts
// may not use names starting with '$'.
const presenceBusEvent = "$presence"

var ErrNotJoined = errors.New("not joined to topic")

// Server owns the connected clients and their topic memberships.
type Server struct {
	bus         *bus.MessageBus
	tokens      *authbridge.TokenIssuer
	router      *MethodRouter
	rateLimiter *RateLimiter
	metrics     *Metrics
	upgrader    websocket.Upgrader

	clients  map[string]*Client
	presence map[string]map[string]protocol.PresenceEvent // topic → client id → presence
	mu       sync.RWMutex

	baseCtx context.Context
}

// NewServer creates a gateway. rl may be nil to disable broadcast rate limiting.
func NewServer(msgBus *bus.MessageBus, tokens *authbridge.TokenIssuer, rl *RateLimiter) *Server {
	s := &Server{
		bus:         msgBus,
		tokens:      tokens,
		rateLimiter: rl,
		metrics:     NewMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices are not browsers; they authenticate with a bearer
			// token in the connect request.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:  make(map[string]*Client),
		presence: make(map[string]map[string]protocol.PresenceEvent),
		baseCtx:  context.Background(),
	}
	s.router = NewMethodRouter(s)
	return s
}

// Router exposes the method router so extra method groups can register.
func (s *Server) Router() *MethodRouter { return s.router }

// Metrics returns the gateway's Prometheus instrumentation.
func (s *Server) Metrics() *Metrics { return s.metrics }

// RateLimiter returns the broadcast rate limiter (may be nil).
func (s *Server) RateLimiter() *RateLimiter { return s.rateLimiter }

// SetBaseContext sets the parent context of every client's handlers.
func (s *Server) SetBaseContext(ctx context.Context) { s.baseCtx = ctx }

// HandleWebSocket upgrades the request and runs the client until it disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s)
	s.register(client)
	defer s.unregister(client)

	slog.Debug("websocket client connected", "client", client.id, "remote", r.RemoteAddr)
	client.Run(s.baseCtx)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown notifies every client and closes its connection.
func (s *Server) Shutdown() {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if frame, err := protocol.NewEvent(protocol.EventShutdown, nil); err == nil {
			c.SendEvent(frame)
		}
		c.Close()
	}
	slog.Info("gateway shut down", "clients", len(clients))
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()
	s.metrics.ConnectedClients.Set(float64(n))
}

func (s *Server) unregister(c *Client) {
	// A dropped connection leaves its topics silently; only an explicit
	// *_disconnected broadcast tells the counterpart.
	for _, topic := range c.joinedTopics() {
		s.Leave(context.Background(), c, topic)
	}

	s.mu.Lock()
	delete(s.clients, c.id)
	n := len(s.clients)
	s.mu.Unlock()
	s.metrics.ConnectedClients.Set(float64(n))

	c.Close()
	slog.Debug("websocket client disconnected", "client", c.id, "user", c.userID)
}

// Join subscribes c to topic and announces its presence. It returns the
// members that were already present on this instance.
func (s *Server) Join(ctx context.Context, c *Client, topic string, p protocol.PresenceEvent) []protocol.PresenceEvent {
	s.mu.Lock()
	members, ok := s.presence[topic]
	if !ok {
		members = make(map[string]protocol.PresenceEvent)
		s.presence[topic] = members
	}
	existing := make([]protocol.PresenceEvent, 0, len(members))
	for id, m := range members {
		if id != c.id {
			existing = append(existing, m)
		}
	}
	members[c.id] = p
	topics := len(s.presence)
	s.mu.Unlock()
	s.metrics.ActiveTopics.Set(float64(topics))

	c.addTopic(topic, p)
	s.bus.Subscribe(topic, c.id, c.deliver)
	s.publishPresence(ctx, c, protocol.PresenceDiff{Topic: topic, Joins: []protocol.PresenceEvent{p}})

	slog.Info("channel joined", "topic", topic, "client", c.id, "role", p.Role, "user", p.UserID)
	return existing
}

// Leave unsubscribes c from topic.
func (s *Server) Leave(ctx context.Context, c *Client, topic string) error {
	p, ok := c.removeTopic(topic)
	if !ok {
		return ErrNotJoined
	}
	s.bus.Unsubscribe(topic, c.id)

	s.mu.Lock()
	if members, ok := s.presence[topic]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(s.presence, topic)
		}
	}
	topics := len(s.presence)
	s.mu.Unlock()
	s.metrics.ActiveTopics.Set(float64(topics))

	s.publishPresence(ctx, c, protocol.PresenceDiff{Topic: topic, Leaves: []protocol.PresenceEvent{p}})
	slog.Info("channel left", "topic", topic, "client", c.id, "role", p.Role)
	return nil
}

// Broadcast publishes an event from c to the other subscribers of topic.
func (s *Server) Broadcast(ctx context.Context, c *Client, topic, event string, payload json.RawMessage) error {
	if !c.Joined(topic) {
		return ErrNotJoined
	}
	if err := s.bus.Publish(ctx, bus.Event{Topic: topic, Name: event, Payload: payload, From: c.id}); err != nil {
		return err
	}
	s.metrics.Broadcasts.WithLabelValues(event).Inc()
	return nil
}

func (s *Server) publishPresence(ctx context.Context, c *Client, diff protocol.PresenceDiff) {
	payload, err := json.Marshal(diff)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, bus.Event{Topic: diff.Topic, Name: presenceBusEvent, Payload: payload, From: c.id}); err != nil {
		slog.Warn("presence publish failed", "topic", diff.Topic, "error", err)
	}
}
