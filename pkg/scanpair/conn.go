// Package scanpair is the device side of a scan session: the pairing
// channel client, the phone's auth handoff, camera capture, image relay and
// the lifecycle that ties them together for the desktop and mobile roles.
package scanpair

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

const (
	writeWait        = 10 * time.Second
	maxInboundFrame  = 512 * 1024
	closeGracePeriod = time.Second
)

// topicListener receives the events routed to one topic.
type topicListener interface {
	broadcast(env protocol.BroadcastEnvelope)
	presence(diff protocol.PresenceDiff)
}

// Conn is an authenticated RPC connection to the gateway WebSocket.
type Conn struct {
	ws       *websocket.Conn
	userID   string
	clientID string

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu        sync.Mutex
	pending   map[string]chan *protocol.ResponseFrame
	listeners map[string]topicListener

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// WebSocketURL maps a gateway base URL (http or https) to its /ws endpoint.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Dial opens the gateway WebSocket and authenticates with accessToken.
func Dial(ctx context.Context, serverURL, accessToken string) (*Conn, error) {
	wsURL, err := WebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	ws.SetReadLimit(maxInboundFrame)

	c := &Conn{
		ws:        ws,
		pending:   make(map[string]chan *protocol.ResponseFrame),
		listeners: make(map[string]topicListener),
		done:      make(chan struct{}),
	}
	go c.readLoop()

	var result protocol.ConnectResult
	if err := c.Call(ctx, protocol.MethodConnect, protocol.ConnectParams{
		Token:    accessToken,
		Protocol: protocol.ProtocolVersion,
	}, &result); err != nil {
		c.Close()
		return nil, fmt.Errorf("gateway connect: %w", err)
	}
	c.userID = result.UserID
	c.clientID = result.ClientID
	slog.Debug("gateway connected", "client", c.clientID, "user", c.userID)
	return c, nil
}

// UserID is the identity the gateway authenticated.
func (c *Conn) UserID() string { return c.userID }

func (c *Conn) ClientID() string { return c.clientID }

// Done is closed when the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection closed.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Call sends a request and waits for its response. A failed response is
// returned as *protocol.ErrorShape. out may be nil.
func (c *Conn) Call(ctx context.Context, method string, params, out any) error {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	ch := make(chan *protocol.ResponseFrame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			if resp.Error == nil {
				return &protocol.ErrorShape{Code: protocol.ErrInternal, Message: "empty error"}
			}
			return resp.Error
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Conn) listen(topic string, l topicListener) {
	c.mu.Lock()
	c.listeners[topic] = l
	c.mu.Unlock()
}

func (c *Conn) unlisten(topic string) {
	c.mu.Lock()
	delete(c.listeners, topic)
	c.mu.Unlock()
}

func (c *Conn) listener(topic string) topicListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listeners[topic]
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("gateway connection lost", "error", err)
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrConnClosed, err))
			return
		}

		typ, err := protocol.ParseFrameType(data)
		if err != nil {
			slog.Debug("unparseable gateway frame", "error", err)
			continue
		}
		switch typ {
		case protocol.FrameTypeResponse:
			var resp protocol.ResponseFrame
			if err := json.Unmarshal(data, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch := c.pending[resp.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- &resp
			}
		case protocol.FrameTypeEvent:
			var ev protocol.EventFrame
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			c.dispatch(ev)
		}
	}
}

func (c *Conn) dispatch(ev protocol.EventFrame) {
	switch ev.Event {
	case protocol.EventBroadcast:
		var env protocol.BroadcastEnvelope
		if err := json.Unmarshal(ev.Payload, &env); err != nil {
			return
		}
		if l := c.listener(env.Topic); l != nil {
			l.broadcast(env)
		}
	case protocol.EventPresence:
		var diff protocol.PresenceDiff
		if err := json.Unmarshal(ev.Payload, &diff); err != nil {
			return
		}
		if l := c.listener(diff.Topic); l != nil {
			l.presence(diff)
		}
	case protocol.EventShutdown:
		slog.Info("gateway shutting down")
	}
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	c.writeMu.Unlock()
	c.shutdown(ErrConnClosed)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
		c.ws.Close()
	})
}
