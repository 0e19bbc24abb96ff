package scanpair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// Handler receives the channel's inbound broadcasts, one at a time, in
// arrival order. It may call Send.
type Handler func(event string, payload json.RawMessage)

// PresenceHandler receives presence joins and leaves for the topic.
type PresenceHandler func(diff protocol.PresenceDiff)

// Channel is one device's subscription to a scan session's pairing topic.
type Channel struct {
	conn       *Conn
	topic      string
	onEvent    Handler
	onPresence PresenceHandler

	mu         sync.Mutex
	subscribed bool
	queue      []inbound
	wake       chan struct{}
	stop       chan struct{}
}

type inbound struct {
	env  *protocol.BroadcastEnvelope
	diff *protocol.PresenceDiff
}

// NewChannel binds a channel for scanSessionID to conn. onPresence may be nil.
func NewChannel(conn *Conn, scanSessionID string, onEvent Handler, onPresence PresenceHandler) *Channel {
	return &Channel{
		conn:       conn,
		topic:      protocol.TopicForSession(scanSessionID),
		onEvent:    onEvent,
		onPresence: onPresence,
	}
}

func (ch *Channel) Topic() string { return ch.topic }

func (ch *Channel) Subscribed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.subscribed
}

// Subscribe joins the topic and returns the members already present.
// Events arriving while the join is in flight are kept.
func (ch *Channel) Subscribe(ctx context.Context, p protocol.PresenceEvent) ([]protocol.PresenceEvent, error) {
	ch.mu.Lock()
	if ch.subscribed {
		ch.mu.Unlock()
		return nil, nil
	}
	ch.wake = make(chan struct{}, 1)
	ch.stop = make(chan struct{})
	ch.queue = nil
	wake, stop := ch.wake, ch.stop
	ch.mu.Unlock()

	ch.conn.listen(ch.topic, ch)
	go ch.run(wake, stop)

	var result struct {
		Presence []protocol.PresenceEvent `json:"presence"`
	}
	if err := ch.conn.Call(ctx, protocol.MethodChannelJoin, protocol.JoinParams{Topic: ch.topic, Presence: p}, &result); err != nil {
		ch.conn.unlisten(ch.topic)
		close(stop)
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	ch.mu.Lock()
	ch.subscribed = true
	ch.mu.Unlock()
	return result.Presence, nil
}

// Send broadcasts event to the other subscribers of the topic.
func (ch *Channel) Send(ctx context.Context, event string, payload any) error {
	if !ch.Subscribed() {
		return ErrNotSubscribed
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return ch.conn.Call(ctx, protocol.MethodChannelBroadcast, protocol.BroadcastEnvelope{
		Topic:   ch.topic,
		Event:   event,
		Payload: raw,
	}, nil)
}

// Unsubscribe leaves the topic and stops event delivery. Safe to call when
// not subscribed.
func (ch *Channel) Unsubscribe(ctx context.Context) error {
	stop, ok := ch.release()
	if !ok {
		return nil
	}
	return ch.leave(ctx, stop)
}

// UnsubscribeWith releases the channel and sends one last event before
// leaving. Once it starts, Subscribed reports false, so late sends from
// other goroutines are dropped.
func (ch *Channel) UnsubscribeWith(ctx context.Context, event string, payload any) error {
	stop, ok := ch.release()
	if !ok {
		return nil
	}
	if raw, err := json.Marshal(payload); err == nil {
		if err := ch.conn.Call(ctx, protocol.MethodChannelBroadcast, protocol.BroadcastEnvelope{
			Topic:   ch.topic,
			Event:   event,
			Payload: raw,
		}, nil); err != nil {
			slog.Debug("farewell broadcast failed", "topic", ch.topic, "event", event, "error", err)
		}
	}
	return ch.leave(ctx, stop)
}

func (ch *Channel) release() (chan struct{}, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.subscribed {
		return nil, false
	}
	ch.subscribed = false
	return ch.stop, true
}

func (ch *Channel) leave(ctx context.Context, stop chan struct{}) error {
	ch.conn.unlisten(ch.topic)
	close(stop)

	err := ch.conn.Call(ctx, protocol.MethodChannelLeave, protocol.LeaveParams{Topic: ch.topic}, nil)
	var shape *protocol.ErrorShape
	if errors.As(err, &shape) && shape.Code == protocol.ErrNotSubscribed {
		return nil
	}
	if errors.Is(err, ErrConnClosed) {
		return nil
	}
	return err
}

func (ch *Channel) broadcast(env protocol.BroadcastEnvelope) {
	ch.push(inbound{env: &env})
}

func (ch *Channel) presence(diff protocol.PresenceDiff) {
	ch.push(inbound{diff: &diff})
}

func (ch *Channel) push(in inbound) {
	ch.mu.Lock()
	ch.queue = append(ch.queue, in)
	wake := ch.wake
	ch.mu.Unlock()
	select {
	case wake <- struct{}{}:
	default:
	}
}

// run delivers queued events off the connection's read goroutine so a
// handler can make RPC calls of its own.
func (ch *Channel) run(wake, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-wake:
		}
		for {
			ch.mu.Lock()
			if len(ch.queue) == 0 {
				ch.mu.Unlock()
				break
			}
			in := ch.queue[0]
			ch.queue = ch.queue[1:]
			ch.mu.Unlock()

			select {
			case <-stop:
				return
			default:
			}
			switch {
			case in.env != nil && ch.onEvent != nil:
				ch.onEvent(in.env.Event, in.env.Payload)
			case in.diff != nil && ch.onPresence != nil:
				ch.onPresence(*in.diff)
			}
		}
	}
}
