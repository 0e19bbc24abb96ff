// Package bus is the gateway's topic-scoped publish/subscribe fabric.
//
// Delivery is fire-and-forget and at-most-once: a subscriber only sees events
// published after its Subscribe returned, and nothing is buffered for late
// joiners. Handlers run on the publisher's goroutine and must not block.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is one message published on a topic.
type Event struct {
	Topic   string          `json:"topic"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"` // publisher subscriber id; not echoed back to it
}

// EventHandler receives events for one subscription.
type EventHandler func(Event)

// Relay forwards published events to other gateway instances. Deliver must be
// called for every event the relay receives, including ones this instance
// published.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
	Run(ctx context.Context, deliver func(Event)) error
	Close() error
}

// MessageBus routes events to topic subscribers.
type MessageBus struct {
	// topic → subscriber id → handler
	topics map[string]map[string]EventHandler
	mu     sync.RWMutex

	relay Relay
}

func New() *MessageBus {
	return &MessageBus{
		topics: make(map[string]map[string]EventHandler),
	}
}

// SetRelay routes all publishes through r. Call Run on the relay afterwards
// so events come back through Deliver.
func (mb *MessageBus) SetRelay(r Relay) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.relay = r
}

// Subscribe registers handler for topic under subscriber id. Re-subscribing
// the same id replaces the handler.
func (mb *MessageBus) Subscribe(topic, id string, handler EventHandler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	subs, ok := mb.topics[topic]
	if !ok {
		subs = make(map[string]EventHandler)
		mb.topics[topic] = subs
	}
	subs[id] = handler
}

// Unsubscribe removes id from topic. Reports whether it was subscribed.
func (mb *MessageBus) Unsubscribe(topic, id string) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	subs, ok := mb.topics[topic]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(mb.topics, topic)
	}
	return true
}

// IsSubscribed reports whether id currently receives events for topic.
func (mb *MessageBus) IsSubscribed(topic, id string) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	_, ok := mb.topics[topic][id]
	return ok
}

// SubscriberCount returns the number of local subscribers of topic.
func (mb *MessageBus) SubscriberCount(topic string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.topics[topic])
}

// Publish sends ev to every subscriber of ev.Topic except ev.From. With a
// relay configured the event is handed to the relay instead and delivered
// when it comes back.
func (mb *MessageBus) Publish(ctx context.Context, ev Event) error {
	mb.mu.RLock()
	relay := mb.relay
	mb.mu.RUnlock()

	if relay != nil {
		return relay.Publish(ctx, ev)
	}
	mb.Deliver(ev)
	return nil
}

// Deliver fans ev out to local subscribers.
func (mb *MessageBus) Deliver(ev Event) {
	mb.mu.RLock()
	subs := mb.topics[ev.Topic]
	handlers := make([]EventHandler, 0, len(subs))
	for id, h := range subs {
		if id == ev.From {
			continue
		}
		handlers = append(handlers, h)
	}
	mb.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("bus: no subscribers", "topic", ev.Topic, "event", ev.Name)
		return
	}
	for _, h := range handlers {
		h(ev)
	}
}

// Close shuts down the relay, if any.
func (mb *MessageBus) Close() error {
	mb.mu.Lock()
	relay := mb.relay
	mb.relay = nil
	mb.mu.Unlock()
	if relay != nil {
		return relay.Close()
	}
	return nil
}
