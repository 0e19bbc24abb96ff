package bus

import (
	"context"
	"sync"
	"testing"
)

func TestPublish_SkipsSender(t *testing.T) {
	mb := New()
	var got []string
	var mu sync.Mutex
	record := func(id string) EventHandler {
		return func(ev Event) {
			mu.Lock()
			got = append(got, id+":"+ev.Name)
			mu.Unlock()
		}
	}
	mb.Subscribe("scan-session-1", "a", record("a"))
	mb.Subscribe("scan-session-1", "b", record("b"))
	mb.Subscribe("scan-session-2", "c", record("c"))

	if err := mb.Publish(context.Background(), Event{Topic: "scan-session-1", Name: "mobile_ready", From: "a"}); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 || got[0] != "b:mobile_ready" {
		t.Errorf("got %v, want [b:mobile_ready]", got)
	}
}

func TestPublish_LateSubscriberMissesEarlierEvents(t *testing.T) {
	mb := New()
	mb.Publish(context.Background(), Event{Topic: "t", Name: "desktop_ready", From: "desk"})

	var n int
	mb.Subscribe("t", "mob", func(Event) { n++ })
	if n != 0 {
		t.Errorf("late subscriber received %d buffered events", n)
	}

	mb.Publish(context.Background(), Event{Topic: "t", Name: "desktop_ready", From: "desk"})
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestUnsubscribe(t *testing.T) {
	mb := New()
	mb.Subscribe("t", "a", func(Event) {})
	if !mb.IsSubscribed("t", "a") {
		t.Fatal("expected subscribed")
	}
	if !mb.Unsubscribe("t", "a") {
		t.Error("Unsubscribe returned false")
	}
	if mb.Unsubscribe("t", "a") {
		t.Error("second Unsubscribe returned true")
	}
	if mb.SubscriberCount("t") != 0 {
		t.Error("topic not cleaned up")
	}
}

type captureRelay struct {
	published []Event
}

func (r *captureRelay) Publish(_ context.Context, ev Event) error {
	r.published = append(r.published, ev)
	return nil
}
func (r *captureRelay) Run(context.Context, func(Event)) error { return nil }
func (r *captureRelay) Close() error                          { return nil }

func TestPublish_ThroughRelay(t *testing.T) {
	mb := New()
	relay := &captureRelay{}
	mb.SetRelay(relay)

	var n int
	mb.Subscribe("t", "b", func(Event) { n++ })
	mb.Publish(context.Background(), Event{Topic: "t", Name: "x", From: "a"})

	if n != 0 {
		t.Error("relay mode must not deliver locally before the relay echoes")
	}
	if len(relay.published) != 1 {
		t.Fatalf("relay got %d events", len(relay.published))
	}
	mb.Deliver(relay.published[0])
	if n != 1 {
		t.Errorf("n = %d after Deliver", n)
	}
}
