package scanpair

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"http://localhost:18790", "ws://localhost:18790/ws", false},
		{"https://scan.example.com/", "wss://scan.example.com/ws", false},
		{"https://example.com/goscan", "wss://example.com/goscan/ws", false},
		{"ftp://example.com", "", true},
	}
	for _, tt := range tests {
		got, err := WebSocketURL(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("WebSocketURL(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestDial_RejectsBadToken(t *testing.T) {
	g := newTestGateway(t)
	_, err := Dial(testContext(t), g.url, "garbage")
	var shape *protocol.ErrorShape
	if !errors.As(err, &shape) || shape.Code != protocol.ErrUnauthorized {
		t.Errorf("Dial err = %v", err)
	}
}

func TestChannel_SubscribeForeignSession(t *testing.T) {
	g := newTestGateway(t)
	ctx := testContext(t)
	sess, _ := g.api.WithToken(g.signIn(t, "owner")).CreateScanSession(ctx)

	conn := g.dial(t, g.signIn(t, "stranger"))
	ch := NewChannel(conn, sess.ID, nil, nil)
	_, err := ch.Subscribe(ctx, protocol.PresenceEvent{Role: protocol.RoleMobile})
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Fatalf("Subscribe err = %v", err)
	}
	var shape *protocol.ErrorShape
	if !errors.As(err, &shape) || shape.Code != protocol.ErrForbidden {
		t.Errorf("Subscribe err = %v, want FORBIDDEN", err)
	}
	if ch.Subscribed() {
		t.Error("failed subscribe left the channel subscribed")
	}
	if err := ch.Send(ctx, "ping", nil); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("Send err = %v", err)
	}
}

func TestChannel_PresenceAndOrder(t *testing.T) {
	g := newTestGateway(t)
	ctx := testContext(t)
	access := g.signIn(t, "u1")
	sess, _ := g.api.WithToken(access).CreateScanSession(ctx)

	joins := make(chan protocol.PresenceEvent, 4)
	got := make(chan string, 16)
	a := NewChannel(g.dial(t, access), sess.ID,
		func(event string, _ json.RawMessage) { got <- event },
		func(diff protocol.PresenceDiff) {
			for _, j := range diff.Joins {
				joins <- j
			}
		})
	if _, err := a.Subscribe(ctx, protocol.PresenceEvent{Role: protocol.RoleDesktop}); err != nil {
		t.Fatal(err)
	}

	b := NewChannel(g.dial(t, access), sess.ID, nil, nil)
	members, err := b.Subscribe(ctx, protocol.PresenceEvent{Role: protocol.RoleMobile})
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0].Role != protocol.RoleDesktop || members[0].UserID != "u1" {
		t.Errorf("members = %+v", members)
	}
	select {
	case j := <-joins:
		if j.Role != protocol.RoleMobile {
			t.Errorf("join = %+v", j)
		}
	case <-ctx.Done():
		t.Fatal("no presence join")
	}

	want := []string{"e1", "e2", "e3", "e4"}
	for _, ev := range want {
		if err := b.Send(ctx, ev, map[string]int{"n": 1}); err != nil {
			t.Fatal(err)
		}
	}
	for _, ev := range want {
		select {
		case e := <-got:
			if e != ev {
				t.Fatalf("received %s, want %s", e, ev)
			}
		case <-ctx.Done():
			t.Fatalf("missing %s", ev)
		}
	}

	if err := b.Unsubscribe(ctx); err != nil {
		t.Errorf("Unsubscribe: %v", err)
	}
	if err := b.Unsubscribe(ctx); err != nil {
		t.Errorf("second Unsubscribe: %v", err)
	}
}
