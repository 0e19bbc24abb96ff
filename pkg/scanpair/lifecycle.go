package scanpair

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// State is a session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateError      State = "error"
	StateEnded      State = "ended"
)

// Terminal reports whether s is error or ended.
func (s State) Terminal() bool {
	return s == StateError || s == StateEnded
}

// TransitionHook runs after a state change, outside the lifecycle lock.
type TransitionHook func(from, to State, err error)

// Lifecycle is the single source of truth for one device's pairing state.
// Every transition goes through it; nothing else flips readiness flags.
type Lifecycle struct {
	role protocol.Role
	hook TransitionHook

	mu         sync.Mutex
	state      State
	err        error
	subscribed bool
	readySent  bool
	peerSeen   bool
	changed    chan struct{}
}

// NewLifecycle creates an idle lifecycle for role. hook may be nil.
func NewLifecycle(role protocol.Role, hook TransitionHook) *Lifecycle {
	return &Lifecycle{
		role:    role,
		hook:    hook,
		state:   StateIdle,
		changed: make(chan struct{}),
	}
}

func (l *Lifecycle) Role() protocol.Role { return l.role }

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error that drove the lifecycle into StateError.
func (l *Lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Begin moves idle to connecting.
func (l *Lifecycle) Begin() error {
	l.mu.Lock()
	if l.state != StateIdle {
		defer l.mu.Unlock()
		return l.invalid(StateConnecting)
	}
	l.subscribed, l.readySent, l.peerSeen = false, false, false
	l.err = nil
	from := l.set(StateConnecting, nil)
	l.mu.Unlock()
	l.fire(from, StateConnecting, nil)
	return nil
}

// Subscribed records a successful channel subscription. sendReady is true
// exactly once per session: the caller must then broadcast its readiness.
// A peer readiness seen before the subscription completed connects now.
func (l *Lifecycle) Subscribed() (sendReady bool, err error) {
	l.mu.Lock()
	if l.state != StateConnecting {
		defer l.mu.Unlock()
		return false, l.invalid(StateConnecting)
	}
	l.subscribed = true
	if !l.readySent {
		l.readySent = true
		sendReady = true
	}
	if !l.peerSeen {
		l.mu.Unlock()
		return sendReady, nil
	}
	from := l.set(StateConnected, nil)
	l.mu.Unlock()
	l.fire(from, StateConnected, nil)
	return sendReady, nil
}

// PeerReady handles the counterpart's readiness broadcast. reply is true when
// the caller must answer with its own readiness (marked Reply). Duplicates,
// readiness from the wrong role and readiness after a terminal state are
// ignored.
func (l *Lifecycle) PeerReady(p protocol.ReadyPayload) (reply bool, err error) {
	if p.Role != l.role.Counterpart() {
		return false, nil
	}
	l.mu.Lock()
	switch l.state {
	case StateConnecting:
	case StateIdle:
		defer l.mu.Unlock()
		return false, l.invalid(StateConnected)
	default:
		l.mu.Unlock()
		return false, nil
	}
	if !l.subscribed {
		// our own readiness goes out on Subscribed and serves as the answer
		l.peerSeen = true
		l.mu.Unlock()
		return false, nil
	}
	from := l.set(StateConnected, nil)
	l.mu.Unlock()
	l.fire(from, StateConnected, nil)
	return !p.Reply, nil
}

// Complete ends a connected session locally.
func (l *Lifecycle) Complete() error {
	return l.transition(StateEnded, nil, StateConnected)
}

// PeerCompleted ends the session because the counterpart signalled completion.
func (l *Lifecycle) PeerCompleted() error {
	return l.transition(StateEnded, nil, StateConnecting, StateConnected)
}

// PeerDisconnected moves a live session to error. It is a no-op once the
// session already reached a terminal state.
func (l *Lifecycle) PeerDisconnected() error {
	if err := l.transition(StateError, ErrPeerDisconnected, StateConnecting, StateConnected); err != nil && l.State() == StateIdle {
		return err
	}
	return nil
}

// Fail moves a live session to error with cause. No-op when terminal.
func (l *Lifecycle) Fail(cause error) error {
	if err := l.transition(StateError, cause, StateConnecting, StateConnected); err != nil && l.State() == StateIdle {
		return err
	}
	return nil
}

// Cancel ends any live session. No-op when idle or terminal.
func (l *Lifecycle) Cancel() {
	_ = l.transition(StateEnded, nil, StateConnecting, StateConnected)
}

// Reset returns a terminal lifecycle to idle.
func (l *Lifecycle) Reset() error {
	return l.transition(StateIdle, nil, StateError, StateEnded)
}

// Wait blocks until the lifecycle is in one of states or ctx is done.
func (l *Lifecycle) Wait(ctx context.Context, states ...State) (State, error) {
	for {
		l.mu.Lock()
		cur, ch := l.state, l.changed
		l.mu.Unlock()
		for _, s := range states {
			if cur == s {
				return cur, nil
			}
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

func (l *Lifecycle) transition(to State, cause error, allowed ...State) error {
	l.mu.Lock()
	ok := false
	for _, s := range allowed {
		if l.state == s {
			ok = true
			break
		}
	}
	if !ok {
		defer l.mu.Unlock()
		return l.invalid(to)
	}
	from := l.set(to, cause)
	l.mu.Unlock()
	l.fire(from, to, cause)
	return nil
}

// set must be called with mu held.
func (l *Lifecycle) set(to State, cause error) State {
	from := l.state
	l.state = to
	if to == StateError {
		l.err = cause
	} else if to == StateIdle {
		l.err = nil
	}
	close(l.changed)
	l.changed = make(chan struct{})
	return from
}

func (l *Lifecycle) fire(from, to State, cause error) {
	if l.hook != nil {
		l.hook(from, to, cause)
	}
}

// invalid must be called with mu held.
func (l *Lifecycle) invalid(to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, to)
}
