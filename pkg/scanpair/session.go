package scanpair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

const (
	handlerTimeout  = 5 * time.Second
	farewellTimeout = 2 * time.Second
)

// pairing is the channel and lifecycle plumbing both roles share.
type pairing struct {
	role protocol.Role
	conn *Conn
	lc   *Lifecycle

	mu      sync.Mutex
	channel *Channel
	// onTerminal runs once the lifecycle enters error or ended.
	onTerminal func()
}

func newPairing(role protocol.Role, conn *Conn) *pairing {
	p := &pairing{role: role, conn: conn}
	p.lc = NewLifecycle(role, p.transition)
	return p
}

func (p *pairing) transition(from, to State, err error) {
	if err != nil {
		slog.Info("scan session state", "role", p.role, "from", from, "to", to, "error", err)
	} else {
		slog.Info("scan session state", "role", p.role, "from", from, "to", to)
	}
	if !to.Terminal() {
		return
	}
	if p.onTerminal != nil {
		p.onTerminal()
	}
	if ch := p.currentChannel(); ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), farewellTimeout)
		defer cancel()
		if err := ch.Unsubscribe(ctx); err != nil {
			slog.Debug("channel release failed", "topic", ch.Topic(), "error", err)
		}
	}
}

func (p *pairing) currentChannel() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

// join begins the lifecycle, subscribes to the session topic and sends the
// first readiness broadcast.
func (p *pairing) join(ctx context.Context, sessionID string, onEvent Handler, onPresence PresenceHandler) error {
	if p.lc.State().Terminal() {
		p.lc.Reset()
	}
	if err := p.lc.Begin(); err != nil {
		return err
	}

	ch := NewChannel(p.conn, sessionID, onEvent, onPresence)
	p.mu.Lock()
	p.channel = ch
	p.mu.Unlock()

	if _, err := ch.Subscribe(ctx, protocol.PresenceEvent{Role: p.role, UserID: p.conn.UserID()}); err != nil {
		p.lc.Fail(err)
		return err
	}
	sendReady, err := p.lc.Subscribed()
	if err != nil {
		return err
	}
	if sendReady {
		if err := ch.Send(ctx, p.role.ReadyEvent(), protocol.ReadyPayload{Role: p.role, UserID: p.conn.UserID()}); err != nil {
			p.lc.Fail(fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
			return err
		}
	}
	return nil
}

// handleCommon processes the events both roles react to the same way. It
// reports whether event was consumed.
func (p *pairing) handleCommon(event string, payload json.RawMessage) bool {
	counterpart := p.role.Counterpart()
	switch event {
	case counterpart.ReadyEvent():
		var ready protocol.ReadyPayload
		if err := json.Unmarshal(payload, &ready); err != nil {
			slog.Debug("bad ready payload", "error", err)
			return true
		}
		reply, err := p.lc.PeerReady(ready)
		if err != nil {
			slog.Debug("readiness ignored", "error", err)
			return true
		}
		if reply {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			if ch := p.currentChannel(); ch != nil {
				if err := ch.Send(ctx, p.role.ReadyEvent(), protocol.ReadyPayload{Role: p.role, UserID: p.conn.UserID(), Reply: true}); err != nil {
					slog.Warn("readiness reply failed", "role", p.role, "error", err)
				}
			}
		}
		return true
	case counterpart.DisconnectedEvent():
		p.lc.PeerDisconnected()
		return true
	}
	return false
}

// finish signals completion, then disconnection, and ends the session.
func (p *pairing) finish(ctx context.Context) error {
	if p.lc.State() != StateConnected {
		return ErrNotConnected
	}
	ch := p.currentChannel()
	if err := ch.Send(ctx, protocol.BroadcastImageData, protocol.NewSessionEnded()); err != nil {
		slog.Warn("session_ended broadcast failed", "role", p.role, "error", err)
	}
	ch.UnsubscribeWith(ctx, p.role.DisconnectedEvent(), protocol.DisconnectPayload{Role: p.role, Reason: "finished"})
	return p.lc.Complete()
}

// cancel tells the counterpart this side left, best effort, and ends the
// session. The counterpart treats it as an interrupted session.
func (p *pairing) cancel() {
	if ch := p.currentChannel(); ch != nil && ch.Subscribed() {
		ctx, cancel := context.WithTimeout(context.Background(), farewellTimeout)
		defer cancel()
		ch.UnsubscribeWith(ctx, p.role.DisconnectedEvent(), protocol.DisconnectPayload{Role: p.role, Reason: "cancelled"})
	}
	p.lc.Cancel()
}

// Desktop drives the desktop side: it issues the session, waits for the
// phone and receives images.
type Desktop struct {
	*pairing
	api *APIClient

	// OnImage is called for each image_captured message while connected.
	OnImage func(msg protocol.CapturedImageMessage)
	// OnRelayError is called for each error message from the phone.
	OnRelayError func(msg protocol.CapturedImageMessage)
	// OnPresence is called for presence changes on the topic.
	OnPresence PresenceHandler

	mu      sync.Mutex
	session *ScanSession
}

// NewDesktop creates a desktop driver. api must carry the desktop user's
// access token.
func NewDesktop(api *APIClient, conn *Conn) *Desktop {
	return &Desktop{pairing: newPairing(protocol.RoleDesktop, conn), api: api}
}

func (d *Desktop) Lifecycle() *Lifecycle { return d.lc }

func (d *Desktop) Session() *ScanSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// Start issues a scan session and subscribes to its channel. The returned
// session's BootstrapURL goes into the QR code.
func (d *Desktop) Start(ctx context.Context) (*ScanSession, error) {
	sess, err := d.api.CreateScanSession(ctx)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.session = sess
	d.mu.Unlock()

	if err := d.join(ctx, sess.ID, d.handle, d.OnPresence); err != nil {
		return nil, err
	}
	return sess, nil
}

func (d *Desktop) handle(event string, payload json.RawMessage) {
	if d.handleCommon(event, payload) || event != protocol.BroadcastImageData {
		return
	}
	var msg protocol.CapturedImageMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Validate() != nil {
		slog.Warn("invalid image_data from phone", "error", err)
		return
	}
	switch msg.Type {
	case protocol.SessionEnded:
		d.lc.PeerCompleted()
	case protocol.ImageCaptured:
		if d.lc.State() != StateConnected {
			slog.Debug("image ignored outside connected state", "image", msg.ImageName)
			return
		}
		if d.OnImage != nil {
			d.OnImage(msg)
		}
	case protocol.ImageError:
		if d.OnRelayError != nil {
			d.OnRelayError(msg)
		}
	}
}

// Download fetches a relayed image.
func (d *Desktop) Download(ctx context.Context, msg protocol.CapturedImageMessage) ([]byte, error) {
	return d.api.Download(ctx, msg.ImageURL)
}

// Finish ends a connected session normally.
func (d *Desktop) Finish(ctx context.Context) error { return d.finish(ctx) }

// Cancel leaves the session; the phone sees an interruption.
func (d *Desktop) Cancel() { d.cancel() }

// Mobile drives the phone side: it joins the session it was handed off
// to, keeps the camera open and relays captures.
type Mobile struct {
	*pairing
	capture  *CaptureController
	uploader Uploader

	mu    sync.Mutex
	relay *ImageRelay
}

// NewMobile creates a phone driver. conn must be authenticated with the
// handoff's access token.
func NewMobile(conn *Conn, capture *CaptureController, uploader Uploader) *Mobile {
	m := &Mobile{pairing: newPairing(protocol.RoleMobile, conn), capture: capture, uploader: uploader}
	m.onTerminal = capture.Close
	return m
}

func (m *Mobile) Lifecycle() *Lifecycle { return m.lc }

// Start joins the capture target's channel and opens the rear camera. A
// camera failure ends the session locally without telling the desktop.
func (m *Mobile) Start(ctx context.Context, target *CaptureTarget) error {
	if err := m.join(ctx, target.ScanSessionID, m.handle, nil); err != nil {
		return err
	}
	m.mu.Lock()
	m.relay = NewImageRelay(m.uploader, m.currentChannel(), m.conn.UserID(), target.ScanSessionID)
	m.mu.Unlock()

	if err := m.capture.Open(ctx, FacingEnvironment); err != nil {
		m.lc.Fail(err)
		return err
	}
	return nil
}

func (m *Mobile) handle(event string, payload json.RawMessage) {
	if m.handleCommon(event, payload) || event != protocol.BroadcastImageData {
		return
	}
	var msg protocol.CapturedImageMessage
	if err := json.Unmarshal(payload, &msg); err == nil && msg.Type == protocol.SessionEnded {
		m.lc.PeerCompleted()
	}
}

// Capture takes one page and relays it. Only one capture runs at a time.
func (m *Mobile) Capture(ctx context.Context) (*protocol.CapturedImageMessage, error) {
	if m.lc.State() != StateConnected {
		return nil, ErrNotConnected
	}
	m.mu.Lock()
	relay := m.relay
	m.mu.Unlock()

	msg, err := relay.CaptureAndRelay(ctx, m.capture)
	var camErr *CameraError
	if errors.As(err, &camErr) {
		m.lc.Fail(camErr)
	}
	return msg, err
}

// Finish ends a connected session normally.
func (m *Mobile) Finish(ctx context.Context) error { return m.finish(ctx) }

// Cancel stops the camera first, then leaves the session. An upload in
// flight completes but is no longer announced.
func (m *Mobile) Cancel() {
	m.capture.Close()
	m.cancel()
}
