package scanpair

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

type pairedDevices struct {
	gw      *testGateway
	desktop *Desktop
	mobile  *Mobile
	camera  *FakeCamera
	images  chan protocol.CapturedImageMessage
}

// pair runs Scenarios A to C: the desktop issues a session, the phone
// signs in through the bootstrap URL and both reach connected.
func pair(t *testing.T, uploader func(*APIClient) Uploader) *pairedDevices {
	t.Helper()
	g := newTestGateway(t)
	ctx := testContext(t)

	access := g.signIn(t, "u1")
	d := NewDesktop(g.api.WithToken(access), g.dial(t, access))
	images := make(chan protocol.CapturedImageMessage, 16)
	d.OnImage = func(msg protocol.CapturedImageMessage) { images <- msg }
	sess, err := d.Start(ctx)
	if err != nil {
		t.Fatalf("desktop Start: %v", err)
	}
	if d.Lifecycle().State() != StateConnecting {
		t.Fatalf("desktop state = %s before the phone joined", d.Lifecycle().State())
	}

	target, err := g.handoff(t, NewMemoryMailbox()).Start(ctx, sess.BootstrapURL)
	if err != nil {
		t.Fatalf("handoff: %v", err)
	}
	mobileAPI := g.api.WithToken(target.Session.AccessToken)
	var up Uploader = NewAPIUploader(mobileAPI)
	if uploader != nil {
		up = uploader(mobileAPI)
	}
	cam := &FakeCamera{Width: 120, Height: 90}
	m := NewMobile(g.dial(t, target.Session.AccessToken), NewCaptureController(cam), up)
	if err := m.Start(ctx, target); err != nil {
		t.Fatalf("mobile Start: %v", err)
	}

	waitState(t, d.Lifecycle(), StateConnected)
	waitState(t, m.Lifecycle(), StateConnected)
	return &pairedDevices{gw: g, desktop: d, mobile: m, camera: cam, images: images}
}

func (p *pairedDevices) receive(t *testing.T) protocol.CapturedImageMessage {
	t.Helper()
	select {
	case msg := <-p.images:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("desktop received no image")
	}
	return protocol.CapturedImageMessage{}
}

func TestScenario_CaptureAndFinishFromPhone(t *testing.T) {
	p := pair(t, nil)
	ctx := testContext(t)

	const n = 3
	var sent []string
	for i := 0; i < n; i++ {
		msg, err := p.mobile.Capture(ctx)
		if err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
		sent = append(sent, msg.ImageName)
	}
	seen := make(map[string]bool)
	var first protocol.CapturedImageMessage
	for i := 0; i < n; i++ {
		msg := p.receive(t)
		if i == 0 {
			first = msg
		}
		if msg.ImageName != sent[i] {
			t.Errorf("image %d = %s, want %s", i, msg.ImageName, sent[i])
		}
		seen[msg.ImageName] = true
	}
	if len(seen) != n {
		t.Errorf("%d distinct names for %d captures", len(seen), n)
	}

	data, err := p.desktop.Download(ctx, first)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if int64(len(data)) != first.ImageSize {
		t.Errorf("downloaded %d bytes, message says %d", len(data), first.ImageSize)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("downloaded image is not a jpeg: %v", err)
	}

	if err := p.mobile.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	waitState(t, p.desktop.Lifecycle(), StateEnded)
	if p.mobile.Lifecycle().State() != StateEnded {
		t.Errorf("mobile state = %s", p.mobile.Lifecycle().State())
	}
	if p.camera.LiveTracks() != 0 {
		t.Error("camera still running after finish")
	}
}

func TestScenario_DesktopFinishes(t *testing.T) {
	p := pair(t, nil)
	if err := p.desktop.Finish(testContext(t)); err != nil {
		t.Fatal(err)
	}
	waitState(t, p.mobile.Lifecycle(), StateEnded)
	if p.camera.LiveTracks() != 0 {
		t.Error("camera still running after the desktop finished")
	}
	if p.desktop.Lifecycle().State() != StateEnded {
		t.Errorf("desktop state = %s", p.desktop.Lifecycle().State())
	}
}

func TestDisconnectPropagation(t *testing.T) {
	t.Run("desktop cancels", func(t *testing.T) {
		p := pair(t, nil)
		p.desktop.Cancel()
		waitState(t, p.mobile.Lifecycle(), StateError)
		if !errors.Is(p.mobile.Lifecycle().Err(), ErrPeerDisconnected) {
			t.Errorf("mobile err = %v", p.mobile.Lifecycle().Err())
		}
		if p.camera.LiveTracks() != 0 {
			t.Error("camera still running after the desktop left")
		}
	})
	t.Run("phone cancels", func(t *testing.T) {
		p := pair(t, nil)
		p.mobile.Cancel()
		waitState(t, p.desktop.Lifecycle(), StateError)
		if !errors.Is(p.desktop.Lifecycle().Err(), ErrPeerDisconnected) {
			t.Errorf("desktop err = %v", p.desktop.Lifecycle().Err())
		}
		if p.mobile.Lifecycle().State() != StateEnded {
			t.Errorf("mobile state = %s", p.mobile.Lifecycle().State())
		}
	})
}

func TestScenario_CameraFailureStaysLocal(t *testing.T) {
	p := pair(t, nil)
	p.camera.mu.Lock()
	p.camera.FrameErr = &CameraError{Kind: CameraPermissionDenied, Err: errors.New("NotAllowedError")}
	p.camera.mu.Unlock()

	_, err := p.mobile.Capture(testContext(t))
	var camErr *CameraError
	if !errors.As(err, &camErr) {
		t.Fatalf("Capture err = %v", err)
	}
	if p.mobile.Lifecycle().State() != StateError {
		t.Errorf("mobile state = %s", p.mobile.Lifecycle().State())
	}
	if p.camera.LiveTracks() != 0 {
		t.Error("camera still running after a camera failure")
	}
	if s := ScreenFor(p.mobile.Lifecycle().Err(), ParseLanguage("en")); s.Title != "Camera access needed" {
		t.Errorf("screen = %+v", s)
	}

	// The desktop is not told.
	time.Sleep(200 * time.Millisecond)
	if p.desktop.Lifecycle().State() != StateConnected {
		t.Errorf("desktop state = %s", p.desktop.Lifecycle().State())
	}
}

// gatedUploader blocks every upload until released.
type gatedUploader struct {
	next    Uploader
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (u *gatedUploader) Upload(ctx context.Context, key string, img *CapturedImage) (string, error) {
	u.once.Do(func() { close(u.entered) })
	<-u.release
	return u.next.Upload(ctx, key, img)
}

func TestCancelStopsCameraWithUploadInFlight(t *testing.T) {
	gate := &gatedUploader{entered: make(chan struct{}), release: make(chan struct{})}
	p := pair(t, func(api *APIClient) Uploader {
		gate.next = NewAPIUploader(api)
		return gate
	})

	done := make(chan error, 1)
	go func() {
		_, err := p.mobile.Capture(context.Background())
		done <- err
	}()
	select {
	case <-gate.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("upload never started")
	}

	p.mobile.Cancel()
	if p.camera.LiveTracks() != 0 {
		t.Error("camera still running while an upload is in flight")
	}
	if p.mobile.Lifecycle().State() != StateEnded {
		t.Errorf("mobile state = %s", p.mobile.Lifecycle().State())
	}

	close(gate.release)
	select {
	case err := <-done:
		if !errors.Is(err, ErrNotSubscribed) {
			t.Errorf("capture err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("capture did not return")
	}

	waitState(t, p.desktop.Lifecycle(), StateError)
	select {
	case msg := <-p.images:
		t.Errorf("desktop received %s after the phone cancelled", msg.ImageName)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCaptureRequiresConnected(t *testing.T) {
	m := NewMobile(nil, NewCaptureController(&FakeCamera{}), &memoryUploader{})
	if _, err := m.Capture(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v", err)
	}
}
