package scanpair

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
)

// FakeCamera produces solid frames. It is safe for concurrent use and
// records every track it hands out.
type FakeCamera struct {
	Width, Height int
	// OpenErr is returned by the next Open calls when set.
	OpenErr error
	// FrameErr is returned by Frame when set.
	FrameErr error

	mu     sync.Mutex
	tracks []*track
	opens  int
}

func (c *FakeCamera) Open(ctx context.Context, facing FacingMode) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	t := newTrack()
	c.tracks = append(c.tracks, t)
	return &fakeStream{cam: c, video: t}, nil
}

// LiveTracks counts tracks not yet stopped.
func (c *FakeCamera) LiveTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.tracks {
		if t.Live() {
			n++
		}
	}
	return n
}

func (c *FakeCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

type fakeStream struct {
	cam   *FakeCamera
	video *track
}

func (s *fakeStream) Frame() (image.Image, error) {
	s.cam.mu.Lock()
	w, h, ferr := s.cam.Width, s.cam.Height, s.cam.FrameErr
	s.cam.mu.Unlock()
	if ferr != nil {
		return nil, ferr
	}
	if !s.video.Live() {
		return nil, ErrNoStream
	}
	if w == 0 || h == 0 {
		w, h = 64, 48
	}
	return imaging.New(w, h, color.NRGBA{R: 240, G: 240, B: 230, A: 255}), nil
}

func (s *fakeStream) Tracks() []Track { return []Track{s.video} }
