package scanpair

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// FacingMode selects a camera. The rear camera is "environment".
type FacingMode string

const (
	FacingEnvironment FacingMode = "environment"
	FacingUser        FacingMode = "user"
)

// Track is one live media track of a stream.
type Track interface {
	Stop()
	Live() bool
}

// Stream is an open camera stream.
type Stream interface {
	// Frame returns the current frame at native resolution.
	Frame() (image.Image, error)
	Tracks() []Track
}

// Camera opens streams. Open may return ErrPlayAborted when the start was
// superseded; any other error is fatal.
type Camera interface {
	Open(ctx context.Context, facing FacingMode) (Stream, error)
}

type track struct {
	live atomic.Bool
}

func newTrack() *track {
	t := &track{}
	t.live.Store(true)
	return t
}

func (t *track) Stop()      { t.live.Store(false) }
func (t *track) Live() bool { return t.live.Load() }

var stillExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// DirCamera serves still images from a directory as camera frames, one
// file per capture, in name order.
type DirCamera struct {
	dir string
}

func NewDirCamera(dir string) *DirCamera { return &DirCamera{dir: dir} }

func (c *DirCamera) Open(ctx context.Context, facing FacingMode) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrPlayAborted
	}
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrPermission) {
		return nil, &CameraError{Kind: CameraPermissionDenied, Err: err}
	}
	if err != nil {
		return nil, &CameraError{Kind: CameraUnavailable, Err: err}
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && stillExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(c.dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, &CameraError{Kind: CameraUnavailable, Err: fmt.Errorf("no images in %s", c.dir)}
	}
	sort.Strings(files)
	return &dirStream{files: files, video: newTrack()}, nil
}

type dirStream struct {
	mu    sync.Mutex
	files []string
	next  int
	video *track
}

func (s *dirStream) Frame() (image.Image, error) {
	if !s.video.Live() {
		return nil, ErrNoStream
	}
	s.mu.Lock()
	path := s.files[s.next%len(s.files)]
	s.next++
	s.mu.Unlock()

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if errors.Is(err, os.ErrPermission) {
		return nil, &CameraError{Kind: CameraPermissionDenied, Err: err}
	}
	if err != nil {
		return nil, &CameraError{Kind: CameraFailed, Err: err}
	}
	return img, nil
}

func (s *dirStream) Tracks() []Track { return []Track{s.video} }
