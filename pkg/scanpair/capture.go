package scanpair

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	jpegQuality      = 90
	imageContentType = "image/jpeg"
)

// CapturedImage is one encoded page.
type CapturedImage struct {
	Name   string
	Data   []byte
	Width  int
	Height int
}

func (c *CapturedImage) Size() int64 { return int64(len(c.Data)) }

// CaptureController owns the camera stream. Only one stream is open at a time.
type CaptureController struct {
	camera Camera

	mu     sync.Mutex
	stream Stream
}

func NewCaptureController(camera Camera) *CaptureController {
	return &CaptureController{camera: camera}
}

// Open stops any previous stream and starts a new one. A superseded start
// is logged and leaves the controller without a stream; any other failure
// is returned as *CameraError.
func (c *CaptureController) Open(ctx context.Context, facing FacingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()

	stream, err := c.camera.Open(ctx, facing)
	if errors.Is(err, ErrPlayAborted) {
		slog.Debug("camera start aborted", "facing", facing)
		return nil
	}
	if err != nil {
		var camErr *CameraError
		if errors.As(err, &camErr) {
			return camErr
		}
		return &CameraError{Kind: CameraFailed, Err: err}
	}
	c.stream = stream
	return nil
}

// Active reports whether a stream is open.
func (c *CaptureController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Capture grabs the current frame at native resolution and encodes it as a
// quality 90 JPEG named scanned_image_<uuid>.jpg.
func (c *CaptureController) Capture() (*CapturedImage, error) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return nil, ErrNoStream
	}

	frame, err := stream.Frame()
	if err != nil {
		var camErr *CameraError
		if errors.As(err, &camErr) || errors.Is(err, ErrNoStream) {
			return nil, err
		}
		return nil, &CameraError{Kind: CameraFailed, Err: err}
	}

	surface := imaging.Clone(frame)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, surface, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	b := surface.Bounds()
	return &CapturedImage{
		Name:   "scanned_image_" + uuid.NewString() + ".jpg",
		Data:   buf.Bytes(),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// Close stops every track. Safe to call repeatedly.
func (c *CaptureController) Close() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

func (c *CaptureController) stopLocked() {
	if c.stream == nil {
		return
	}
	for _, t := range c.stream.Tracks() {
		t.Stop()
	}
	c.stream = nil
}
