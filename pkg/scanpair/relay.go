package scanpair

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/goscan/internal/tracing"
	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// Uploader stores an image and returns a URL the desktop can fetch.
type Uploader interface {
	Upload(ctx context.Context, key string, img *CapturedImage) (url string, err error)
}

// APIUploader uploads through the gateway storage endpoint.
type APIUploader struct {
	api *APIClient
}

func NewAPIUploader(api *APIClient) *APIUploader { return &APIUploader{api: api} }

func (u *APIUploader) Upload(ctx context.Context, key string, img *CapturedImage) (string, error) {
	obj, err := u.api.PutObject(ctx, key, img.Data, imageContentType)
	if err != nil {
		return "", err
	}
	if obj.URL == "" {
		return "", errors.New("storage returned no url")
	}
	return obj.URL, nil
}

// FrameSource produces captured images.
type FrameSource interface {
	Capture() (*CapturedImage, error)
}

// Broadcaster is the part of a Channel the relay needs.
type Broadcaster interface {
	Send(ctx context.Context, event string, payload any) error
	Subscribed() bool
}

// ImageRelay captures, uploads and announces images one at a time.
type ImageRelay struct {
	uploader  Uploader
	channel   Broadcaster
	userID    string
	sessionID string

	busy sync.Mutex
}

func NewImageRelay(uploader Uploader, channel Broadcaster, userID, sessionID string) *ImageRelay {
	return &ImageRelay{uploader: uploader, channel: channel, userID: userID, sessionID: sessionID}
}

// CaptureAndRelay takes a frame from src, uploads it and broadcasts the
// result. A capture already in progress makes it return ErrCaptureBusy.
// Camera failures are returned as is and nothing is broadcast. An upload
// failure is announced to the desktop and returned as *RelayError.
func (r *ImageRelay) CaptureAndRelay(ctx context.Context, src FrameSource) (*protocol.CapturedImageMessage, error) {
	if !r.busy.TryLock() {
		return nil, ErrCaptureBusy
	}
	defer r.busy.Unlock()

	img, err := src.Capture()
	if err != nil {
		return nil, err
	}
	return r.relay(ctx, img)
}

func (r *ImageRelay) relay(ctx context.Context, img *CapturedImage) (*protocol.CapturedImageMessage, error) {
	ctx, span := tracing.Start(ctx, tracing.ScopeDevice, "relay.upload", tracing.Session(r.sessionID))
	key := objectKey(r.userID, r.sessionID, img.Name)
	url, err := r.uploader.Upload(ctx, key, img)
	tracing.End(span, err)

	if err != nil {
		slog.Warn("scan image upload failed", "session", r.sessionID, "image", img.Name, "error", err)
		msg := protocol.NewImageError(fmt.Sprintf("upload of %s failed", img.Name))
		r.announce(ctx, msg)
		return &msg, &RelayError{FileName: img.Name, Err: err}
	}

	msg := protocol.NewImageCaptured(url, img.Name, img.Size())
	if err := r.announce(ctx, msg); err != nil {
		return &msg, &RelayError{FileName: img.Name, Err: err}
	}
	return &msg, nil
}

// announce broadcasts msg unless the channel was released meanwhile.
func (r *ImageRelay) announce(ctx context.Context, msg protocol.CapturedImageMessage) error {
	if !r.channel.Subscribed() {
		slog.Info("channel released, image not announced", "session", r.sessionID, "type", msg.Type)
		return ErrNotSubscribed
	}
	if err := r.channel.Send(ctx, protocol.BroadcastImageData, msg); err != nil {
		slog.Warn("image_data broadcast failed", "session", r.sessionID, "error", err)
		return err
	}
	return nil
}
