package scanpair

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrSubscribeFailed   = errors.New("channel subscribe failed")
	ErrNotConnected      = errors.New("session not connected")
	ErrNotSubscribed     = errors.New("channel not subscribed")
	ErrCaptureBusy       = errors.New("capture already in progress")
	ErrExchangeInFlight  = errors.New("auth exchange already in flight")
	ErrMailboxOccupied   = errors.New("mailbox already holds a context")
	ErrMailboxEmpty      = errors.New("mailbox is empty")
	ErrPlayAborted       = errors.New("camera start superseded")
	ErrNoStream          = errors.New("camera stream not started")
	ErrConnClosed        = errors.New("gateway connection closed")
)

// CameraErrorKind classifies a fatal camera failure.
type CameraErrorKind string

const (
	CameraPermissionDenied CameraErrorKind = "permission_denied"
	CameraUnavailable      CameraErrorKind = "unavailable"
	CameraFailed           CameraErrorKind = "failed"
)

// CameraError is a local device failure. It never reaches the paired desktop.
type CameraError struct {
	Kind CameraErrorKind
	Err  error
}

func (e *CameraError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Kind, e.Err)
}

func (e *CameraError) Unwrap() error { return e.Err }

// HandoffErrorKind classifies an identity handoff failure.
type HandoffErrorKind string

const (
	HandoffInvalidLink    HandoffErrorKind = "invalid_link"
	HandoffExchangeFailed HandoffErrorKind = "exchange_failed"
	HandoffProviderError  HandoffErrorKind = "provider_error"
	HandoffMissingContext HandoffErrorKind = "missing_context"
	HandoffSessionFailed  HandoffErrorKind = "session_failed"
)

// HandoffError carries the provider's own message when it supplied one.
type HandoffError struct {
	Kind            HandoffErrorKind
	ProviderMessage string
	Err             error
}

func (e *HandoffError) Error() string {
	msg := "handoff " + string(e.Kind)
	if e.ProviderMessage != "" {
		msg += ": " + e.ProviderMessage
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandoffError) Unwrap() error { return e.Err }

// RelayError reports a failed upload. The session stays connected.
type RelayError struct {
	FileName string
	Err      error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.FileName, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// APIError is a non-2xx gateway HTTP response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}
