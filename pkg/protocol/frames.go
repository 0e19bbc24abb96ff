// Package protocol defines the wire format spoken between goscan devices and the gateway.
// Both the gateway (internal/gateway) and the device SDK (pkg/scanpair) import it.
package protocol

import "encoding/json"

// ProtocolVersion is negotiated in the connect handshake.
const ProtocolVersion = 1

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by a device to invoke a gateway method.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // client-generated, echoed in the response
	Method string          `json:"method"` // see methods.go
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers exactly one RequestFrame.
type ResponseFrame struct {
	Type    string          `json:"type"` // always "res"
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable,omitempty"`
	RetryAfterMs int    `json:"retryAfterMs,omitempty"`
}

func (e *ErrorShape) Error() string {
	return e.Code + ": " + e.Message
}

// EventFrame is pushed from the gateway without a preceding request.
type EventFrame struct {
	Type    string          `json:"type"`  // always "event"
	Event   string          `json:"event"` // see events.go
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq,omitempty"` // per-connection ordering sequence
}

// NewOKResponse creates a success response frame. A payload that fails to
// marshal yields an INTERNAL error response instead.
func NewOKResponse(id string, payload any) *ResponseFrame {
	raw, err := marshalPayload(payload)
	if err != nil {
		return NewErrorResponse(id, ErrInternal, "marshal payload: "+err.Error())
	}
	return &ResponseFrame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      true,
		Payload: raw,
	}
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id string, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any) (*EventFrame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &EventFrame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: raw,
	}, nil
}

// NewRequest creates a request frame with marshalled params.
func NewRequest(id, method string, params any) (*RequestFrame, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return nil, err
	}
	return &RequestFrame{
		Type:   FrameTypeRequest,
		ID:     id,
		Method: method,
		Params: raw,
	}, nil
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(v)
	}
}
