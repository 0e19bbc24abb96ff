package protocol

import "encoding/json"

// Gateway event names pushed from server to client.
const (
	// EventBroadcast carries a BroadcastEnvelope published by another topic subscriber.
	EventBroadcast = "broadcast"
	// EventPresence carries a PresenceDiff for a joined topic.
	EventPresence = "presence"
	// EventShutdown is sent before the gateway closes connections.
	EventShutdown = "shutdown"
)

// Broadcast event names used on a scan-session topic.
const (
	BroadcastDesktopReady        = "desktop_ready"
	BroadcastMobileReady         = "mobile_ready"
	BroadcastDesktopDisconnected = "desktop_disconnected"
	BroadcastMobileDisconnected  = "mobile_disconnected"
	BroadcastImageData           = "image_data"
)

// BroadcastEnvelope is the payload of EventBroadcast and the params of
// MethodChannelBroadcast (From is filled by the gateway).
type BroadcastEnvelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"` // sender client id
}

// PresenceDiff is the payload of EventPresence.
type PresenceDiff struct {
	Topic  string          `json:"topic"`
	Joins  []PresenceEvent `json:"joins,omitempty"`
	Leaves []PresenceEvent `json:"leaves,omitempty"`
}
