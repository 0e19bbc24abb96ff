package protocol

// Gateway RPC method names.
const (
	MethodConnect = "connect"
	MethodHealth  = "health"

	MethodChannelJoin      = "channel.join"
	MethodChannelLeave     = "channel.leave"
	MethodChannelBroadcast = "channel.broadcast"
)

// ConnectParams authenticates a WebSocket connection with an access token
// issued by the auth bridge.
type ConnectParams struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol"`
}

// ConnectResult is the payload of a successful connect response.
type ConnectResult struct {
	Protocol int    `json:"protocol"`
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
}

// JoinParams subscribes the connection to a topic.
type JoinParams struct {
	Topic    string        `json:"topic"`
	Presence PresenceEvent `json:"presence"`
}

// LeaveParams unsubscribes the connection from a topic.
type LeaveParams struct {
	Topic string `json:"topic"`
}
