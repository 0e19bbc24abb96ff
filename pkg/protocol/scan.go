package protocol

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// TopicPrefix prefixes every scan-session topic name.
const TopicPrefix = "scan-session-"

// Role identifies which side of a scan session a participant plays.
type Role string

const (
	RoleMobile  Role = "mobile"
	RoleDesktop Role = "desktop"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleMobile || r == RoleDesktop
}

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleMobile {
		return RoleDesktop
	}
	return RoleMobile
}

// ReadyEvent returns the readiness broadcast name sent by r.
func (r Role) ReadyEvent() string {
	if r == RoleMobile {
		return BroadcastMobileReady
	}
	return BroadcastDesktopReady
}

// DisconnectedEvent returns the disconnect broadcast name sent by r.
func (r Role) DisconnectedEvent() string {
	if r == RoleMobile {
		return BroadcastMobileDisconnected
	}
	return BroadcastDesktopDisconnected
}

// PresenceEvent is sent on join; the presence key is UserID.
type PresenceEvent struct {
	Role   Role   `json:"role"`
	UserID string `json:"userId"`
}

// ReadyPayload is the envelope shared by desktop_ready and mobile_ready.
// Reply is set on the one readiness answer a side sends after first
// observing its counterpart, so the exchange terminates.
type ReadyPayload struct {
	Role   Role   `json:"role"`
	UserID string `json:"userId"`
	Reply  bool   `json:"reply,omitempty"`
}

// DisconnectPayload is the envelope of *_disconnected broadcasts.
type DisconnectPayload struct {
	Role   Role   `json:"role"`
	Reason string `json:"reason,omitempty"`
}

// CapturedImageMessage types.
const (
	ImageCaptured = "image_captured"
	ImageError    = "error"
	SessionEnded  = "session_ended"
)

// CapturedImageMessage is the tagged union carried by image_data broadcasts.
// Exactly one variant's fields are set, selected by Type.
type CapturedImageMessage struct {
	Type         string `json:"type"`
	ImageURL     string `json:"imageUrl,omitempty"`
	ImageName    string `json:"imageName,omitempty"`
	ImageSize    int64  `json:"imageSize,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// NewImageCaptured builds the image_captured variant.
func NewImageCaptured(url, name string, size int64) CapturedImageMessage {
	return CapturedImageMessage{Type: ImageCaptured, ImageURL: url, ImageName: name, ImageSize: size}
}

// NewImageError builds the error variant.
func NewImageError(message string) CapturedImageMessage {
	return CapturedImageMessage{Type: ImageError, ErrorMessage: message}
}

// NewSessionEnded builds the session_ended variant.
func NewSessionEnded() CapturedImageMessage {
	return CapturedImageMessage{Type: SessionEnded}
}

// ErrInvalidMessage is returned by Validate for malformed union values.
var ErrInvalidMessage = errors.New("invalid captured image message")

// Validate checks that only the fields of the selected variant are set.
func (m CapturedImageMessage) Validate() error {
	switch m.Type {
	case ImageCaptured:
		if m.ImageURL == "" || m.ImageName == "" {
			return fmt.Errorf("%w: image_captured requires imageUrl and imageName", ErrInvalidMessage)
		}
		if m.ImageSize < 0 || m.ErrorMessage != "" {
			return fmt.Errorf("%w: image_captured carries error fields", ErrInvalidMessage)
		}
	case ImageError:
		if m.ErrorMessage == "" {
			return fmt.Errorf("%w: error requires errorMessage", ErrInvalidMessage)
		}
		if m.ImageURL != "" || m.ImageName != "" || m.ImageSize != 0 {
			return fmt.Errorf("%w: error carries image fields", ErrInvalidMessage)
		}
	case SessionEnded:
		if m.ImageURL != "" || m.ImageName != "" || m.ImageSize != 0 || m.ErrorMessage != "" {
			return fmt.Errorf("%w: session_ended carries fields", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// TopicForSession returns the pairing channel topic of a scan session.
func TopicForSession(sessionID string) string {
	return TopicPrefix + sessionID
}

// SessionIDFromTopic is the inverse of TopicForSession.
func SessionIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TopicPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ObjectKey returns the storage key of a captured image:
// {userId}/{scanSessionId}/{fileName}.
func ObjectKey(userID, sessionID, fileName string) string {
	return path.Join(userID, sessionID, fileName)
}

// ValidKeySegment rejects empty segments and anything that could escape the
// {userId}/{sessionId}/{fileName} layout.
func ValidKeySegment(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 255 {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
