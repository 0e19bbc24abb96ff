package scanpair

import (
	"errors"
	"fmt"
	"testing"
)

func TestScreenFor(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		lang    string
		title   string
		action  string
		explain string
	}{
		{"camera denied", &CameraError{Kind: CameraPermissionDenied}, "en", "Camera access needed", "Try again", ""},
		{"camera failed vi", &CameraError{Kind: CameraFailed}, "vi-VN", "Không dùng được máy ảnh", "Thử lại", ""},
		{"peer left", fmt.Errorf("lifecycle: %w", ErrPeerDisconnected), "en", "Connection interrupted", "Start a new session", ""},
		{"handoff provider text", &HandoffError{Kind: HandoffProviderError, ProviderMessage: "Email link is invalid or has expired"}, "vi",
			"Liên kết đăng nhập có vấn đề", "Về màn hình đầu", "Email link is invalid or has expired"},
		{"handoff busy", ErrExchangeInFlight, "en", "Signing in", "Wait", ""},
		{"subscribe", fmt.Errorf("%w: boom", ErrSubscribeFailed), "en", "Could not connect", "Try again", ""},
		{"relay", &RelayError{FileName: "a.jpg", Err: errors.New("x")}, "en", "Upload failed", "Try again", ""},
		{"unknown", errors.New("pq: relation does not exist"), "fr", "Something went wrong", "Return to start", "The scan session stopped unexpectedly."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ScreenFor(tt.err, ParseLanguage(tt.lang))
			if s.Title != tt.title || s.Action != tt.action || s.Icon == "" {
				t.Errorf("screen = %+v", s)
			}
			if tt.explain != "" && s.Explanation != tt.explain {
				t.Errorf("explanation = %q, want %q", s.Explanation, tt.explain)
			}
		})
	}
}
