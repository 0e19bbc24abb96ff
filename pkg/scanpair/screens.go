package scanpair

import (
	"errors"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ErrorScreen is the terminal screen shown for a failed session.
type ErrorScreen struct {
	Icon        string
	Title       string
	Explanation string
	Action      string
}

type screenKeys struct {
	icon, title, explanation, action string
}

var (
	screenCameraDenied = screenKeys{"📷", "camera.denied.title", "camera.denied.explanation", "action.retry"}
	screenCameraFailed = screenKeys{"📷", "camera.failed.title", "camera.failed.explanation", "action.retry"}
	screenHandoff      = screenKeys{"🔗", "handoff.title", "handoff.explanation", "action.start"}
	screenHandoffBusy  = screenKeys{"⏳", "handoff.busy.title", "handoff.busy.explanation", "action.wait"}
	screenPeerLeft     = screenKeys{"📴", "peer.left.title", "peer.left.explanation", "action.new_session"}
	screenConnect      = screenKeys{"📡", "connect.title", "connect.explanation", "action.retry"}
	screenRelay        = screenKeys{"⚠️", "relay.title", "relay.explanation", "action.retry"}
	screenGeneric      = screenKeys{"⚠️", "generic.title", "generic.explanation", "action.start"}
)

var catalog = map[language.Tag]map[string]string{
	language.English: {
		"camera.denied.title":       "Camera access needed",
		"camera.denied.explanation": "Allow camera access for this app, then start the scan again.",
		"camera.failed.title":       "Camera unavailable",
		"camera.failed.explanation": "The camera could not be started. Close other apps using it and try again.",
		"handoff.title":             "Sign-in link problem",
		"handoff.explanation":       "This QR code could not sign you in. Scan a fresh code from your computer.",
		"handoff.busy.title":        "Signing in",
		"handoff.busy.explanation":  "A sign-in is already in progress on this device.",
		"peer.left.title":           "Connection interrupted",
		"peer.left.explanation":     "The other device left the scan session.",
		"connect.title":             "Could not connect",
		"connect.explanation":       "The scan session could not be reached. Check your connection.",
		"relay.title":               "Upload failed",
		"relay.explanation":         "The last page could not be sent. Take it again.",
		"generic.title":             "Something went wrong",
		"generic.explanation":       "The scan session stopped unexpectedly.",
		"action.retry":              "Try again",
		"action.start":              "Return to start",
		"action.wait":               "Wait",
		"action.new_session":        "Start a new session",
	},
	language.Vietnamese: {
		"camera.denied.title":       "Cần quyền truy cập máy ảnh",
		"camera.denied.explanation": "Hãy cho phép ứng dụng dùng máy ảnh rồi bắt đầu quét lại.",
		"camera.failed.title":       "Không dùng được máy ảnh",
		"camera.failed.explanation": "Không thể khởi động máy ảnh. Hãy đóng các ứng dụng khác đang dùng máy ảnh và thử lại.",
		"handoff.title":             "Liên kết đăng nhập có vấn đề",
		"handoff.explanation":       "Mã QR này không thể đăng nhập. Hãy quét mã mới trên máy tính.",
		"handoff.busy.title":        "Đang đăng nhập",
		"handoff.busy.explanation":  "Thiết bị này đang đăng nhập.",
		"peer.left.title":           "Kết nối bị gián đoạn",
		"peer.left.explanation":     "Thiết bị kia đã rời phiên quét.",
		"connect.title":             "Không thể kết nối",
		"connect.explanation":       "Không thể kết nối tới phiên quét. Hãy kiểm tra mạng.",
		"relay.title":               "Tải lên thất bại",
		"relay.explanation":         "Không gửi được trang vừa chụp. Hãy chụp lại.",
		"generic.title":             "Đã xảy ra lỗi",
		"generic.explanation":       "Phiên quét đã dừng bất ngờ.",
		"action.retry":              "Thử lại",
		"action.start":              "Về màn hình đầu",
		"action.wait":               "Chờ",
		"action.new_session":        "Bắt đầu phiên mới",
	},
}

var supported = language.NewMatcher([]language.Tag{language.English, language.Vietnamese})

func init() {
	for tag, entries := range catalog {
		for key, text := range entries {
			message.SetString(tag, key, text)
		}
	}
}

// ParseLanguage maps a BCP 47 string to a supported language, English by default.
func ParseLanguage(s string) language.Tag {
	tag, _ := language.MatchStrings(supported, s)
	base, _ := tag.Base()
	if base.String() == "vi" {
		return language.Vietnamese
	}
	return language.English
}

// ScreenFor classifies a terminal error into a localized screen. Raw error
// text is logged, never shown; only a provider's own message is.
func ScreenFor(err error, lang language.Tag) ErrorScreen {
	keys := screenGeneric
	var provider string

	var (
		camErr     *CameraError
		handoffErr *HandoffError
		relayErr   *RelayError
	)
	switch {
	case errors.As(err, &camErr):
		keys = screenCameraFailed
		if camErr.Kind == CameraPermissionDenied {
			keys = screenCameraDenied
		}
	case errors.Is(err, ErrExchangeInFlight):
		keys = screenHandoffBusy
	case errors.As(err, &handoffErr):
		keys = screenHandoff
		provider = handoffErr.ProviderMessage
	case errors.Is(err, ErrPeerDisconnected):
		keys = screenPeerLeft
	case errors.Is(err, ErrSubscribeFailed), errors.Is(err, ErrConnClosed):
		keys = screenConnect
	case errors.As(err, &relayErr):
		keys = screenRelay
	default:
		slog.Warn("unclassified session error", "error", err)
	}

	p := message.NewPrinter(ParseLanguage(lang.String()))
	s := ErrorScreen{
		Icon:        keys.icon,
		Title:       p.Sprintf(message.Key(keys.title, catalog[language.English][keys.title])),
		Explanation: p.Sprintf(message.Key(keys.explanation, catalog[language.English][keys.explanation])),
		Action:      p.Sprintf(message.Key(keys.action, catalog[language.English][keys.action])),
	}
	if provider != "" {
		s.Explanation = provider
	}
	return s
}
