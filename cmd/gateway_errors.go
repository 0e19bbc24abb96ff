package cmd

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
	"github.com/nextlevelbuilder/goscan/pkg/scanpair"
)

// formatGatewayError turns a device-side gateway failure into one line for
// the terminal. Raw response bodies are never printed.
func formatGatewayError(err error) string {
	var apiErr *scanpair.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusUnauthorized:
			return "⚠️ The gateway rejected the credentials. Check gateway.token or sign in again."
		case http.StatusForbidden:
			return "⚠️ This account cannot access that scan session."
		case http.StatusNotFound:
			return "⚠️ The scan session no longer exists. Start a new one from the desktop."
		case http.StatusTooManyRequests:
			return "⚠️ Too many requests. Please wait a moment."
		}
		if apiErr.Status >= 500 {
			return "⚠️ The gateway hit an internal error. Please try again."
		}
	}

	var shape *protocol.ErrorShape
	if errors.As(err, &shape) {
		switch shape.Code {
		case protocol.ErrUnauthorized:
			return "⚠️ The realtime channel rejected the access token. Sign in again."
		case protocol.ErrForbidden:
			return "⚠️ This account cannot join that scan session."
		}
	}

	lower := strings.ToLower(err.Error())

	if containsAny(lower, "connection refused", "no such host", "network is unreachable", "dial tcp") {
		return "⚠️ Cannot reach the gateway. Is `goscan serve` running and device.server_url correct?"
	}
	if containsAny(lower, "timeout", "timed out", "deadline exceeded") {
		return "⚠️ The gateway did not answer in time. Please try again."
	}
	if containsAny(lower, "certificate", "x509", "tls") {
		return "⚠️ TLS error talking to the gateway. Check the server URL and certificates."
	}

	slog.Warn("unclassified gateway error", "error", err)
	return "⚠️ Something went wrong talking to the gateway. Please try again."
}

// containsAny returns true if s contains any of the given substrings.
func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
