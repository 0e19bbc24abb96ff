package cmd

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goscan/internal/config"
	"github.com/nextlevelbuilder/goscan/pkg/scanpair"
)

// isGatewayReachable does a quick GET /health against the device's server.
func isGatewayReachable(serverURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any HTTP response means the gateway is up.
	return true
}

// deviceServerURL prefers --server, then device.server_url.
func deviceServerURL(flag string, cfg *config.Config) string {
	if flag != "" {
		return strings.TrimRight(flag, "/")
	}
	return strings.TrimRight(cfg.Device.ServerURL, "/")
}

// openMailbox returns the mobile auth-context mailbox configured under
// device.mailbox.
func openMailbox(cfg *config.Config) scanpair.Mailbox {
	if cfg.Device.Mailbox == "file" {
		return scanpair.NewFileMailbox(config.ExpandHome(cfg.Device.MailboxDir), cfg.Device.MailboxKey)
	}
	return scanpair.NewKeyringMailbox("")
}
