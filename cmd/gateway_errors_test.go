package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
	"github.com/nextlevelbuilder/goscan/pkg/scanpair"
)

func TestFormatGatewayError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", &scanpair.APIError{Status: http.StatusUnauthorized}, "credentials"},
		{"gone", fmt.Errorf("create: %w", &scanpair.APIError{Status: http.StatusNotFound}), "no longer exists"},
		{"server", &scanpair.APIError{Status: http.StatusBadGateway, Message: "upstream {\"raw\":1}"}, "internal error"},
		{"ws forbidden", &protocol.ErrorShape{Code: protocol.ErrForbidden}, "cannot join"},
		{"refused", errors.New("dial tcp 127.0.0.1:18800: connect: connection refused"), "Cannot reach"},
		{"deadline", context.DeadlineExceeded, "in time"},
		{"other", errors.New("boom"), "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatGatewayError(tt.err)
			if !strings.Contains(got, tt.want) {
				t.Errorf("formatGatewayError() = %q, want substring %q", got, tt.want)
			}
			if strings.Contains(got, "{") {
				t.Errorf("raw payload leaked: %q", got)
			}
		})
	}
}
