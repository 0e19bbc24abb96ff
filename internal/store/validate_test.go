package store

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"user@example.com", false},
		{strings.Repeat("a", MaxUserIDLength), false},
		{"", true},
		{strings.Repeat("a", MaxUserIDLength+1), true},
		{"..", true},
		{"alice/../bob", true},
		{`dom\user`, true},
	}
	for _, tt := range tests {
		err := ValidateUserID(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateUserID(%.20q) = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidUserID) {
			t.Errorf("error %v does not wrap ErrInvalidUserID", err)
		}
	}
}
