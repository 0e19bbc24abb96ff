package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestSealOpen(t *testing.T) {
	sealed, err := Seal([]byte(`{"scanSessionId":"s1"}`), testKey, "mailbox")
	if err != nil {
		t.Fatal(err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "s1") {
		t.Fatalf("sealed = %q", sealed)
	}
	plain, err := Open(sealed, testKey, "mailbox")
	if err != nil || string(plain) != `{"scanSessionId":"s1"}` {
		t.Fatalf("Open = %q, %v", plain, err)
	}

	if _, err := Open(sealed, testKey, "other"); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("wrong purpose err = %v", err)
	}
	if _, err := Open(sealed, strings.Repeat("x", 32), "mailbox"); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("wrong key err = %v", err)
	}
	if _, err := Open(sealedPrefix+"AAAA", testKey, "mailbox"); !errors.Is(err, ErrOpenFailed) {
		t.Errorf("short ciphertext err = %v", err)
	}
}

func TestOpen_RejectsMismatchedMode(t *testing.T) {
	if _, err := Open("plain", testKey, "mailbox"); !errors.Is(err, ErrNotSealed) {
		t.Errorf("plain with key err = %v", err)
	}
	sealed, _ := Seal([]byte("x"), testKey, "mailbox")
	if _, err := Open(sealed, "", "mailbox"); !errors.Is(err, ErrNotSealed) {
		t.Errorf("sealed without key err = %v", err)
	}
	plain, err := Open("plain", "", "mailbox")
	if err != nil || string(plain) != "plain" {
		t.Errorf("passthrough = %q, %v", plain, err)
	}
}

func TestDeriveKey(t *testing.T) {
	raw := []byte(testKey)
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"raw", testKey, false},
		{"hex", strings.Repeat("ab", 32), false},
		{"base64", base64.StdEncoding.EncodeToString(raw), false},
		{"short", "too-short", true},
		{"bad hex", strings.Repeat("zz", 32), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := DeriveKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DeriveKey err = %v", err)
			}
			if err == nil && len(k) != 32 {
				t.Errorf("len = %d", len(k))
			}
		})
	}
}
