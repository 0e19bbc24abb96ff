// Package crypto seals small device-side secrets with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const sealedPrefix = "aes-gcm:"

var (
	// ErrNotSealed is returned by Open when a key is configured but the value
	// is plain text, or the reverse.
	ErrNotSealed = errors.New("value is not sealed with the configured key")
	// ErrOpenFailed hides which of key, purpose or ciphertext was wrong.
	ErrOpenFailed = errors.New("open failed: invalid key or corrupted data")
)

// Seal encrypts plaintext and binds it to purpose, which must be passed
// again to Open. The result is "aes-gcm:" + base64(nonce|ciphertext|tag).
// With an empty key the plaintext is returned unchanged.
func Seal(plaintext []byte, key, purpose string) (string, error) {
	if key == "" {
		return string(plaintext), nil
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := gcm.Seal(nonce, nonce, plaintext, []byte(purpose))
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Unlike a lenient decrypt it never passes plain text
// through when a key is set.
func Open(sealed, key, purpose string) ([]byte, error) {
	if key == "" {
		if IsSealed(sealed) {
			return nil, ErrNotSealed
		}
		return []byte(sealed), nil
	}
	if !IsSealed(sealed) {
		return nil, ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return nil, ErrOpenFailed
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(data) < n+gcm.Overhead() {
		return nil, ErrOpenFailed
	}
	plain, err := gcm.Open(nil, data[:n], data[n:], []byte(purpose))
	if err != nil {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

func newGCM(key string) (cipher.AEAD, error) {
	k, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveKey accepts a 32-byte key as 64 hex chars, 44 base64 chars or 32
// raw bytes.
func DeriveKey(input string) ([]byte, error) {
	switch len(input) {
	case 64:
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	case 44:
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	case 32:
		return []byte(input), nil
	}
	return nil, errors.New("encryption key must be 32 bytes (hex-encoded 64 chars, base64 44 chars, or raw 32 bytes)")
}
