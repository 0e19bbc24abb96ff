// Package objstore holds temporary scan images keyed
// {userId}/{scanSessionId}/{fileName}.
package objstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

// Object describes a stored object.
type Object struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
}

// Store is a scan-image bucket.
type Store interface {
	// Put writes the object; it is durable when Put returns.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	// URL returns a URL the consuming device can dereference.
	URL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under prefix (e.g. "user/session/").
	DeletePrefix(ctx context.Context, prefix string) error
}

// ValidateKey checks that key has the userId/sessionId/fileName layout.
func ValidateKey(key string) error {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return ErrInvalidKey
	}
	for _, p := range parts {
		if !protocol.ValidKeySegment(p) {
			return ErrInvalidKey
		}
	}
	return nil
}

// SessionPrefix is the prefix of every object of one scan session.
func SessionPrefix(userID, sessionID string) string {
	return userID + "/" + sessionID + "/"
}
