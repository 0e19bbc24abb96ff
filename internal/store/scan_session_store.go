package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ScanSessionData is the persisted form of a scan session. The auth token is
// never stored; only its SHA-256 digest.
type ScanSessionData struct {
	ID          string     `json:"id"`
	TokenHash   string     `json:"-"`
	OwnerUserID string     `json:"owner_user_id"`
	CreatedAt   time.Time  `json:"created_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// ScanSessionStore persists scan sessions.
//
// Error contract:
//   - Get/Delete return ErrNotFound for unknown ids.
//   - ConsumeToken returns ErrNotFound for unknown tokens and ErrTokenConsumed
//     when the token was already exchanged; the consume itself is atomic.
type ScanSessionStore interface {
	Create(ctx context.Context, s *ScanSessionData) error
	Get(ctx context.Context, id string) (*ScanSessionData, error)
	ConsumeToken(ctx context.Context, tokenHash string, at time.Time) (*ScanSessionData, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// HashToken returns the digest stored in place of an auth token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
