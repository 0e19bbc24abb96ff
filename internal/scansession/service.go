// Package scansession issues scan sessions: the {id, authToken} pair a
// desktop renders as a QR code and a phone redeems exactly once.
//
// The auth token is returned to the caller once, at creation; only its
// digest is persisted. Sessions carry no TTL.
package scansession

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/goscan/internal/store"
)

// BootstrapPath is the mobile landing path encoded in the QR code.
const BootstrapPath = "/m/scan"

// tokenBytes is the entropy of an auth token before base64url encoding.
const tokenBytes = 32

var (
	ErrNotFound      = errors.New("scan session not found")
	ErrTokenConsumed = errors.New("auth token already used")
	ErrNotOwner      = errors.New("scan session belongs to another user")
)

// ScanSession is the server-issued pairing record. AuthToken is only
// populated on the value returned by Create.
type ScanSession struct {
	ID          string     `json:"scanSessionId"`
	AuthToken   string     `json:"authToken,omitempty"`
	OwnerUserID string     `json:"ownerUserId"`
	CreatedAt   time.Time  `json:"createdAt"`
	ConsumedAt  *time.Time `json:"consumedAt,omitempty"`
}

// Service manages scan sessions on top of a store.ScanSessionStore.
type Service struct {
	store     store.ScanSessionStore
	publicURL string
	now       func() time.Time
}

// NewService creates a service. publicURL is the externally reachable base
// used to build bootstrap URLs (e.g. https://scan.example.com).
func NewService(st store.ScanSessionStore, publicURL string) *Service {
	return &Service{
		store:     st,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// Create issues a new session owned by ownerUserID.
func (s *Service) Create(ctx context.Context, ownerUserID string) (*ScanSession, error) {
	if err := store.ValidateUserID(ownerUserID); err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate auth token: %w", err)
	}

	sess := &ScanSession{
		ID:          store.GenNewID().String(),
		AuthToken:   token,
		OwnerUserID: ownerUserID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, &store.ScanSessionData{
		ID:          sess.ID,
		TokenHash:   store.HashToken(token),
		OwnerUserID: ownerUserID,
		CreatedAt:   sess.CreatedAt,
	}); err != nil {
		return nil, err
	}

	slog.Info("scan session created", "session", sess.ID, "owner", ownerUserID)
	return sess, nil
}

// BootstrapURL returns <public>/m/scan?scanSessionId=<id>&auth_token=<token>.
func (s *Service) BootstrapURL(id, authToken string) string {
	return s.publicURL + BootstrapPath +
		"?scanSessionId=" + url.QueryEscape(id) +
		"&auth_token=" + url.QueryEscape(authToken)
}

// BootstrapURLFor rebuilds the bootstrap URL of an unredeemed session for
// its owner. The caller must present the auth token; only its digest is
// stored.
func (s *Service) BootstrapURLFor(ctx context.Context, id, userID, authToken string) (string, error) {
	if _, err := s.Authorize(ctx, id, userID); err != nil {
		return "", err
	}
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(d.TokenHash), []byte(store.HashToken(authToken))) != 1 {
		return "", ErrNotFound
	}
	if d.ConsumedAt != nil {
		return "", ErrTokenConsumed
	}
	return s.BootstrapURL(id, authToken), nil
}

// Exchange redeems an auth token. It succeeds at most once per session.
func (s *Service) Exchange(ctx context.Context, authToken string) (*ScanSession, error) {
	if authToken == "" {
		return nil, ErrNotFound
	}
	d, err := s.store.ConsumeToken(ctx, store.HashToken(authToken), s.now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Warn("security.scan_token_unknown")
		return nil, ErrNotFound
	case errors.Is(err, store.ErrTokenConsumed):
		slog.Warn("security.scan_token_reused")
		return nil, ErrTokenConsumed
	case err != nil:
		return nil, err
	}

	slog.Info("scan session token exchanged", "session", d.ID, "owner", d.OwnerUserID)
	return fromData(d), nil
}

// Get returns a session without its token.
func (s *Service) Get(ctx context.Context, id string) (*ScanSession, error) {
	d, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromData(d), nil
}

// Authorize checks that userID owns session id.
func (s *Service) Authorize(ctx context.Context, id, userID string) (*ScanSession, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.OwnerUserID != userID {
		slog.Warn("security.scan_session_forbidden", "session", id, "user", userID)
		return nil, ErrNotOwner
	}
	return sess, nil
}

// Delete removes a session owned by userID.
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.Authorize(ctx, id, userID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	slog.Info("scan session deleted", "session", id)
	return nil
}

func fromData(d *store.ScanSessionData) *ScanSession {
	return &ScanSession{
		ID:          d.ID,
		OwnerUserID: d.OwnerUserID,
		CreatedAt:   d.CreatedAt,
		ConsumedAt:  d.ConsumedAt,
	}
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
