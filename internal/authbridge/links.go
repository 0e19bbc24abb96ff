package authbridge

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxPendingLinks bounds the number of outstanding sign-in links.
const maxPendingLinks = 4096

// Link is a pending one-time sign-in link.
type Link struct {
	UserID        string
	ScanSessionID string
	RedirectTo    string
	IssuedAt      time.Time
}

// LinkStore holds sign-in links until they are used or expire.
type LinkStore struct {
	cache *expirable.LRU[string, Link]
	mu    sync.Mutex // makes Consume a single get-and-remove
}

func NewLinkStore(ttl time.Duration) *LinkStore {
	return &LinkStore{cache: expirable.NewLRU[string, Link](maxPendingLinks, nil, ttl)}
}

// Issue stores l under a new random nonce and returns the nonce.
func (s *LinkStore) Issue(l Link) (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	nonce := base64.RawURLEncoding.EncodeToString(b)
	s.cache.Add(nonce, l)
	return nonce, nil
}

// Consume returns the link for nonce and removes it. A second call with the
// same nonce, or a call after expiry, reports false.
func (s *LinkStore) Consume(nonce string) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.cache.Get(nonce)
	if !ok {
		return Link{}, false
	}
	s.cache.Remove(nonce)
	return l, true
}

// Len returns the number of pending links.
func (s *LinkStore) Len() int {
	return s.cache.Len()
}
