package store

import (
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound      = errors.New("not found")
	ErrTokenConsumed = errors.New("auth token already used")
)

// GenNewID generates a new UUID v7 (time-ordered).
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// StoreConfig configures the store layer.
type StoreConfig struct {
	// Mode: "standalone" (default, sqlite) or "managed" (postgres).
	Mode string

	// PostgresDSN is the Postgres connection string (managed mode).
	PostgresDSN string

	// SQLitePath is the database file (standalone mode).
	SQLitePath string
}

// IsManaged returns true if the system is in managed (Postgres) mode.
func (c StoreConfig) IsManaged() bool {
	return c.PostgresDSN != "" && c.Mode == "managed"
}
