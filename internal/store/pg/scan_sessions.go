package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/goscan/internal/store"
)

// PGScanSessionStore implements store.ScanSessionStore backed by Postgres.
type PGScanSessionStore struct {
	db *sql.DB
}

func NewPGScanSessionStore(db *sql.DB) *PGScanSessionStore {
	return &PGScanSessionStore{db: db}
}

func (s *PGScanSessionStore) Create(ctx context.Context, d *store.ScanSessionData) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_sessions (id, token_hash, owner_user_id, created_at) VALUES ($1, $2, $3, $4)`,
		d.ID, d.TokenHash, d.OwnerUserID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create scan session: %w", err)
	}
	return nil
}

func (s *PGScanSessionStore) Get(ctx context.Context, id string) (*store.ScanSessionData, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT id, token_hash, owner_user_id, created_at, consumed_at FROM scan_sessions WHERE id = $1`, id))
}

// ConsumeToken marks the token used in a single conditional UPDATE; a
// concurrent second exchange matches zero rows.
func (s *PGScanSessionStore) ConsumeToken(ctx context.Context, tokenHash string, at time.Time) (*store.ScanSessionData, error) {
	d, err := scanSession(s.db.QueryRowContext(ctx,
		`UPDATE scan_sessions SET consumed_at = $2
		 WHERE token_hash = $1 AND consumed_at IS NULL
		 RETURNING id, token_hash, owner_user_id, created_at, consumed_at`, tokenHash, at))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM scan_sessions WHERE token_hash = $1)`, tokenHash).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check token: %w", err)
	}
	if exists {
		return nil, store.ErrTokenConsumed
	}
	return nil, store.ErrNotFound
}

func (s *PGScanSessionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scan_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGScanSessionStore) Close() error {
	return s.db.Close()
}

func scanSession(row *sql.Row) (*store.ScanSessionData, error) {
	var (
		d          store.ScanSessionData
		consumedAt sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.TokenHash, &d.OwnerUserID, &d.CreatedAt, &consumedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan scan session: %w", err)
	}
	if consumedAt.Valid {
		t := consumedAt.Time
		d.ConsumedAt = &t
	}
	return &d, nil
}
