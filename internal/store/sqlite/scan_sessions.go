// Package sqlite implements the standalone-mode stores on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/goscan/internal/store"
)

// ScanSessionStore implements store.ScanSessionStore on SQLite.
type ScanSessionStore struct {
	db *sql.DB
	mu sync.Mutex // serializes consume so the check-and-set is atomic
}

// Open opens (or creates) the database at dbPath and ensures the schema.
func Open(dbPath string) (*ScanSessionStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &ScanSessionStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("scan session store opened", "driver", "sqlite", "path", dbPath)
	return s, nil
}

func (s *ScanSessionStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_sessions (
			id TEXT PRIMARY KEY,
			token_hash TEXT NOT NULL UNIQUE,
			owner_user_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			consumed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_sessions_owner ON scan_sessions(owner_user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

func (s *ScanSessionStore) Create(ctx context.Context, d *store.ScanSessionData) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_sessions (id, token_hash, owner_user_id, created_at) VALUES (?, ?, ?, ?)`,
		d.ID, d.TokenHash, d.OwnerUserID, d.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert scan session: %w", err)
	}
	return nil
}

func (s *ScanSessionStore) Get(ctx context.Context, id string) (*store.ScanSessionData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, token_hash, owner_user_id, created_at, consumed_at FROM scan_sessions WHERE id = ?`, id)
	return scanRow(row)
}

func (s *ScanSessionStore) ConsumeToken(ctx context.Context, tokenHash string, at time.Time) (*store.ScanSessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	d, err := scanRow(tx.QueryRowContext(ctx,
		`SELECT id, token_hash, owner_user_id, created_at, consumed_at FROM scan_sessions WHERE token_hash = ?`, tokenHash))
	if err != nil {
		return nil, err
	}
	if d.ConsumedAt != nil {
		return nil, store.ErrTokenConsumed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE scan_sessions SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`, at.UnixMilli(), d.ID); err != nil {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume: %w", err)
	}
	d.ConsumedAt = &at
	return d, nil
}

func (s *ScanSessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ScanSessionStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*store.ScanSessionData, error) {
	var (
		d          store.ScanSessionData
		createdAt  int64
		consumedAt sql.NullInt64
	)
	if err := row.Scan(&d.ID, &d.TokenHash, &d.OwnerUserID, &createdAt, &consumedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan scan session: %w", err)
	}
	d.CreatedAt = time.UnixMilli(createdAt)
	if consumedAt.Valid {
		t := time.UnixMilli(consumedAt.Int64)
		d.ConsumedAt = &t
	}
	return &d, nil
}
