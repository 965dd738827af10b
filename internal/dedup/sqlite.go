package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.DedupStore using SQLite, fronted by an
// in-process TTL LRU so redeliveries arriving within seconds never hit disk.
type SQLiteStore struct {
	db     *sql.DB
	cache  *expirable.LRU[string, struct{}]
	logger *slog.Logger

	mu        sync.Mutex
	lastPurge time.Time
}

// NewSQLiteStore opens (creating if needed) the dedup database at dbPath.
// cacheSize bounds the front cache; cacheTTL should match the key TTL.
func NewSQLiteStore(dbPath string, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{
		db:     db,
		cache:  expirable.NewLRU[string, struct{}](cacheSize, nil, cacheTTL),
		logger: logger,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dedup_keys (
		key        TEXT PRIMARY KEY,
		expires_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dedup_expires ON dedup_keys(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Seen marks key for ttl and reports whether it was already present and
// unexpired. The check-then-set is a single statement, so concurrent
// deliveries of the same key resolve inside SQLite.
func (s *SQLiteStore) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if _, ok := s.cache.Get(key); ok {
		return true, nil
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_keys (key, expires_at) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
		 WHERE dedup_keys.expires_at <= ?`,
		key, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("dedup seen %s: %w", key, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup seen %s: %w", key, err)
	}

	s.cache.Add(key, struct{}{})
	s.maybePurge(ctx, now)

	// Zero rows affected means an unexpired row already held the key.
	return affected == 0, nil
}

// maybePurge drops expired rows at most once a minute.
func (s *SQLiteStore) maybePurge(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := now.Sub(s.lastPurge) >= time.Minute
	if due {
		s.lastPurge = now
	}
	s.mu.Unlock()
	if !due {
		return
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup_keys WHERE expires_at <= ?`, now); err != nil {
		s.logger.Warn("dedup purge failed", "err", err)
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
