package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Register Postgres SQL driver.
	_ "github.com/lib/pq"
	// Register SQLite SQL driver.
	_ "modernc.org/sqlite"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore is an L2 warm-tier cache backend over SQLite or Postgres. It
// implements the L2 interface so Cache can treat either dialect
// interchangeably.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore opens a SQLite-backed L2 store. dsn may be a file path
// (e.g. /var/lib/videoforge/cache.db) or a SQLite DSN; an empty dsn falls
// back to a local default file.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "videoforge-cache.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite l2 store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore opens a Postgres-backed L2 store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres l2 store: %w", err)
	}
	store := &SQLStore{db: db, dialect: dialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s l2 store: %w", s.dialect, err)
	}

	var ddl string
	switch s.dialect {
	case dialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS response_cache (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);`
	default:
		ddl = `
CREATE TABLE IF NOT EXISTS response_cache (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_response_cache_expires_at ON response_cache(expires_at);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s l2 schema: %w", s.dialect, err)
	}
	return nil
}

// Get returns the stored value for key. Expired entries are treated as
// absent and lazily deleted.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	q := s.bind(`SELECT value, expires_at FROM response_cache WHERE key = ?`)
	row := s.db.QueryRowContext(ctx, q, key)

	var value []byte
	var expiresAt time.Time
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get l2 key %q: %w", key, err)
	}
	if time.Now().After(expiresAt) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts key with value, expiring after ttl.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)

	var q string
	switch s.dialect {
	case dialectPostgres:
		q = s.bind(`
INSERT INTO response_cache(key, value, expires_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`)
	default:
		q = s.bind(`
INSERT INTO response_cache(key, value, expires_at) VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`)
	}

	if _, err := s.db.ExecContext(ctx, q, key, value, expiresAt); err != nil {
		return fmt.Errorf("set l2 key %q: %w", key, err)
	}
	return nil
}

// Delete removes key, if present.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	q := s.bind(`DELETE FROM response_cache WHERE key = ?`)
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("delete l2 key %q: %w", key, err)
	}
	return nil
}

// Scan returns every unexpired key with the given prefix.
func (s *SQLStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	q := s.bind(`SELECT key FROM response_cache WHERE key LIKE ? ESCAPE '\' AND expires_at > ?`)
	rows, err := s.db.QueryContext(ctx, q, escapeLikePrefix(prefix)+"%", time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("scan l2 prefix %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) bind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	argNum := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", argNum)
			argNum++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// escapeLikePrefix escapes SQL LIKE wildcard characters in prefix so that a
// cache-key prefix like "sora:model%" is matched literally.
func escapeLikePrefix(prefix string) string {
	r := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_")
	return r.Replace(prefix)
}
