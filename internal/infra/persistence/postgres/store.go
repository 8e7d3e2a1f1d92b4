// Package postgres stores memory slots as rows of a PostgreSQL table.
package postgres

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"memorypin/internal/blob/core"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion.
var _ core.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/memorypin?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists slots to Postgres, one row per key.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed slot store using dsn (falls back to
// defaultDSN), pings it and ensures the slots table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureSlotsTable(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSlotsTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS slots (
		key TEXT PRIMARY KEY,
		payload BYTEA NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		metadata JSONB NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure slots table: %w", err)
	}
	return nil
}

func (s *Store) Driver() core.Driver { return core.DriverPostgres }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if key == "" {
		return core.Info{}, fmt.Errorf("empty key")
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	md := opts.Metadata
	if md == nil {
		md = map[string]string{}
	}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return core.Info{}, err
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO slots (key, payload, content_type, metadata, updated_at) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, content_type = EXCLUDED.content_type, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`,
		key, payload, opts.ContentType, string(mdJSON), now); err != nil {
		return core.Info{}, fmt.Errorf("upsert %s: %w", key, err)
	}
	return core.Info{Key: key, Size: int64(len(payload)), ContentType: opts.ContentType, ETag: etag(payload), Metadata: core.CloneMetadata(opts.Metadata), LastModified: now}, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, payload, err := s.load(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return info, io.NopCloser(bytes.NewReader(payload)), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	info, _, err := s.load(ctx, key)
	return info, err
}

func (s *Store) load(ctx context.Context, key string) (core.Info, []byte, error) {
	var (
		payload     []byte
		contentType string
		metadata    string
		updated     time.Time
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, content_type, metadata, updated_at FROM slots WHERE key = $1`, key).
		Scan(&payload, &contentType, &metadata, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Info{}, nil, fmt.Errorf("slot %s: %w", key, core.ErrNotExist)
	}
	if err != nil {
		return core.Info{}, nil, fmt.Errorf("select %s: %w", key, err)
	}
	var md map[string]string
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &md); err != nil {
			return core.Info{}, nil, fmt.Errorf("decode metadata for %s: %w", key, err)
		}
	}
	if len(md) == 0 {
		md = nil
	}
	return core.Info{Key: key, Size: int64(len(payload)), ContentType: contentType, ETag: etag(payload), Metadata: md, LastModified: updated}, payload, nil
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func etag(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
