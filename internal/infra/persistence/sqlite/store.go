// Package sqlite stores memory slots as rows of an embedded SQLite database.
package sqlite

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
	"os"
	"path/filepath"
	"time"

	"memorypin/internal/blob/core"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion.
var _ core.Store = (*Store)(nil)

const defaultPath = "memorypin.db"

// Store persists each slot as one row of the slots table. Writes are upserts
// so a slot is always replaced as a whole.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and ensures the slots table exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS slots (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create slots table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverSQLite }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

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
	md, err := json.Marshal(nonNil(opts.Metadata))
	if err != nil {
		return core.Info{}, err
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO slots(key,payload,content_type,metadata,updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, content_type=excluded.content_type, metadata=excluded.metadata, updated_at=excluded.updated_at`,
		key, payload, opts.ContentType, string(md), now.Format(time.RFC3339Nano)); err != nil {
		return core.Info{}, fmt.Errorf("upsert %s: %w", key, err)
	}
	return core.Info{
		Key:          key,
		Size:         int64(len(payload)),
		ContentType:  opts.ContentType,
		ETag:         etag(payload),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: now,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload, content_type, metadata, updated_at FROM slots WHERE key = ?`, key)
	info, payload, err := scanSlot(key, row)
	if err != nil {
		return core.Info{}, nil, err
	}
	return info, io.NopCloser(bytes.NewReader(payload)), nil
}

func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload, content_type, metadata, updated_at FROM slots WHERE key = ?`, key)
	info, _, err := scanSlot(key, row)
	return info, err
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanSlot(key string, row *sql.Row) (core.Info, []byte, error) {
	var (
		payload     []byte
		contentType string
		metadata    string
		updated     string
	)
	if err := row.Scan(&payload, &contentType, &metadata, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Info{}, nil, fmt.Errorf("slot %s: %w", key, core.ErrNotExist)
		}
		return core.Info{}, nil, fmt.Errorf("select %s: %w", key, err)
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(metadata), &md); err != nil {
		return core.Info{}, nil, fmt.Errorf("decode metadata for %s: %w", key, err)
	}
	if len(md) == 0 {
		md = nil
	}
	lm, _ := time.Parse(time.RFC3339Nano, updated)
	return core.Info{Key: key, Size: int64(len(payload)), ContentType: contentType, ETag: etag(payload), Metadata: md, LastModified: lm}, payload, nil
}

func etag(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func nonNil(md map[string]string) map[string]string {
	if md == nil {
		return map[string]string{}
	}
	return md
}
