// Package core defines the slot storage abstraction shared by every backend.
// A slot is a named byte payload that is always overwritten as a whole.
package core

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"
)

// Driver identifies a concrete slot storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores each slot as a file under a root directory.
	DriverFilesystem Driver = "fs" // local filesystem (default)
	// DriverS3 stores each slot as an object in an S3 / MinIO bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps slots in process memory.
	DriverMemory Driver = "memory" // tests / ephemeral
	// DriverSQLite stores slots as rows in an embedded SQLite database.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres stores slots as rows in a PostgreSQL table.
	DriverPostgres Driver = "postgres"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small, flat key-value
}

// Info describes a stored slot.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the persistence gateway used by the memory store. Put replaces any
// existing payload at key. Get and Head report a missing key with an error
// matching ErrNotExist.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete removes a slot. Returns (false, nil) if not found.
	Delete(ctx context.Context, key string) (bool, error)
	Driver() Driver
}

// ErrNotExist reports a missing slot. It aliases fs.ErrNotExist so the
// filesystem driver's errors match without translation.
var ErrNotExist = fs.ErrNotExist

// IsNotExist reports whether err signals a missing slot.
func IsNotExist(err error) bool { return errors.Is(err, ErrNotExist) }

// CloneMetadata copies a metadata map. Nil stays nil.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
