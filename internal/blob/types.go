// Package blob re-exports the slot storage abstractions and wires the
// configured backend.
package blob

import (
	"memorypin/internal/blob/core"
)

type (
	// Driver identifies a slot backend driver.
	Driver = core.Driver
	// PutOptions configures a slot write.
	PutOptions = core.PutOptions
	// Info describes stored slot metadata.
	Info = core.Info
	// Store is the interface for slot storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
	// DriverSQLite is the embedded SQLite driver.
	DriverSQLite = core.DriverSQLite
	// DriverPostgres is the PostgreSQL driver.
	DriverPostgres = core.DriverPostgres
)

// ErrNotExist reports a missing slot.
var ErrNotExist = core.ErrNotExist

// IsNotExist reports whether err signals a missing slot.
func IsNotExist(err error) bool { return core.IsNotExist(err) }
