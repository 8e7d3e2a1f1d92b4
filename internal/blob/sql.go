package blob

import (
	"context"

	"memorypin/internal/infra/persistence/postgres"
	"memorypin/internal/infra/persistence/sqlite"
)

// NewSQLite opens an SQLite-backed slot store at path.
func NewSQLite(path string) (Store, error) {
	return sqlite.NewStore(path)
}

// NewPostgres opens a Postgres-backed slot store for dsn.
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	return postgres.NewStore(ctx, dsn)
}
