package jobstore

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v4/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// migrate applies schema.sql. It is idempotent (every statement is
// CREATE ... IF NOT EXISTS) so it is safe to run on every startup,
// favoring a self-migrating service over a
// separate migration tool.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
