package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the service tables if they do not exist.
// Table names in schema.sql are written as {{documents}} etc. and receive the environment prefix.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	ddl := strings.NewReplacer(
		"{{documents}}", tables.Documents,
		"{{versions}}", tables.Versions,
		"{{search_index}}", tables.SearchIndex,
	).Replace(schemaSQL)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
