// Package migrations hands the embedded outbound schema to a host migration
// runner, such as go-persistence-bun.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	outbound "github.com/goliatone/go-outbound"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// postgres files live at the root of the tree, sqlite ones in a subdirectory
const migrationsDir = "data/sql/migrations"

// RegisterFunc receives the migration files for one dialect.
type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

// Dialect returns the embedded migrations for dialect.
func Dialect(dialect string) (fs.FS, error) {
	dir := migrationsDir
	switch normalizeDialect(dialect) {
	case DialectPostgres:
	case DialectSQLite:
		dir += "/" + DialectSQLite
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
	fsys, err := fs.Sub(outbound.GetMigrationsFS(), dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	matches, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return fsys, nil
}

// Register passes the migrations of each dialect to registerFn, both
// dialects when none are named.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	if len(dialects) == 0 {
		dialects = []string{DialectPostgres, DialectSQLite}
	}
	seen := map[string]bool{}
	for _, dialect := range dialects {
		dialect = normalizeDialect(dialect)
		if seen[dialect] {
			continue
		}
		seen[dialect] = true
		fsys, err := Dialect(dialect)
		if err != nil {
			return err
		}
		if err := registerFn(ctx, dialect, fsys); err != nil {
			return fmt.Errorf("migrations: register %s: %w", dialect, err)
		}
	}
	return nil
}

func normalizeDialect(dialect string) string {
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	if dialect == "postgresql" || dialect == "pg" {
		return DialectPostgres
	}
	if dialect == "sqlite3" {
		return DialectSQLite
	}
	return dialect
}
