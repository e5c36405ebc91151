// Package migrations resolves the embedded pending-lead schema for each
// supported SQL dialect.
package migrations

import (
	"fmt"
	"io/fs"
	"strings"

	leadrelay "github.com/goliatone/go-leadrelay"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const root = "data/sql/migrations"

// ForDialect returns the migration files for dialect. Postgres files live at
// the root of the tree and sqlite files in its sqlite directory.
func ForDialect(dialect string) (fs.FS, error) {
	return forDialect(leadrelay.GetMigrationsFS(), dialect)
}

func forDialect(tree fs.FS, dialect string) (fs.FS, error) {
	dir := root
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres:
	case DialectSQLite:
		dir = root + "/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	sub, err := fs.Sub(tree, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", dir, err)
	}
	matches, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return sub, nil
}
