package database

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

//go:embed migrations/*/*.sql
var migrationFiles embed.FS

// Migrate applies every embedded migration for the dialect that is not yet
// recorded in schema_migrations. Files run in lexical order; each statement
// is executed separately because the MySQL driver rejects multi-statements.
func Migrate(ctx context.Context, db *DB) ([]string, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) NOT NULL PRIMARY KEY,
			applied_at `+timestampType(db.Dialect)+` NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	dir := path.Join("migrations", string(db.Dialect))
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".sql") {
			versions = append(versions, entry.Name())
		}
	}
	sort.Strings(versions)

	var applied []string
	for _, version := range versions {
		var n int
		if err := db.QueryRowContext(ctx, db.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), version).Scan(&n); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", version, err)
		}
		if n > 0 {
			continue
		}

		script, err := migrationFiles.ReadFile(path.Join(dir, version))
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin migration %s: %w", version, err)
		}
		for _, stmt := range splitStatements(string(script)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return applied, fmt.Errorf("execute migration %s: %w", version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, db.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
			version, time.Now().UTC()); err != nil {
			tx.Rollback()
			return applied, fmt.Errorf("record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %s: %w", version, err)
		}

		logrus.WithFields(logrus.Fields{"version": version, "dialect": db.Dialect}).Info("migration applied")
		applied = append(applied, version)
	}

	return applied, nil
}

func timestampType(d Dialect) string {
	switch d {
	case Postgres:
		return "TIMESTAMPTZ"
	case MySQL:
		return "DATETIME(6)"
	default:
		return "DATETIME"
	}
}

// splitStatements breaks a script on ";" and drops blank fragments. Scripts
// must not contain semicolons inside literals.
func splitStatements(script string) []string {
	parts := strings.Split(script, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
