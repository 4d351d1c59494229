// Package dbtest opens throwaway migrated databases for package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/devops-dashboard/internal/database"
)

// Open returns a migrated SQLite database stored under t.TempDir. It is
// closed when the test ends.
func Open(t testing.TB) *database.DB {
	t.Helper()

	file := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(database.SQLite, database.DSN(database.SQLite, "", "", "", "", file))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = database.Migrate(context.Background(), db)
	require.NoError(t, err)
	return db
}
