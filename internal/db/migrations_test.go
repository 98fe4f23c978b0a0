package db

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOpenAppliesMigrations asserts a fresh database comes up migrated to
// the latest version with the expected tables in place.
func TestOpenAppliesMigrations(t *testing.T) {
	t.Parallel()

	store, err := Open(
		filepath.Join(t.TempDir(), "test.db"),
		slog.New(slog.DiscardHandler),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	var version int
	err = store.DB().QueryRow(
		"SELECT version FROM schema_migrations",
	).Scan(&version)
	require.NoError(t, err)
	require.EqualValues(t, LatestMigrationVersion, version)

	for _, table := range []string{
		"email_events", "email_decisions", "email_drafts",
		"outgoing_emails",
	} {
		var name string
		err := store.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' "+
				"AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "missing table %s", table)
	}
}

// TestUniqueConstraintMapping asserts sqlite unique violations map onto the
// database-agnostic error the stores branch on.
func TestUniqueConstraintMapping(t *testing.T) {
	t.Parallel()

	store, err := Open(
		filepath.Join(t.TempDir(), "test.db"),
		slog.New(slog.DiscardHandler),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	insert := `
		INSERT INTO email_events (
			message_id, thread_id, direction, received_at,
			created_at
		) VALUES ('<dup@example.com>', 't1', 'incoming', 0, 0)`

	ctx := context.Background()
	_, err = store.DB().ExecContext(ctx, insert)
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, insert)
	require.Error(t, err)
	require.True(t, IsUniqueConstraintError(MapSQLError(err)))
}
