package persistence

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestMigrator_UpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{
		"000001_event_log.up.sql":     "CREATE SCHEMA event_log;",
		"000001_event_log.down.sql":   "DROP SCHEMA event_log;",
		"000002_projections.up.sql":   "CREATE SCHEMA projections;",
		"000002_projections.down.sql": "DROP SCHEMA projections;",
	})

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS public.schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM public.schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("000001"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE SCHEMA projections;")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO public.schema_migrations")).
		WithArgs("000002", "000002_projections.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	m := NewMigrator(db, dir, zerolog.Nop())
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrator_Pending(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{
		"000001_event_log.up.sql":   "",
		"000002_projections.up.sql": "",
	})

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS public.schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version FROM public.schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	pending, err := NewMigrator(db, dir, zerolog.Nop()).Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_event_log.up.sql", "000002_projections.up.sql"}, pending)
}

func TestExtractVersion(t *testing.T) {
	assert.Equal(t, "000001", extractVersion("000001_event_log.up.sql"))
	assert.Equal(t, "README", extractVersion("README"))
}
