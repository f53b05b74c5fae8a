package engine_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/tensorbee/waypoint/engine"
	"github.com/tensorbee/waypoint/internal/checksum"
)

func TestInfo_ListsHistoryRowsWithoutTakingTheLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := baseConfig(fstest.MapFS{})

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT installed_rank`).WillReturnRows(appliedRow("1"))

	e := engine.New(db, cfg, nil)
	rows, err := e.Info(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "1", rows[0].Version)
	require.True(t, rows[0].Success)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidate_FlagsChecksumMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"V1__create_users.sql": {Data: []byte("CREATE TABLE users(id int, name text);\n")},
	}
	cfg := baseConfig(fsys)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT installed_rank`).WillReturnRows(appliedRow("1"))

	e := engine.New(db, cfg, nil)
	mismatches, err := e.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	require.Equal(t, "1", mismatches[0].Version)
	require.Equal(t, "checksum mismatch", mismatches[0].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidate_PassesWhenChecksumsMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	content := "CREATE TABLE users(id int);\n"
	fsys := fstest.MapFS{"V1__create_users.sql": {Data: []byte(content)}}
	cfg := baseConfig(fsys)

	row := sqlmock.NewRows([]string{
		"installed_rank", "version", "description", "type", "script", "checksum",
		"installed_by", "installed_on", "execution_time", "success", "reversal_sql",
	}).AddRow(1, "1", "create users", "SQL", "V1__create_users.sql", checksum.Of(content),
		"test", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 10, true, nil)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT installed_rank`).WillReturnRows(row)

	e := engine.New(db, cfg, nil)
	mismatches, err := e.Validate(context.Background())
	require.NoError(t, err)
	require.Empty(t, mismatches)
	require.NoError(t, mock.ExpectationsWereMet())
}
