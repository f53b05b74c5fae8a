package engine_test

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/tensorbee/waypoint/engine"
	"github.com/tensorbee/waypoint/internal/scan"
)

func baseConfig(fsys fstest.MapFS) engine.Config {
	return engine.Config{
		Locations:    []scan.ReadFileFS{fsys},
		Schema:       "public",
		HistoryTable: "waypoint_schema_history",
		InstalledBy:  "test",
	}
}

func expectLock(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT pg_advisory_lock\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_lock"}).AddRow(nil))
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))
}

func expectHistoryBringup(mock sqlmock.Sqlmock, appliedRows *sqlmock.Rows) {
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT installed_rank`).WillReturnRows(appliedRows)
}

func emptyHistoryRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"installed_rank", "version", "description", "type", "script", "checksum",
		"installed_by", "installed_on", "execution_time", "success", "reversal_sql",
	})
}

func TestMigrate_AppliesSinglePendingMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"V1__create_users.sql": {Data: []byte("CREATE TABLE users(id int);\n")},
	}
	cfg := baseConfig(fsys)

	expectLock(mock)
	expectHistoryBringup(mock, emptyHistoryRows())
	mock.ExpectQuery(`SELECT COALESCE\(MAX`).WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(1, 1))
	expectUnlock(mock)

	e := engine.New(db, cfg, nil)
	report, err := e.Migrate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Applied, 1)
	require.Equal(t, "1", report.Applied[0].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_SkipsOnRequireFailWithSkipPolicy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"V1__guarded.sql": {Data: []byte(
			"-- waypoint:require table_exists(\"absent\")\nCREATE TABLE widgets(id int);\n")},
	}
	cfg := baseConfig(fsys)
	cfg.OnRequireFail = engine.OnRequireFailSkip

	expectLock(mock)
	expectHistoryBringup(mock, emptyHistoryRows())
	mock.ExpectQuery(`SELECT COALESCE\(MAX`).WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(1, 1))
	expectUnlock(mock)

	e := engine.New(db, cfg, nil)
	report, err := e.Migrate(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Applied)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, "1", report.Skipped[0].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RollsBackAndRecordsFailureOnStatementError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"V1__bad.sql": {Data: []byte("CREATE TABLE broken(id int);\n")},
	}
	cfg := baseConfig(fsys)

	expectLock(mock)
	expectHistoryBringup(mock, emptyHistoryRows())
	mock.ExpectQuery(`SELECT COALESCE\(MAX`).WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE broken`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()
	mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(1, 1))
	expectUnlock(mock)

	e := engine.New(db, cfg, nil)
	report, err := e.Migrate(context.Background())
	require.Error(t, err)
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, engine.KindMigration, engErr.Kind)
	require.Equal(t, "1", report.FailedVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_BlocksOnDangerVerdict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"V1__drop_users.sql": {Data: []byte("DROP TABLE users;\n")},
	}
	cfg := baseConfig(fsys)
	cfg.BlockOnDanger = true

	expectLock(mock)
	expectHistoryBringup(mock, emptyHistoryRows())
	mock.ExpectQuery(`SELECT COALESCE\(MAX`).WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(1))
	expectUnlock(mock)

	e := engine.New(db, cfg, nil)
	report, err := e.Migrate(context.Background())
	require.Error(t, err)
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, engine.KindSafety, engErr.Kind)
	require.Empty(t, report.Applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_ReappliesRepeatableOnChecksumChange(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"R__view.sql": {Data: []byte("CREATE OR REPLACE VIEW v AS SELECT 2;\n")},
	}
	cfg := baseConfig(fsys)

	priorRow := sqlmock.NewRows([]string{
		"installed_rank", "version", "description", "type", "script", "checksum",
		"installed_by", "installed_on", "execution_time", "success", "reversal_sql",
	}).AddRow(1, nil, "view", "SQL", "R__view.sql", 1, "test", time.Now(), 5, true, nil)

	expectLock(mock)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT installed_rank`).WillReturnRows(priorRow)
	mock.ExpectQuery(`SELECT COALESCE\(MAX`).WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE OR REPLACE VIEW`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(1, 1))
	expectUnlock(mock)

	e := engine.New(db, cfg, nil)
	report, err := e.Migrate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Applied, 1)
	require.Equal(t, "R:view", report.Applied[0].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RefusedWhenValidateOnMigrateFindsMismatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"V1__create_users.sql": {Data: []byte("CREATE TABLE users(id int, email text);\n")},
		"V2__create_orders.sql": {Data: []byte("CREATE TABLE orders(id int);\n")},
	}
	cfg := baseConfig(fsys)
	cfg.ValidateOnMigrate = true

	expectLock(mock)
	expectHistoryBringup(mock, appliedRow("1"))
	expectUnlock(mock)

	e := engine.New(db, cfg, nil)
	report, err := e.Migrate(context.Background())
	require.Error(t, err)
	var engErr *engine.Error
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, engine.KindValidation, engErr.Kind)
	require.Nil(t, report)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_BatchModeCommitsAllInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"V1__create_a.sql": {Data: []byte("CREATE TABLE a(id int);\n")},
		"V2__create_b.sql": {Data: []byte("CREATE TABLE b(id int);\n")},
	}
	cfg := baseConfig(fsys)
	cfg.BatchMode = true

	expectLock(mock)
	expectHistoryBringup(mock, emptyHistoryRows())
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX`).WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX`).WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	e := engine.New(db, cfg, nil)
	report, err := e.Migrate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Applied, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
