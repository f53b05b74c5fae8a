package history_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/history"
)

func TestEnsureTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))

	s := history.New(db, "public", "waypoint_history")
	require.NoError(t, s.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextRank(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE\(MAX`).WillReturnRows(sqlmock.NewRows([]string{"rank"}).AddRow(4))

	s := history.New(db, "public", "waypoint_history")
	rank, err := s.NextRank(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, rank)
}

func TestRecordSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO`).WillReturnResult(sqlmock.NewResult(1, 1))

	s := history.New(db, "public", "waypoint_history")
	err = s.RecordSuccess(context.Background(), history.Row{
		InstalledRank: 1,
		Version:       sql.NullString{String: "1", Valid: true},
		Description:   "create users",
		Type:          history.TypeSQL,
		Script:        "V1__create_users.sql",
		Checksum:      123,
		InstalledBy:   "waypoint",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM`).WillReturnResult(sqlmock.NewResult(0, 2))

	s := history.New(db, "public", "waypoint_history")
	n, err := s.DeleteFailed(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestLastSuccessfulRepeatable(t *testing.T) {
	rows := []history.Row{
		{Type: history.TypeSQL, Description: "view_active_users", Success: true},
		{Type: history.TypeSQL, Description: "view_active_users", Success: true},
		{Type: history.TypeSQL, Description: "view_other", Success: true},
	}
	last := history.LastSuccessfulRepeatable(rows, "view_active_users")
	require.NotNil(t, last)
}

func TestAppliedVersions(t *testing.T) {
	rows := []history.Row{
		{Type: history.TypeSQL, Version: sql.NullString{String: "1", Valid: true}, Success: true},
		{Type: history.TypeSQL, Version: sql.NullString{String: "2", Valid: true}, Success: false},
	}
	applied := history.AppliedVersions(rows)
	require.True(t, applied["1"])
	require.False(t, applied["2"])
}
