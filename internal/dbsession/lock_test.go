package dbsession_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/dbsession"
)

func TestAcquireWithTimeout_SucceedsImmediately(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`pg_try_advisory_lock`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(true))

	err = dbsession.AcquireWithTimeout(context.Background(), db, 42, time.Second)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireWithTimeout_RetriesThenSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`pg_try_advisory_lock`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(false))
	mock.ExpectQuery(`pg_try_advisory_lock`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"acquired"}).AddRow(true))

	err = dbsession.AcquireWithTimeout(context.Background(), db, 7, time.Second)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_ErrorsWhenNotHeld(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`pg_advisory_unlock`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"released"}).AddRow(false))

	err = dbsession.Release(context.Background(), db, 9)
	require.Error(t, err)
}
