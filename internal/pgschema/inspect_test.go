package pgschema_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/pgschema"
)

func TestInspect_TablesAndColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`FROM information_schema.tables`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("users"))

	mock.ExpectQuery(`FROM information_schema.columns`).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "is_nullable", "column_default"}).
			AddRow("id", "integer", "NO", ""))

	mock.ExpectQuery(`FROM information_schema.table_constraints`).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"constraint_type", "constraint_name", "column_name"}).
			AddRow("PRIMARY KEY", "users_pkey", "id"))

	mock.ExpectQuery(`FROM pg_class t`).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"index_name", "indisunique", "attname"}))

	mock.ExpectQuery(`FROM pg_constraint con`).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "definition"}))

	mock.ExpectQuery(`con.contype = 'f'`).
		WithArgs("public", "users").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "columns", "relname", "refcolumns"}))

	mock.ExpectQuery(`FROM pg_type t`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"typname", "enumlabel"}))

	mock.ExpectQuery(`FROM information_schema.sequences`).
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"sequence_name"}))

	snap, err := pgschema.Inspect(context.Background(), db, "public")
	require.NoError(t, err)
	require.Len(t, snap.Tables, 1)
	require.Equal(t, "users", snap.Tables[0].Name)
	require.Equal(t, []string{"id"}, snap.Tables[0].PrimaryKey)
	require.NoError(t, mock.ExpectationsWereMet())
}
