package safety_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/safety"
)

func TestAnalyzer_Analyze_LooksUpTableSize(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs("public", "events").
		WillReturnRows(sqlmock.NewRows([]string{"reltuples"}).AddRow(float64(50_000_000)))

	a := safety.NewAnalyzer(db, "public")
	diag, err := a.Analyze(context.Background(), `CREATE INDEX events_ts_idx ON events (ts)`)
	require.NoError(t, err)
	require.Equal(t, safety.ClassHuge, diag.Class)
	require.Equal(t, safety.VerdictDanger, diag.Verdict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyzer_Analyze_SkipsLookupWhenNoTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := safety.NewAnalyzer(db, "public")
	diag, err := a.Analyze(context.Background(), `SELECT 1`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeOther, diag.Shape)
	require.Equal(t, safety.VerdictSafe, diag.Verdict)
}
