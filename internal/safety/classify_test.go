package safety_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/safety"
)

func TestClassify_CreateTable(t *testing.T) {
	c, err := safety.Classify(`CREATE TABLE users (id serial primary key)`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeCreateTable, c.Shape)
	require.Equal(t, "users", c.Table)
}

func TestClassify_CreateIndexConcurrently(t *testing.T) {
	c, err := safety.Classify(`CREATE INDEX CONCURRENTLY users_email_idx ON users (email)`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeCreateIndexConcurrently, c.Shape)
}

func TestClassify_AddColumnNotNullNoDefault(t *testing.T) {
	c, err := safety.Classify(`ALTER TABLE users ADD COLUMN age int NOT NULL`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeAddColumnNotNullNoDefault, c.Shape)
	require.True(t, c.NotNull)
	require.False(t, c.HasDefault)
}

func TestClassify_AddColumnNotNullWithDefault(t *testing.T) {
	c, err := safety.Classify(`ALTER TABLE users ADD COLUMN age int NOT NULL DEFAULT 0`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeAddColumnNotNullDefault, c.Shape)
	require.True(t, c.HasDefault)
}

func TestClassify_DropTable(t *testing.T) {
	c, err := safety.Classify(`DROP TABLE users`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeDropTable, c.Shape)
	require.Equal(t, "users", c.Table)
}

func TestClassify_Truncate(t *testing.T) {
	c, err := safety.Classify(`TRUNCATE users`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeTruncate, c.Shape)
}

func TestClassify_Vacuum(t *testing.T) {
	c, err := safety.Classify(`VACUUM users`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeVacuum, c.Shape)
	require.Equal(t, "users", c.Table)
}

func TestClassify_Other(t *testing.T) {
	c, err := safety.Classify(`SELECT 1`)
	require.NoError(t, err)
	require.Equal(t, safety.ShapeOther, c.Shape)
}

func TestJudge_EscalatesOnLargeTable(t *testing.T) {
	require.Equal(t, safety.VerdictCaution, safety.Judge(safety.ShapeCreateIndex, safety.ClassSmall))
	require.Equal(t, safety.VerdictDanger, safety.Judge(safety.ShapeCreateIndex, safety.ClassLarge))
}

func TestJudge_DropTableAlwaysDanger(t *testing.T) {
	require.Equal(t, safety.VerdictDanger, safety.Judge(safety.ShapeDropTable, safety.ClassSmall))
	require.Equal(t, safety.VerdictDanger, safety.Judge(safety.ShapeDropTable, safety.ClassHuge))
}

func TestGate_BlocksDangerWithoutOverride(t *testing.T) {
	diags := []safety.Diagnostic{{Verdict: safety.VerdictDanger}}
	err := safety.Gate(diags, true, false, false)
	require.Error(t, err)
}

func TestGate_AllowsWithFileOverride(t *testing.T) {
	diags := []safety.Diagnostic{{Verdict: safety.VerdictDanger}}
	err := safety.Gate(diags, true, true, false)
	require.NoError(t, err)
}

func TestGate_AllowsWhenNotBlocking(t *testing.T) {
	diags := []safety.Diagnostic{{Verdict: safety.VerdictDanger}}
	err := safety.Gate(diags, false, false, false)
	require.NoError(t, err)
}
