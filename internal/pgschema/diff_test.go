package pgschema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/pgschema"
)

func TestCompute_TableAdded(t *testing.T) {
	before := &pgschema.Snapshot{}
	after := &pgschema.Snapshot{Tables: []pgschema.Table{{Name: "users"}}}
	d := pgschema.Compute(before, after)
	require.Len(t, d.TablesAdded, 1)
	require.Equal(t, "users", d.TablesAdded[0].Name)
	require.Empty(t, d.TablesRemoved)
	require.Empty(t, d.TablesChanged)
}

func TestCompute_ColumnAddedAndChanged(t *testing.T) {
	before := &pgschema.Snapshot{Tables: []pgschema.Table{{
		Name: "users",
		Columns: []pgschema.Column{
			{Name: "id", Type: "integer", Nullable: false},
			{Name: "name", Type: "text", Nullable: true},
		},
	}}}
	after := &pgschema.Snapshot{Tables: []pgschema.Table{{
		Name: "users",
		Columns: []pgschema.Column{
			{Name: "id", Type: "integer", Nullable: false},
			{Name: "name", Type: "text", Nullable: false},
			{Name: "email", Type: "text", Nullable: true},
		},
	}}}
	d := pgschema.Compute(before, after)
	require.Len(t, d.TablesChanged, 1)
	td := d.TablesChanged[0]
	require.Len(t, td.ColumnsAdded, 1)
	require.Equal(t, "email", td.ColumnsAdded[0].Name)
	require.Len(t, td.ColumnsChanged, 1)
	require.Equal(t, "name", td.ColumnsChanged[0].Name)
}

func TestDiff_HasDataLoss(t *testing.T) {
	before := &pgschema.Snapshot{Tables: []pgschema.Table{{Name: "legacy"}}}
	after := &pgschema.Snapshot{}
	d := pgschema.Compute(before, after)
	require.True(t, d.HasDataLoss())
}

func TestDiff_NoDataLossOnPureAdditions(t *testing.T) {
	before := &pgschema.Snapshot{}
	after := &pgschema.Snapshot{Tables: []pgschema.Table{{Name: "users"}}}
	d := pgschema.Compute(before, after)
	require.False(t, d.HasDataLoss())
}

func TestGenerateForward_CreateTableThenIndex(t *testing.T) {
	before := &pgschema.Snapshot{}
	after := &pgschema.Snapshot{Tables: []pgschema.Table{{
		Name:       "users",
		Columns:    []pgschema.Column{{Name: "id", Type: "integer", Nullable: false}},
		PrimaryKey: []string{"id"},
		Indexes:    []pgschema.Index{{Name: "users_email_idx", Columns: []string{"email"}}},
	}}}
	d := pgschema.Compute(before, after)
	stmts := pgschema.GenerateForward(d, "public")
	require.Len(t, stmts, 2)
	require.Contains(t, stmts[0], "CREATE TABLE")
	require.Contains(t, stmts[1], "CREATE INDEX")
}

func TestCompute_PreservesCanonicalOrderOfAddedAndRemoved(t *testing.T) {
	// Compute trusts its inputs to already be name-sorted (Inspect's job);
	// it must reproduce that order in its output on every call rather than
	// scrambling it through map iteration.
	before := &pgschema.Snapshot{Tables: []pgschema.Table{
		{Name: "a_old"}, {Name: "b_old"}, {Name: "c_old"},
	}}
	after := &pgschema.Snapshot{Tables: []pgschema.Table{
		{Name: "a_new"}, {Name: "m_new"}, {Name: "z_new"},
	}}
	for i := 0; i < 10; i++ {
		d := pgschema.Compute(before, after)
		require.Equal(t, []string{"a_new", "m_new", "z_new"}, tableNames(d.TablesAdded))
		require.Equal(t, []string{"a_old", "b_old", "c_old"}, tableNames(d.TablesRemoved))
	}
}

func tableNames(ts []pgschema.Table) []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	return names
}

func TestGenerateForward_OrdersNewTablesByForeignKeyDependency(t *testing.T) {
	before := &pgschema.Snapshot{}
	// Canonical (name-sorted) order places "bookings" before "customers",
	// which is the wrong order to emit CREATE TABLE statements in:
	// "bookings" inlines a foreign key to "customers".
	after := &pgschema.Snapshot{Tables: []pgschema.Table{
		{
			Name:       "bookings",
			Columns:    []pgschema.Column{{Name: "id", Type: "integer", Nullable: false}, {Name: "customer_id", Type: "integer", Nullable: false}},
			PrimaryKey: []string{"id"},
			ForeignKeys: []pgschema.ForeignKey{
				{Name: "bookings_customer_id_fkey", Columns: []string{"customer_id"}, RefTable: "customers", RefColumns: []string{"id"}},
			},
		},
		{
			Name:       "customers",
			Columns:    []pgschema.Column{{Name: "id", Type: "integer", Nullable: false}},
			PrimaryKey: []string{"id"},
		},
	}}
	d := pgschema.Compute(before, after)
	require.Equal(t, "bookings", d.TablesAdded[0].Name)
	require.Equal(t, "customers", d.TablesAdded[1].Name)

	stmts := pgschema.GenerateForward(d, "public")
	customersAt := indexContaining(stmts, `CREATE TABLE "public"."customers"`)
	bookingsAt := indexContaining(stmts, `CREATE TABLE "public"."bookings"`)
	require.GreaterOrEqual(t, customersAt, 0)
	require.GreaterOrEqual(t, bookingsAt, 0)
	require.Less(t, customersAt, bookingsAt)
}

func indexContaining(haystack []string, sub string) int {
	for i, s := range haystack {
		if strings.Contains(s, sub) {
			return i
		}
	}
	return -1
}

func TestGenerateReverse_InvertsAddedAndRemoved(t *testing.T) {
	before := &pgschema.Snapshot{}
	after := &pgschema.Snapshot{Tables: []pgschema.Table{{Name: "users"}}}
	d := pgschema.Compute(before, after)
	reverse := pgschema.GenerateReverse(d, "public")
	require.Len(t, reverse, 1)
	require.Contains(t, reverse[0], "DROP TABLE")
}
