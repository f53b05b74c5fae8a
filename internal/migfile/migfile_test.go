package migfile_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/migfile"
)

func TestParse_Versioned(t *testing.T) {
	p, err := migfile.Parse("V1.1__Add_email.sql")
	require.NoError(t, err)
	require.Equal(t, migfile.Versioned, p.Kind)
	require.Equal(t, "1.1", p.Version)
	require.Equal(t, "Add email", p.Description)
}

func TestParse_Repeatable(t *testing.T) {
	p, err := migfile.Parse("R__Recreate_view.sql")
	require.NoError(t, err)
	require.Equal(t, migfile.Repeatable, p.Kind)
	require.Equal(t, "", p.Version)
	require.Equal(t, "Recreate view", p.Description)
}

func TestParse_Undo(t *testing.T) {
	p, err := migfile.Parse("U2__Create_orders.sql")
	require.NoError(t, err)
	require.Equal(t, migfile.Undo, p.Kind)
	require.Equal(t, "2", p.Version)
}

func TestParse_RejectsMissingSeparator(t *testing.T) {
	_, err := migfile.Parse("V1_Create_users.sql")
	require.Error(t, err)
}

func TestParse_RejectsBadVersion(t *testing.T) {
	_, err := migfile.Parse("V1.a__Bad.sql")
	require.Error(t, err)
}

func TestParse_RejectsBadDescription(t *testing.T) {
	_, err := migfile.Parse("V1___Bad.sql")
	require.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1", "1.1", -1},
		{"1.1", "1", 1},
		{"1", "1", 0},
		{"1.9", "1.10", -1},
		{"2", "1.9999", 1},
		{"1.0.1", "1.0.2", -1},
	}
	for _, c := range cases {
		require.Equal(t, c.want, migfile.CompareVersions(c.a, c.b), "%s vs %s", c.a, c.b)
	}
}

func TestIsHook(t *testing.T) {
	h, ok := migfile.IsHook("beforeMigrate.sql")
	require.True(t, ok)
	require.Equal(t, "beforeMigrate", h)

	h, ok = migfile.IsHook("afterEachMigrate__notify.sql")
	require.True(t, ok)
	require.Equal(t, "afterEachMigrate", h)

	_, ok = migfile.IsHook("V1__Create_users.sql")
	require.False(t, ok)
}
