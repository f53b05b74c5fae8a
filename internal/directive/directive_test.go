package directive_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tensorbee/waypoint/internal/directive"
)

func TestParse_Accumulates(t *testing.T) {
	content := `-- waypoint:env prod, staging
-- waypoint:depends 1,1.1
-- waypoint:require table_exists("users")
-- waypoint:require column_exists("users", "email")
-- waypoint:ensure index_exists("users", "users_email_idx")
-- waypoint:safety-override

create table users(id serial primary key);
`
	set := directive.Parse(content)
	require.Equal(t, []string{"prod", "staging"}, set.Env)
	require.Equal(t, []string{"1", "1.1"}, set.Depends)
	require.Len(t, set.Require, 2)
	require.Len(t, set.Ensure, 1)
	require.True(t, set.SafetyOverride)
}

func TestParse_WordBoundary(t *testing.T) {
	content := "-- waypoint:environment staging\n\ncreate table t(id int);\n"
	set := directive.Parse(content)
	require.Empty(t, set.Env, "waypoint:environment must not be matched as waypoint:env")
}

func TestParse_StopsAtFirstNonComment(t *testing.T) {
	content := "create table t(id int);\n-- waypoint:env prod\n"
	set := directive.Parse(content)
	require.Empty(t, set.Env, "directives after the leading comment block must not be recognized")
}

func TestParse_NoDirectives(t *testing.T) {
	set := directive.Parse("create table t(id int);\n")
	require.Empty(t, set.Env)
	require.Empty(t, set.Depends)
	require.False(t, set.SafetyOverride)
}
