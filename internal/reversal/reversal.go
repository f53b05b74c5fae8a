// Package reversal captures a schema snapshot before and after a
// migration applies, diffs them, and synthesizes the reverse DDL stored
// alongside the migration's history row (spec.md §4.11).
package reversal

import (
	"context"
	"fmt"
	"strings"

	"github.com/tensorbee/waypoint/internal/pgschema"
)

// Result is the reverse DDL Capture synthesizes for the schema change
// between before and after: the reverse statements joined with
// trailing semicolons (ready to store in history.Row.ReversalSQL and to
// re-run, statement by statement, on undo), plus whether the forward
// change lost data the reverse cannot restore.
type Result struct {
	ReversalSQL string
	DataLoss    bool
	Statements  []string
}

// Diff computes the Result for the schema transition before → after.
func Diff(before, after *pgschema.Snapshot, schema string) Result {
	d := pgschema.Compute(before, after)
	if d.Empty() {
		return Result{}
	}
	stmts := pgschema.GenerateReverse(d, schema)
	return Result{
		ReversalSQL: strings.Join(stmts, ";\n") + ";",
		DataLoss:    d.HasDataLoss(),
		Statements:  stmts,
	}
}

// Snapshotter is the minimal surface Capture needs to introspect the
// live schema — pgschema.Inspect's own Queryer, reused here rather than
// redeclared.
type Snapshotter interface {
	pgschema.Queryer
}

// Capture introspects schema before and after calling apply, and returns
// the synthesized reverse DDL for whatever apply changed. apply is
// expected to run the migration's statements against the same
// connection/transaction db is bound to.
func Capture(ctx context.Context, db Snapshotter, schema string, apply func() error) (Result, error) {
	before, err := pgschema.Inspect(ctx, db, schema)
	if err != nil {
		return Result{}, fmt.Errorf("reversal: snapshot before: %w", err)
	}
	if err := apply(); err != nil {
		return Result{}, err
	}
	after, err := pgschema.Inspect(ctx, db, schema)
	if err != nil {
		return Result{}, fmt.Errorf("reversal: snapshot after: %w", err)
	}
	return Diff(before, after, schema), nil
}
