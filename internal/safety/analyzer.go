package safety

import (
	"context"
	"database/sql"
	"fmt"
)

// Queryer is the narrow interface the analyzer needs to look up a
// table's row-count estimate, following the same narrow-interface
// convention as guard.Queryer and pgschema.Queryer.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const rowCountQuery = `SELECT COALESCE(
	(SELECT reltuples FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
	 WHERE n.nspname = $1 AND c.relname = $2), 0)`

// Analyzer binds Classify+Judge to a live connection for table-size
// lookups.
type Analyzer struct {
	DB         Queryer
	Schema     string
	Thresholds Thresholds
}

// NewAnalyzer returns an Analyzer with DefaultThresholds.
func NewAnalyzer(db Queryer, schema string) *Analyzer {
	return &Analyzer{DB: db, Schema: schema, Thresholds: DefaultThresholds}
}

// Analyze classifies stmt, looks up its target table's size class if the
// shape is size-sensitive, and returns the resulting Diagnostic.
func (a *Analyzer) Analyze(ctx context.Context, stmt string) (Diagnostic, error) {
	c, err := Classify(stmt)
	if err != nil {
		return Diagnostic{}, err
	}
	class := ClassSmall
	if c.Table != "" && IsSizeSensitive(c.Shape) {
		rows, err := a.rowCount(ctx, c.Table)
		if err != nil {
			return Diagnostic{}, fmt.Errorf("safety: row count for %s: %w", c.Table, err)
		}
		class = ClassifyTableSize(rows, a.Thresholds)
	}
	lock := LockLevelFor(c.Shape)
	verdict := Judge(c.Shape, class)
	return Diagnostic{
		Statement: stmt,
		Shape:     c.Shape,
		Lock:      lock,
		Class:     class,
		Verdict:   verdict,
		Hint:      RewriteHint(c.Shape),
	}, nil
}

func (a *Analyzer) rowCount(ctx context.Context, table string) (float64, error) {
	var n float64
	if err := a.DB.QueryRowContext(ctx, rowCountQuery, a.Schema, table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// AnalyzeAll runs Analyze over every statement and returns all
// diagnostics in order.
func (a *Analyzer) AnalyzeAll(ctx context.Context, stmts []string) ([]Diagnostic, error) {
	out := make([]Diagnostic, 0, len(stmts))
	for _, s := range stmts {
		d, err := a.Analyze(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Gate implements the block_on_danger policy of spec.md §4.6: a
// DANGER-verdict diagnostic is refused unless overridden by either the
// migration file's `-- waypoint:safety-override` directive or the
// caller's override flag.
func Gate(diags []Diagnostic, blockOnDanger, fileOverride, callerOverride bool) error {
	if !blockOnDanger || fileOverride || callerOverride {
		return nil
	}
	for _, d := range diags {
		if d.Verdict == VerdictDanger {
			return fmt.Errorf("safety: statement classified DANGER (%s on %s): %s", d.Shape, d.Class, d.Hint)
		}
	}
	return nil
}
