package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tensorbee/waypoint/internal/guard"
	"github.com/tensorbee/waypoint/internal/history"
	"github.com/tensorbee/waypoint/internal/placeholder"
	"github.com/tensorbee/waypoint/internal/safety"
	"github.com/tensorbee/waypoint/internal/sqlsplit"
)

// nonTransactional is the fixed set of shapes that cannot run inside an
// explicit transaction block: CREATE INDEX CONCURRENTLY and VACUUM. Batch
// mode rejects any pending migration containing one of these before the
// batch's BEGIN; per-migration mode runs them outside an explicit BEGIN.
var nonTransactionalShapes = map[safety.Shape]bool{
	safety.ShapeCreateIndexConcurrently: true,
	safety.ShapeVacuum:                  true,
}

// runBatch executes every pending item inside a single transaction, per
// spec.md §4.10/§5: skip decisions are made (and their history rows
// written) before BEGIN, non-transactional statements are rejected up
// front, and the whole batch (including its history inserts) commits or
// rolls back atomically.
func (e *Engine) runBatch(ctx context.Context, conn *sql.Conn, store *history.Store, items []PendingItem) (*Report, error) {
	report := &Report{}

	type planned struct {
		item  PendingItem
		stmts []string
	}
	var toApply []planned

	evalConn := &guard.Evaluator{DB: conn, Schema: e.Config.Schema, AllowEscapeSQL: e.Config.AllowEscapeSQL}
	for _, item := range items {
		m := item.Migration
		label := migrationLabel(m)

		skip, reason, err := e.evalRequire(ctx, evalConn, m)
		if err != nil {
			return report, err
		}
		if skip {
			rank, err := store.NextRank(ctx)
			if err != nil {
				return report, newErr(KindDB, "allocate installed_rank", err)
			}
			if err := store.RecordSkip(ctx, history.Row{
				InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
				Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
			}); err != nil {
				return report, newErr(KindDB, "record skip", err)
			}
			report.Skipped = append(report.Skipped, SkippedMigration{Version: label, Reason: reason})
			e.Logger.Log(EventSkipped{Version: label, Reason: reason})
			continue
		}

		expanded, err := placeholder.Expand(m.RawSQL, e.Config.Placeholders, e.builtins(m.Path), e.Config.OnUnknownPlaceholder, nil)
		if err != nil {
			return report, newMigrationErr(KindMigration, "expand placeholders", label, err)
		}
		stmts, err := sqlsplit.Split(expanded)
		if err != nil {
			return report, newMigrationErr(KindMigration, "split statements", label, err)
		}
		var texts []string
		for _, s := range stmts {
			texts = append(texts, s.Text)
			c, err := safety.Classify(s.Text)
			if err != nil {
				return report, newMigrationErr(KindSafety, "classify statement", label, err)
			}
			if nonTransactionalShapes[c.Shape] {
				return report, newMigrationErr(KindMigration,
					"statement is not transactional and cannot run in batch mode", label,
					fmt.Errorf("%s", c.Shape))
			}
		}

		analyzer := &safety.Analyzer{DB: conn, Schema: e.Config.Schema, Thresholds: e.Config.thresholds()}
		diags, err := analyzer.AnalyzeAll(ctx, texts)
		if err != nil {
			return report, newMigrationErr(KindSafety, "analyze statements", label, err)
		}
		fileOverride := m.Directives != nil && m.Directives.SafetyOverride
		if err := safety.Gate(diags, e.Config.BlockOnDanger, fileOverride, e.Config.SafetyOverride); err != nil {
			return report, newMigrationErr(KindSafety, err.Error(), label, err)
		}

		toApply = append(toApply, planned{item: item, stmts: texts})
	}

	if len(toApply) == 0 {
		return report, nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return report, newErr(KindDB, "begin batch transaction", err)
	}

	start := time.Now()
	for _, p := range toApply {
		m := p.item.Migration
		label := migrationLabel(m)
		for _, stmt := range p.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return report, newMigrationErr(KindMigration, "statement failed", label, err)
			}
		}
		ensureEvaluator := &guard.Evaluator{DB: tx, Schema: e.Config.Schema, AllowEscapeSQL: e.Config.AllowEscapeSQL}
		var ensureExprs []string
		if m.Directives != nil {
			ensureExprs = m.Directives.Ensure
		}
		for _, expr := range ensureExprs {
			parsed, err := guard.Parse(expr)
			if err != nil {
				tx.Rollback()
				return report, newMigrationErr(KindParse, "parse ensure expression", label, err)
			}
			ok, err := ensureEvaluator.Eval(ctx, parsed)
			if err != nil {
				tx.Rollback()
				return report, newMigrationErr(KindGuard, "evaluate ensure expression", label, err)
			}
			if !ok {
				tx.Rollback()
				return report, newMigrationErr(KindGuard, "ensure expression evaluated false", label, fmt.Errorf("%s", expr))
			}
		}
	}

	batchStore := history.New(tx, e.Config.Schema, e.Config.HistoryTable)
	for _, p := range toApply {
		m := p.item.Migration
		rank, err := batchStore.NextRank(ctx)
		if err != nil {
			tx.Rollback()
			return report, newErr(KindDB, "allocate installed_rank in batch", err)
		}
		if err := batchStore.RecordSuccess(ctx, history.Row{
			InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
			Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
			ExecutionTime: time.Since(start).Milliseconds(),
		}); err != nil {
			tx.Rollback()
			return report, newErr(KindDB, "record batch history row", err)
		}
		report.Applied = append(report.Applied, AppliedMigration{
			Version: migrationLabel(m), Description: m.Description, ExecutionTime: time.Since(start),
		})
	}

	if err := tx.Commit(); err != nil {
		return report, newErr(KindDB, "commit batch", err)
	}
	for _, a := range report.Applied {
		e.Logger.Log(EventApplied{Version: a.Version, Duration: a.ExecutionTime})
	}
	return report, nil
}
