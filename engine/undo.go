package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tensorbee/waypoint/internal/dbsession"
	"github.com/tensorbee/waypoint/internal/history"
	"github.com/tensorbee/waypoint/internal/migfile"
	"github.com/tensorbee/waypoint/internal/placeholder"
	"github.com/tensorbee/waypoint/internal/scan"
	"github.com/tensorbee/waypoint/internal/sqlsplit"
)

// Undo reverses one applied migration, per spec.md §4.11: a manual
// `U<version>__*.sql` file wins if present; otherwise the stored
// reversal_sql from that version's history row is applied. Both paths run
// in their own transaction and record a UNDO_SQL history row.
func (e *Engine) Undo(ctx context.Context, version string) (*Report, error) {
	if err := e.validateConfig(); err != nil {
		return nil, err
	}
	if version == "" {
		return nil, newErr(KindConfiguration, "undo requires a target version", fmt.Errorf("empty version"))
	}

	conn, err := e.DB.Conn(ctx)
	if err != nil {
		return nil, newErr(KindDB, "acquire connection", err)
	}
	defer conn.Close()

	lockKey := dbsession.LockKey(e.Config.Schema, e.Config.HistoryTable)
	if err := e.acquireLock(ctx, conn, lockKey); err != nil {
		return nil, err
	}
	defer dbsession.Release(ctx, conn, lockKey)

	store := history.New(conn, e.Config.Schema, e.Config.HistoryTable)
	if err := store.EnsureTable(ctx); err != nil {
		return nil, newErr(KindDB, "ensure history table", err)
	}

	applied, err := store.LoadAll(ctx)
	if err != nil {
		return nil, newErr(KindDB, "load applied migrations", err)
	}
	var target *history.Row
	for i := range applied {
		r := &applied[i]
		if r.Success && r.Version.Valid && r.Version.String == version {
			target = r
		}
	}
	if target == nil {
		return nil, newErr(KindValidation, "no successful applied migration found for version",
			fmt.Errorf("version %q", version))
	}

	result, err := scan.Scan(e.Config.Locations)
	if err != nil {
		return nil, newErr(KindScan, "scan migration directory", err)
	}

	var stmts []sqlsplit.Stmt
	var scriptLabel string
	for _, m := range result.Migrations {
		if m.Kind == migfile.Undo && m.Version == version {
			expanded, err := placeholder.Expand(m.RawSQL, e.Config.Placeholders, e.builtins(m.Path), e.Config.OnUnknownPlaceholder, nil)
			if err != nil {
				return nil, newMigrationErr(KindMigration, "expand placeholders", "U"+version, err)
			}
			stmts, err = sqlsplit.Split(expanded)
			if err != nil {
				return nil, newMigrationErr(KindMigration, "split statements", "U"+version, err)
			}
			scriptLabel = m.Path
			break
		}
	}
	if stmts == nil {
		if !target.ReversalSQL.Valid || target.ReversalSQL.String == "" {
			return nil, newErr(KindMigration, "no undo file and no stored reversal_sql for version",
				fmt.Errorf("version %q", version))
		}
		stmts, err = sqlsplit.Split(target.ReversalSQL.String)
		if err != nil {
			return nil, newMigrationErr(KindMigration, "split reversal_sql", "U"+version, err)
		}
		scriptLabel = "<reversal_sql>"
	}

	start := time.Now()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, newMigrationErr(KindDB, "begin undo transaction", "U"+version, err)
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.Text); err != nil {
			tx.Rollback()
			return nil, newMigrationErr(KindMigration, "undo statement failed", "U"+version,
				fmt.Errorf("statement at offset %d: %w", s.Start, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, newMigrationErr(KindDB, "commit undo", "U"+version, err)
	}

	rank, err := store.NextRank(ctx)
	if err != nil {
		return nil, newErr(KindDB, "allocate installed_rank for undo", err)
	}
	row := history.Row{
		InstalledRank: rank,
		Version:       sql.NullString{String: version, Valid: true},
		Description:   "Undo " + target.Description,
		Type:          history.TypeUndoSQL,
		Script:        scriptLabel,
		InstalledBy:   e.Config.InstalledBy,
		ExecutionTime: time.Since(start).Milliseconds(),
	}
	if err := store.RecordSuccess(ctx, row); err != nil {
		return nil, newMigrationErr(KindDB, "record undo history row", "U"+version, err)
	}

	report := &Report{Applied: []AppliedMigration{{
		Version: "U" + version, Description: row.Description, ExecutionTime: time.Since(start),
	}}}
	e.Logger.Log(EventApplied{Version: "U" + version, Duration: time.Since(start)})
	return report, nil
}
