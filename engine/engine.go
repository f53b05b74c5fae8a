// Package engine implements the migrate/undo/clean orchestrator: the
// state machine described in spec.md §4.10 that wires every other
// internal package (scan, guard, safety, pgschema, reversal, history,
// dbsession) into one run.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tensorbee/waypoint/internal/dbsession"
	"github.com/tensorbee/waypoint/internal/guard"
	"github.com/tensorbee/waypoint/internal/history"
	"github.com/tensorbee/waypoint/internal/migfile"
	"github.com/tensorbee/waypoint/internal/placeholder"
	"github.com/tensorbee/waypoint/internal/pgschema"
	"github.com/tensorbee/waypoint/internal/reversal"
	"github.com/tensorbee/waypoint/internal/safety"
	"github.com/tensorbee/waypoint/internal/scan"
	"github.com/tensorbee/waypoint/internal/sqlsplit"
)

// Engine is the migrate/undo/clean orchestrator bound to one database
// connection pool and configuration.
type Engine struct {
	DB     *sql.DB
	Config Config
	Logger Logger
}

// New returns an Engine. A nil logger defaults to NopLogger.
func New(db *sql.DB, cfg Config, logger Logger) *Engine {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Engine{DB: db, Config: cfg, Logger: logger}
}

// Connect opens a database connection per spec.md §4.9 and returns a
// ready Engine.
func Connect(ctx context.Context, cfg Config, logger Logger) (*Engine, error) {
	db, err := dbsession.Open(ctx, dbsession.Config{
		URL:              cfg.URL,
		ConnectRetries:   cfg.ConnectRetries,
		StatementTimeout: cfg.StatementTimeout,
		Schema:           cfg.Schema,
	})
	if err != nil {
		return nil, newErr(KindDB, "connect", err)
	}
	return New(db, cfg, logger), nil
}

// Migrate runs Start → ValidateConfig → Connect(done by caller) →
// AcquireLock → EnsureHistory → LoadApplied → Plan → Loop → ReleaseLock
// → Report, per spec.md §4.10.
func (e *Engine) Migrate(ctx context.Context) (*Report, error) {
	if err := e.validateConfig(); err != nil {
		return nil, err
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

	result, err := scan.Scan(e.Config.Locations)
	if err != nil {
		return nil, newErr(KindScan, "scan migration directory", err)
	}

	if e.Config.ValidateOnMigrate {
		if mismatches := checksumMismatches(applied, result.Migrations); len(mismatches) > 0 {
			return nil, newErr(KindValidation, "checksum mismatch found; run repair before migrating",
				fmt.Errorf("%d mismatch(es), first: version %s: %s",
					len(mismatches), mismatches[0].Version, mismatches[0].Reason))
		}
	}

	items, err := plan(result.Migrations, applied, &e.Config)
	if err != nil {
		return nil, err
	}

	pendingVersions := make([]string, len(items))
	for i, it := range items {
		pendingVersions[i] = migrationLabel(it.Migration)
	}
	e.Logger.Log(EventPlan{Pending: pendingVersions})

	if e.Config.BatchMode {
		report, err := e.runBatch(ctx, conn, store, items)
		if err != nil {
			var me *Error
			if errors.As(err, &me) && me.Version != "" {
				report.FailedVersion = me.Version
			}
			return report, err
		}
		e.Logger.Log(EventDone{Applied: len(report.Applied), Skipped: len(report.Skipped)})
		return report, nil
	}

	report := &Report{}
	for _, item := range items {
		rank, err := store.NextRank(ctx)
		if err != nil {
			return report, newErr(KindDB, "allocate installed_rank", err)
		}

		outcome, err := e.runOne(ctx, conn, store, rank, item)
		if err != nil {
			report.FailedVersion = migrationLabel(item.Migration)
			return report, err
		}
		switch outcome.kind {
		case outcomeApplied:
			report.Applied = append(report.Applied, AppliedMigration{
				Version: migrationLabel(item.Migration), Description: item.Migration.Description,
				ExecutionTime: outcome.duration,
			})
			e.Logger.Log(EventApplied{Version: migrationLabel(item.Migration), Duration: outcome.duration})
		case outcomeSkipped:
			report.Skipped = append(report.Skipped, SkippedMigration{
				Version: migrationLabel(item.Migration), Reason: outcome.reason,
			})
			e.Logger.Log(EventSkipped{Version: migrationLabel(item.Migration), Reason: outcome.reason})
		}
	}

	e.Logger.Log(EventDone{Applied: len(report.Applied), Skipped: len(report.Skipped)})
	return report, nil
}

type outcomeKind int

const (
	outcomeApplied outcomeKind = iota
	outcomeSkipped
)

type runOutcome struct {
	kind     outcomeKind
	reason   string
	duration time.Duration
}

// runOne executes the per-migration pipeline of spec.md §4.10's Loop.
func (e *Engine) runOne(ctx context.Context, conn *sql.Conn, store *history.Store, rank int, item PendingItem) (runOutcome, error) {
	m := item.Migration
	label := migrationLabel(m)

	evaluator := &guard.Evaluator{DB: conn, Schema: e.Config.Schema, AllowEscapeSQL: e.Config.AllowEscapeSQL}

	if skip, reason, err := e.evalRequire(ctx, evaluator, m); err != nil {
		return runOutcome{}, err
	} else if skip {
		if err := store.RecordSkip(ctx, history.Row{
			InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
			Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
		}); err != nil {
			return runOutcome{}, newErr(KindDB, "record skip", err)
		}
		return runOutcome{kind: outcomeSkipped, reason: reason}, nil
	}

	e.Logger.Log(EventApplying{Version: label, Description: m.Description})
	start := time.Now()

	expanded, err := placeholder.Expand(m.RawSQL, e.Config.Placeholders, e.builtins(m.Path), e.Config.OnUnknownPlaceholder, nil)
	if err != nil {
		return runOutcome{}, newMigrationErr(KindMigration, "expand placeholders", label, err)
	}
	stmts, err := sqlsplit.Split(expanded)
	if err != nil {
		return runOutcome{}, newMigrationErr(KindMigration, "split statements", label, err)
	}

	analyzer := &safety.Analyzer{DB: conn, Schema: e.Config.Schema, Thresholds: e.Config.thresholds()}
	var texts []string
	for _, s := range stmts {
		texts = append(texts, s.Text)
	}
	diags, err := analyzer.AnalyzeAll(ctx, texts)
	if err != nil {
		return runOutcome{}, newMigrationErr(KindSafety, "analyze statements", label, err)
	}
	fileOverride := m.Directives != nil && m.Directives.SafetyOverride
	if err := safety.Gate(diags, e.Config.BlockOnDanger, fileOverride, e.Config.SafetyOverride); err != nil {
		return runOutcome{}, newMigrationErr(KindSafety, err.Error(), label, err)
	}

	nonTx := false
	for _, s := range stmts {
		c, cerr := safety.Classify(s.Text)
		if cerr != nil {
			return runOutcome{}, newMigrationErr(KindSafety, "classify statement", label, cerr)
		}
		if nonTransactionalShapes[c.Shape] {
			nonTx = true
		}
	}
	if nonTx && len(stmts) != 1 {
		return runOutcome{}, newMigrationErr(KindMigration,
			"a non-transactional statement must be the only statement in its migration", label,
			fmt.Errorf("migration has %d statements", len(stmts)))
	}
	if nonTx {
		return e.runNonTransactional(ctx, conn, store, rank, item, stmts[0], start)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return runOutcome{}, newMigrationErr(KindDB, "begin transaction", label, err)
	}

	var reversalResult reversal.Result
	apply := func() error {
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s.Text); err != nil {
				return fmt.Errorf("statement at offset %d: %w", s.Start, err)
			}
		}
		return nil
	}
	if e.Config.CaptureReversal {
		reversalResult, err = reversal.Capture(ctx, txQueryer{tx}, e.Config.Schema, apply)
	} else {
		err = apply()
	}
	if err != nil {
		tx.Rollback()
		if recErr := store.RecordFailure(ctx, history.Row{
			InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
			Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
			ExecutionTime: time.Since(start).Milliseconds(),
		}); recErr != nil {
			return runOutcome{}, newMigrationErr(KindDB, "record failure after statement error", label, recErr)
		}
		return runOutcome{}, newMigrationErr(KindMigration, "statement failed", label, err)
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
			return runOutcome{}, newMigrationErr(KindParse, "parse ensure expression", label, err)
		}
		ok, err := ensureEvaluator.Eval(ctx, parsed)
		if err != nil {
			tx.Rollback()
			return runOutcome{}, newMigrationErr(KindGuard, "evaluate ensure expression", label, err)
		}
		if !ok {
			tx.Rollback()
			if recErr := store.RecordFailure(ctx, history.Row{
				InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
				Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
				ExecutionTime: time.Since(start).Milliseconds(),
			}); recErr != nil {
				return runOutcome{}, newMigrationErr(KindDB, "record failure after ensure failed", label, recErr)
			}
			return runOutcome{}, newMigrationErr(KindGuard, "ensure expression evaluated false", label, fmt.Errorf("%s", expr))
		}
	}

	if err := tx.Commit(); err != nil {
		return runOutcome{}, newMigrationErr(KindDB, "commit", label, err)
	}

	row := history.Row{
		InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
		Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
		ExecutionTime: time.Since(start).Milliseconds(),
	}
	if reversalResult.ReversalSQL != "" {
		row.ReversalSQL = sqlNullString(reversalResult.ReversalSQL)
	}
	if err := store.RecordSuccess(ctx, row); err != nil {
		return runOutcome{}, newMigrationErr(KindDB, "record success", label, err)
	}

	return runOutcome{kind: outcomeApplied, duration: time.Since(start)}, nil
}

// runNonTransactional applies a migration whose sole statement cannot run
// inside an explicit BEGIN block (e.g. CREATE INDEX CONCURRENTLY), per
// spec.md §5: the statement runs directly on the session connection, and
// the history row is recorded without transactional atomicity across the
// DDL and the record — there is nothing to roll back if the record write
// itself fails, since the DDL has already taken effect.
func (e *Engine) runNonTransactional(ctx context.Context, conn *sql.Conn, store *history.Store, rank int, item PendingItem, stmt sqlsplit.Stmt, start time.Time) (runOutcome, error) {
	m := item.Migration
	label := migrationLabel(m)

	if _, err := conn.ExecContext(ctx, stmt.Text); err != nil {
		if recErr := store.RecordFailure(ctx, history.Row{
			InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
			Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
			ExecutionTime: time.Since(start).Milliseconds(),
		}); recErr != nil {
			return runOutcome{}, newMigrationErr(KindDB, "record failure after non-transactional statement error", label, recErr)
		}
		return runOutcome{}, newMigrationErr(KindMigration, "non-transactional statement failed", label, err)
	}

	evaluator := &guard.Evaluator{DB: conn, Schema: e.Config.Schema, AllowEscapeSQL: e.Config.AllowEscapeSQL}
	var ensureExprs []string
	if m.Directives != nil {
		ensureExprs = m.Directives.Ensure
	}
	for _, expr := range ensureExprs {
		parsed, err := guard.Parse(expr)
		if err != nil {
			return runOutcome{}, newMigrationErr(KindParse, "parse ensure expression", label, err)
		}
		ok, err := evaluator.Eval(ctx, parsed)
		if err != nil {
			return runOutcome{}, newMigrationErr(KindGuard, "evaluate ensure expression", label, err)
		}
		if !ok {
			if recErr := store.RecordFailure(ctx, history.Row{
				InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
				Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
				ExecutionTime: time.Since(start).Milliseconds(),
			}); recErr != nil {
				return runOutcome{}, newMigrationErr(KindDB, "record failure after ensure failed", label, recErr)
			}
			return runOutcome{}, newMigrationErr(KindGuard, "ensure expression evaluated false", label, fmt.Errorf("%s", expr))
		}
	}

	row := history.Row{
		InstalledRank: rank, Version: versionOrNull(m), Description: m.Description,
		Type: history.TypeSQL, Script: m.Path, Checksum: m.Checksum, InstalledBy: e.Config.InstalledBy,
		ExecutionTime: time.Since(start).Milliseconds(),
	}
	if err := store.RecordSuccess(ctx, row); err != nil {
		return runOutcome{}, newMigrationErr(KindDB, "record success", label, err)
	}
	return runOutcome{kind: outcomeApplied, duration: time.Since(start)}, nil
}

func (e *Engine) evalRequire(ctx context.Context, ev *guard.Evaluator, m scan.Migration) (skip bool, reason string, err error) {
	if m.Directives == nil {
		return false, "", nil
	}
	for _, expr := range m.Directives.Require {
		parsed, perr := guard.Parse(expr)
		if perr != nil {
			return false, "", newMigrationErr(KindParse, "parse require expression", migrationLabel(m), perr)
		}
		ok, everr := ev.Eval(ctx, parsed)
		if everr != nil {
			return false, "", newMigrationErr(KindGuard, "evaluate require expression", migrationLabel(m), everr)
		}
		if ok {
			continue
		}
		switch e.Config.OnRequireFail {
		case OnRequireFailSkip:
			return true, fmt.Sprintf("require failed: %s", expr), nil
		case OnRequireFailWarn:
			return false, "", nil
		default:
			return false, "", newMigrationErr(KindGuard, "require expression evaluated false", migrationLabel(m), fmt.Errorf("%s", expr))
		}
	}
	return false, "", nil
}

func (e *Engine) acquireLock(ctx context.Context, conn *sql.Conn, key int64) error {
	if e.Config.LockTimeout > 0 {
		if err := dbsession.AcquireWithTimeout(ctx, conn, key, e.Config.LockTimeout); err != nil {
			return newErr(KindLock, "acquire advisory lock", err)
		}
		return nil
	}
	if err := dbsession.AcquireBlocking(ctx, conn, key); err != nil {
		return newErr(KindLock, "acquire advisory lock", err)
	}
	return nil
}

func (e *Engine) validateConfig() error {
	if e.Config.Schema == "" {
		return newErr(KindConfiguration, "schema is required", fmt.Errorf("empty schema"))
	}
	if e.Config.HistoryTable == "" {
		return newErr(KindConfiguration, "history table name is required", fmt.Errorf("empty table"))
	}
	switch e.Config.OnRequireFail {
	case "", OnRequireFailError, OnRequireFailWarn, OnRequireFailSkip:
	default:
		return newErr(KindConfiguration, "unknown on_require_fail policy", fmt.Errorf("%q", e.Config.OnRequireFail))
	}
	return nil
}

// builtins resolves the placeholder.Builtins available to a migration at
// path: schema from Config, filename from the migration's own path, and
// user/database parsed out of the connection URL, per spec.md §4.2.
func (e *Engine) builtins(path string) placeholder.Builtins {
	user, database := connURLParts(e.Config.URL)
	return placeholder.Builtins{
		Schema:   e.Config.Schema,
		User:     user,
		Database: database,
		Filename: path,
	}
}

// connURLParts extracts the userinfo username and the path-derived database
// name from a postgres connection URL, tolerating the jdbc: prefix that
// dbsession.NormalizeURL also strips.
func connURLParts(raw string) (user, database string) {
	u, err := url.Parse(strings.TrimPrefix(strings.TrimSpace(raw), "jdbc:"))
	if err != nil {
		return "", ""
	}
	if u.User != nil {
		user = u.User.Username()
	}
	return user, strings.TrimPrefix(u.Path, "/")
}

func migrationLabel(m scan.Migration) string {
	if m.Kind == migfile.Repeatable {
		return "R:" + m.Description
	}
	return m.Version
}

func versionOrNull(m scan.Migration) sql.NullString {
	if m.Kind == migfile.Repeatable {
		return sql.NullString{}
	}
	return sql.NullString{String: m.Version, Valid: true}
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

// txQueryer adapts *sql.Tx to pgschema.Queryer (QueryContext only).
type txQueryer struct{ tx *sql.Tx }

func (t txQueryer) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}
