// Package history manages the schema-history table: the durable,
// append-mostly ledger of applied migrations that the engine consults to
// compute what's pending and that other Flyway-compatible tooling reads
// against the same schema (spec.md §3, §4.8).
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Row is one schema-history record, exactly the column set spec.md §3
// requires so that Flyway's own tooling can read the same table.
type Row struct {
	InstalledRank int
	Version       sql.NullString
	Description   string
	Type          string // "SQL", "BASELINE", "UNDO_SQL", "HOOK"
	Script        string
	Checksum      int32
	InstalledBy   string
	InstalledOn   time.Time
	ExecutionTime int64 // milliseconds
	Success       bool
	ReversalSQL   sql.NullString
}

const (
	TypeSQL      = "SQL"
	TypeBaseline = "BASELINE"
	TypeUndoSQL  = "UNDO_SQL"
	TypeHook     = "HOOK"
)

// ExecQueryer is the minimal *sql.DB / *sql.Tx surface the store needs —
// the same narrow-interface convention used throughout this module.
type ExecQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the history table's CRUD operations around a connection or
// transaction, scoped to one managed schema+table name.
type Store struct {
	DB     ExecQueryer
	Schema string
	Table  string
}

func New(db ExecQueryer, schema, table string) *Store {
	return &Store{DB: db, Schema: schema, Table: table}
}

func (s *Store) qualified() string {
	return fmt.Sprintf(`%q.%q`, s.Schema, s.Table)
}

// EnsureTable creates the history table if it doesn't already exist, in
// a single atomic statement, matching the Flyway history-table shape
// bit-for-bit (spec.md §6).
func (s *Store) EnsureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	installed_rank integer NOT NULL PRIMARY KEY,
	version varchar(50),
	description varchar(200) NOT NULL,
	type varchar(20) NOT NULL,
	script varchar(1000) NOT NULL,
	checksum integer,
	installed_by varchar(100) NOT NULL,
	installed_on timestamp NOT NULL DEFAULT now(),
	execution_time integer NOT NULL,
	success boolean NOT NULL,
	reversal_sql text
)`, s.qualified())
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("history: ensure table: %w", err)
	}
	return nil
}

// LoadAll returns every row in installed_rank order.
func (s *Store) LoadAll(ctx context.Context) ([]Row, error) {
	query := fmt.Sprintf(`
SELECT installed_rank, version, description, type, script, checksum,
       installed_by, installed_on, execution_time, success, reversal_sql
FROM %s ORDER BY installed_rank`, s.qualified())
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("history: load all: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var checksum sql.NullInt32
		if err := rows.Scan(&r.InstalledRank, &r.Version, &r.Description, &r.Type, &r.Script,
			&checksum, &r.InstalledBy, &r.InstalledOn, &r.ExecutionTime, &r.Success, &r.ReversalSQL); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		if checksum.Valid {
			r.Checksum = checksum.Int32
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// NextRank allocates the next installed_rank — max(rank)+1 — to be
// called only while the advisory lock is held (spec.md §3 invariant:
// installed_rank is strictly increasing across all writes).
func (s *Store) NextRank(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COALESCE(MAX(installed_rank), 0) + 1 FROM %s`, s.qualified())
	var rank int
	if err := s.DB.QueryRowContext(ctx, query).Scan(&rank); err != nil {
		return 0, fmt.Errorf("history: next rank: %w", err)
	}
	return rank, nil
}

func (s *Store) insert(ctx context.Context, r Row) error {
	query := fmt.Sprintf(`
INSERT INTO %s (installed_rank, version, description, type, script, checksum,
                 installed_by, installed_on, execution_time, success, reversal_sql)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8, $9, $10)`, s.qualified())
	_, err := s.DB.ExecContext(ctx, query,
		r.InstalledRank, r.Version, r.Description, r.Type, r.Script, r.Checksum,
		r.InstalledBy, r.ExecutionTime, r.Success, r.ReversalSQL)
	return err
}

// RecordSuccess writes a successful row.
func (s *Store) RecordSuccess(ctx context.Context, r Row) error {
	r.Success = true
	if err := s.insert(ctx, r); err != nil {
		return fmt.Errorf("history: record success: %w", err)
	}
	return nil
}

// RecordFailure writes a failed row — success=false, so that a later
// `repair` run can unwind it (spec.md §7 propagation rule).
func (s *Store) RecordFailure(ctx context.Context, r Row) error {
	r.Success = false
	if err := s.insert(ctx, r); err != nil {
		return fmt.Errorf("history: record failure: %w", err)
	}
	return nil
}

// RecordSkip writes a row for a migration skipped by on_require_fail=skip
// policy: success=true (skipping is not a failure), empty execution time.
func (s *Store) RecordSkip(ctx context.Context, r Row) error {
	r.Success = true
	r.ExecutionTime = 0
	if err := s.insert(ctx, r); err != nil {
		return fmt.Errorf("history: record skip: %w", err)
	}
	return nil
}

// DeleteFailed removes every success=false row, the `repair` operation's
// core action.
func (s *Store) DeleteFailed(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE success = false`, s.qualified())
	res, err := s.DB.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("history: delete failed: %w", err)
	}
	return res.RowsAffected()
}

// UpdateChecksum rewrites the stored checksum for a version — the other
// half of `repair`, for files whose content changed without a version
// bump being intended.
func (s *Store) UpdateChecksum(ctx context.Context, version string, newChecksum int32) error {
	query := fmt.Sprintf(`UPDATE %s SET checksum = $1 WHERE version = $2`, s.qualified())
	if _, err := s.DB.ExecContext(ctx, query, newChecksum, version); err != nil {
		return fmt.Errorf("history: update checksum: %w", err)
	}
	return nil
}

// Baseline writes a single synthetic BASELINE row with the given version,
// success=true, empty script/checksum (spec.md §4.8).
func (s *Store) Baseline(ctx context.Context, version, description, installedBy string) error {
	rank, err := s.NextRank(ctx)
	if err != nil {
		return err
	}
	return s.RecordSuccess(ctx, Row{
		InstalledRank: rank,
		Version:       sql.NullString{String: version, Valid: true},
		Description:   description,
		Type:          TypeBaseline,
		Script:        "",
		Checksum:      0,
		InstalledBy:   installedBy,
	})
}

// LastSuccessfulRepeatable returns the most recent successful row for a
// Repeatable migration's description, or nil if none exists — used to
// decide whether a Repeatable needs re-applying (its checksum differs
// from this row's).
func LastSuccessfulRepeatable(rows []Row, description string) *Row {
	var last *Row
	for i := range rows {
		r := &rows[i]
		if r.Type != TypeSQL || r.Version.Valid || r.Description != description || !r.Success {
			continue
		}
		last = r
	}
	return last
}

// AppliedVersions returns the set of Versioned migration versions with a
// successful row, used by Plan to compute the pending set.
func AppliedVersions(rows []Row) map[string]bool {
	out := map[string]bool{}
	for _, r := range rows {
		if r.Success && r.Version.Valid && r.Type == TypeSQL {
			out[r.Version.String] = true
		}
	}
	return out
}

// MaxAppliedVersion returns the highest applied version by migfile's
// total order, or "" if none. The caller supplies the comparator to
// avoid this package depending on migfile for a single function.
func MaxAppliedVersion(rows []Row, less func(a, b string) bool) string {
	max := ""
	for _, r := range rows {
		if !r.Success || !r.Version.Valid || r.Type != TypeSQL {
			continue
		}
		if max == "" || less(max, r.Version.String) {
			max = r.Version.String
		}
	}
	return max
}
