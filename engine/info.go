package engine

import (
	"context"

	"github.com/tensorbee/waypoint/internal/history"
	"github.com/tensorbee/waypoint/internal/migfile"
	"github.com/tensorbee/waypoint/internal/scan"
)

// InfoRow is one line of Info's report, for display by the hosting CLI.
// Info is read-only and, per spec.md §5, does not take the advisory
// lock.
type InfoRow struct {
	Version     string
	Description string
	Type        string
	InstalledBy string
	Success     bool
	Checksum    int32
}

// Info lists every row currently in the history table, in installed_rank
// order, without acquiring the advisory lock.
func (e *Engine) Info(ctx context.Context) ([]InfoRow, error) {
	if err := e.validateConfig(); err != nil {
		return nil, err
	}

	store := history.New(e.DB, e.Config.Schema, e.Config.HistoryTable)
	if err := store.EnsureTable(ctx); err != nil {
		return nil, newErr(KindDB, "ensure history table", err)
	}
	rows, err := store.LoadAll(ctx)
	if err != nil {
		return nil, newErr(KindDB, "load applied migrations", err)
	}

	out := make([]InfoRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, InfoRow{
			Version:     r.Version.String,
			Description: r.Description,
			Type:        r.Type,
			InstalledBy: r.InstalledBy,
			Success:     r.Success,
			Checksum:    r.Checksum,
		})
	}
	return out, nil
}

// Mismatch is one checksum or presence disagreement Validate found,
// per spec.md §3 ("validate surfaces mismatches") and §8 scenario S3.
type Mismatch struct {
	Version string
	Reason  string
	Stored  int32
	OnDisk  int32
}

// Validate compares every successfully applied Versioned row's stored
// checksum against the current on-disk file, and every applied version
// against the scanned file set, without acquiring the advisory lock.
func (e *Engine) Validate(ctx context.Context) ([]Mismatch, error) {
	if err := e.validateConfig(); err != nil {
		return nil, err
	}

	store := history.New(e.DB, e.Config.Schema, e.Config.HistoryTable)
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
	return checksumMismatches(applied, result.Migrations), nil
}

// checksumMismatches is Validate's comparison logic, factored out so
// Migrate can reuse it for the validate_on_migrate=true precheck
// (spec.md §8 scenario S3: "migrate is refused until repaired when
// validate_on_migrate=true").
func checksumMismatches(applied []history.Row, migrations []scan.Migration) []Mismatch {
	byVersion := make(map[string]int32, len(migrations))
	for _, m := range migrations {
		if m.Kind == migfile.Versioned {
			byVersion[m.Version] = m.Checksum
		}
	}

	var mismatches []Mismatch
	for _, r := range applied {
		if r.Type != history.TypeSQL || !r.Success || !r.Version.Valid {
			continue
		}
		onDisk, ok := byVersion[r.Version.String]
		if !ok {
			mismatches = append(mismatches, Mismatch{
				Version: r.Version.String, Reason: "applied version missing from migration directory",
			})
			continue
		}
		if onDisk != r.Checksum {
			mismatches = append(mismatches, Mismatch{
				Version: r.Version.String, Reason: "checksum mismatch", Stored: r.Checksum, OnDisk: onDisk,
			})
		}
	}
	return mismatches
}
