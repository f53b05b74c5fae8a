package engine

import (
	"context"
	"fmt"

	"github.com/tensorbee/waypoint/internal/dbsession"
	"github.com/tensorbee/waypoint/internal/history"
	"github.com/tensorbee/waypoint/internal/migfile"
	"github.com/tensorbee/waypoint/internal/scan"
)

// RepairReport summarizes what Repair changed.
type RepairReport struct {
	DeletedFailed     int64
	RealignedVersions []string
}

// Repair deletes failed rows and realigns stored checksums with the
// current on-disk file content for versions whose file changed without
// a version bump being intended, per spec.md §8 scenario S3 ("repair
// updates stored checksum; subsequent validate passes"). It acquires
// the advisory lock like the other state-mutating commands.
func (e *Engine) Repair(ctx context.Context) (*RepairReport, error) {
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

	deleted, err := store.DeleteFailed(ctx)
	if err != nil {
		return nil, newErr(KindDB, "delete failed rows", err)
	}

	applied, err := store.LoadAll(ctx)
	if err != nil {
		return nil, newErr(KindDB, "load applied migrations", err)
	}
	result, err := scan.Scan(e.Config.Locations)
	if err != nil {
		return nil, newErr(KindScan, "scan migration directory", err)
	}
	byVersion := make(map[string]int32, len(result.Migrations))
	for _, m := range result.Migrations {
		if m.Kind == migfile.Versioned {
			byVersion[m.Version] = m.Checksum
		}
	}

	var realigned []string
	for _, r := range applied {
		if r.Type != history.TypeSQL || !r.Success || !r.Version.Valid {
			continue
		}
		onDisk, ok := byVersion[r.Version.String]
		if !ok || onDisk == r.Checksum {
			continue
		}
		if err := store.UpdateChecksum(ctx, r.Version.String, onDisk); err != nil {
			return nil, newErr(KindDB, "update checksum", err)
		}
		realigned = append(realigned, r.Version.String)
	}

	return &RepairReport{DeletedFailed: deleted, RealignedVersions: realigned}, nil
}

// Baseline records a synthetic BASELINE row for the given version so
// that an existing, unmanaged database can start being migrated from
// that point forward, per spec.md §4.8. It acquires the advisory lock
// like the other state-mutating commands.
func (e *Engine) Baseline(ctx context.Context, version, description string) error {
	if err := e.validateConfig(); err != nil {
		return err
	}
	if version == "" {
		return newErr(KindConfiguration, "baseline requires a version", fmt.Errorf("empty version"))
	}

	conn, err := e.DB.Conn(ctx)
	if err != nil {
		return newErr(KindDB, "acquire connection", err)
	}
	defer conn.Close()

	lockKey := dbsession.LockKey(e.Config.Schema, e.Config.HistoryTable)
	if err := e.acquireLock(ctx, conn, lockKey); err != nil {
		return err
	}
	defer dbsession.Release(ctx, conn, lockKey)

	store := history.New(conn, e.Config.Schema, e.Config.HistoryTable)
	if err := store.EnsureTable(ctx); err != nil {
		return newErr(KindDB, "ensure history table", err)
	}

	applied, err := store.LoadAll(ctx)
	if err != nil {
		return newErr(KindDB, "load applied migrations", err)
	}
	for _, r := range applied {
		if r.Version.Valid && r.Version.String == version {
			return newErr(KindValidation, "version already has a history row",
				fmt.Errorf("version %q", version))
		}
	}

	if err := store.Baseline(ctx, version, description, e.Config.InstalledBy); err != nil {
		return newErr(KindDB, "record baseline row", err)
	}
	e.Logger.Log(EventDone{Applied: 1, Skipped: 0})
	return nil
}
