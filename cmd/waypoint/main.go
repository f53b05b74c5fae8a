package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tensorbee/waypoint/engine"
	"github.com/tensorbee/waypoint/internal/scan"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: waypoint <migrate|undo|clean|info|validate|repair|baseline> [flags]")
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet("waypoint "+cmd, flag.ContinueOnError)
	dir := fs.String("dir", "migrations", "migrations directory")
	schema := fs.String("schema", "public", "managed schema")
	table := fs.String("table", "waypoint_schema_history", "history table name")
	url := fs.String("url", os.Getenv("DATABASE_URL"), "database connection URL (default: $DATABASE_URL)")
	version := fs.String("version", "", "target version (undo and baseline)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		return fmt.Errorf("waypoint: no database URL given (pass -url or set DATABASE_URL)")
	}

	locations := []scan.ReadFileFS{os.DirFS(*dir).(scan.ReadFileFS)}
	cfg := engine.Config{
		Locations:        locations,
		Schema:           *schema,
		HistoryTable:     *table,
		InstalledBy:      currentUser(),
		URL:              *url,
		ConnectRetries:   3,
		StatementTimeout: 30 * time.Second,
	}

	e, err := engine.Connect(ctx, cfg, consoleLogger{})
	if err != nil {
		return err
	}
	defer e.DB.Close()

	switch cmd {
	case "migrate":
		report, err := e.Migrate(ctx)
		if report != nil {
			printReport(report)
		}
		return err
	case "undo":
		if *version == "" {
			return fmt.Errorf("waypoint: undo requires -version")
		}
		report, err := e.Undo(ctx, *version)
		if report != nil {
			printReport(report)
		}
		return err
	case "clean":
		return e.Clean(ctx)
	case "info":
		rows, err := e.Info(ctx)
		if err != nil {
			return err
		}
		printInfo(rows)
		return nil
	case "validate":
		mismatches, err := e.Validate(ctx)
		if err != nil {
			return err
		}
		printMismatches(mismatches)
		if len(mismatches) > 0 {
			return fmt.Errorf("waypoint: validate found %d mismatch(es)", len(mismatches))
		}
		return nil
	case "repair":
		rep, err := e.Repair(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("repair: deleted %d failed row(s), realigned %d checksum(s)\n",
			rep.DeletedFailed, len(rep.RealignedVersions))
		return nil
	case "baseline":
		if *version == "" {
			return fmt.Errorf("waypoint: baseline requires -version")
		}
		return e.Baseline(ctx, *version, "Baseline")
	default:
		return fmt.Errorf("waypoint: unknown command %q", cmd)
	}
}

func printReport(r *engine.Report) {
	for _, a := range r.Applied {
		fmt.Printf("applied %-20s %s (%s)\n", a.Version, a.Description, a.ExecutionTime)
	}
	for _, s := range r.Skipped {
		fmt.Printf("skipped %-20s %s\n", s.Version, s.Reason)
	}
}

func printInfo(rows []engine.InfoRow) {
	for _, r := range rows {
		status := "success"
		if !r.Success {
			status = "failed"
		}
		fmt.Printf("%-10s %-8s %-30s %-10s %s\n", r.Version, r.Type, r.Description, status, r.InstalledBy)
	}
}

func printMismatches(mismatches []engine.Mismatch) {
	for _, m := range mismatches {
		if m.Reason == "checksum mismatch" {
			fmt.Printf("version %s: checksum mismatch (stored=%d, on-disk=%d)\n", m.Version, m.Stored, m.OnDisk)
			continue
		}
		fmt.Printf("version %s: %s\n", m.Version, m.Reason)
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "waypoint"
}

func exitCode(err error) int {
	var e *engine.Error
	if !asEngineError(err, &e) {
		return 1
	}
	switch e.Kind {
	case engine.KindValidation:
		return 3
	case engine.KindDB:
		return 4
	case engine.KindMigration:
		return 5
	case engine.KindLock:
		return 6
	case engine.KindGuard:
		return 13
	case engine.KindSafety:
		return 14
	case engine.KindSimulation:
		return 15
	default:
		return 1
	}
}

func asEngineError(err error, target **engine.Error) bool {
	for err != nil {
		if e, ok := err.(*engine.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type consoleLogger struct{}

func (consoleLogger) Log(ev engine.Event) {
	switch e := ev.(type) {
	case engine.EventPlan:
		fmt.Printf("plan: %d pending\n", len(e.Pending))
	case engine.EventApplying:
		fmt.Printf("applying %s: %s\n", e.Version, e.Description)
	case engine.EventApplied:
		fmt.Printf("applied  %s (%s)\n", e.Version, e.Duration)
	case engine.EventSkipped:
		fmt.Printf("skipped  %s: %s\n", e.Version, e.Reason)
	case engine.EventFailed:
		fmt.Printf("failed   %s: %v\n", e.Version, e.Err)
	case engine.EventDone:
		fmt.Printf("done: %d applied, %d skipped\n", e.Applied, e.Skipped)
	}
}
