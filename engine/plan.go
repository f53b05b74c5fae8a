package engine

import (
	"sort"

	"github.com/tensorbee/waypoint/internal/depgraph"
	"github.com/tensorbee/waypoint/internal/history"
	"github.com/tensorbee/waypoint/internal/migfile"
	"github.com/tensorbee/waypoint/internal/scan"
)

// PendingItem is one migration the plan decided should run.
type PendingItem struct {
	Migration scan.Migration
	// Reapply is true for a Repeatable whose checksum changed.
	Reapply bool
}

// plan computes the pending set: filter by applied state, by
// environment, order by §4.7, and (out-of-order) validate ordering.
func plan(files []scan.Migration, applied []history.Row, cfg *Config) ([]PendingItem, error) {
	appliedVersions := history.AppliedVersions(applied)
	maxApplied := history.MaxAppliedVersion(applied, func(a, b string) bool { return migfile.CompareVersions(a, b) < 0 })

	var candidates []scan.Migration
	for _, m := range files {
		if !environmentMatches(m, cfg.Environment) {
			continue
		}
		switch m.Kind {
		case migfile.Versioned:
			if appliedVersions[m.Version] {
				continue
			}
			if maxApplied != "" && migfile.CompareVersions(m.Version, maxApplied) < 0 && !cfg.OutOfOrder {
				return nil, &Error{
					Kind:    KindValidation,
					Message: "migration version is below the highest applied version and out-of-order mode is disabled",
					Version: m.Version,
				}
			}
			candidates = append(candidates, m)
		case migfile.Repeatable:
			last := history.LastSuccessfulRepeatable(applied, m.Description)
			if last != nil && last.Checksum == m.Checksum {
				continue
			}
			candidates = append(candidates, m)
		case migfile.Undo:
			// Undo files are not part of the forward pending set; they
			// are consulted by Undo directly.
		}
	}

	ordered, err := order(candidates, cfg.DependencyOrdering)
	if err != nil {
		return nil, err
	}

	items := make([]PendingItem, 0, len(ordered))
	for _, m := range ordered {
		reapply := false
		if m.Kind == migfile.Repeatable {
			reapply = history.LastSuccessfulRepeatable(applied, m.Description) != nil
		}
		items = append(items, PendingItem{Migration: m, Reapply: reapply})
	}
	return items, nil
}

func environmentMatches(m scan.Migration, env string) bool {
	if m.Directives == nil || len(m.Directives.Env) == 0 {
		return true
	}
	for _, e := range m.Directives.Env {
		if e == env {
			return true
		}
	}
	return false
}

// order sorts candidates by version-total-order, or — when dependency
// ordering is enabled — by the DAG induced by `depends` directives with
// version order as the stable tie-break (spec.md §4.7).
func order(candidates []scan.Migration, dependencyOrdering bool) ([]scan.Migration, error) {
	if !dependencyOrdering {
		sort.SliceStable(candidates, func(i, j int) bool {
			return lessMigration(candidates[i], candidates[j])
		})
		return candidates, nil
	}

	byID := make(map[string]scan.Migration, len(candidates))
	nodes := make([]depgraph.Node, 0, len(candidates))
	for _, m := range candidates {
		id := migrationID(m)
		byID[id] = m
		nodes = append(nodes, depgraph.Node{ID: id, DependsOn: dependsIDs(m)})
	}
	order, err := depgraph.Sort(nodes, func(a, b string) bool { return migfile.CompareVersions(a, b) < 0 })
	if err != nil {
		return nil, newErr(KindScan, "dependency graph", err)
	}
	out := make([]scan.Migration, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

func migrationID(m scan.Migration) string {
	if m.Kind == migfile.Repeatable {
		return "R:" + m.Description
	}
	return m.Version
}

func dependsIDs(m scan.Migration) []string {
	if m.Directives == nil {
		return nil
	}
	return m.Directives.Depends
}

func lessMigration(a, b scan.Migration) bool {
	if a.Kind == migfile.Repeatable || b.Kind == migfile.Repeatable {
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Description < b.Description
	}
	return migfile.CompareVersions(a.Version, b.Version) < 0
}
