// Package depgraph orders migrations by the DAG induced by their "depends"
// directives (spec.md §4.7), using Kahn's algorithm: nodes with no
// remaining in-edges are emitted in version-total order for a stable
// tie-break, and a cycle fails fast with the implicated edge set.
package depgraph

import (
	"fmt"
	"sort"
)

// Node is anything the graph can order: an identity plus the identities it
// depends on (must run before it).
type Node struct {
	ID        string
	DependsOn []string
}

// CycleError is returned when the dependency graph contains a cycle; Edges
// lists the (from, to) pairs of nodes that could not be ordered because
// they still had unresolved in-edges when the algorithm ran out of
// zero-in-degree nodes to emit.
type CycleError struct {
	Edges [][2]string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("depgraph: dependency cycle detected among %d edges", len(e.Edges))
}

// Sort performs a Kahn topological sort over nodes. less breaks ties among
// nodes that become ready (zero in-degree) at the same step — for Waypoint
// this is migfile.CompareVersions, so migrations without an explicit order
// between them still run in version-total order.
func Sort(nodes []Node, less func(a, b string) bool) ([]string, error) {
	inDeg := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if !known[dep] {
				// A dependency on a migration outside the candidate set
				// (e.g. already applied) is satisfied trivially.
				continue
			}
			inDeg[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	ready := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDeg[n.ID] == 0 {
			ready = append(ready, n.ID)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			inDeg[dep]--
			if inDeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, &CycleError{Edges: remainingEdges(nodes, inDeg)}
	}
	return order, nil
}

func remainingEdges(nodes []Node, inDeg map[string]int) [][2]string {
	var edges [][2]string
	remaining := make(map[string]bool)
	for _, n := range nodes {
		if inDeg[n.ID] > 0 {
			remaining[n.ID] = true
		}
	}
	for _, n := range nodes {
		if !remaining[n.ID] {
			continue
		}
		for _, dep := range n.DependsOn {
			if remaining[dep] {
				edges = append(edges, [2]string{dep, n.ID})
			}
		}
	}
	return edges
}
