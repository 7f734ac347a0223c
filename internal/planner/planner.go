// Package planner computes a build order from a dependency graph (C7): it
// detects cycles, restricts to the set of packages actually affected by a
// change, and stratifies the rest by studio class, per §4.7.
package planner

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/topo"

	habuild "github.com/hab-auto-build/habuild"
	"github.com/hab-auto-build/habuild/internal/depgraph"
)

// CycleEdge is one edge of a detected dependency cycle, reported with both
// endpoints per §4.7 step 1.
type CycleEdge struct {
	From, To habuild.BuildIdent
}

// CycleError is returned when the dependency graph is not a DAG. The
// planner never breaks cycles; it reports them and aborts.
type CycleError struct {
	Edges []CycleEdge
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency graph has %d cyclic edge(s); see Edges for detail", len(e.Edges))
}

// Inputs bundles the planner's inputs, per §4.7.
type Inputs struct {
	Graph *depgraph.Graph

	// Updated is the set of nodes change detection (C6) flagged as needing
	// a rebuild.
	Updated []*depgraph.Node

	// Nominations optionally restricts planning to the reverse-dep closure
	// of the matching nodes, on top of the Updated filter.
	Nominations []habuild.DepPattern

	// Strict requests a single topological sort instead of the three-group
	// stratification.
	Strict bool
}

// Plan is the planner's output: an ordered build list. The studio-class
// group each node was assigned to is not recorded.
type Plan struct {
	Order []*depgraph.Node
}

// DetectCycles reports every edge participating in a cyclic strongly
// connected component of the graph. A nil/empty return means the graph is a
// DAG.
func DetectCycles(gr *depgraph.Graph) []CycleEdge {
	_, err := topo.Sort(gr.Underlying())
	if err == nil {
		return nil
	}
	uo, ok := err.(topo.Unorderable)
	if !ok {
		return nil
	}
	var edges []CycleEdge
	for _, component := range uo {
		inComponent := make(map[int64]bool, len(component))
		for _, n := range component {
			inComponent[n.ID()] = true
		}
		for _, n := range component {
			node := n.(*depgraph.Node)
			for _, e := range gr.EdgesFrom(node) {
				if inComponent[e.To.ID()] {
					edges = append(edges, CycleEdge{From: node.Plan.BuildIdent, To: e.To.Plan.BuildIdent})
				}
			}
		}
	}
	return edges
}

// affectedSet returns every node that is a reverse-dependency-path target of
// some node in roots (or is itself in roots): i.e. every node that depends,
// directly or transitively, on a root, plus the roots themselves.
func affectedSet(gr *depgraph.Graph, roots []*depgraph.Node) map[int64]*depgraph.Node {
	out := make(map[int64]*depgraph.Node)
	queue := make([]*depgraph.Node, 0, len(roots))
	for _, r := range roots {
		if _, ok := out[r.ID()]; !ok {
			out[r.ID()] = r
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, dependent := range gr.EdgesTo(n) {
			if _, ok := out[dependent.ID()]; ok {
				continue
			}
			out[dependent.ID()] = dependent
			queue = append(queue, dependent)
		}
	}
	return out
}

// matchNodes returns every graph node matching any of the given patterns.
func matchNodes(gr *depgraph.Graph, patterns []habuild.DepPattern) []*depgraph.Node {
	var out []*depgraph.Node
	for _, n := range gr.Nodes() {
		for _, p := range patterns {
			if p.MatchesBuild(n.Plan.BuildIdent) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// topoSortSubset returns nodes topologically ordered so that for every edge
// A -> B (A depends on B) kept within the subset, B appears before A — i.e.
// the dependency edge direction is reversed in build order, per §4.7.
func topoSortSubset(gr *depgraph.Graph, subset map[int64]*depgraph.Node) []*depgraph.Node {
	indegree := make(map[int64]int, len(subset))
	// "indegree" here is the count of unresolved dependencies (distinct
	// dependency nodes within subset; EdgesFrom lists a neighbor once per
	// edge label), so a node with indegree 0 has no subset dependency left
	// to build first.
	for id, n := range subset {
		deps := make(map[int64]bool)
		for _, e := range gr.EdgesFrom(n) {
			if _, ok := subset[e.To.ID()]; ok {
				deps[e.To.ID()] = true
			}
		}
		indegree[id] = len(deps)
	}

	var ready []*depgraph.Node
	for id, n := range subset {
		if indegree[id] == 0 {
			ready = append(ready, n)
		}
	}
	sortByIdent(ready)

	var order []*depgraph.Node
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, dependent := range gr.EdgesTo(n) {
			if _, ok := subset[dependent.ID()]; !ok {
				continue
			}
			indegree[dependent.ID()]--
			if indegree[dependent.ID()] == 0 {
				ready = append(ready, dependent)
				sortByIdent(ready)
			}
		}
	}
	return order
}

// sortByIdent keeps the ready frontier in a deterministic order; the
// dependency graph rarely constrains it fully, and a stable order makes
// planner output reproducible across runs.
func sortByIdent(nodes []*depgraph.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i].Plan.BuildIdent, nodes[j].Plan.BuildIdent
		if a.Origin != b.Origin {
			return a.Origin < b.Origin
		}
		return a.Name < b.Name
	})
}

// Plan computes §4.7's build order.
func Plan(in Inputs) (*Plan, error) {
	if edges := DetectCycles(in.Graph); len(edges) > 0 {
		return nil, &CycleError{Edges: edges}
	}

	affected := affectedSet(in.Graph, in.Updated)
	if len(in.Nominations) > 0 {
		nominated := matchNodes(in.Graph, in.Nominations)
		restricted := affectedSet(in.Graph, nominated)
		for id := range affected {
			if _, ok := restricted[id]; !ok {
				delete(affected, id)
			}
		}
	}
	// Nodes whose studio class could not be assigned are excluded from
	// planning, in strict and stratified mode alike.
	for id, n := range affected {
		if n.StudioType == depgraph.StudioUnassignable {
			delete(affected, id)
		}
	}

	if in.Strict {
		return &Plan{Order: topoSortSubset(in.Graph, affected)}, nil
	}

	bootstrapDeps := in.Graph.ReachableFrom(in.Graph.Bootstrap)
	studioDeps := in.Graph.ReachableFrom(in.Graph.Studio)

	groupA := make(map[int64]*depgraph.Node)
	groupB := make(map[int64]*depgraph.Node)
	groupC := make(map[int64]*depgraph.Node)
	for id, n := range affected {
		switch {
		case bootstrapDeps[id]:
			groupA[id] = n
		case studioDeps[id] && !bootstrapDeps[id]:
			groupB[id] = n
		default:
			groupC[id] = n
		}
	}

	order := append(topoSortSubset(in.Graph, groupA), topoSortSubset(in.Graph, groupB)...)
	order = append(order, topoSortSubset(in.Graph, groupC)...)
	return &Plan{Order: order}, nil
}
