// Package depgraph builds the typed dependency graph (C5): one node per
// discovered package, edges for runtime/build/studio dependencies, and the
// studio-class assignment described in §3's invariants.
package depgraph

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/moby/patternmatcher"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"

	habuild "github.com/hab-auto-build/habuild"
	"github.com/hab-auto-build/habuild/internal/planmeta"
	"github.com/hab-auto-build/habuild/internal/scan"
)

// PackageType classifies a node by whether it builds outside a studio
// sandbox.
type PackageType int

const (
	Standard PackageType = iota
	Native
)

// StudioType is the studio class assigned to a node per §3's invariants.
type StudioType int

const (
	StudioNone StudioType = iota
	StudioNative
	StudioBootstrap
	StudioStandard
	StudioUnassignable
)

func (s StudioType) String() string {
	switch s {
	case StudioNative:
		return "native"
	case StudioBootstrap:
		return "bootstrap"
	case StudioStandard:
		return "standard"
	case StudioUnassignable:
		return "unassignable"
	default:
		return "none"
	}
}

// EdgeLabel is the dependency kind an edge represents.
type EdgeLabel int

const (
	Runtime EdgeLabel = iota
	Build
	Studio
)

// Node is one buildable package.
type Node struct {
	id int64

	Plan        *planmeta.Metadata
	PackageType PackageType
	StudioType  StudioType
}

// ID satisfies gonum's graph.Node.
func (n *Node) ID() int64 { return n.id }

type edgeKey struct{ from, to int64 }

// Graph is the directed multigraph of §3: nodes are build nodes, edges
// carry a Runtime/Build/Studio label.
type Graph struct {
	g          *simple.DirectedGraph
	byID       map[int64]*Node
	byIdent    map[habuild.BuildIdent]*Node
	edgeLabels map[edgeKey][]EdgeLabel

	Bootstrap *Node
	Studio    *Node

	nextID int64
}

// ErrDuplicateIdent is returned when two plans resolve to the same build
// identifier; per §3 this is a fatal configuration error.
type ErrDuplicateIdent struct {
	Ident habuild.BuildIdent
	A, B  string // plan paths
}

func (e *ErrDuplicateIdent) Error() string {
	return fmt.Sprintf("duplicate build identifier %s: defined in both %s and %s", e.Ident, e.A, e.B)
}

// RepoInput is one configured repository to include in the graph.
type RepoInput struct {
	Root         string
	NativeGlobs  []string
	IgnoredGlobs []string
}

// Options configures graph construction.
type Options struct {
	Target             habuild.Target
	BootstrapStudio    *habuild.DepPattern
	Studio             *habuild.DepPattern
	IncludeStudioEdges bool
	MaxConcurrentScans int64 // bounded unordered-future collection width, §5
	Log                *log.Logger
	Extractor          *planmeta.Extractor
}

// New creates an empty graph. Build is the usual entry point; New plus
// AddNode/AddEdge lets callers (notably internal/planner's tests) assemble a
// graph directly without scanning a repository on disk.
func New() *Graph { return newGraph() }

// AddNode inserts n into the graph, assigning it an ID.
func (gr *Graph) AddNode(n *Node) { gr.addNode(n) }

// AddEdge inserts a labeled dependency edge from -> to (from depends on to).
func (gr *Graph) AddEdge(from, to *Node, label EdgeLabel) { gr.addEdge(from, to, label) }

func newGraph() *Graph {
	return &Graph{
		g:          simple.NewDirectedGraph(),
		byID:       make(map[int64]*Node),
		byIdent:    make(map[habuild.BuildIdent]*Node),
		edgeLabels: make(map[edgeKey][]EdgeLabel),
	}
}

// Nodes returns every node in the graph.
func (gr *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(gr.byID))
	for _, n := range gr.byID {
		out = append(out, n)
	}
	return out
}

// NodeByIdent looks up a node by its exact build identifier.
func (gr *Graph) NodeByIdent(id habuild.BuildIdent) (*Node, bool) {
	n, ok := gr.byIdent[id]
	return n, ok
}

// EdgesFrom returns the (neighbor, label) pairs for n's outgoing edges
// (n depends on neighbor).
func (gr *Graph) EdgesFrom(n *Node) []struct {
	To    *Node
	Label EdgeLabel
} {
	var out []struct {
		To    *Node
		Label EdgeLabel
	}
	it := gr.g.From(n.ID())
	for it.Next() {
		to := gr.byID[it.Node().ID()]
		for _, label := range gr.edgeLabels[edgeKey{n.ID(), to.ID()}] {
			out = append(out, struct {
				To    *Node
				Label EdgeLabel
			}{to, label})
		}
	}
	return out
}

// EdgesTo returns nodes that depend on n (reverse dependencies).
func (gr *Graph) EdgesTo(n *Node) []*Node {
	var out []*Node
	it := gr.g.To(n.ID())
	for it.Next() {
		out = append(out, gr.byID[it.Node().ID()])
	}
	return out
}

// Underlying exposes the gonum graph for topological sort / SCC analysis in
// internal/planner.
func (gr *Graph) Underlying() *simple.DirectedGraph { return gr.g }

func (gr *Graph) addNode(n *Node) {
	n.id = gr.nextID
	gr.nextID++
	gr.byID[n.id] = n
	gr.g.AddNode(n)
}

func (gr *Graph) addEdge(from, to *Node, label EdgeLabel) {
	if !gr.g.HasEdgeFromTo(from.ID(), to.ID()) {
		gr.g.SetEdge(gr.g.NewEdge(from, to))
	}
	key := edgeKey{from.ID(), to.ID()}
	for _, existing := range gr.edgeLabels[key] {
		if existing == label {
			return
		}
	}
	gr.edgeLabels[key] = append(gr.edgeLabels[key], label)
}

// reachableFrom returns every node reachable by following outgoing
// (dependency) edges from start, i.e. start's full transitive dependency
// set. A nil start yields an empty set.
func (gr *Graph) reachableFrom(start *Node) map[int64]bool {
	seen := make(map[int64]bool)
	if start == nil {
		return seen
	}
	queue := []int64{start.ID()}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		it := gr.g.From(id)
		for it.Next() {
			nid := it.Node().ID()
			if seen[nid] {
				continue
			}
			seen[nid] = true
			queue = append(queue, nid)
		}
	}
	return seen
}

// ReachableFrom exposes reachableFrom to other packages (internal/planner's
// stratification step): every node reachable by following dependency edges
// from start, keyed by node ID. A nil start yields an empty set.
func (gr *Graph) ReachableFrom(start *Node) map[int64]bool {
	return gr.reachableFrom(start)
}

// Build scans every repo, extracts metadata for each discovered package
// source, and assembles the dependency graph per §4.5.
func Build(ctx context.Context, repos []RepoInput, opts Options) (*Graph, error) {
	type scanned struct {
		repo RepoInput
		src  scan.PackageSource
	}

	var allSources []scanned
	for _, r := range repos {
		s := &scan.Scanner{Target: opts.Target, Log: opts.Log}
		srcs, err := s.Scan(r.Root, r.IgnoredGlobs)
		if err != nil {
			return nil, xerrors.Errorf("depgraph: %w", err)
		}
		for _, src := range srcs {
			allSources = append(allSources, scanned{repo: r, src: src})
		}
	}

	metas := make([]*planmeta.Metadata, len(allSources))
	concurrency := opts.MaxConcurrentScans
	if concurrency <= 0 {
		concurrency = 8
	}
	sem := semaphore.NewWeighted(concurrency)
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range allSources {
		i := i
		if err := sem.Acquire(egCtx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			s := allSources[i]
			meta, err := opts.Extractor.Extract(egCtx, s.repo.Root, s.src.SourceDir, s.src.PlanPath, opts.Target)
			if err != nil {
				return err
			}
			metas[i] = meta
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, xerrors.Errorf("depgraph: %w", err)
	}

	gr := newGraph()
	nativeMatchers := make(map[string]*patternmatcher.PatternMatcher)
	for _, r := range repos {
		m, err := patternmatcher.New(r.NativeGlobs)
		if err != nil {
			return nil, xerrors.Errorf("depgraph: native_packages: %w", err)
		}
		nativeMatchers[r.Root] = m
	}

	for i, meta := range metas {
		repo := allSources[i].repo
		if existing, ok := gr.byIdent[meta.BuildIdent]; ok {
			return nil, &ErrDuplicateIdent{Ident: meta.BuildIdent, A: existing.Plan.Path, B: meta.Path}
		}
		rel := relOrSelf(repo.Root, meta.SourceDir)
		isNative, err := nativeMatchers[repo.Root].MatchesOrParentMatches(rel)
		if err != nil {
			return nil, xerrors.Errorf("depgraph: native_packages: %w", err)
		}
		pt := Standard
		if isNative {
			pt = Native
		}
		n := &Node{Plan: meta, PackageType: pt}
		gr.addNode(n)
		gr.byIdent[meta.BuildIdent] = n
	}

	for _, n := range gr.byID {
		for _, p := range n.Plan.Deps {
			if best := bestMatch(gr, p); best != nil && best != n {
				gr.addEdge(n, best, Runtime)
			}
		}
		for _, p := range n.Plan.BuildDeps {
			if best := bestMatch(gr, p); best != nil && best != n {
				gr.addEdge(n, best, Build)
			}
		}
	}

	if opts.BootstrapStudio != nil {
		gr.Bootstrap = bestMatch(gr, *opts.BootstrapStudio)
	}
	if opts.Studio != nil {
		gr.Studio = bestMatch(gr, *opts.Studio)
	}

	assignStudioClasses(gr, opts.Log)

	if opts.IncludeStudioEdges {
		for _, n := range gr.byID {
			switch n.StudioType {
			case StudioStandard:
				target := gr.Studio
				if target == nil {
					target = gr.Bootstrap
				}
				if target != nil && target != n {
					gr.addEdge(n, target, Studio)
				}
			case StudioBootstrap:
				if gr.Bootstrap != nil && gr.Bootstrap != n {
					gr.addEdge(n, gr.Bootstrap, Studio)
				}
			}
		}
	}

	return gr, nil
}

func relOrSelf(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return dir
	}
	return filepath.ToSlash(rel)
}

// bestMatch implements §4.5 step 3's resolution rule: if the pattern pins a
// version, the candidate must match it exactly; otherwise the candidate
// with the greatest build identifier wins.
func bestMatch(gr *Graph, p habuild.DepPattern) *Node {
	var best *Node
	for _, n := range gr.byID {
		if !p.MatchesBuild(n.Plan.BuildIdent) {
			continue
		}
		if best == nil || habuild.LessBuild(best.Plan.BuildIdent, n.Plan.BuildIdent) {
			best = n
		}
	}
	return best
}

// assignStudioClasses implements the studio-class rules of §3. It must run
// after every edge (runtime and build) has been inserted.
func assignStudioClasses(gr *Graph, logger *log.Logger) {
	effStudio := gr.Studio
	if effStudio == nil {
		effStudio = gr.Bootstrap
	}
	studioDeps := gr.reachableFrom(effStudio)
	bootstrapDeps := gr.reachableFrom(gr.Bootstrap)

	for _, n := range gr.byID {
		if n.PackageType == Native {
			n.StudioType = StudioNative
			continue
		}
		inStudio := studioDeps[n.ID()]
		inBootstrap := bootstrapDeps[n.ID()]
		switch {
		case effStudio == nil:
			n.StudioType = StudioStandard
		case !inStudio:
			n.StudioType = StudioStandard
		case inStudio && !inBootstrap:
			n.StudioType = StudioBootstrap
		default: // inStudio && inBootstrap
			n.StudioType = StudioUnassignable
			if logger != nil {
				logger.Printf("depgraph: %s is a transitive dependency of both the studio and bootstrap-studio packages; excluding from build planning", n.Plan.BuildIdent)
			}
		}
	}
}
