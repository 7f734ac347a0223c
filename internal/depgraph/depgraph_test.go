package depgraph

import (
	"testing"

	habuild "github.com/hab-auto-build/habuild"
	"github.com/hab-auto-build/habuild/internal/planmeta"
)

func mkNode(origin, name string, pt PackageType) *Node {
	return &Node{
		Plan: &planmeta.Metadata{
			BuildIdent: habuild.BuildIdent{Origin: origin, Name: name, Version: "1.0", Target: habuild.TargetX86_64Linux},
			Path:       origin + "/" + name + "/plan.sh",
		},
		PackageType: pt,
	}
}

// buildFixture wires (A -> B means "A depends on B"):
//
//	studio -> bs         (the standard studio is itself built via bootstrap)
//	bs     -> p          (p is something the bootstrap studio needs)
//	studio -> q          (q is something the standard studio needs directly)
//	y                    (unconnected to either studio)
//	n                    (a native package, unrelated to studio classification)
//
// p ends up reachable from both studio (via bs) and bs itself -> unassignable.
// q is reachable from studio only -> "Bootstrap" class (built before studio).
// bs itself is reachable from studio but not from itself -> "Bootstrap" class.
// y is reachable from neither -> "Standard" class.
func buildFixture() (gr *Graph, bs, studio, p, q, y, n *Node) {
	gr = newGraph()
	bs = mkNode("core", "bootstrap-studio", Standard)
	studio = mkNode("core", "studio", Standard)
	p = mkNode("core", "p", Standard)
	q = mkNode("core", "q", Standard)
	y = mkNode("core", "y", Standard)
	n = mkNode("core", "native-thing", Native)
	for _, nd := range []*Node{bs, studio, p, q, y, n} {
		gr.addNode(nd)
		gr.byIdent[nd.Plan.BuildIdent] = nd
	}
	gr.addEdge(studio, bs, Build)
	gr.addEdge(bs, p, Build)
	gr.addEdge(studio, q, Build)
	gr.Bootstrap = bs
	gr.Studio = studio
	return
}

func TestAssignStudioClasses(t *testing.T) {
	gr, bs, studio, p, q, y, n := buildFixture()
	assignStudioClasses(gr, nil)

	if n.StudioType != StudioNative {
		t.Errorf("native package got %v, want native", n.StudioType)
	}
	if p.StudioType != StudioUnassignable {
		t.Errorf("p got %v, want unassignable (transitive dep of both)", p.StudioType)
	}
	if q.StudioType != StudioBootstrap {
		t.Errorf("q got %v, want bootstrap (dep of studio only)", q.StudioType)
	}
	if bs.StudioType != StudioBootstrap {
		t.Errorf("bootstrap node itself got %v, want bootstrap (it is a dep of studio, not of itself)", bs.StudioType)
	}
	if y.StudioType != StudioStandard {
		t.Errorf("y got %v, want standard (unrelated to either studio)", y.StudioType)
	}
	if studio.StudioType != StudioStandard {
		t.Errorf("studio node itself got %v, want standard", studio.StudioType)
	}
}

func TestAssignStudioClassesNoStudioFallsBackToBootstrap(t *testing.T) {
	gr, bs, _, _, _, y, _ := buildFixture()
	gr.Studio = nil // "if no studio package configured, bootstrap studio is used in its place"
	assignStudioClasses(gr, nil)
	if bs.StudioType != StudioStandard {
		t.Errorf("bootstrap got %v, want standard (it is not its own transitive dependency)", bs.StudioType)
	}
	if y.StudioType != StudioStandard {
		t.Errorf("y got %v, want standard", y.StudioType)
	}
}

func TestReachableFromNilIsEmpty(t *testing.T) {
	gr := newGraph()
	if got := gr.reachableFrom(nil); len(got) != 0 {
		t.Errorf("reachableFrom(nil) = %v, want empty", got)
	}
}

func TestBestMatchPicksGreatestVersionWhenUnpinned(t *testing.T) {
	gr := newGraph()
	older := mkNode("core", "glibc", Standard)
	older.Plan.BuildIdent.Version = "2.30"
	newer := mkNode("core", "glibc", Standard)
	newer.Plan.BuildIdent.Version = "2.37"
	gr.addNode(older)
	gr.addNode(newer)

	got := bestMatch(gr, habuild.DepPattern{Origin: "core", Name: "glibc"})
	if got != newer {
		t.Errorf("bestMatch picked version %s, want 2.37", got.Plan.BuildIdent.Version)
	}

	got = bestMatch(gr, habuild.DepPattern{Origin: "core", Name: "glibc", Version: "2.30"})
	if got != older {
		t.Errorf("pinned bestMatch picked version %s, want 2.30", got.Plan.BuildIdent.Version)
	}
}
