package scheduler

import (
	"testing"

	habuild "github.com/hab-auto-build/habuild"
	"github.com/hab-auto-build/habuild/internal/depgraph"
	"github.com/hab-auto-build/habuild/internal/planmeta"
)

func fixtureNode(name string) *depgraph.Node {
	return &depgraph.Node{Plan: &planmeta.Metadata{
		BuildIdent: habuild.BuildIdent{Origin: "core", Name: name, Version: "1.0", Target: habuild.TargetX86_64Linux},
	}}
}

// a -> b -> c (a depends on b depends on c); build order is [c, b, a].
func fixtureGraph() (*depgraph.Graph, map[string]*depgraph.Node) {
	gr := depgraph.New()
	c, b, a := fixtureNode("c"), fixtureNode("b"), fixtureNode("a")
	gr.AddNode(c)
	gr.AddNode(b)
	gr.AddNode(a)
	gr.AddEdge(b, c, depgraph.Build)
	gr.AddEdge(a, b, depgraph.Build)
	return gr, map[string]*depgraph.Node{"a": a, "b": b, "c": c}
}

func TestPickNextRespectsDependencyOrder(t *testing.T) {
	gr, nodes := fixtureGraph()
	s := New(Config{Graph: gr, Order: []*depgraph.Node{nodes["c"], nodes["b"], nodes["a"]}})

	n, result := s.pickNext()
	if result != pickReady || n != nodes["c"] {
		t.Fatalf("got %v/%v, want c ready", n, result)
	}

	// b and a are not ready yet: c is claimed but not built.
	n2, result2 := s.pickNext()
	if result2 != pickWait {
		t.Fatalf("got %v/%v, want wait (b depends on unbuilt c)", n2, result2)
	}

	s.markBuilt(nodes["c"])
	n3, result3 := s.pickNext()
	if result3 != pickReady || n3 != nodes["b"] {
		t.Fatalf("got %v/%v, want b ready once c is built", n3, result3)
	}

	s.markBuilt(nodes["b"])
	n4, result4 := s.pickNext()
	if result4 != pickReady || n4 != nodes["a"] {
		t.Fatalf("got %v/%v, want a ready once b is built", n4, result4)
	}

	s.markBuilt(nodes["a"])
	_, result5 := s.pickNext()
	if result5 != pickDone {
		t.Fatalf("got %v, want done once everything is built", result5)
	}
}

func TestPickNextClaimIsExclusive(t *testing.T) {
	gr, nodes := fixtureGraph()
	s := New(Config{Graph: gr, Order: []*depgraph.Node{nodes["c"], nodes["b"], nodes["a"]}})

	n1, r1 := s.pickNext()
	if r1 != pickReady || n1 != nodes["c"] {
		t.Fatalf("got %v/%v", n1, r1)
	}
	// c is now claimed; a second picker must not also claim it.
	_, r2 := s.pickNext()
	if r2 != pickWait {
		t.Fatalf("got %v, want wait (c already claimed)", r2)
	}
}

func TestPickNextIgnoresDependenciesNotInOrder(t *testing.T) {
	// b depends on c, but c isn't part of this run's build order (e.g. it
	// already has a fresh cached artifact and wasn't nominated); b must
	// still become ready.
	gr, nodes := fixtureGraph()
	s := New(Config{Graph: gr, Order: []*depgraph.Node{nodes["b"], nodes["a"]}})

	n, result := s.pickNext()
	if result != pickReady || n != nodes["b"] {
		t.Fatalf("got %v/%v, want b ready despite c being absent from the order", n, result)
	}
}
