// Package changedetect implements the per-node rebuild decision (C6) of
// §4.6: compare a package's cached artifact against its source tree and its
// dependencies' cached artifacts to decide whether it needs rebuilding.
package changedetect

import (
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"time"

	habuild "github.com/hab-auto-build/habuild"
	"github.com/hab-auto-build/habuild/internal/cache"
	"github.com/hab-auto-build/habuild/internal/depgraph"
)

// Status is the outcome of the change-detection decision for one node.
type Status int

const (
	UpToDate Status = iota
	NoArtifact
	UpdatedSource
	UpdatedDependency
)

func (s Status) String() string {
	switch s {
	case NoArtifact:
		return "no-artifact"
	case UpdatedSource:
		return "updated-source"
	case UpdatedDependency:
		return "updated-dependency"
	default:
		return "up-to-date"
	}
}

// Result records the decision for one node plus enough detail to explain it
// in a build plan report.
type Result struct {
	Node   *depgraph.Node
	Status Status
	// Detail names the file or dependency that triggered a non-up-to-date
	// status, empty for NoArtifact and UpToDate.
	Detail string
}

// Needed reports whether the node must be (re)built.
func (r Result) Needed() bool { return r.Status != UpToDate }

// CacheKey is the map key change detection uses to find an (origin, name)
// artifact cache index.
func CacheKey(origin, name string) string { return origin + "/" + name }

// Detector holds the inputs §4.6 is evaluated against.
type Detector struct {
	// Caches maps CacheKey(origin, name) to that package's artifact index.
	// A missing entry is treated the same as an empty index (NoArtifact).
	Caches map[string]*cache.Index

	// Skip maps a build identifier to the skip list's updated_at timestamp
	// (T_skip), for entries present in the operator-supplied skip list.
	Skip map[habuild.BuildIdent]time.Time

	Log *log.Logger
}

func (d *Detector) logf(format string, args ...interface{}) {
	if d.Log != nil {
		d.Log.Printf(format, args...)
	}
}

// Detect evaluates §4.6 for one node.
func (d *Detector) Detect(node *depgraph.Node) (Result, error) {
	ident := node.Plan.BuildIdent
	idx := d.Caches[CacheKey(ident.Origin, ident.Name)]

	var latest cache.Entry
	haveLatest := false
	if idx != nil {
		latest, haveLatest = idx.Latest(habuild.DepPattern{Origin: ident.Origin, Name: ident.Name, Version: ident.Version}, ident.Target)
	}
	if !haveLatest {
		return Result{Node: node, Status: NoArtifact}, nil
	}

	cutoff := latest.ModTime
	if skipAt, ok := d.Skip[ident]; ok && skipAt.After(cutoff) {
		cutoff = skipAt
	}

	changedFile, checked, err := newestSourceMTime(node.Plan.SourceDir, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("changedetect: %s: %w", ident, err)
	}
	if checked {
		return Result{Node: node, Status: UpdatedSource, Detail: changedFile}, nil
	}

	for _, deps := range [][]habuild.DepPattern{node.Plan.Deps, node.Plan.BuildDeps} {
		for _, p := range deps {
			depIdx := d.Caches[CacheKey(p.Origin, p.Name)]
			if depIdx == nil {
				continue
			}
			depLatest, ok := depIdx.Latest(p, ident.Target)
			if !ok {
				continue
			}
			if depLatest.Ident.Release > latest.Ident.Release {
				return Result{Node: node, Status: UpdatedDependency, Detail: depLatest.Ident.String()}, nil
			}
		}
	}

	return Result{Node: node, Status: UpToDate}, nil
}

// DetectAll evaluates every node in the graph, logging each non-trivial
// decision.
func (d *Detector) DetectAll(nodes []*depgraph.Node) ([]Result, error) {
	results := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		r, err := d.Detect(n)
		if err != nil {
			return nil, err
		}
		if r.Needed() {
			d.logf("changedetect: %s: %s (%s)", n.Plan.BuildIdent, r.Status, r.Detail)
		}
		results = append(results, r)
	}
	return results, nil
}

// newestSourceMTime walks dir recursively and reports whether any regular
// file has a modification time strictly after cutoff. It stops at the first
// such file; the returned path is relative to dir.
func newestSourceMTime(dir string, cutoff time.Time) (path string, found bool, err error) {
	walkErr := filepath.WalkDir(dir, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			rel, relErr := filepath.Rel(dir, p)
			if relErr != nil {
				rel = p
			}
			path, found = rel, true
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		return "", false, walkErr
	}
	return path, found, nil
}
