// Package scheduler runs a fixed worker pool over a planner-emitted build
// order (C8): each worker claims the next ready node, builds it, installs
// and lints it, and only then marks it built, per §4.8.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	habuild "github.com/hab-auto-build/habuild"
	"github.com/hab-auto-build/habuild/internal/artifact"
	"github.com/hab-auto-build/habuild/internal/builddriver"
	"github.com/hab-auto-build/habuild/internal/cache"
	"github.com/hab-auto-build/habuild/internal/depgraph"
	"github.com/hab-auto-build/habuild/internal/installer"
	"github.com/hab-auto-build/habuild/internal/session"
)

// pollInterval is how long an idle worker waits before re-checking the
// frontier for a ready node, per §4.8 step 2 ("≈1s").
var pollInterval = time.Second

// Linter is the external lint component invoked after a successful
// install. A fatal report aborts the scheduler; a non-fatal one is only
// logged.
type Linter interface {
	Lint(ctx context.Context, installedIdent habuild.ArtifactIdent) (fatal bool, report string, err error)
}

// Config bundles everything one scheduler run needs.
type Config struct {
	Graph   *depgraph.Graph
	Order   []*depgraph.Node // planner-emitted build order
	Workers int
	Session string

	// Caches maps changedetect.CacheKey(origin, name) to that package's
	// artifact index; after building a package the scheduler replaces that
	// package's index with one built from its session build directory, so
	// later lookups find the new artifact.
	Caches map[string]*cache.Index

	Installer   *installer.Installer
	StudioState *installer.StudioState
	Linter      Linter

	Driver         string
	Elevate        string
	StudioRootBase string
	OriginKeys     []string

	Log *log.Logger
}

// Scheduler runs Config.Order to completion with a fixed worker pool.
type Scheduler struct {
	cfg Config

	byID map[int64]*depgraph.Node

	mu      sync.Mutex
	built   map[int64]bool
	claimed map[int64]bool

	status *statusBoard
}

// New prepares a scheduler for cfg.Order. Workers <= 0 is treated as 1,
// per §5 ("operator-chosen; default 1").
func New(cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	byID := make(map[int64]*depgraph.Node, len(cfg.Order))
	for _, n := range cfg.Order {
		byID[n.ID()] = n
	}
	return &Scheduler{
		cfg:     cfg,
		byID:    byID,
		built:   make(map[int64]bool),
		claimed: make(map[int64]bool),
	}
}

func (s *Scheduler) logf(format string, args ...interface{}) {
	if s.cfg.Log != nil {
		s.cfg.Log.Printf(format, args...)
	}
}

type pickResult int

const (
	pickReady pickResult = iota
	pickWait
	pickDone
)

// pickNext implements §4.8 step 1: the first node in build-order whose
// in-order dependencies are all built is claimed and returned.
func (s *Scheduler) pickNext() (*depgraph.Node, pickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.built) == len(s.cfg.Order) {
		return nil, pickDone
	}
	for _, n := range s.cfg.Order {
		if s.built[n.ID()] || s.claimed[n.ID()] {
			continue
		}
		ready := true
		for _, e := range s.cfg.Graph.EdgesFrom(n) {
			if _, inOrder := s.byID[e.To.ID()]; inOrder && !s.built[e.To.ID()] {
				ready = false
				break
			}
		}
		if ready {
			s.claimed[n.ID()] = true
			return n, pickReady
		}
	}
	return nil, pickWait
}

func (s *Scheduler) markBuilt(n *depgraph.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.built[n.ID()] = true
}

// Run executes the build order with Config.Workers concurrent workers. The
// first worker error aborts the run; other workers finish their current
// build but do not claim new work once the shared context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.status = newStatusBoard(s.cfg.Workers)
	// stop ends the claiming of new work; claimed builds run under buildCtx,
	// which cancellation does not reach, so they finish.
	buildCtx := context.WithoutCancel(ctx)
	eg, stop := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		i := i
		eg.Go(func() error { return s.workerLoop(stop, buildCtx, i) })
	}
	return eg.Wait()
}

func (s *Scheduler) workerLoop(stop, buildCtx context.Context, worker int) error {
	for {
		if err := stop.Err(); err != nil {
			return err
		}
		n, result := s.pickNext()
		switch result {
		case pickDone:
			s.status.update(worker, fmt.Sprintf("[worker %d] idle", worker))
			return nil
		case pickWait:
			s.status.update(worker, fmt.Sprintf("[worker %d] waiting", worker))
			select {
			case <-stop.Done():
				return stop.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		s.status.update(worker, fmt.Sprintf("[worker %d] building %s", worker, n.Plan.BuildIdent))
		if err := s.buildNode(buildCtx, n); err != nil {
			return fmt.Errorf("scheduler: building %s: %w", n.Plan.BuildIdent, err)
		}
		s.markBuilt(n)
		s.status.update(worker, fmt.Sprintf("[worker %d] built %s", worker, n.Plan.BuildIdent))
	}
}

// buildNode implements §4.8.1 for one node.
func (s *Scheduler) buildNode(ctx context.Context, n *depgraph.Node) error {
	buildDir, err := session.EnsureBuildDir(n.Plan.RepoRoot, s.cfg.Session, n.Plan.BuildIdent)
	if err != nil {
		return err
	}

	logFile, err := os.OpenFile(session.BuildLogPath(buildDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	if err := s.ensureStudioInstalled(ctx, n); err != nil {
		return err
	}

	depArtifacts := s.resolveDepArtifacts(n)

	studioRoot := session.StudioRoot(s.cfg.StudioRootBase, s.cfg.Session)
	inv := builddriver.Invocation{
		Node:         n,
		DepArtifacts: depArtifacts,
		OriginKeys:   s.cfg.OriginKeys,
		OutputDir:    buildDir,
		StudioRoot:   studioRoot,
		Elevate:      s.cfg.Elevate,
		Driver:       s.cfg.Driver,
		Log:          logFile,
	}
	if err := inv.Run(ctx); err != nil {
		return err
	}

	if err := os.WriteFile(session.OKMarkerPath(buildDir), nil, 0644); err != nil {
		return err
	}

	return s.finishBuild(ctx, n, buildDir)
}

// ensureStudioInstalled installs the bootstrap or standard studio package
// on the build host before a studio-class build runs, per §4.8.1's
// "singleton install" rule. Native builds need nothing.
func (s *Scheduler) ensureStudioInstalled(ctx context.Context, n *depgraph.Node) error {
	var kind installer.Kind
	var studioNode *depgraph.Node
	switch n.StudioType {
	case depgraph.StudioBootstrap:
		kind, studioNode = installer.Bootstrap, s.cfg.Graph.Bootstrap
	case depgraph.StudioStandard:
		kind, studioNode = installer.Studio, s.cfg.Graph.Studio
		if studioNode == nil {
			studioNode = s.cfg.Graph.Bootstrap
			kind = installer.Bootstrap
		}
	default:
		return nil
	}
	if studioNode == nil || s.cfg.StudioState == nil {
		return nil
	}
	return s.cfg.StudioState.EnsureInstalled(kind, func() error {
		idx := s.cfg.Caches[cacheKey(studioNode.Plan.BuildIdent)]
		if idx == nil {
			return fmt.Errorf("no cache index for studio package %s", studioNode.Plan.BuildIdent)
		}
		e, ok := idx.Latest(habuild.DepPattern{Origin: studioNode.Plan.BuildIdent.Origin, Name: studioNode.Plan.BuildIdent.Name}, studioNode.Plan.BuildIdent.Target)
		if !ok {
			return fmt.Errorf("no cached artifact for studio package %s", studioNode.Plan.BuildIdent)
		}
		return s.cfg.Installer.Install(ctx, e.Path)
	})
}

// resolveDepArtifacts implements §4.8.1's dependency-artifact resolution:
// prefer a sibling node's just-produced artifact over the cache index;
// unresolvable dependencies are logged and omitted, not fatal.
func (s *Scheduler) resolveDepArtifacts(n *depgraph.Node) []string {
	var out []string
	for _, deps := range [][]habuild.DepPattern{n.Plan.Deps, n.Plan.BuildDeps} {
		for _, p := range deps {
			if path, ok := s.siblingArtifact(n, p); ok {
				out = append(out, path)
				continue
			}
			idx := s.cfg.Caches[p.Origin+"/"+p.Name]
			if idx != nil {
				if e, ok := idx.Latest(p, n.Plan.BuildIdent.Target); ok {
					out = append(out, e.Path)
					continue
				}
			}
			s.logf("scheduler: %s: dependency %s unresolvable, omitting", n.Plan.BuildIdent, p)
		}
	}
	return out
}

func (s *Scheduler) siblingArtifact(n *depgraph.Node, p habuild.DepPattern) (string, bool) {
	dep, ok := s.cfg.Graph.NodeByIdent(habuild.BuildIdent{Origin: p.Origin, Name: p.Name, Version: p.Version, Target: n.Plan.BuildIdent.Target})
	if !ok {
		return "", false
	}
	depBuildDir := session.BuildDir(dep.Plan.RepoRoot, s.cfg.Session, dep.Plan.BuildIdent)
	kv, err := session.ReadLastBuildEnv(session.LastBuildEnvPath(depBuildDir))
	if err != nil {
		return "", false
	}
	artifactName, ok := kv["pkg_artifact"]
	if !ok {
		return "", false
	}
	return filepath.Join(depBuildDir, artifactName), true
}

// finishBuild implements §4.8.1's completion step: resolve the produced
// artifact, install it, read it back, lint it, and record last_build.env.
func (s *Scheduler) finishBuild(ctx context.Context, n *depgraph.Node, buildDir string) error {
	key := cacheKey(n.Plan.BuildIdent)
	idx, err := cache.Build(buildDir, n.Plan.BuildIdent.Origin, n.Plan.BuildIdent.Name, s.cfg.Log)
	if err != nil {
		return err
	}
	s.cfg.Caches[key] = idx

	e, ok := idx.Latest(habuild.DepPattern{Origin: n.Plan.BuildIdent.Origin, Name: n.Plan.BuildIdent.Name}, n.Plan.BuildIdent.Target)
	if !ok {
		return fmt.Errorf("no artifact produced in %s", buildDir)
	}

	if s.cfg.Installer != nil {
		if err := s.cfg.Installer.Install(ctx, e.Path); err != nil {
			return err
		}
	}

	ident, err := artifact.Open(e.Path)
	if err != nil {
		return err
	}

	if n.StudioType == depgraph.StudioBootstrap && s.cfg.StudioState != nil {
		s.cfg.StudioState.Clear(installer.Bootstrap)
	}
	if n.StudioType == depgraph.StudioStandard && s.cfg.StudioState != nil {
		s.cfg.StudioState.Clear(installer.Studio)
	}

	if s.cfg.Linter != nil {
		fatal, report, err := s.cfg.Linter.Lint(ctx, ident)
		if err != nil {
			return err
		}
		if report != "" {
			s.logf("scheduler: %s: lint report: %s", n.Plan.BuildIdent, report)
		}
		if fatal {
			return fmt.Errorf("scheduler: %s: fatal lint failure: %s", n.Plan.BuildIdent, report)
		}
	}

	return session.WriteLastBuildEnv(session.LastBuildEnvPath(buildDir), map[string]string{
		"pkg_artifact": filepath.Base(e.Path),
		"pkg_ident":    fmt.Sprintf("%s/%s/%s", ident.Origin, ident.Name, ident.Version),
		"pkg_target":   string(ident.Target),
	})
}

func cacheKey(b habuild.BuildIdent) string { return b.Origin + "/" + b.Name }
