// Command hab-auto-build scans one or more package repositories, figures
// out which packages need rebuilding, and drives the build to completion
// across a worker pool, per §4 of the orchestrator design.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	habuild "github.com/hab-auto-build/habuild"
	"github.com/hab-auto-build/habuild/internal/cache"
	"github.com/hab-auto-build/habuild/internal/changedetect"
	"github.com/hab-auto-build/habuild/internal/config"
	"github.com/hab-auto-build/habuild/internal/depgraph"
	"github.com/hab-auto-build/habuild/internal/installer"
	"github.com/hab-auto-build/habuild/internal/planmeta"
	"github.com/hab-auto-build/habuild/internal/planner"
	"github.com/hab-auto-build/habuild/internal/scheduler"
	"github.com/hab-auto-build/habuild/internal/session"

	"golang.org/x/xerrors"
)

var (
	debug       = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")
	configPath  = flag.String("config", "hab-auto-build.json", "path to the orchestrator configuration file")
	target      = flag.String("target", "", "build target, e.g. x86_64-linux (default: host platform)")
	workers     = flag.Int("workers", 1, "number of concurrent build workers")
	dryRun      = flag.Bool("dry_run", false, "print the build order and exit without building anything")
	strict      = flag.Bool("strict", false, "plan a single topological order instead of stratifying by studio class")
	nominate    = flag.String("nominate", "", "comma-separated dependency patterns restricting the affected set")
	driver      = flag.String("driver", "hab-pkg-build", "external build driver binary")
	installBin  = flag.String("install_binary", "hab-pkg-install", "package manager binary used to install built artifacts")
	elevate     = flag.String("elevate", "sudo", "privilege elevation command used for studio-class builds; empty disables elevation")
	originKeys  = flag.String("origin_keys", "", "comma-separated origin keys passed to the build driver")
	studioRoot  = flag.String("studio_root", "/hab-auto-build", "base directory; session-scoped studio roots are created in its studios/ subdirectory")
	skipListArg = flag.String("skip_list", "", "path to a .hab-build-ignore skip list (default: next to -config)")
	cacheDir    = flag.String("cache_dir", "/hab/cache/artifacts", "directory of previously built artifacts to index")
)

func funcmain() error {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return xerrors.Errorf("loading config: %w", err)
	}

	skipPath := *skipListArg
	if skipPath == "" {
		skipPath = filepath.Join(filepath.Dir(*configPath), ".hab-build-ignore")
	}
	skipList, err := config.LoadSkipList(skipPath)
	if err != nil {
		return xerrors.Errorf("loading skip list: %w", err)
	}
	skipIdents, err := skipList.Idents()
	if err != nil {
		return xerrors.Errorf("parsing skip list: %w", err)
	}

	tgt, err := resolveTarget(*target)
	if err != nil {
		return xerrors.Errorf("resolving target: %w", err)
	}

	ctx, canc := habuild.InterruptibleContext()
	defer canc()

	var repos []depgraph.RepoInput
	for _, r := range cfg.Repos {
		repos = append(repos, depgraph.RepoInput{
			Root:         r.Source,
			NativeGlobs:  r.NativePackages,
			IgnoredGlobs: r.IgnoredPackages,
		})
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	gr, err := depgraph.Build(ctx, repos, depgraph.Options{
		Target:             tgt,
		BootstrapStudio:    cfg.BootstrapStudioPackage,
		Studio:             cfg.StudioPackage,
		IncludeStudioEdges: true,
		Log:                logger,
		Extractor:          &planmeta.Extractor{},
	})
	if err != nil {
		return xerrors.Errorf("building dependency graph: %w", err)
	}

	caches := make(map[string]*cache.Index)
	for _, n := range gr.Nodes() {
		key := changedetect.CacheKey(n.Plan.BuildIdent.Origin, n.Plan.BuildIdent.Name)
		if _, ok := caches[key]; ok {
			continue
		}
		idx, err := cache.Build(*cacheDir, n.Plan.BuildIdent.Origin, n.Plan.BuildIdent.Name, logger)
		if err != nil {
			return xerrors.Errorf("building artifact cache for %s: %w", key, err)
		}
		caches[key] = idx
	}

	skipAt := time.Unix(skipList.UpdatedAt, 0)
	skip := make(map[habuild.BuildIdent]time.Time, len(skipIdents))
	for ident := range skipIdents {
		skip[ident] = skipAt
	}

	det := &changedetect.Detector{Caches: caches, Skip: skip, Log: logger}

	results, err := det.DetectAll(gr.Nodes())
	if err != nil {
		return xerrors.Errorf("detecting changes: %w", err)
	}

	var updated []*depgraph.Node
	for _, r := range results {
		if r.Needed() {
			updated = append(updated, r.Node)
		}
	}
	logger.Printf("change detection: %d/%d package(s) need a rebuild", len(updated), len(gr.Nodes()))

	var nominations []habuild.DepPattern
	if *nominate != "" {
		nominations, err = parsePatterns(*nominate)
		if err != nil {
			return xerrors.Errorf("parsing -nominate: %w", err)
		}
	}

	plan, err := planner.Plan(planner.Inputs{
		Graph:       gr,
		Updated:     updated,
		Nominations: nominations,
		Strict:      *strict,
	})
	if err != nil {
		var cycleErr *planner.CycleError
		if xerrors.As(err, &cycleErr) {
			for _, e := range cycleErr.Edges {
				fmt.Fprintf(os.Stderr, "cycle edge: %s -> %s\n", e.From, e.To)
			}
		}
		return xerrors.Errorf("planning build order: %w", err)
	}

	if len(plan.Order) == 0 {
		logger.Printf("nothing to build")
		return nil
	}

	for _, n := range plan.Order {
		fmt.Println(n.Plan.BuildIdent)
	}
	if *dryRun {
		return nil
	}

	sess, err := session.New()
	if err != nil {
		return xerrors.Errorf("starting session: %w", err)
	}
	logger.Printf("session %s", sess)
	habuild.RegisterAtExit(func() error {
		return os.RemoveAll(session.StudioRoot(*studioRoot, sess))
	})

	sched := scheduler.New(scheduler.Config{
		Graph:          gr,
		Order:          plan.Order,
		Workers:        *workers,
		Session:        sess,
		Caches:         caches,
		Installer:      &installer.Installer{Elevate: *elevate, Binary: *installBin},
		StudioState:    &installer.StudioState{},
		Driver:         *driver,
		Elevate:        *elevate,
		StudioRootBase: *studioRoot,
		OriginKeys:     splitNonEmpty(*originKeys),
		Log:            logger,
	})

	runErr := sched.Run(ctx)
	exitErr := habuild.RunAtExit()
	if runErr != nil {
		return xerrors.Errorf("building: %w", runErr)
	}
	return exitErr
}

func resolveTarget(s string) (habuild.Target, error) {
	if s == "" {
		return habuild.DefaultTarget()
	}
	return habuild.ParseTarget(s)
}

func parsePatterns(s string) ([]habuild.DepPattern, error) {
	var out []habuild.DepPattern
	for _, part := range splitNonEmpty(s) {
		p, err := habuild.ParseDepPattern(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	if err := funcmain(); err != nil {
		if *debug {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
