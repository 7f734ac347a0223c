// Package scan walks a repository tree to discover package sources (C4):
// directories containing a plan.sh at one of a fixed set of candidate
// locations. It does not interpret plans; see internal/planmeta for that.
package scan

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/moby/patternmatcher"

	habuild "github.com/hab-auto-build/habuild"
)

const planFilename = "plan.sh"

// PackageSource is one discovered package: a directory that resolves to a
// concrete plan.sh for the requested target.
type PackageSource struct {
	RepoRoot  string
	SourceDir string
	PlanPath  string
}

// candidates returns the plan.sh locations under dir to try, in priority
// order, per §4.4: target-specific under dir, target-specific under
// habitat/, plain under dir, plain under habitat/.
func candidates(dir string, target habuild.Target) []string {
	t := string(target)
	return []string{
		filepath.Join(dir, t, planFilename),
		filepath.Join(dir, "habitat", t, planFilename),
		filepath.Join(dir, planFilename),
		filepath.Join(dir, "habitat", planFilename),
	}
}

func isRegularFile(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode().IsRegular()
}

// ResolvePlanFile returns the first existing candidate plan.sh under dir for
// target, or ok=false if dir is not a package source.
func ResolvePlanFile(dir string, target habuild.Target) (path string, ok bool) {
	for _, c := range candidates(dir, target) {
		if isRegularFile(c) {
			return c, true
		}
	}
	return "", false
}

// Scanner walks repository trees, skipping directories matched by an
// ignored-package glob list.
type Scanner struct {
	Target habuild.Target
	Log    *log.Logger
}

func (s *Scanner) logf(format string, args ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, args...)
	}
}

// Scan performs the breadth-first walk described in §4.4: directories
// matching an ignored glob are skipped (subtree excluded entirely);
// directories resolving to a plan.sh are emitted as package sources and not
// descended into further; everything else is descended into.
func (s *Scanner) Scan(repoRoot string, ignoredGlobs []string) ([]PackageSource, error) {
	ignored, err := patternmatcher.New(ignoredGlobs)
	if err != nil {
		return nil, fmt.Errorf("scan %s: invalid ignored_packages globs: %w", repoRoot, err)
	}

	var out []PackageSource
	queue := []string{repoRoot}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		rel, err := filepath.Rel(repoRoot, dir)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", repoRoot, err)
		}
		if rel != "." {
			matched, err := ignored.MatchesOrParentMatches(filepath.ToSlash(rel))
			if err != nil {
				return nil, fmt.Errorf("scan %s: ignored_packages: %w", repoRoot, err)
			}
			if matched {
				continue // subtree excluded
			}
		}

		if planPath, ok := ResolvePlanFile(dir, s.Target); ok {
			out = append(out, PackageSource{
				RepoRoot:  repoRoot,
				SourceDir: dir,
				PlanPath:  planPath,
			})
			continue // do not descend into a resolved package source
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			if rel == "." {
				return nil, fmt.Errorf("scan %s: %w", repoRoot, err)
			}
			s.logf("scan %s: skipping unreadable subtree %s: %v", repoRoot, rel, err)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			queue = append(queue, filepath.Join(dir, entry.Name()))
		}
	}
	return out, nil
}
