// Package cache indexes a directory of previously built artifacts (C2),
// answering "latest version/release" queries for one (origin, name) pair at
// a time, per §4.2.
package cache

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	habuild "github.com/hab-auto-build/habuild"
)

// Entry is one indexed artifact file.
type Entry struct {
	Ident   habuild.ArtifactIdent
	Path    string
	ModTime time.Time
}

// Index is the five-level lookup (origin and name are fixed at
// construction; version → target → ordered releases remain).
type Index struct {
	Origin string
	Name   string

	// versions[version][target] lists releases in ascending order, per §5's
	// "seen releases iterated in ascending order" guarantee.
	versions map[string]map[habuild.Target][]string
	entries  map[habuild.ArtifactIdent]Entry
}

// Build scans dir for cached artifacts belonging to origin/name. Entries
// that fail to parse are logged and skipped (§4.2); a directory read
// failure is fatal.
func Build(dir, origin, name string, logger *log.Logger) (*Index, error) {
	idx := &Index{
		Origin:   origin,
		Name:     name,
		versions: make(map[string]map[habuild.Target][]string),
		entries:  make(map[habuild.ArtifactIdent]Entry),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil // an empty/missing cache directory is not fatal
		}
		return nil, err
	}

	prefix := origin + "-" + name + "-"
	for _, de := range entries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), prefix) {
			continue
		}
		ident, err := habuild.ParseArtifactFilename(de.Name())
		if err != nil {
			if logger != nil {
				logger.Printf("cache: skipping unparseable artifact %s: %v", de.Name(), err)
			}
			continue
		}
		if ident.Origin != origin || ident.Name != name {
			continue // shared prefix with a different package, e.g. "gcc" vs "gcc-libs"
		}
		fi, err := de.Info()
		if err != nil {
			if logger != nil {
				logger.Printf("cache: skipping %s: %v", de.Name(), err)
			}
			continue
		}
		idx.insert(ident, filepath.Join(dir, de.Name()), fi.ModTime())
	}
	return idx, nil
}

func (idx *Index) insert(ident habuild.ArtifactIdent, path string, modTime time.Time) {
	idx.entries[ident] = Entry{Ident: ident, Path: path, ModTime: modTime}

	byTarget, ok := idx.versions[ident.Version]
	if !ok {
		byTarget = make(map[habuild.Target][]string)
		idx.versions[ident.Version] = byTarget
	}
	releases := byTarget[ident.Target]
	// insert keeping releases sorted ascending; duplicates (re-indexing) are
	// collapsed.
	pos := sort.SearchStrings(releases, ident.Release)
	if pos < len(releases) && releases[pos] == ident.Release {
		return
	}
	releases = append(releases, "")
	copy(releases[pos+1:], releases[pos:])
	releases[pos] = ident.Release
	byTarget[ident.Target] = releases
}

// Lookup returns the indexed entry for an exact artifact identifier.
func (idx *Index) Lookup(ident habuild.ArtifactIdent) (Entry, bool) {
	e, ok := idx.entries[ident]
	return e, ok
}

// Latest implements §4.2's latest_artifact operation for target.
func (idx *Index) Latest(pattern habuild.DepPattern, target habuild.Target) (Entry, bool) {
	if pattern.Version != "" && pattern.Release != "" {
		ident := habuild.ArtifactIdent{
			BuildIdent: habuild.BuildIdent{Origin: idx.Origin, Name: idx.Name, Version: pattern.Version, Target: target},
			Release:    pattern.Release,
		}
		return idx.Lookup(ident)
	}
	if pattern.Version != "" {
		releases := idx.versions[pattern.Version][target]
		if len(releases) == 0 {
			return Entry{}, false
		}
		ident := habuild.ArtifactIdent{
			BuildIdent: habuild.BuildIdent{Origin: idx.Origin, Name: idx.Name, Version: pattern.Version, Target: target},
			Release:    releases[len(releases)-1],
		}
		return idx.Lookup(ident)
	}

	// neither version nor release given: pick the largest version that has
	// at least one release for target, then the largest release within it.
	var bestVersion string
	found := false
	for version, byTarget := range idx.versions {
		if len(byTarget[target]) == 0 {
			continue
		}
		if !found || bestVersion < version {
			bestVersion, found = version, true
		}
	}
	if !found {
		return Entry{}, false
	}
	releases := idx.versions[bestVersion][target]
	ident := habuild.ArtifactIdent{
		BuildIdent: habuild.BuildIdent{Origin: idx.Origin, Name: idx.Name, Version: bestVersion, Target: target},
		Release:    releases[len(releases)-1],
	}
	return idx.Lookup(ident)
}
