package habuild

import (
	"fmt"
	"strings"
)

// Target is one of the five platform tags the build driver can produce
// artifacts for.
type Target string

const (
	TargetAarch64Linux  Target = "aarch64-linux"
	TargetAarch64Darwin Target = "aarch64-darwin"
	TargetX86_64Linux   Target = "x86_64-linux"
	TargetX86_64Darwin  Target = "x86_64-darwin"
	TargetX86_64Windows Target = "x86_64-windows"
)

// validTargets is the fixed set of recognized platform tags.
var validTargets = map[Target]bool{
	TargetAarch64Linux:  true,
	TargetAarch64Darwin: true,
	TargetX86_64Linux:   true,
	TargetX86_64Darwin:  true,
	TargetX86_64Windows: true,
}

// ParseTarget validates s against the fixed set of platform tags.
func ParseTarget(s string) (Target, error) {
	t := Target(s)
	if !validTargets[t] {
		return "", fmt.Errorf("unknown target %q", s)
	}
	return t, nil
}

// BuildIdent identifies one buildable package for one target. Version may
// be empty, meaning "dynamic" (resolved at build time).
type BuildIdent struct {
	Origin  string
	Name    string
	Version string
	Target  Target
}

// String serializes a BuildIdent as "origin/name/version/target". Version
// may be empty (dynamic).
func (b BuildIdent) String() string {
	return strings.Join([]string{b.Origin, b.Name, b.Version, string(b.Target)}, "/")
}

// ParseBuildIdent parses the canonical "origin/name/version/target" form
// used in skip-list entries. Version may be the empty string.
func ParseBuildIdent(s string) (BuildIdent, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return BuildIdent{}, fmt.Errorf("invalid build identifier %q: want origin/name/version/target", s)
	}
	if parts[0] == "" || parts[1] == "" || parts[3] == "" {
		return BuildIdent{}, fmt.Errorf("invalid build identifier %q: origin, name and target are required", s)
	}
	target, err := ParseTarget(parts[3])
	if err != nil {
		return BuildIdent{}, fmt.Errorf("invalid build identifier %q: %w", s, err)
	}
	return BuildIdent{Origin: parts[0], Name: parts[1], Version: parts[2], Target: target}, nil
}

// FullIdent identifies exactly one build of a package: origin, name,
// version and release, all required. It has no target component; the
// artifact opener (internal/artifact) assembles one from an artifact's tar
// path and lifts it to an ArtifactIdent with ArtifactIdentOf.
type FullIdent struct {
	Origin  string
	Name    string
	Version string
	Release string
}

// ArtifactIdent identifies exactly one built artifact: a BuildIdent (with a
// concrete, non-empty Version) plus a Release.
type ArtifactIdent struct {
	BuildIdent
	Release string
}

// DepPattern is a dependency reference as written in a plan: origin and
// name are required, version and release are optional filters.
type DepPattern struct {
	Origin  string
	Name    string
	Version string // optional
	Release string // optional
}

func nonEmptyParts(parts ...string) error {
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("identifier has an empty component")
		}
	}
	return nil
}

// ParseFullIdent parses the canonical "origin/name/version/release" form.
func ParseFullIdent(s string) (FullIdent, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 {
		return FullIdent{}, fmt.Errorf("invalid full identifier %q: want origin/name/version/release", s)
	}
	if err := nonEmptyParts(parts...); err != nil {
		return FullIdent{}, fmt.Errorf("invalid full identifier %q: %w", s, err)
	}
	return FullIdent{Origin: parts[0], Name: parts[1], Version: parts[2], Release: parts[3]}, nil
}

func (f FullIdent) String() string {
	return strings.Join([]string{f.Origin, f.Name, f.Version, f.Release}, "/")
}

// ParseDepPattern parses "origin/name", "origin/name/version" or
// "origin/name/version/release".
func ParseDepPattern(s string) (DepPattern, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 4 {
		return DepPattern{}, fmt.Errorf("invalid dependency pattern %q", s)
	}
	if parts[0] == "" || parts[1] == "" {
		return DepPattern{}, fmt.Errorf("invalid dependency pattern %q: origin and name are required", s)
	}
	p := DepPattern{Origin: parts[0], Name: parts[1]}
	if len(parts) >= 3 {
		p.Version = parts[2]
	}
	if len(parts) == 4 {
		p.Release = parts[3]
	}
	return p, nil
}

func (p DepPattern) String() string {
	parts := []string{p.Origin, p.Name}
	if p.Version != "" {
		parts = append(parts, p.Version)
	}
	if p.Release != "" {
		parts = append(parts, p.Release)
	}
	return strings.Join(parts, "/")
}

// MatchesBuild reports whether p matches b: origin and name must match
// exactly, and if p.Version is set it must equal b.Version exactly.
// p.Release is ignored (BuildIdent carries no release).
func (p DepPattern) MatchesBuild(b BuildIdent) bool {
	if p.Origin != b.Origin || p.Name != b.Name {
		return false
	}
	if p.Version != "" && p.Version != b.Version {
		return false
	}
	return true
}

// MatchesArtifact reports whether p matches a: origin and name must match
// exactly, and any of version/release that p specifies must match exactly.
func (p DepPattern) MatchesArtifact(a ArtifactIdent) bool {
	if !p.MatchesBuild(a.BuildIdent) {
		return false
	}
	if p.Release != "" && p.Release != a.Release {
		return false
	}
	return true
}

// ArtifactIdentOf lifts a FullIdent to an ArtifactIdent for a target.
func ArtifactIdentOf(f FullIdent, target Target) ArtifactIdent {
	return ArtifactIdent{
		BuildIdent: BuildIdent{Origin: f.Origin, Name: f.Name, Version: f.Version, Target: target},
		Release:    f.Release,
	}
}

// Full drops the target, returning the FullIdent view of an ArtifactIdent.
func (a ArtifactIdent) Full() FullIdent {
	return FullIdent{Origin: a.Origin, Name: a.Name, Version: a.Version, Release: a.Release}
}

// Filename returns the canonical artifact filename:
// origin-name-version-release-target.hart
func (a ArtifactIdent) Filename() string {
	return fmt.Sprintf("%s-%s-%s-%s-%s.hart", a.Origin, a.Name, a.Version, a.Release, a.Target)
}

// ParseArtifactFilename parses a canonical artifact filename back into an
// ArtifactIdent, per §4.2: strip the .hart suffix, match the trailing
// "-target" against the fixed five-element Target enum (every target
// itself contains a '-', so it cannot be peeled as a single bare field),
// then split the rest into release, version, and origin-name from the
// right.
func ParseArtifactFilename(filename string) (ArtifactIdent, error) {
	const suffix = ".hart"
	if !strings.HasSuffix(filename, suffix) {
		return ArtifactIdent{}, fmt.Errorf("invalid artifact filename %q: missing %s suffix", filename, suffix)
	}
	trimmed := strings.TrimSuffix(filename, suffix)

	var target Target
	var rest string
	found := false
	for t := range validTargets {
		if strings.HasSuffix(trimmed, "-"+string(t)) {
			target = t
			rest = strings.TrimSuffix(trimmed, "-"+string(t))
			found = true
			break
		}
	}
	if !found {
		return ArtifactIdent{}, fmt.Errorf("invalid artifact filename %q: no recognized target suffix", filename)
	}

	// rest is now "origin-name-version-release"; peel release and version
	// from the right, each a single bare '-'-delimited field.
	var release, version string
	for i, dst := range []*string{&release, &version} {
		idx := strings.LastIndexByte(rest, '-')
		if idx < 0 {
			return ArtifactIdent{}, fmt.Errorf("invalid artifact filename %q: missing field %d from the right", filename, i+1)
		}
		*dst = rest[idx+1:]
		rest = rest[:idx]
	}
	// rest is now "origin-name"; split on the first '-'.
	idx := strings.IndexByte(rest, '-')
	if idx < 0 {
		return ArtifactIdent{}, fmt.Errorf("invalid artifact filename %q: missing origin/name separator", filename)
	}
	origin, name := rest[:idx], rest[idx+1:]
	if err := nonEmptyParts(origin, name, version, release, string(target)); err != nil {
		return ArtifactIdent{}, fmt.Errorf("invalid artifact filename %q: %w", filename, err)
	}
	return ArtifactIdent{
		BuildIdent: BuildIdent{Origin: origin, Name: name, Version: version, Target: target},
		Release:    release,
	}, nil
}

// LessBuild orders two build identifiers for the same target lexicographically
// by origin, then name, then version. Cross-target comparisons are
// undefined; callers must never invoke LessBuild on idents with different
// targets (this is a partial order, per §4.1).
func LessBuild(a, b BuildIdent) bool {
	if a.Target != b.Target {
		panic("habuild: LessBuild called across targets, which is undefined")
	}
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Version < b.Version
}

// LessArtifact extends LessBuild with release as the final tiebreaker.
func LessArtifact(a, b ArtifactIdent) bool {
	if a.BuildIdent != b.BuildIdent {
		return LessBuild(a.BuildIdent, b.BuildIdent)
	}
	return a.Release < b.Release
}
