// Package session names a build run and lays out its per-package build
// directories under a repository's .hab-auto-build tree, per §6's "session
// artifacts" and the on-disk layout the original build driver expects.
package session

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	habuild "github.com/hab-auto-build/habuild"
)

// New returns a fresh random session name: eight bytes of hex, matching the
// width the build driver's studio root naming expects
// (hab-auto-build-<session>).
func New() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// BuildDir returns <repoRoot>/.hab-auto-build/builds/<session>/<origin>/<name>,
// the per-session, per-package output directory §4.8.1 requires.
func BuildDir(repoRoot, session string, ident habuild.BuildIdent) string {
	return filepath.Join(repoRoot, ".hab-auto-build", "builds", session, ident.Origin, ident.Name)
}

// StudioRoot returns the session-specific filesystem root a bootstrap or
// standard studio is executed against: /.../studios/hab-auto-build-<session>.
func StudioRoot(base, session string) string {
	return filepath.Join(base, "studios", "hab-auto-build-"+session)
}

// EnsureBuildDir creates a node's build directory, returning its path.
func EnsureBuildDir(repoRoot, session string, ident habuild.BuildIdent) (string, error) {
	dir := BuildDir(repoRoot, session, ident)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("session: %w", err)
	}
	return dir, nil
}

// LastBuildEnvPath is the key=value file a completed build writes; the key
// pkg_artifact is required and holds the artifact filename.
func LastBuildEnvPath(buildDir string) string { return filepath.Join(buildDir, "last_build.env") }

// BuildLogPath is the append-only text file a worker streams child output
// into.
func BuildLogPath(buildDir string) string { return filepath.Join(buildDir, "build.log") }

// OKMarkerPath is the empty marker file written on a zero exit status.
func OKMarkerPath(buildDir string) string { return filepath.Join(buildDir, "BUILD_OK") }

// WriteLastBuildEnv atomically writes the key=value pairs a completed build
// records; pkg_artifact is required by §6 but that's enforced by the caller.
func WriteLastBuildEnv(path string, kv map[string]string) error {
	var sb strings.Builder
	for k, v := range kv {
		fmt.Fprintf(&sb, "%s=%s\n", k, v)
	}
	f, err := renameio.TempFile("", path)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	defer f.Cleanup()
	if _, err := f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// ReadLastBuildEnv parses a last_build.env file into key=value pairs. A
// missing file is reported to the caller, who decides whether that's fatal
// (§7: "missing expected last_build.env ... is fatal" for the node that
// should have produced it, but "logged, omitted" when merely probing a
// sibling's output during dependency resolution).
func ReadLastBuildEnv(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	kv := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		kv[k] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return kv, nil
}
