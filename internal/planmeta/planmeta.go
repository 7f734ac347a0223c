// Package planmeta extracts metadata from a single plan file (C3). It never
// interprets the plan itself: it runs an embedded shell helper that sources
// the plan and prints a metadata document, and only parses that document.
package planmeta

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"os"
	"os/exec"

	"golang.org/x/xerrors"

	habuild "github.com/hab-auto-build/habuild"
)

//go:embed extract-metadata.sh
var extractScript []byte

// Metadata is the parsed record for one plan, per §3's "Plan metadata"
// data model.
type Metadata struct {
	Path       string // resolved plan file, e.g. .../habitat/plan.sh
	SourceDir  string // package source directory the plan was found under
	RepoRoot   string

	BuildIdent habuild.BuildIdent

	UpstreamSourceURL string
	UpstreamSHA       string

	Deps      []habuild.DepPattern
	BuildDeps []habuild.DepPattern
}

// ExtractionError wraps a failure to extract metadata from a specific plan
// path, per §7 ("fatal for that plan, aborts the run").
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return xerrors.Errorf("extracting metadata from %s: %w", e.Path, e.Err).Error()
}

func (e *ExtractionError) Unwrap() error { return e.Err }

type document struct {
	Origin            string   `json:"origin"`
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	UpstreamSourceURL string   `json:"upstream_source_url"`
	UpstreamSHA       string   `json:"upstream_sha"`
	Deps              []string `json:"deps"`
	BuildDeps         []string `json:"build_deps"`
}

// Extractor runs the embedded helper against resolved plan paths.
type Extractor struct {
	// Shell is the interpreter used to run the embedded helper, "sh" by
	// default. Tests override it to point at a fake helper.
	Shell string
}

// Extract invokes the helper against planPath (already resolved to a
// concrete plan.sh by the repository scanner), sourceDir is the package
// source directory the plan was found under, and target is the platform
// the resulting BuildIdent is for.
func (e *Extractor) Extract(ctx context.Context, repoRoot, sourceDir, planPath string, target habuild.Target) (*Metadata, error) {
	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}

	scriptPath, cleanup, err := materializeScript()
	if err != nil {
		return nil, &ExtractionError{Path: planPath, Err: err}
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, shell, scriptPath, planPath)
	cmd.Dir = sourceDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &ExtractionError{Path: planPath, Err: xerrors.Errorf("%v: %w (stderr: %s)", cmd.Args, err, stderr.Bytes())}
	}

	var doc document
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		return nil, &ExtractionError{Path: planPath, Err: xerrors.Errorf("invalid metadata document: %w", err)}
	}
	if doc.Origin == "" || doc.Name == "" || doc.Version == "" {
		return nil, &ExtractionError{Path: planPath, Err: xerrors.New("metadata document missing origin, name or version")}
	}

	deps, err := parsePatterns(doc.Deps)
	if err != nil {
		return nil, &ExtractionError{Path: planPath, Err: err}
	}
	buildDeps, err := parsePatterns(doc.BuildDeps)
	if err != nil {
		return nil, &ExtractionError{Path: planPath, Err: err}
	}

	return &Metadata{
		Path:      planPath,
		SourceDir: sourceDir,
		RepoRoot:  repoRoot,
		BuildIdent: habuild.BuildIdent{
			Origin:  doc.Origin,
			Name:    doc.Name,
			Version: doc.Version,
			Target:  target,
		},
		UpstreamSourceURL: doc.UpstreamSourceURL,
		UpstreamSHA:       doc.UpstreamSHA,
		Deps:              deps,
		BuildDeps:         buildDeps,
	}, nil
}

func parsePatterns(raw []string) ([]habuild.DepPattern, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]habuild.DepPattern, 0, len(raw))
	for _, s := range raw {
		p, err := habuild.ParseDepPattern(s)
		if err != nil {
			return nil, xerrors.Errorf("invalid dependency pattern in metadata document: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// materializeScript writes the embedded helper to a temp file so it can be
// handed to the shell interpreter as a path; the helper itself never
// touches disk beyond reading the plan it's pointed at.
func materializeScript() (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "hab-auto-build-extract-*.sh")
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	if _, err := f.Write(extractScript); err != nil {
		f.Close()
		os.Remove(name)
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	if err := os.Chmod(name, 0755); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	return name, func() { os.Remove(name) }, nil
}
