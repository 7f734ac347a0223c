// Package config reads the orchestrator's JSON configuration and skip-list
// files (§6 of the spec). Parsing the command line and turning flags into a
// Config is the caller's job; this package only knows the document shapes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/patternmatcher"

	habuild "github.com/hab-auto-build/habuild"
)

// RepoConfig describes one repository to scan for plans.
type RepoConfig struct {
	Source          string   `json:"source"`
	NativePackages  []string `json:"native_packages,omitempty"`
	IgnoredPackages []string `json:"ignored_packages,omitempty"`
}

// Config is the top-level document read from hab-auto-build.json.
type Config struct {
	Repos                  []RepoConfig        `json:"repos"`
	BootstrapStudioPackage *habuild.DepPattern `json:"bootstrap_studio_package,omitempty"`
	StudioPackage          *habuild.DepPattern `json:"studio_package,omitempty"`

	// dir is the directory the config file lives in, used to resolve
	// relative repo sources; not part of the JSON document.
	dir string
}

// Load reads and validates the configuration document at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	var raw struct {
		Repos                  []RepoConfig `json:"repos"`
		BootstrapStudioPackage string       `json:"bootstrap_studio_package,omitempty"`
		StudioPackage          string       `json:"studio_package,omitempty"`
	}
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg := &Config{
		Repos: raw.Repos,
		dir:   filepath.Dir(path),
	}
	if raw.BootstrapStudioPackage != "" {
		p, err := habuild.ParseDepPattern(raw.BootstrapStudioPackage)
		if err != nil {
			return nil, fmt.Errorf("config %s: bootstrap_studio_package: %w", path, err)
		}
		cfg.BootstrapStudioPackage = &p
	}
	if raw.StudioPackage != "" {
		p, err := habuild.ParseDepPattern(raw.StudioPackage)
		if err != nil {
			return nil, fmt.Errorf("config %s: studio_package: %w", path, err)
		}
		cfg.StudioPackage = &p
	}

	for i, r := range cfg.Repos {
		if r.Source == "" {
			return nil, fmt.Errorf("config %s: repos[%d]: source is required", path, i)
		}
		if !filepath.IsAbs(r.Source) {
			cfg.Repos[i].Source = filepath.Join(cfg.dir, r.Source)
		}
		if _, err := patternmatcher.New(r.NativePackages); err != nil {
			return nil, fmt.Errorf("config %s: repos[%d]: native_packages: %w", path, i, err)
		}
		if _, err := patternmatcher.New(r.IgnoredPackages); err != nil {
			return nil, fmt.Errorf("config %s: repos[%d]: ignored_packages: %w", path, i, err)
		}
	}

	return cfg, nil
}

// SkipList is the `.hab-build-ignore` document: build identifiers whose
// rebuild should be suppressed as of UpdatedAt.
type SkipList struct {
	UpdatedAt int64    `json:"updated_at"`
	Packages  []string `json:"packages"`
}

// LoadSkipList reads the skip list next to a config file. A missing file is
// not an error; it is treated as an empty skip list.
func LoadSkipList(path string) (*SkipList, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SkipList{}, nil
		}
		return nil, fmt.Errorf("skip list: %w", err)
	}
	defer f.Close()
	var sl SkipList
	if err := json.NewDecoder(f).Decode(&sl); err != nil {
		return nil, fmt.Errorf("skip list %s: %w", path, err)
	}
	return &sl, nil
}

// Idents parses every entry of the skip list as a BuildIdent. A malformed
// entry is a configuration error, consistent with §7's treatment of
// invalid identifier syntax.
func (sl *SkipList) Idents() (map[habuild.BuildIdent]bool, error) {
	out := make(map[habuild.BuildIdent]bool, len(sl.Packages))
	for _, s := range sl.Packages {
		b, err := habuild.ParseBuildIdent(s)
		if err != nil {
			return nil, fmt.Errorf("skip list: %w", err)
		}
		out[b] = true
	}
	return out, nil
}
