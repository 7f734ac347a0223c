package planmeta

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	habuild "github.com/hab-auto-build/habuild"
)

const samplePlan = `
pkg_origin=core
pkg_name=make
pkg_version=4.2.1
pkg_upstream_url=https://ftp.gnu.org/gnu/make/make-4.2.1.tar.gz
pkg_upstream_sha256sum=e40b8f018c1f84d7e8210dc9e5c82c5f
pkg_deps=(core/glibc)
pkg_build_deps=(core/gcc core/binutils)
`

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.sh")
	if err := os.WriteFile(planPath, []byte(samplePlan), 0644); err != nil {
		t.Fatal(err)
	}

	e := &Extractor{}
	meta, err := e.Extract(context.Background(), "/repo", dir, planPath, habuild.TargetX86_64Linux)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := habuild.BuildIdent{Origin: "core", Name: "make", Version: "4.2.1", Target: habuild.TargetX86_64Linux}
	if meta.BuildIdent != want {
		t.Errorf("BuildIdent = %+v, want %+v", meta.BuildIdent, want)
	}
	if len(meta.Deps) != 1 || meta.Deps[0].String() != "core/glibc" {
		t.Errorf("Deps = %+v", meta.Deps)
	}
	if len(meta.BuildDeps) != 2 {
		t.Errorf("BuildDeps = %+v", meta.BuildDeps)
	}
}

func TestExtractMissingFields(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.sh")
	if err := os.WriteFile(planPath, []byte("pkg_name=incomplete\n"), 0644); err != nil {
		t.Fatal(err)
	}
	e := &Extractor{}
	if _, err := e.Extract(context.Background(), "/repo", dir, planPath, habuild.TargetX86_64Linux); err == nil {
		t.Fatal("expected error for plan missing pkg_origin/pkg_version")
	}
}
