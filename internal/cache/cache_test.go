package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	habuild "github.com/hab-auto-build/habuild"
)

func writeArtifact(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestLatestExactMatch(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "core-glibc-2.37-20240101000000-x86_64-linux.hart", time.Now())
	writeArtifact(t, dir, "core-glibc-2.37-20240102000000-x86_64-linux.hart", time.Now())
	writeArtifact(t, dir, "core-glibc-2.36-20230101000000-x86_64-linux.hart", time.Now())
	writeArtifact(t, dir, "core-glibc-libs-2.37-20240101000000-x86_64-linux.hart", time.Now()) // shares prefix, different package

	idx, err := Build(dir, "core", "glibc", nil)
	if err != nil {
		t.Fatal(err)
	}

	e, ok := idx.Latest(habuild.DepPattern{Origin: "core", Name: "glibc"}, habuild.TargetX86_64Linux)
	if !ok {
		t.Fatal("expected a match")
	}
	if e.Ident.Version != "2.37" || e.Ident.Release != "20240102000000" {
		t.Errorf("got %+v, want version=2.37 release=20240102000000", e.Ident)
	}

	e, ok = idx.Latest(habuild.DepPattern{Origin: "core", Name: "glibc", Version: "2.36"}, habuild.TargetX86_64Linux)
	if !ok || e.Ident.Release != "20230101000000" {
		t.Errorf("version-pinned lookup got %+v, ok=%v", e, ok)
	}

	_, ok = idx.Latest(habuild.DepPattern{Origin: "core", Name: "glibc", Version: "2.37", Release: "does-not-exist"}, habuild.TargetX86_64Linux)
	if ok {
		t.Error("expected no match for nonexistent release")
	}
}

func TestIndexMonotonicity(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "core-bash-5.0-100-x86_64-linux.hart", time.Now())
	idx, err := Build(dir, "core", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := idx.Latest(habuild.DepPattern{Origin: "core", Name: "bash", Version: "5.0", Release: "100"}, habuild.TargetX86_64Linux)

	writeArtifact(t, dir, "core-bash-5.0-200-x86_64-linux.hart", time.Now())
	idx2, err := Build(dir, "core", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	after, ok := idx2.Latest(habuild.DepPattern{Origin: "core", Name: "bash", Version: "5.0", Release: "100"}, habuild.TargetX86_64Linux)
	if !ok || after.Ident != before.Ident {
		t.Error("inserting a newer release changed identity of a query for an already-existing release")
	}
}

func TestBuildSkipsUnparseableEntries(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "core-bash-not-a-valid-artifact.hart", time.Now())
	writeArtifact(t, dir, "core-bash-5.0-1-x86_64-linux.hart", time.Now())
	idx, err := Build(dir, "core", "bash", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := idx.Latest(habuild.DepPattern{Origin: "core", Name: "bash"}, habuild.TargetX86_64Linux); !ok {
		t.Fatal("expected the valid entry to still be indexed")
	}
}
