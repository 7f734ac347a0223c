package scan

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	habuild "github.com/hab-auto-build/habuild"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScanFindsPlansAndStopsDescending(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "make", "plan.sh"))
	touch(t, filepath.Join(root, "make", "nested", "plan.sh")) // must not be found: make/ already resolved
	touch(t, filepath.Join(root, "gcc", "habitat", "plan.sh"))
	touch(t, filepath.Join(root, "glibc", string(habuild.TargetX86_64Linux), "plan.sh"))

	s := &Scanner{Target: habuild.TargetX86_64Linux}
	sources, err := s.Scan(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	var dirs []string
	for _, src := range sources {
		rel, _ := filepath.Rel(root, src.SourceDir)
		dirs = append(dirs, rel)
	}
	sort.Strings(dirs)
	want := []string{"gcc", "glibc", "make"}
	if len(dirs) != len(want) {
		t.Fatalf("got %v, want %v", dirs, want)
	}
	for i := range want {
		if dirs[i] != want[i] {
			t.Fatalf("got %v, want %v", dirs, want)
		}
	}
}

func TestScanSkipsIgnoredSubtree(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "make", "plan.sh"))
	touch(t, filepath.Join(root, "vendor", "foo", "plan.sh"))

	s := &Scanner{Target: habuild.TargetX86_64Linux}
	sources, err := s.Scan(root, []string{"vendor"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || filepath.Base(sources[0].SourceDir) != "make" {
		t.Fatalf("got %+v, want only make", sources)
	}
}

func TestResolvePlanFilePriority(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "plan.sh"))
	touch(t, filepath.Join(dir, "habitat", "plan.sh"))
	touch(t, filepath.Join(dir, string(habuild.TargetX86_64Linux), "plan.sh"))

	got, ok := ResolvePlanFile(dir, habuild.TargetX86_64Linux)
	if !ok {
		t.Fatal("expected a resolved plan")
	}
	want := filepath.Join(dir, string(habuild.TargetX86_64Linux), "plan.sh")
	if got != want {
		t.Fatalf("got %q, want %q (target-specific should win)", got, want)
	}
}
