package installer

import "testing"

func TestStudioStateEnsureInstalledRunsOnce(t *testing.T) {
	var s StudioState
	calls := 0
	install := func() error { calls++; return nil }

	if err := s.EnsureInstalled(Bootstrap, install); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureInstalled(Bootstrap, install); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("install called %d times, want 1", calls)
	}
	if s.isInstalled(Studio) {
		t.Error("Studio flag set despite only Bootstrap installed")
	}
}

func TestStudioStateClearForcesReinstall(t *testing.T) {
	var s StudioState
	calls := 0
	install := func() error { calls++; return nil }

	s.EnsureInstalled(Studio, install)
	s.Clear(Studio)
	s.EnsureInstalled(Studio, install)

	if calls != 2 {
		t.Errorf("install called %d times after Clear, want 2", calls)
	}
}
