package habuild

import "testing"

func TestParseFullIdentRoundTrip(t *testing.T) {
	cases := []string{
		"core/glibc/2.37/20240101000000",
		"core/make/4.2.1/1",
	}
	for _, s := range cases {
		f, err := ParseFullIdent(s)
		if err != nil {
			t.Fatalf("ParseFullIdent(%q): %v", s, err)
		}
		if got := f.String(); got != s {
			t.Errorf("ParseFullIdent(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestParseFullIdentInvalid(t *testing.T) {
	cases := []string{
		"core/glibc/2.37",
		"core//2.37/1",
		"core/glibc/2.37/1/extra",
	}
	for _, s := range cases {
		if _, err := ParseFullIdent(s); err == nil {
			t.Errorf("ParseFullIdent(%q): got nil error, want error", s)
		}
	}
}

func TestParseDepPattern(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want DepPattern
	}{
		{"core/glibc", DepPattern{Origin: "core", Name: "glibc"}},
		{"core/glibc/2.37", DepPattern{Origin: "core", Name: "glibc", Version: "2.37"}},
		{"core/glibc/2.37/1", DepPattern{Origin: "core", Name: "glibc", Version: "2.37", Release: "1"}},
	} {
		got, err := ParseDepPattern(tt.in)
		if err != nil {
			t.Fatalf("ParseDepPattern(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDepPattern(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if s := got.String(); s != tt.in {
			t.Errorf("round-trip: got %q, want %q", s, tt.in)
		}
	}
}

func TestDepPatternMatches(t *testing.T) {
	build := BuildIdent{Origin: "core", Name: "glibc", Version: "2.37", Target: TargetX86_64Linux}
	artifact := ArtifactIdent{BuildIdent: build, Release: "20240101000000"}

	for _, tt := range []struct {
		pattern string
		want    bool
	}{
		{"core/glibc", true},
		{"core/glibc/2.37", true},
		{"core/glibc/2.38", false},
		{"core/glibc/2.37/20240101000000", true},
		{"core/glibc/2.37/19990101000000", false},
		{"other/glibc", false},
	} {
		p, err := ParseDepPattern(tt.pattern)
		if err != nil {
			t.Fatalf("ParseDepPattern(%q): %v", tt.pattern, err)
		}
		if got := p.MatchesArtifact(artifact); got != tt.want {
			t.Errorf("%s.MatchesArtifact(%v) = %v, want %v", tt.pattern, artifact, got, tt.want)
		}
	}
}

func TestArtifactFilenameRoundTrip(t *testing.T) {
	a := ArtifactIdent{
		BuildIdent: BuildIdent{Origin: "core", Name: "glibc", Version: "2.37", Target: TargetX86_64Linux},
		Release:    "20240101000000",
	}
	fn := a.Filename()
	const want = "core-glibc-2.37-20240101000000-x86_64-linux.hart"
	if fn != want {
		t.Fatalf("Filename() = %q, want %q", fn, want)
	}
	got, err := ParseArtifactFilename(fn)
	if err != nil {
		t.Fatalf("ParseArtifactFilename(%q): %v", fn, err)
	}
	if got != a {
		t.Errorf("ParseArtifactFilename(%q) = %+v, want %+v", fn, got, a)
	}
}

func TestParseArtifactFilenameInvalid(t *testing.T) {
	for _, fn := range []string{
		"core-glibc-2.37-20240101000000-x86_64-linux.tar",
		"glibc-2.37-20240101000000-x86_64-linux.hart",
		"core-glibc-2.37--x86_64-linux.hart",
	} {
		if _, err := ParseArtifactFilename(fn); err == nil {
			t.Errorf("ParseArtifactFilename(%q): got nil error, want error", fn)
		}
	}
}

func TestLessBuildOrdering(t *testing.T) {
	mk := func(origin, name, version string) BuildIdent {
		return BuildIdent{Origin: origin, Name: name, Version: version, Target: TargetX86_64Linux}
	}
	if !LessBuild(mk("core", "bash", "5.0"), mk("core", "bash", "5.1")) {
		t.Error("expected 5.0 < 5.1")
	}
	if !LessBuild(mk("core", "bash", "5.1"), mk("core", "coreutils", "9.0")) {
		t.Error("expected bash < coreutils")
	}
}

func TestLessBuildPanicsAcrossTargets(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic comparing across targets")
		}
	}()
	a := BuildIdent{Origin: "core", Name: "bash", Version: "5.0", Target: TargetX86_64Linux}
	b := BuildIdent{Origin: "core", Name: "bash", Version: "5.0", Target: TargetAarch64Linux}
	LessBuild(a, b)
}
