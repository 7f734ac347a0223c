// Package artifact opens a built package artifact (C9): a short text
// header followed by a zstd-compressed tar stream, per §4.9.
package artifact

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/exp/mmap"

	habuild "github.com/hab-auto-build/habuild"
)

const headerLines = 5

// InvalidArtifactError pins any opener failure to the artifact path, per
// §4.9's "any step's failure yields an invalid artifact error".
type InvalidArtifactError struct {
	Path string
	Err  error
}

func (e *InvalidArtifactError) Error() string {
	return fmt.Sprintf("invalid artifact %s: %v", e.Path, e.Err)
}

func (e *InvalidArtifactError) Unwrap() error { return e.Err }

// Open recovers the artifact identifier encoded in an artifact file's
// content, cross-checked against its filename for the target component.
// The file is memory-mapped: decompression runs over the mapped bytes
// without a separate read into a buffer.
func Open(path string) (habuild.ArtifactIdent, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return habuild.ArtifactIdent{}, &InvalidArtifactError{Path: path, Err: err}
	}
	defer r.Close()

	sr := io.NewSectionReader(r, 0, int64(r.Len()))
	br := bufio.NewReader(sr)
	for i := 0; i < headerLines; i++ {
		if _, err := br.ReadString('\n'); err != nil {
			return habuild.ArtifactIdent{}, &InvalidArtifactError{Path: path, Err: fmt.Errorf("reading header line %d: %w", i+1, err)}
		}
	}

	zr, err := zstd.NewReader(br)
	if err != nil {
		return habuild.ArtifactIdent{}, &InvalidArtifactError{Path: path, Err: fmt.Errorf("opening compressed body: %w", err)}
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	hdr, err := tr.Next()
	if err != nil {
		return habuild.ArtifactIdent{}, &InvalidArtifactError{Path: path, Err: fmt.Errorf("reading first tar entry: %w", err)}
	}

	const rootPrefix = "hab/pkgs/"
	name := strings.TrimPrefix(hdr.Name, "./")
	if !strings.HasPrefix(name, rootPrefix) {
		return habuild.ArtifactIdent{}, &InvalidArtifactError{Path: path, Err: fmt.Errorf("first tar entry %q is not under %s", hdr.Name, rootPrefix)}
	}
	rest := strings.TrimPrefix(name, rootPrefix)
	rest = strings.TrimSuffix(rest, "/")
	parts := strings.SplitN(rest, "/", 5)
	if len(parts) < 4 {
		return habuild.ArtifactIdent{}, &InvalidArtifactError{Path: path, Err: fmt.Errorf("expected origin/name/version/release under %s, got %q", rootPrefix, rest)}
	}
	full := habuild.FullIdent{Origin: parts[0], Name: parts[1], Version: parts[2], Release: parts[3]}

	target, err := targetFromFilename(path, full)
	if err != nil {
		return habuild.ArtifactIdent{}, &InvalidArtifactError{Path: path, Err: err}
	}

	return habuild.ArtifactIdentOf(full, target), nil
}

// targetFromFilename recovers target by stripping the common
// origin-name-version-release- prefix and the .hart suffix from the
// artifact's base filename, per §4.9 step 5.
func targetFromFilename(path string, full habuild.FullIdent) (habuild.Target, error) {
	base := path
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	const suffix = ".hart"
	if !strings.HasSuffix(base, suffix) {
		return "", fmt.Errorf("filename %q missing %s suffix", base, suffix)
	}
	trimmed := strings.TrimSuffix(base, suffix)
	prefix := fmt.Sprintf("%s-%s-%s-%s-", full.Origin, full.Name, full.Version, full.Release)
	if !strings.HasPrefix(trimmed, prefix) {
		return "", fmt.Errorf("filename %q does not start with %s", base, prefix)
	}
	return habuild.ParseTarget(strings.TrimPrefix(trimmed, prefix))
}
