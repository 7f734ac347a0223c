// Package builddriver invokes the external build driver for one package
// node, choosing among the Native/Bootstrap/Standard code paths of §4.8.1
// and streaming child output into a per-package build log.
package builddriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/hab-auto-build/habuild/internal/depgraph"
)

// Invocation bundles everything one build invocation needs.
type Invocation struct {
	Node *depgraph.Node

	// DepArtifacts are resolved paths to the dependency artifacts this
	// build should see, joined into the install list environment variable.
	DepArtifacts []string

	// OriginKeys is the comma-joined origin-key set for license/signing
	// purposes.
	OriginKeys []string

	// OutputDir is the session-local output path override.
	OutputDir string

	// StudioRoot is the session-specific filesystem root a Bootstrap or
	// Standard invocation executes against; unused for Native.
	StudioRoot string

	// Elevate is the privilege-elevation command (e.g. "sudo") used for
	// Bootstrap and Standard invocations.
	Elevate string

	// Driver is the build driver binary name.
	Driver string

	// Log receives sanitized stdout/stderr from the child, in arrival order;
	// only a trailing incomplete UTF-8 sequence is held back between writes.
	Log io.Writer
}

// env builds the environment variables §6 says get passed through: the
// origin-key set, a license acceptance marker, the install list, the
// session-local output path, and (native builds only) the native-support
// flag.
func (in Invocation) env(native bool) []string {
	vars := []string{
		"HAB_AUTO_BUILD_ORIGIN_KEYS=" + strings.Join(in.OriginKeys, ","),
		"HAB_LICENSE=accept-no-persist",
		"HAB_AUTO_BUILD_INSTALL_LIST=" + strings.Join(in.DepArtifacts, ":"),
		"HAB_AUTO_BUILD_OUTPUT_PATH=" + in.OutputDir,
	}
	if native {
		vars = append(vars, "HAB_AUTO_BUILD_NATIVE=1")
	}
	return vars
}

// Run executes the invocation, selecting the code path from the node's
// studio class, and streams output into in.Log.
func (in Invocation) Run(ctx context.Context) error {
	switch in.Node.StudioType {
	case depgraph.StudioNative:
		return in.runNative(ctx)
	case depgraph.StudioBootstrap:
		return in.runStudio(ctx, "bootstrap")
	default:
		return in.runStudio(ctx, "standard")
	}
}

func (in Invocation) runNative(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, in.Driver, "build", "--output", in.OutputDir)
	cmd.Dir = in.Node.Plan.SourceDir
	cmd.Env = append(cmd.Env, in.env(true)...)
	return in.run(cmd)
}

// runStudio handles the Bootstrap and Standard paths, which share the same
// shape: privilege elevation, a studio root, and the joined artifact/
// origin-key arguments.
func (in Invocation) runStudio(ctx context.Context, studioMode string) error {
	args := []string{in.Driver, "build",
		"--studio-mode", studioMode,
		"--studio-root", in.StudioRoot,
		"--install-list", strings.Join(in.DepArtifacts, ":"),
		"--origin-keys", strings.Join(in.OriginKeys, ","),
		"--output", in.OutputDir,
	}
	if in.Elevate != "" {
		args = append([]string{in.Elevate}, args...)
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = in.Node.Plan.SourceDir
	cmd.Env = append(cmd.Env, in.env(false)...)
	return in.run(cmd)
}

func (in Invocation) run(cmd *exec.Cmd) error {
	w := &sanitizingWriter{dst: in.Log}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("builddriver: %v: %w", cmd.Args, err)
	}
	return nil
}

// sanitizingWriter forwards to dst, replacing any invalid UTF-8 byte
// sequence with a sentinel marker so a binary-polluted line can't corrupt
// the build log or stall capture, per §4.8.1.
type sanitizingWriter struct {
	dst io.Writer
	buf bytes.Buffer
}

const invalidByteMarker = "�"

func (w *sanitizingWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	data := w.buf.Bytes()
	var clean bytes.Buffer
	for len(data) > 0 {
		if !utf8.FullRune(data) {
			break // incomplete rune at the end, wait for more bytes
		}
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size <= 1 {
			clean.WriteString(invalidByteMarker)
			data = data[1:]
			continue
		}
		clean.WriteRune(r)
		data = data[size:]
	}
	w.buf.Reset()
	w.buf.Write(data)
	if _, err := w.dst.Write(clean.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}
