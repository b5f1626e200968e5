// Package resolver asks the course-supplied helper which subdirectory of a
// built working copy is its servable static output. The helper's textual
// stdout is converted into a typed result at this boundary so nothing
// upstream branches on raw strings.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"git.home.luguber.info/inful/coursesync/internal/logfields"
)

// StaticDir is the typed resolver verdict for one course.
type StaticDir struct {
	// Present is false when the helper printed nothing: the course has no
	// static output and nothing is published.
	Present bool
	// Subdir is the reported subdirectory, relative to the working copy.
	Subdir string
}

// Resolver invokes the external static-directory helper.
type Resolver struct {
	interpreter string
	script      string
	args        []string
	timeout     time.Duration
}

// New creates a resolver from configuration. interpreterOverride, when
// non-empty, wins over the configured interpreter (the CLI exposes it as a
// flag because callers historically pass the interpreter per invocation).
func New(cfg config.ResolverConfig, interpreterOverride string) *Resolver {
	interpreter := cfg.Interpreter
	if interpreterOverride != "" {
		interpreter = interpreterOverride
	}
	var timeout time.Duration
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	return &Resolver{interpreter: interpreter, script: cfg.Script, args: cfg.Args, timeout: timeout}
}

// Resolve runs `<interpreter> <script> [args...] static <workdir>` and parses
// its stdout. Empty or whitespace-only output means no static dir. Multi-line
// output takes the first line.
func (r *Resolver) Resolve(ctx context.Context, key, workdir string) (StaticDir, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(r.args)+3)
	args = append(args, r.script)
	args = append(args, r.args...)
	args = append(args, "static", workdir)

	cmd := exec.CommandContext(ctx, r.interpreter, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return StaticDir{}, fmt.Errorf("resolver %s: %w (stderr: %s)", r.script, err, strings.TrimSpace(stderr.String()))
	}

	return parseOutput(key, workdir, stdout.String())
}

func parseOutput(key, workdir, raw string) (StaticDir, error) {
	line := raw
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		slog.Debug("Course has no static output", logfields.Course(key))
		return StaticDir{}, nil
	}

	subdir := filepath.Clean(filepath.FromSlash(line))
	if filepath.IsAbs(subdir) {
		return StaticDir{}, fmt.Errorf("resolver reported absolute path %q for course %s", line, key)
	}
	// The subdir must stay inside the working copy.
	if subdir == ".." || strings.HasPrefix(subdir, ".."+string(filepath.Separator)) {
		return StaticDir{}, fmt.Errorf("resolver reported path %q escaping working copy %s", line, workdir)
	}
	if subdir == "." {
		return StaticDir{}, fmt.Errorf("resolver reported the working copy itself for course %s", key)
	}

	slog.Debug("Resolved static dir", logfields.Course(key), logfields.Path(subdir))
	return StaticDir{Present: true, Subdir: subdir}, nil
}
