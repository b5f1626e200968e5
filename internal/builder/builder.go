// Package builder runs a course's optional build script.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"git.home.luguber.info/inful/coursesync/internal/logfields"
)

// ExitError reports a build script that ran but exited non-zero.
type ExitError struct {
	Script string
	Code   int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("build script %s exited with code %d", e.Script, e.Code)
}

// Result reports what the build step did.
type Result struct {
	Ran      bool // false when no build script was present or builds are disabled
	Duration time.Duration
}

// Builder executes the per-course build script when present.
type Builder struct {
	scriptName string
	timeout    time.Duration
	disabled   bool
	// stdout/stderr are inherited from the process by default; tests override.
	Stdout *os.File
	Stderr *os.File
}

// New creates a builder from the build configuration.
func New(cfg config.BuildConfig, timeout time.Duration) *Builder {
	return &Builder{
		scriptName: cfg.ScriptName,
		timeout:    timeout,
		disabled:   cfg.Disabled,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

// Run executes <workdir>/<script> with the working copy as cwd. A missing
// script is not an error. The script's streams are inherited, matching how
// course build scripts expect to report progress.
func (b *Builder) Run(ctx context.Context, key, workdir string) (Result, error) {
	if b.disabled {
		slog.Debug("Builds disabled, skipping", logfields.Course(key))
		return Result{}, nil
	}

	scriptPath := filepath.Join(workdir, b.scriptName)
	if _, err := os.Stat(scriptPath); err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No build script, skipping", logfields.Course(key), logfields.Path(scriptPath))
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("stat build script: %w", err)
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	slog.Info("Running build script", logfields.Course(key), logfields.Path(scriptPath))
	start := time.Now()

	cmd := exec.CommandContext(ctx, scriptPath)
	cmd.Dir = workdir
	cmd.Stdout = b.Stdout
	cmd.Stderr = b.Stderr

	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{Ran: true, Duration: elapsed}, &ExitError{Script: b.scriptName, Code: exitErr.ExitCode()}
		}
		return Result{Ran: true, Duration: elapsed}, fmt.Errorf("run build script: %w", err)
	}

	slog.Info("Build finished", logfields.Course(key), logfields.DurationMS(float64(elapsed.Milliseconds())))
	return Result{Ran: true, Duration: elapsed}, nil
}
