package builder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("build scripts are shell scripts")
	}
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755))
}

func newTestBuilder(timeout time.Duration) *Builder {
	b := New(config.BuildConfig{ScriptName: "build.sh"}, timeout)
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	b.Stdout = devnull
	b.Stderr = devnull
	return b
}

func TestRunMissingScriptIsSkipped(t *testing.T) {
	b := newTestBuilder(0)
	res, err := b.Run(context.Background(), "intro-py", t.TempDir())
	require.NoError(t, err)
	assert.False(t, res.Ran)
}

func TestRunExecutesScriptInWorkdir(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	// The script writes to a relative path, proving cwd is the working copy.
	writeScript(t, dir, "build.sh", "echo built > out.txt")

	b := newTestBuilder(0)
	res, err := b.Run(context.Background(), "intro-py", dir)
	require.NoError(t, err)
	assert.True(t, res.Ran)

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(data))
}

func TestRunReportsExitCode(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "build.sh", "exit 3")

	b := newTestBuilder(0)
	res, err := b.Run(context.Background(), "intro-py", dir)
	require.Error(t, err)
	assert.True(t, res.Ran)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
	assert.Equal(t, "build.sh", exitErr.Script)
}

func TestRunHonorsTimeout(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "build.sh", "sleep 10")

	b := newTestBuilder(100 * time.Millisecond)
	start := time.Now()
	_, err := b.Run(context.Background(), "intro-py", dir)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunDisabled(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	writeScript(t, dir, "build.sh", "echo built > out.txt")

	b := New(config.BuildConfig{ScriptName: "build.sh", Disabled: true}, 0)
	res, err := b.Run(context.Background(), "intro-py", dir)
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.NoFileExists(t, filepath.Join(dir, "out.txt"))
}
