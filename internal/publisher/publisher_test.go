package publisher

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T, overwrite bool) (*Publisher, string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("symlink publication requires symlink support")
	}
	base := t.TempDir()
	staticRoot := filepath.Join(base, "static")
	exercisesRoot := filepath.Join(base, "exercises")
	require.NoError(t, os.MkdirAll(exercisesRoot, 0o755))
	return New(staticRoot, exercisesRoot, overwrite), staticRoot, exercisesRoot
}

func TestTargetIsRelative(t *testing.T) {
	p, _, _ := newTestPublisher(t, false)
	target, err := p.Target("intro-py", "site")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "exercises", "intro-py", "site"), target)
}

func TestPublishCreatesLink(t *testing.T) {
	p, staticRoot, _ := newTestPublisher(t, false)

	res, err := p.Publish("intro-py", "site")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	got, err := os.Readlink(filepath.Join(staticRoot, "intro-py"))
	require.NoError(t, err)
	assert.Equal(t, res.Target, got)
}

func TestPublishIsIdempotent(t *testing.T) {
	p, staticRoot, _ := newTestPublisher(t, false)

	_, err := p.Publish("intro-py", "site")
	require.NoError(t, err)

	link := filepath.Join(staticRoot, "intro-py")
	before, err := os.Lstat(link)
	require.NoError(t, err)

	res, err := p.Publish("intro-py", "site")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)

	// The link was not recreated: same inode metadata.
	after, err := os.Lstat(link)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestPublishRetargetsChangedSubdir(t *testing.T) {
	p, staticRoot, _ := newTestPublisher(t, false)

	_, err := p.Publish("intro-py", "site")
	require.NoError(t, err)

	res, err := p.Publish("intro-py", "_build/html")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplaced, res.Outcome)

	got, err := os.Readlink(filepath.Join(staticRoot, "intro-py"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "exercises", "intro-py", "_build", "html"), got)
}

func TestPublishRefusesNonSymlink(t *testing.T) {
	p, staticRoot, _ := newTestPublisher(t, false)
	require.NoError(t, os.MkdirAll(filepath.Join(staticRoot, "intro-py"), 0o755))

	_, err := p.Publish("intro-py", "site")
	require.Error(t, err)
	var nsErr *NotSymlinkError
	require.ErrorAs(t, err, &nsErr)

	// The occupying directory is untouched.
	info, err := os.Lstat(filepath.Join(staticRoot, "intro-py"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPublishOverwritesNonSymlinkWhenConfigured(t *testing.T) {
	p, staticRoot, _ := newTestPublisher(t, true)
	require.NoError(t, os.MkdirAll(filepath.Join(staticRoot, "intro-py"), 0o755))

	res, err := p.Publish("intro-py", "site")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplaced, res.Outcome)

	got, err := os.Readlink(filepath.Join(staticRoot, "intro-py"))
	require.NoError(t, err)
	assert.Equal(t, res.Target, got)
}

func TestUnpublish(t *testing.T) {
	p, staticRoot, _ := newTestPublisher(t, false)

	// Missing link is fine.
	require.NoError(t, p.Unpublish("intro-py"))

	_, err := p.Publish("intro-py", "site")
	require.NoError(t, err)
	require.NoError(t, p.Unpublish("intro-py"))
	assert.NoFileExists(t, filepath.Join(staticRoot, "intro-py"))

	// Non-symlink follows the overwrite policy.
	require.NoError(t, os.MkdirAll(filepath.Join(staticRoot, "other"), 0o755))
	err = p.Unpublish("other")
	var nsErr *NotSymlinkError
	require.ErrorAs(t, err, &nsErr)
}
