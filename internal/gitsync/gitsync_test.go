package gitsync

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addFileAndCommit adds a file and commits it, returning the commit hash.
func addFileAndCommit(t *testing.T, repo *git.Repository, repoPath, filename, content, msg string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, filename), []byte(content), 0o600))
	_, err = wt.Add(filename)
	require.NoError(t, err)
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "t@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}

// seedRemote creates a bare remote with one commit on master and returns the
// bare path, the seed repository, its working path, and the first commit hash.
func seedRemote(t *testing.T) (barePath string, seedRepo *git.Repository, seedPath string, first plumbing.Hash) {
	t.Helper()
	tmp := t.TempDir()
	barePath = filepath.Join(tmp, "remote.git")
	_, err := git.PlainInit(barePath, true)
	require.NoError(t, err)

	seedPath = filepath.Join(tmp, "seed")
	seedRepo, err = git.PlainInit(seedPath, false)
	require.NoError(t, err)
	_, err = seedRepo.CreateRemote(&ggitcfg.RemoteConfig{Name: "origin", URLs: []string{barePath}})
	require.NoError(t, err)

	first = addFileAndCommit(t, seedRepo, seedPath, "a.txt", "A", "A")
	require.NoError(t, seedRepo.Push(&git.PushOptions{RemoteName: "origin"}))
	return barePath, seedRepo, seedPath, first
}

func pushAll(t *testing.T, repo *git.Repository) {
	t.Helper()
	err := repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []ggitcfg.RefSpec{"refs/heads/*:refs/heads/*"},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		t.Fatalf("push: %v", err)
	}
}

func TestSyncClonesMissingWorkingCopy(t *testing.T) {
	bare, _, _, first := seedRemote(t)
	root := t.TempDir()
	client := NewClient(root, config.GitConfig{})

	res, err := client.Sync(config.Course{Key: "intro-py", URL: bare, Branch: "master"})
	require.NoError(t, err)
	assert.Equal(t, ActionCloned, res.Action)
	assert.Equal(t, filepath.Join(root, "intro-py"), res.Path)
	assert.Equal(t, first.String(), res.Commit)

	branch, err := CurrentBranch(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)
}

func TestSyncIsUpToDateOnSecondRun(t *testing.T) {
	bare, _, _, _ := seedRemote(t)
	root := t.TempDir()
	client := NewClient(root, config.GitConfig{})
	course := config.Course{Key: "intro-py", URL: bare, Branch: "master"}

	_, err := client.Sync(course)
	require.NoError(t, err)

	res, err := client.Sync(course)
	require.NoError(t, err)
	assert.Equal(t, ActionUpToDate, res.Action)
}

func TestSyncFastForwardsNewCommits(t *testing.T) {
	bare, seedRepo, seedPath, _ := seedRemote(t)
	root := t.TempDir()
	client := NewClient(root, config.GitConfig{})
	course := config.Course{Key: "intro-py", URL: bare, Branch: "master"}

	_, err := client.Sync(course)
	require.NoError(t, err)

	second := addFileAndCommit(t, seedRepo, seedPath, "b.txt", "B", "B")
	require.NoError(t, seedRepo.Push(&git.PushOptions{RemoteName: "origin"}))

	res, err := client.Sync(course)
	require.NoError(t, err)
	assert.Equal(t, ActionFastForwarded, res.Action)
	assert.Equal(t, second.String(), res.Commit)
}

func TestSyncSwitchesBranch(t *testing.T) {
	bare, seedRepo, seedPath, _ := seedRemote(t)

	// Create a dev branch with an extra commit and push it.
	wt, err := seedRepo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("dev"),
		Create: true,
	}))
	devHead := addFileAndCommit(t, seedRepo, seedPath, "dev.txt", "D", "dev work")
	pushAll(t, seedRepo)

	root := t.TempDir()
	client := NewClient(root, config.GitConfig{})

	// First sync on master.
	_, err = client.Sync(config.Course{Key: "intro-py", URL: bare, Branch: "master"})
	require.NoError(t, err)

	// Same working copy, requested branch changes to dev.
	res, err := client.Sync(config.Course{Key: "intro-py", URL: bare, Branch: "dev"})
	require.NoError(t, err)
	assert.Equal(t, devHead.String(), res.Commit)

	branch, err := CurrentBranch(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "dev", branch)
}

func TestSyncDivergenceHandling(t *testing.T) {
	bare, seedRepo, seedPath, _ := seedRemote(t)
	root := t.TempDir()
	course := config.Course{Key: "repo", URL: bare, Branch: "master"}

	_, err := NewClient(root, config.GitConfig{}).Sync(course)
	require.NoError(t, err)

	// Diverge: commit B locally, commit C on the remote.
	localPath := filepath.Join(root, "repo")
	localRepo, err := git.PlainOpen(localPath)
	require.NoError(t, err)
	addFileAndCommit(t, localRepo, localPath, "b.txt", "B", "B")

	remoteHead := addFileAndCommit(t, seedRepo, seedPath, "c.txt", "C", "C")
	require.NoError(t, seedRepo.Push(&git.PushOptions{RemoteName: "origin"}))

	// Default policy refuses to touch diverged history.
	_, err = NewClient(root, config.GitConfig{}).Sync(course)
	require.Error(t, err)
	var diverged *RemoteDivergedError
	require.ErrorAs(t, err, &diverged)
	assert.Equal(t, "master", diverged.Branch)

	// hard_reset_on_diverge follows the remote.
	res, err := NewClient(root, config.GitConfig{HardResetOnDiverge: true}).Sync(course)
	require.NoError(t, err)
	assert.Equal(t, ActionReset, res.Action)
	assert.Equal(t, remoteHead.String(), res.Commit)

	head, err := localRepo.Head()
	require.NoError(t, err)
	assert.Equal(t, remoteHead, head.Hash())
}

// TestWithRetryBehavior ensures retries happen for transient errors and stop for permanent ones.
func TestWithRetryBehavior(t *testing.T) {
	cfg := config.GitConfig{MaxRetries: 3, RetryBackoff: config.RetryBackoffFixed, RetryInitialDelay: "1ms", RetryMaxDelay: "5ms"}
	c := NewClient(t.TempDir(), cfg)

	attempts := 0
	res, err := c.withRetry("sync", "repo", func() (Result, error) {
		if attempts < 2 {
			attempts++
			return Result{}, errors.New("temporary network failure")
		}
		attempts++
		return Result{Path: "/ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "/ok", res.Path)

	// Permanent error should not retry
	attempts = 0
	_, err = c.withRetry("sync", "repo", func() (Result, error) {
		attempts++
		return Result{}, errors.New("authentication failed: permission denied")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

// TestIsPermanentGitError basic classification sanity.
func TestIsPermanentGitError(t *testing.T) {
	assert.True(t, isPermanentGitError(errors.New("authentication failed")))
	assert.True(t, isPermanentGitError(&RemoteDivergedError{Op: "update", Err: errors.New("diverged")}))
	assert.False(t, isPermanentGitError(errors.New("temporary network failure")))
	assert.False(t, isPermanentGitError(nil))
}

func TestClassifyGitError(t *testing.T) {
	err := classifyGitError("clone", "u", errors.New("authentication required"))
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)

	err = classifyGitError("clone", "u", errors.New("repository not found"))
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)

	err = classifyGitError("fetch", "u", errors.New("i/o timeout"))
	assert.Equal(t, "network_timeout", classifyTransientType(err))

	err = classifyGitError("fetch", "u", errors.New("too many requests"))
	assert.Equal(t, "rate_limit", classifyTransientType(err))

	assert.NoError(t, classifyGitError("clone", "u", nil))
}

// TestSyncConcurrentKeysShareClient exercises one client syncing several
// courses in parallel, the way the runner fans out with sync_concurrency > 1.
func TestSyncConcurrentKeysShareClient(t *testing.T) {
	bare, _, _, first := seedRemote(t)
	root := t.TempDir()
	cfg := config.GitConfig{MaxRetries: 2, RetryBackoff: config.RetryBackoffFixed, RetryInitialDelay: "1ms", RetryMaxDelay: "5ms"}
	client := NewClient(root, cfg)

	keys := []string{"intro-py", "algo-2", "compilers", "databases"}
	results := make([]Result, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			results[i], errs[i] = client.Sync(config.Course{Key: key, URL: bare, Branch: "master"})
		}(i, key)
	}
	wg.Wait()

	for i, key := range keys {
		require.NoError(t, errs[i])
		assert.Equal(t, ActionCloned, results[i].Action)
		assert.Equal(t, first.String(), results[i].Commit)
		assert.Equal(t, filepath.Join(root, key), results[i].Path)
	}

	// Second pass, still concurrent, must go through the retry wrapper and
	// report up-to-date for every key.
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			results[i], errs[i] = client.Sync(config.Course{Key: key, URL: bare, Branch: "master"})
		}(i, key)
	}
	wg.Wait()

	for i := range keys {
		require.NoError(t, errs[i])
		assert.Equal(t, ActionUpToDate, results[i].Action)
	}
}
