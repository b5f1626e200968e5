package gitsync

import (
	"errors"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"git.home.luguber.info/inful/coursesync/internal/logfields"
	"github.com/go-git/go-git/v5"
	ggitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

func (c *Client) updateExisting(course config.Course, repoPath string) (Result, error) {
	repository, err := git.PlainOpen(repoPath)
	if err != nil {
		return Result{}, fmt.Errorf("open repo: %w", err)
	}
	slog.Info("Updating course", logfields.Course(course.Key), logfields.Path(repoPath))
	wt, err := repository.Worktree()
	if err != nil {
		return Result{}, fmt.Errorf("worktree: %w", err)
	}

	// 1. Fetch remote refs
	if err := c.fetchOrigin(repository, course); err != nil {
		return Result{}, err
	}

	// 2. Checkout the requested branch (creating the local branch from
	// origin if the working copy was previously on another branch) and
	// obtain local/remote refs.
	localRef, remoteRef, err := checkoutAndGetRefs(repository, wt, course.Branch)
	if err != nil {
		return Result{}, err
	}

	// 3. Fast-forward or handle divergence
	action, err := c.syncWithRemote(repository, wt, course, localRef, remoteRef)
	if err != nil {
		return Result{}, err
	}

	// 4. Post-update hygiene
	if c.cfg.CleanUntracked {
		if cerr := wt.Clean(&git.CleanOptions{Dir: true}); cerr != nil {
			slog.Warn("clean untracked failed", logfields.Course(course.Key), logfields.Error(cerr))
		}
	}

	result := Result{Path: repoPath, Branch: course.Branch, Commit: remoteRef.Hash().String(), Action: action}
	slog.Info("Course updated",
		logfields.Course(course.Key), logfields.Branch(course.Branch),
		logfields.Commit(result.Commit[:8]), logfields.Action(string(action)))
	return result, nil
}

// fetchOrigin performs a fetch of the origin remote with appropriate depth and authentication.
func (c *Client) fetchOrigin(repository *git.Repository, course config.Course) error {
	fetchOpts := &git.FetchOptions{
		RemoteName: "origin",
		Tags:       git.NoTags,
		RefSpecs:   []ggitcfg.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
	}
	if c.cfg.ShallowDepth > 0 {
		fetchOpts.Depth = c.cfg.ShallowDepth
	}
	if course.Auth != nil {
		auth, err := c.getAuthentication(course.Auth)
		if err != nil {
			return err
		}
		fetchOpts.Auth = auth
	}
	if err := repository.Fetch(fetchOpts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classifyGitError("fetch", course.URL, err)
	}
	return nil
}

// checkoutAndGetRefs ensures the local branch exists and is checked out, returning both local and remote references.
func checkoutAndGetRefs(repository *git.Repository, wt *git.Worktree, branch string) (localRef, remoteRef *plumbing.Reference, err error) {
	localBranchRef := plumbing.NewBranchReferenceName(branch)
	remoteBranchRef := plumbing.NewRemoteReferenceName("origin", branch)
	remoteRef, err = repository.Reference(remoteBranchRef, true)
	if err != nil {
		return nil, nil, fmt.Errorf("remote ref %s: %w", branch, err)
	}
	localRef, lerr := repository.Reference(localBranchRef, true)
	if lerr != nil { // create local branch at the remote head
		if err = wt.Checkout(&git.CheckoutOptions{Branch: localBranchRef, Create: true, Hash: remoteRef.Hash(), Force: true}); err != nil {
			return nil, nil, fmt.Errorf("checkout new branch: %w", err)
		}
		localRef, _ = repository.Reference(localBranchRef, true)
	} else {
		if err = wt.Checkout(&git.CheckoutOptions{Branch: localBranchRef, Force: true}); err != nil {
			return nil, nil, fmt.Errorf("checkout existing branch: %w", err)
		}
	}
	return localRef, remoteRef, nil
}

// syncWithRemote fast-forwards or hard-resets the local branch depending on divergence and config.
func (c *Client) syncWithRemote(repository *git.Repository, wt *git.Worktree, course config.Course, localRef, remoteRef *plumbing.Reference) (Action, error) {
	if localRef.Hash() == remoteRef.Hash() {
		slog.Info("Course already up-to-date",
			logfields.Course(course.Key), logfields.Branch(course.Branch),
			logfields.Commit(remoteRef.Hash().String()[:8]))
		return ActionUpToDate, nil
	}

	fastForwardPossible, ffErr := isAncestor(repository, localRef.Hash(), remoteRef.Hash())
	if ffErr != nil {
		slog.Warn("ancestor check failed", logfields.Course(course.Key), logfields.Error(ffErr))
	}
	if fastForwardPossible {
		if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
			return "", fmt.Errorf("fast-forward reset: %w", err)
		}
		slog.Info("Fast-forwarded course",
			logfields.Course(course.Key), logfields.Branch(course.Branch),
			slog.String("from", localRef.Hash().String()[:8]),
			slog.String("to", remoteRef.Hash().String()[:8]))
		return ActionFastForwarded, nil
	}

	if c.cfg.HardResetOnDiverge {
		slog.Warn("diverged branch, hard resetting", logfields.Course(course.Key), logfields.Branch(course.Branch))
		if err := wt.Reset(&git.ResetOptions{Commit: remoteRef.Hash(), Mode: git.HardReset}); err != nil {
			return "", fmt.Errorf("hard reset: %w", err)
		}
		return ActionReset, nil
	}
	return "", &RemoteDivergedError{
		Op: "update", URL: course.URL, Branch: course.Branch,
		Err: fmt.Errorf("local branch diverged from remote (enable hard_reset_on_diverge to override)"),
	}
}

func isAncestor(repo *git.Repository, a, b plumbing.Hash) (bool, error) {
	if a == b {
		return true, nil
	}
	seen := map[plumbing.Hash]struct{}{}
	queue := []plumbing.Hash{b}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if h == a {
			return true, nil
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		commit, err := repo.CommitObject(h)
		if err != nil {
			return false, err
		}
		queue = append(queue, commit.ParentHashes...)
	}
	return false, nil
}
