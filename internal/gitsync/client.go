// Package gitsync keeps course working copies in sync with their remotes
// using go-git. All branch handling is done through references instead of
// parsing command output.
package gitsync

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"git.home.luguber.info/inful/coursesync/internal/logfields"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
)

// Action describes what a sync did to the working copy.
type Action string

const (
	ActionCloned        Action = "cloned"
	ActionFastForwarded Action = "fast-forwarded"
	ActionUpToDate      Action = "up-to-date"
	ActionReset         Action = "reset"
)

// Result reports the outcome of a successful sync.
type Result struct {
	Path   string
	Branch string
	Commit string
	Action Action
}

// Client handles git operations against the exercises root. It carries no
// mutable state, so one client can serve concurrent syncs of different
// courses.
type Client struct {
	root string
	cfg  config.GitConfig

	// OnRetry, when set, is called once per retried attempt.
	OnRetry func()
}

// NewClient creates a git client rooted at the exercises directory.
func NewClient(root string, cfg config.GitConfig) *Client {
	return &Client{root: root, cfg: cfg}
}

// Sync clones the course repository if its working copy is missing, otherwise
// switches to the requested branch and updates it from origin.
func (c *Client) Sync(course config.Course) (Result, error) {
	return c.withRetry("sync", course.Key, func() (Result, error) { return c.syncOnce(course) })
}

func (c *Client) syncOnce(course config.Course) (Result, error) {
	repoPath := filepath.Join(c.root, course.Key)
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err != nil { // missing => clone
		slog.Debug("Working copy missing, cloning", logfields.Course(course.Key))
		return c.cloneOnce(course, repoPath)
	}
	return c.updateExisting(course, repoPath)
}

func (c *Client) cloneOnce(course config.Course, repoPath string) (Result, error) {
	slog.Debug("Cloning course repository",
		logfields.Course(course.Key), logfields.URL(course.URL),
		logfields.Branch(course.Branch), logfields.Path(repoPath))

	cloneOptions := &git.CloneOptions{URL: course.URL}
	if course.Branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(course.Branch)
		cloneOptions.SingleBranch = true
	}
	if c.cfg.ShallowDepth > 0 {
		cloneOptions.Depth = c.cfg.ShallowDepth
	}
	if course.Auth != nil {
		auth, err := c.getAuthentication(course.Auth)
		if err != nil {
			return Result{}, fmt.Errorf("failed to setup authentication: %w", err)
		}
		cloneOptions.Auth = auth
	}

	repository, err := git.PlainClone(repoPath, false, cloneOptions)
	if err != nil {
		return Result{}, classifyGitError("clone", course.URL, err)
	}

	result := Result{Path: repoPath, Branch: course.Branch, Action: ActionCloned}
	if ref, herr := repository.Head(); herr == nil {
		result.Commit = ref.Hash().String()
		slog.Info("Course cloned",
			logfields.Course(course.Key), logfields.URL(course.URL),
			logfields.Commit(result.Commit[:8]), logfields.Path(repoPath))
	} else {
		slog.Info("Course cloned", logfields.Course(course.Key), logfields.URL(course.URL), logfields.Path(repoPath))
	}
	return result, nil
}

// getAuthentication creates authentication based on config
func (c *Client) getAuthentication(auth *config.AuthConfig) (transport.AuthMethod, error) {
	switch auth.Type {
	case config.AuthTypeNone, "":
		return nil, nil // No authentication needed for public repositories

	case config.AuthTypeSSH:
		keyPath := auth.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
		}
		publicKeys, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key from %s: %w", keyPath, err)
		}
		return publicKeys, nil

	case config.AuthTypeToken:
		if auth.Token == "" {
			return nil, fmt.Errorf("token authentication requires a token")
		}
		return &http.BasicAuth{
			Username: "token", // GitHub/GitLab use "token" as username
			Password: auth.Token,
		}, nil

	case config.AuthTypeBasic:
		if auth.Username == "" || auth.Password == "" {
			return nil, fmt.Errorf("basic authentication requires username and password")
		}
		return &http.BasicAuth{
			Username: auth.Username,
			Password: auth.Password,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported authentication type: %s", auth.Type)
	}
}

// CurrentBranch returns the checked-out branch name for a working copy,
// or an empty string when HEAD is detached.
func CurrentBranch(repoPath string) (string, error) {
	repository, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	ref, err := repository.Head()
	if err != nil {
		return "", fmt.Errorf("head: %w", err)
	}
	if !ref.Name().IsBranch() {
		return "", nil
	}
	return ref.Name().Short(), nil
}
