// Package publisher maintains the static root: one symlink per published
// course, pointing into its working copy's build output.
package publisher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/coursesync/internal/logfields"
)

// Outcome describes what Publish did to the course's symlink.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeReplaced  Outcome = "replaced"
)

// NotSymlinkError reports a publish path occupied by something that is not a
// symlink. The publisher refuses to delete such paths unless explicitly told to.
type NotSymlinkError struct {
	Path string
}

func (e *NotSymlinkError) Error() string {
	return fmt.Sprintf("publish path %s exists and is not a symlink", e.Path)
}

// Result reports the outcome and the link target used.
type Result struct {
	Outcome Outcome
	Link    string // static/<key>
	Target  string // relative target the link points at
}

// Publisher manages course symlinks under the static root.
type Publisher struct {
	staticRoot          string
	exercisesRoot       string
	overwriteNonSymlink bool
}

// New creates a publisher for the given roots.
func New(staticRoot, exercisesRoot string, overwriteNonSymlink bool) *Publisher {
	return &Publisher{
		staticRoot:          staticRoot,
		exercisesRoot:       exercisesRoot,
		overwriteNonSymlink: overwriteNonSymlink,
	}
}

// Target computes the relative symlink target for a course's static subdir,
// e.g. ../exercises/intro-py/site for the default roots.
func (p *Publisher) Target(key, subdir string) (string, error) {
	target, err := filepath.Rel(p.staticRoot, filepath.Join(p.exercisesRoot, key, subdir))
	if err != nil {
		return "", fmt.Errorf("compute link target: %w", err)
	}
	return target, nil
}

// Publish ensures static/<key> is a symlink to the course's static subdir.
// An existing link with the right target is left untouched; a link with a
// different target is replaced. A non-symlink occupying the path is an error
// unless overwrite was configured.
func (p *Publisher) Publish(key, subdir string) (Result, error) {
	target, err := p.Target(key, subdir)
	if err != nil {
		return Result{}, err
	}
	link := filepath.Join(p.staticRoot, key)
	res := Result{Link: link, Target: target}

	info, lerr := os.Lstat(link)
	switch {
	case lerr == nil && info.Mode()&os.ModeSymlink == 0:
		if !p.overwriteNonSymlink {
			return Result{}, &NotSymlinkError{Path: link}
		}
		slog.Warn("Replacing non-symlink publish path", logfields.Course(key), logfields.Path(link))
		if err := os.RemoveAll(link); err != nil {
			return Result{}, fmt.Errorf("remove occupied publish path: %w", err)
		}
		res.Outcome = OutcomeReplaced

	case lerr == nil:
		current, rerr := os.Readlink(link)
		if rerr != nil {
			return Result{}, fmt.Errorf("readlink: %w", rerr)
		}
		if current == target {
			slog.Debug("Symlink already points at target", logfields.Course(key), logfields.Target(target))
			res.Outcome = OutcomeUnchanged
			return res, nil
		}
		if err := os.Remove(link); err != nil {
			return Result{}, fmt.Errorf("remove stale symlink: %w", err)
		}
		res.Outcome = OutcomeReplaced

	case os.IsNotExist(lerr):
		res.Outcome = OutcomeCreated

	default:
		return Result{}, fmt.Errorf("lstat publish path: %w", lerr)
	}

	if err := os.MkdirAll(p.staticRoot, 0o755); err != nil {
		return Result{}, fmt.Errorf("create static root: %w", err)
	}
	if err := os.Symlink(target, link); err != nil {
		return Result{}, fmt.Errorf("create symlink: %w", err)
	}
	slog.Info("Published course", logfields.Course(key), logfields.Target(target), logfields.Action(string(res.Outcome)))
	return res, nil
}

// Unpublish removes a course's symlink. A missing link is not an error; a
// non-symlink occupying the path follows the same overwrite policy as Publish.
func (p *Publisher) Unpublish(key string) error {
	link := filepath.Join(p.staticRoot, key)
	info, err := os.Lstat(link)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lstat publish path: %w", err)
	}
	if info.Mode()&os.ModeSymlink == 0 && !p.overwriteNonSymlink {
		return &NotSymlinkError{Path: link}
	}
	if err := os.RemoveAll(link); err != nil {
		return fmt.Errorf("remove publish path: %w", err)
	}
	slog.Info("Unpublished course", logfields.Course(key), logfields.Path(link))
	return nil
}
