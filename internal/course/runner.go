// Package course orchestrates the sync -> build -> resolve -> publish
// pipeline for course working copies.
package course

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/coursesync/internal/builder"
	"git.home.luguber.info/inful/coursesync/internal/config"
	"git.home.luguber.info/inful/coursesync/internal/gitsync"
	"git.home.luguber.info/inful/coursesync/internal/logfields"
	"git.home.luguber.info/inful/coursesync/internal/metrics"
	"git.home.luguber.info/inful/coursesync/internal/notify"
	"git.home.luguber.info/inful/coursesync/internal/publisher"
	"git.home.luguber.info/inful/coursesync/internal/resolver"
	"git.home.luguber.info/inful/coursesync/internal/state"
	"github.com/google/uuid"
)

// Pipeline stage names used for logging and metrics.
const (
	StageSync    = "sync"
	StageBuild   = "build"
	StageResolve = "resolve"
	StagePublish = "publish"
)

// Run outcome labels.
const (
	OutcomeSuccess       = "success"
	OutcomeSyncFailed    = "sync_failed"
	OutcomeResolveFailed = "resolve_failed"
	OutcomePublishFailed = "publish_failed"
)

// Syncer updates or creates a course working copy.
type Syncer interface {
	Sync(course config.Course) (gitsync.Result, error)
}

// BuildRunner executes the optional per-course build script.
type BuildRunner interface {
	Run(ctx context.Context, key, workdir string) (builder.Result, error)
}

// StaticResolver reports a course's servable static subdirectory.
type StaticResolver interface {
	Resolve(ctx context.Context, key, workdir string) (resolver.StaticDir, error)
}

// LinkPublisher maintains the static-root symlinks.
type LinkPublisher interface {
	Publish(key, subdir string) (publisher.Result, error)
	Unpublish(key string) error
}

// Report collects what one run did. BuildErr is non-fatal: a failing build
// is logged and recorded but does not stop publication, matching how course
// builds have always behaved.
type Report struct {
	RunID    string
	Course   config.Course
	Sync     gitsync.Result
	BuildRan bool
	BuildErr error
	Static   resolver.StaticDir
	Publish  publisher.Result
	Err      error
}

// Runner wires the pipeline stages together.
type Runner struct {
	syncer    Syncer
	builder   BuildRunner
	resolver  StaticResolver
	publisher LinkPublisher
	store     *state.Store     // optional
	notifier  *notify.Publisher // optional, nil-safe
	recorder  metrics.Recorder
	locks     *keyedLocks
}

// NewRunner constructs a pipeline runner. store and notifier may be nil.
func NewRunner(syncer Syncer, b BuildRunner, r StaticResolver, p LinkPublisher, store *state.Store, notifier *notify.Publisher, rec metrics.Recorder) *Runner {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &Runner{
		syncer:    syncer,
		builder:   b,
		resolver:  r,
		publisher: p,
		store:     store,
		notifier:  notifier,
		recorder:  rec,
		locks:     newKeyedLocks(),
	}
}

// Run executes the full pipeline for one course. The returned error is the
// fatal one (sync, resolve or publish); build failures are reported in the
// Report only.
func (r *Runner) Run(ctx context.Context, course config.Course) (Report, error) {
	unlock := r.locks.Lock(course.Key)
	defer unlock()

	report := Report{RunID: uuid.NewString(), Course: course}
	started := time.Now()

	slog.Info("Starting course run",
		logfields.RunID(report.RunID), logfields.Course(course.Key),
		logfields.CourseID(course.ID), logfields.URL(course.URL),
		logfields.Branch(course.Branch))

	outcome := r.runStages(ctx, course, &report)

	r.recorder.RunOutcome(outcome)
	r.record(ctx, started, &report)
	r.notify(&report)

	if report.Err != nil {
		slog.Error("Course run failed",
			logfields.RunID(report.RunID), logfields.Course(course.Key),
			slog.String("outcome", outcome), logfields.Error(report.Err))
		return report, report.Err
	}
	slog.Info("Course run finished",
		logfields.RunID(report.RunID), logfields.Course(course.Key),
		logfields.Action(string(report.Sync.Action)),
		logfields.DurationMS(float64(time.Since(started).Milliseconds())))
	return report, nil
}

func (r *Runner) runStages(ctx context.Context, course config.Course, report *Report) string {
	// 1. Sync working copy
	syncStart := time.Now()
	syncResult, err := r.syncer.Sync(course)
	r.recorder.ObserveStage(StageSync, time.Since(syncStart), err == nil)
	if err != nil {
		report.Err = fmt.Errorf("sync: %w", err)
		return OutcomeSyncFailed
	}
	report.Sync = syncResult

	// 2. Build (failure is recorded, not fatal)
	buildStart := time.Now()
	buildResult, buildErr := r.builder.Run(ctx, course.Key, syncResult.Path)
	report.BuildRan = buildResult.Ran
	report.BuildErr = buildErr
	if buildResult.Ran {
		r.recorder.ObserveStage(StageBuild, time.Since(buildStart), buildErr == nil)
	}
	if buildErr != nil {
		slog.Warn("Build failed, continuing to publication",
			logfields.RunID(report.RunID), logfields.Course(course.Key), logfields.Error(buildErr))
	}

	// 3. Resolve static output
	resolveStart := time.Now()
	static, err := r.resolver.Resolve(ctx, course.Key, syncResult.Path)
	r.recorder.ObserveStage(StageResolve, time.Since(resolveStart), err == nil)
	if err != nil {
		report.Err = fmt.Errorf("resolve static dir: %w", err)
		return OutcomeResolveFailed
	}
	report.Static = static

	// 4. Publish symlink (skipped when the course has no static output)
	if !static.Present {
		return OutcomeSuccess
	}
	publishStart := time.Now()
	pubResult, err := r.publisher.Publish(course.Key, static.Subdir)
	r.recorder.ObserveStage(StagePublish, time.Since(publishStart), err == nil)
	if err != nil {
		var notSymlink *publisher.NotSymlinkError
		if errors.As(err, &notSymlink) {
			r.recorder.PublishResult("refused")
		} else {
			r.recorder.PublishResult("error")
		}
		report.Err = fmt.Errorf("publish: %w", err)
		return OutcomePublishFailed
	}
	report.Publish = pubResult
	r.recorder.PublishResult(string(pubResult.Outcome))
	return OutcomeSuccess
}

func (r *Runner) record(ctx context.Context, started time.Time, report *Report) {
	if r.store == nil {
		return
	}
	run := state.Run{
		ID:         report.RunID,
		Key:        report.Course.Key,
		Branch:     report.Course.Branch,
		Commit:     report.Sync.Commit,
		SyncAction: string(report.Sync.Action),
		BuildRan:   report.BuildRan,
		BuildOK:    report.BuildRan && report.BuildErr == nil,
		Published:  report.Publish.Outcome != "",
		Target:     report.Publish.Target,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	switch {
	case report.Err != nil:
		run.Error = report.Err.Error()
	case report.BuildErr != nil:
		run.Error = report.BuildErr.Error()
	}
	if err := r.store.Record(ctx, run); err != nil {
		slog.Warn("failed to record run", logfields.RunID(report.RunID), logfields.Error(err))
	}
}

func (r *Runner) notify(report *Report) {
	event := notify.Event{
		RunID:      report.RunID,
		Key:        report.Course.Key,
		Action:     string(report.Sync.Action),
		Commit:     report.Sync.Commit,
		BuildOK:    report.BuildRan && report.BuildErr == nil,
		Published:  report.Publish.Outcome != "",
		FinishedAt: time.Now().UTC(),
	}
	if report.Err != nil {
		event.Error = report.Err.Error()
	}
	r.notifier.Publish(event)
}

// RunAll runs the pipeline for every course with bounded concurrency.
// It continues past per-course failures and reports how many failed.
func (r *Runner) RunAll(ctx context.Context, courses []config.Course, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	for _, course := range courses {
		wg.Add(1)
		sem <- struct{}{}
		go func(course config.Course) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := r.Run(ctx, course); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(course)
	}
	wg.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d course runs failed", failed, len(courses))
	}
	return nil
}

// Unpublish removes a course's symlink, serialized with any concurrent run
// for the same key.
func (r *Runner) Unpublish(key string) error {
	unlock := r.locks.Lock(key)
	defer unlock()
	return r.publisher.Unpublish(key)
}
