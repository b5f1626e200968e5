// Package daemon runs coursesync continuously: periodic sync of all
// configured courses, config reload on file change, and an HTTP surface for
// health, status, webhooks and metrics.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"git.home.luguber.info/inful/coursesync/internal/course"
	"git.home.luguber.info/inful/coursesync/internal/logfields"
	"git.home.luguber.info/inful/coursesync/internal/metrics"
	"git.home.luguber.info/inful/coursesync/internal/state"
	"git.home.luguber.info/inful/coursesync/internal/workspace"
)

// Daemon owns the long-running pieces. The pipeline components (git client,
// builder, resolver, publisher) are constructed once at startup; config
// reloads only update the course list. Changing roots or resolver settings
// requires a restart.
type Daemon struct {
	configPath string
	runner     *course.Runner
	workspace  *workspace.Manager
	store      *state.Store // optional
	recorder   metrics.Recorder

	mu  sync.RWMutex
	cfg *config.Config

	scheduler  gocron.Scheduler
	syncJobID  uuid.UUID
	watcher    *ConfigWatcher
	httpServer *http.Server
	startTime  time.Time
}

// New constructs a daemon from the loaded configuration.
func New(cfg *config.Config, configPath string, runner *course.Runner, ws *workspace.Manager, store *state.Store, recorder metrics.Recorder, metricsHandler http.Handler) (*Daemon, error) {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	d := &Daemon{
		configPath: configPath,
		runner:     runner,
		workspace:  ws,
		store:      store,
		recorder:   recorder,
		cfg:        cfg,
		scheduler:  scheduler,
	}
	d.httpServer = &http.Server{
		Addr:              cfg.Daemon.HTTP.Addr,
		Handler:           d.routes(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

// Start launches the scheduler, config watcher and HTTP server. It returns
// once everything is running; errors from the HTTP listener surface on the
// returned channel.
func (d *Daemon) Start(ctx context.Context) (<-chan error, error) {
	d.startTime = time.Now()
	cfg := d.config()
	d.recorder.SetCoursesConfigured(len(cfg.Courses))

	// Periodic sync-all, starting immediately.
	job, err := d.scheduler.NewJob(
		gocron.DurationJob(cfg.SyncInterval()),
		gocron.NewTask(d.syncAll, ctx),
		gocron.WithName("sync-all"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync job: %w", err)
	}
	d.syncJobID = job.ID()
	d.scheduler.Start()
	slog.Info("Scheduler started", slog.String("interval", cfg.SyncInterval().String()))

	if cfg.Daemon.WatchConfig {
		watcher, err := NewConfigWatcher(d.configPath, d)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
		if err := d.watcher.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start config watcher: %w", err)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", d.httpServer.Addr))
		if err := d.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server: %w", err)
		}
		close(errChan)
	}()
	return errChan, nil
}

// Stop shuts everything down gracefully.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("Stopping daemon")
	if d.watcher != nil {
		d.watcher.Stop()
	}
	var firstErr error
	if err := d.scheduler.Shutdown(); err != nil {
		firstErr = fmt.Errorf("scheduler shutdown: %w", err)
	}
	if err := d.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}
	return firstErr
}

func (d *Daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// syncAll is the scheduled task body.
func (d *Daemon) syncAll(ctx context.Context) {
	cfg := d.config()
	slog.Info("Starting scheduled sync", slog.Int("courses", len(cfg.Courses)))
	if err := d.runner.RunAll(ctx, cfg.Courses, cfg.Daemon.SyncConcurrency); err != nil {
		slog.Warn("Scheduled sync finished with failures", logfields.Error(err))
	}
}

// TriggerCourse starts an asynchronous run for one course key. Used by the
// webhook handler; the runner's per-key lock serializes it against scheduled
// runs.
func (d *Daemon) TriggerCourse(ctx context.Context, key string) error {
	crs, ok := d.config().CourseByKey(key)
	if !ok {
		return fmt.Errorf("unknown course %q", key)
	}
	go func() {
		if _, err := d.runner.Run(ctx, crs); err != nil {
			slog.Warn("Triggered run failed", logfields.Course(key), logfields.Error(err))
		}
	}()
	return nil
}

// Reload re-reads the configuration file and applies the new course list.
// Courses that disappeared are unpublished. Interval changes are applied to
// the scheduled job.
func (d *Daemon) Reload(ctx context.Context) error {
	newCfg, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	old := d.config()
	for _, prev := range old.Courses {
		if _, still := newCfg.CourseByKey(prev.Key); !still {
			slog.Info("Course removed from config, unpublishing", logfields.Course(prev.Key))
			if err := d.runner.Unpublish(prev.Key); err != nil {
				slog.Warn("failed to unpublish removed course", logfields.Course(prev.Key), logfields.Error(err))
			}
		}
	}

	d.mu.Lock()
	d.cfg = newCfg
	d.mu.Unlock()
	d.recorder.SetCoursesConfigured(len(newCfg.Courses))

	if newCfg.SyncInterval() != old.SyncInterval() && d.syncJobID != uuid.Nil {
		job, err := d.scheduler.Update(
			d.syncJobID,
			gocron.DurationJob(newCfg.SyncInterval()),
			gocron.NewTask(d.syncAll, ctx),
			gocron.WithName("sync-all"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("reschedule sync job: %w", err)
		}
		d.syncJobID = job.ID()
		slog.Info("Sync interval updated", slog.String("interval", newCfg.SyncInterval().String()))
	}

	slog.Info("Configuration reloaded", slog.Int("courses", len(newCfg.Courses)))
	return nil
}
