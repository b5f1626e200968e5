package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/coursesync/internal/config"
	"git.home.luguber.info/inful/coursesync/internal/course"
	"git.home.luguber.info/inful/coursesync/internal/daemon"
	"git.home.luguber.info/inful/coursesync/internal/gitsync"
	"git.home.luguber.info/inful/coursesync/internal/logfields"
	"git.home.luguber.info/inful/coursesync/internal/metrics"
	"git.home.luguber.info/inful/coursesync/internal/notify"
	"git.home.luguber.info/inful/coursesync/internal/publisher"
	"git.home.luguber.info/inful/coursesync/internal/resolver"
	"git.home.luguber.info/inful/coursesync/internal/state"
	"git.home.luguber.info/inful/coursesync/internal/workspace"

	buildpkg "git.home.luguber.info/inful/coursesync/internal/builder"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"coursesync.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Sync struct {
		Key          string `arg:"" help:"Course key (becomes the directory and symlink name)"`
		URL          string `arg:"" optional:"" help:"Git repository URL (defaults to the configured course URL)"`
		Branch       string `arg:"" optional:"" help:"Branch to sync (defaults to the configured branch)"`
		CourseID     string `help:"Upstream course identifier, logged for correlation"`
		Interpreter  string `help:"Interpreter for the static resolver (overrides config)"`
		NoBuild      bool   `help:"Skip the build script even if present"`
		ForcePublish bool   `help:"Replace a non-symlink entry at the publish path"`
	} `cmd:"" help:"Sync one course: clone or update, build, resolve and publish"`

	SyncAll struct{} `cmd:"" name:"sync-all" help:"Sync every configured course"`

	Status struct {
		Key string `arg:"" optional:"" help:"Show only this course"`
	} `cmd:"" help:"Show recorded run history"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Daemon struct{} `cmd:"" help:"Run continuously: periodic sync, webhooks and status HTTP"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	switch ctx.Command() {
	case "sync <key>", "sync <key> <url>", "sync <key> <url> <branch>":
		if err := runSync(); err != nil {
			slog.Error("Sync failed", logfields.Error(err))
			os.Exit(1)
		}
	case "sync-all":
		if err := runSyncAll(); err != nil {
			slog.Error("Sync failed", logfields.Error(err))
			os.Exit(1)
		}
	case "status", "status <key>":
		if err := runStatus(); err != nil {
			slog.Error("Status failed", logfields.Error(err))
			os.Exit(1)
		}
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", logfields.Error(err))
			os.Exit(1)
		}
	case "daemon":
		if err := runDaemon(); err != nil {
			slog.Error("Daemon failed", logfields.Error(err))
			os.Exit(1)
		}
	}
}

// components bundles the pipeline pieces built from one configuration.
type components struct {
	runner    *course.Runner
	workspace *workspace.Manager
	store     *state.Store
	notifier  *notify.Publisher
}

func (c *components) close() {
	c.notifier.Close()
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			slog.Warn("Failed to close run store", logfields.Error(err))
		}
	}
}

func buildComponents(cfg *config.Config, interpreter string, noBuild, forcePublish bool, rec metrics.Recorder) (*components, error) {
	ws := workspace.NewManager(cfg.Paths.ExercisesRoot)
	if err := ws.Ensure(); err != nil {
		return nil, fmt.Errorf("failed to prepare exercises root: %w", err)
	}

	gitClient := gitsync.NewClient(ws.Root(), cfg.Git)
	if rec != nil {
		gitClient.OnRetry = rec.GitRetry
	}

	buildCfg := cfg.Build
	if noBuild {
		buildCfg.Disabled = true
	}
	b := buildpkg.New(buildCfg, cfg.BuildTimeout())

	res := resolver.New(cfg.Resolver, interpreter)
	pub := publisher.New(cfg.Paths.StaticRoot, cfg.Paths.ExercisesRoot, cfg.Publish.OverwriteNonSymlink || forcePublish)

	var store *state.Store
	if cfg.State.DBPath != "" {
		var err error
		store, err = state.Open(cfg.State.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open run store: %w", err)
		}
	}

	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		// Runs proceed without notifications rather than failing outright.
		slog.Warn("Notifications disabled, NATS connection failed", logfields.Error(err))
		notifier = nil
	}

	return &components{
		runner:    course.NewRunner(gitClient, b, res, pub, store, notifier, rec),
		workspace: ws,
		store:     store,
		notifier:  notifier,
	}, nil
}

func runSync() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	key := config.NormalizeKey(CLI.Sync.Key)
	if err := config.ValidateKey(key); err != nil {
		return err
	}

	crs, found := cfg.CourseByKey(key)
	if !found {
		if CLI.Sync.URL == "" {
			return fmt.Errorf("course %q is not configured; pass a repository URL", key)
		}
		crs = config.Course{Key: key, Branch: config.DefaultBranch}
	}
	if CLI.Sync.URL != "" {
		crs.URL = CLI.Sync.URL
	}
	if CLI.Sync.Branch != "" {
		crs.Branch = CLI.Sync.Branch
	}
	if CLI.Sync.CourseID != "" {
		crs.ID = CLI.Sync.CourseID
	}

	comp, err := buildComponents(cfg, CLI.Sync.Interpreter, CLI.Sync.NoBuild, CLI.Sync.ForcePublish, nil)
	if err != nil {
		return err
	}
	defer comp.close()

	report, err := comp.runner.Run(context.Background(), crs)
	if err != nil {
		return err
	}
	slog.Info("Course synced",
		logfields.Course(crs.Key),
		logfields.Action(string(report.Sync.Action)),
		logfields.Commit(report.Sync.Commit),
		logfields.Target(report.Publish.Target))
	return nil
}

func runSyncAll() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if len(cfg.Courses) == 0 {
		slog.Warn("No courses configured")
		return nil
	}

	comp, err := buildComponents(cfg, "", false, false, nil)
	if err != nil {
		return err
	}
	defer comp.close()

	return comp.runner.RunAll(context.Background(), cfg.Courses, cfg.Daemon.SyncConcurrency)
}

func runStatus() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.State.DBPath == "" {
		return fmt.Errorf("run history is disabled (state.db_path is empty)")
	}

	store, err := state.Open(cfg.State.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	var runs []state.Run
	if CLI.Status.Key != "" {
		run, found, err := store.LastRun(ctx, config.NormalizeKey(CLI.Status.Key))
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("no recorded runs for %s\n", CLI.Status.Key)
			return nil
		}
		runs = []state.Run{run}
	} else {
		runs, err = store.Recent(ctx, 20)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("no recorded runs")
			return nil
		}
	}

	for _, run := range runs {
		status := "ok"
		if run.Error != "" {
			status = "error: " + run.Error
		}
		fmt.Printf("%s  %-20s %-14s commit=%-12s published=%-5t %s\n",
			run.FinishedAt.Format(time.RFC3339), run.Key, run.SyncAction,
			shortCommit(run.Commit), run.Published, status)
	}
	return nil
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func runDaemon() error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	comp, err := buildComponents(cfg, "", false, false, recorder)
	if err != nil {
		return err
	}
	defer comp.close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, CLI.Config, comp.runner, comp.workspace, comp.store, recorder, metrics.HTTPHandler(registry))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	errChan, err := d.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	slog.Info("Daemon started, waiting for shutdown signal...")

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping daemon...")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	slog.Info("Daemon stopped successfully")
	return nil
}
