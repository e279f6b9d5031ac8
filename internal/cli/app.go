package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roach88/growline/internal/analytics"
	"github.com/roach88/growline/internal/blob"
	"github.com/roach88/growline/internal/bus"
	"github.com/roach88/growline/internal/chunk"
	"github.com/roach88/growline/internal/clock"
	"github.com/roach88/growline/internal/config"
	"github.com/roach88/growline/internal/dispatch"
	"github.com/roach88/growline/internal/notify"
	"github.com/roach88/growline/internal/queue"
	"github.com/roach88/growline/internal/store"
)

// App holds the collaborators built from one configuration.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Blobs      *blob.Dir
	Sink       analytics.Sink
	Queue      *queue.Store
	Notify     *notify.Service
	Uploader   *dispatch.Uploader
	Dispatcher *dispatch.Dispatcher
}

// loadConfig reads the config named by opts, mapping failures to
// ExitCommandError.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openApp loads the config and opens every collaborator. pub, when set,
// receives notifications as they are created. Close the App when done.
func openApp(opts *RootOptions, pub bus.Publisher) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, clock.Real(), pub)
}

func newApp(cfg *config.Config, clk clock.Clock, pub bus.Publisher) (*App, error) {
	slog.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database, store.WithClock(clk))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	blobs, err := blob.NewDir(cfg.Buckets.Root, cfg.Buckets.PublicURL, clk)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open buckets", err)
	}

	app := &App{Config: cfg, Store: st, Blobs: blobs}
	if cfg.Analytics.Dir != "" {
		sink, err := analytics.NewFileSink(filepath.Clean(cfg.Analytics.Dir))
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open analytics sink", err)
		}
		app.Sink = sink
	}

	app.Queue = queue.New(st,
		queue.WithMaxLen(cfg.Queue.MaxLen),
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
	)

	var noteOpts []notify.NotificationsOption
	if pub != nil {
		noteOpts = append(noteOpts, notify.WithPublisher(pub))
	}
	notes := notify.NewNotifications(app.Queue, clk, noteOpts...)
	sched := notify.NewScheduler(app.Queue, notes, clk)
	if err := sched.SetCommands(cfg.Scheduler.Commands); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "invalid command set", err)
	}
	sched.SetTestingHours(cfg.Scheduler.TestingHours)
	app.Notify = notify.NewService(sched, notify.NewRuns(app.Queue, clk), notes, pub)

	app.Uploader = dispatch.NewUploader(blobs, app.Queue, app.Sink, clk, dispatch.UploadConfig{
		UploadsBucket: cfg.Buckets.Uploads,
		ImagesBucket:  cfg.Buckets.Images,
		Interval:      cfg.Upload.PollInterval.Std(),
		Budget:        cfg.Upload.Budget.Std(),
		SweepAge:      cfg.Upload.SweepAge.Std(),
	})
	chunks := chunk.New(st, app.Queue, blobs, app.Sink,
		chunk.WithClock(clk),
		chunk.WithImagesBucket(cfg.Buckets.Images),
		chunk.WithAbandonAfter(cfg.Chunks.AbandonAfter.Std()),
	)
	app.Dispatcher = dispatch.New(dispatch.Collaborators{
		Queue:     app.Queue,
		Chunks:    chunks,
		Uploads:   app.Uploader,
		Notify:    app.Notify,
		Analytics: app.Sink,
	}, dispatch.WithClock(clk))

	return app, nil
}

// Close releases the database.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// closeApp closes a and logs the failure; for defers.
func closeApp(a *App) {
	if err := a.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
