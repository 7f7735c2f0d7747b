package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/handlers"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
	"github.com/ternarybob/orderflow/internal/services/browser"
	"github.com/ternarybob/orderflow/internal/services/detail"
	"github.com/ternarybob/orderflow/internal/services/events"
	"github.com/ternarybob/orderflow/internal/services/export"
	"github.com/ternarybob/orderflow/internal/services/extractor"
	"github.com/ternarybob/orderflow/internal/services/scheduler"
	"github.com/ternarybob/orderflow/internal/services/sink"
	"github.com/ternarybob/orderflow/internal/storage"
)

// salvageScanLimit bounds how many recent runs are checked for interrupted ones at startup
const salvageScanLimit = 50

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager // nil when run history is disabled
	EventService   interfaces.EventService

	Browser          *browser.Session
	Sink             interfaces.TableSink
	ExportSession    *export.Session
	SchedulerService interfaces.SchedulerService // nil unless serving with a schedule

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	ExportHandler *handlers.ExportHandler
	WSHandler     *handlers.WebSocketHandler
}

// New wires the application. The browser is not launched until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initDatabase(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Bool("run_history", app.StorageManager != nil).
		Bool("details", cfg.Detail.Enabled).
		Str("format", cfg.Output.Format).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the run history store (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager
	return nil
}

func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return err
	}

	a.Browser = browser.NewSession(a.Config.Browser, a.Logger)

	var fetcher interfaces.DetailFetcher = detail.NoopFetcher{}
	if a.Config.Detail.Enabled {
		fetcher = detail.NewBrowserFetcher(a.Browser, a.Config.Detail, a.Config.Selectors, a.Logger).
			WithReferer(a.Config.Browser.StartURL)
	}

	tableSink, err := sink.New(a.Config.Output, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create table sink: %w", err)
	}
	a.Sink = tableSink

	deps := export.Dependencies{
		Source:    a.Browser,
		Extractor: extractor.NewOrderListExtractor(a.Config.Selectors, a.Config.Browser.StartURL, a.Logger),
		Fetcher:   fetcher,
		Paginator: browser.NewPaginator(a.Browser, a.Config.Selectors.NextPage, a.Config.Export.PreClickDelay.Std(), a.Logger),
		Sink:      tableSink,
		Observer:  events.NewProgressPublisher(a.EventService, a.Logger),
	}
	if a.StorageManager != nil {
		deps.Runs = a.StorageManager.RunStorage()
	}

	a.ExportSession = export.NewSession(deps, a.Config.Export, a.Logger)
	return nil
}

func (a *App) initHandlers() {
	var runs interfaces.RunStorage
	if a.StorageManager != nil {
		runs = a.StorageManager.RunStorage()
	}
	if a.Config.Schedule.Cron != "" {
		a.SchedulerService = scheduler.NewService(a.ctx, a.ExportSession, a.Logger)
	}

	a.APIHandler = handlers.NewAPIHandler(a.ExportSession, a.Logger)
	a.ExportHandler = handlers.NewExportHandler(a.ctx, a.ExportSession, runs, a.SchedulerService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.ExportSession, time.Second, a.Logger)
}

// Start launches the browser, recovers interrupted runs and, when configured, starts the schedule
func (a *App) Start(ctx context.Context) error {
	if err := a.Browser.Start(ctx); err != nil {
		return err
	}

	a.SalvageInterruptedRuns(ctx)

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Start(a.Config.Schedule.Cron); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}
	return nil
}

// Context is the application lifetime context; exports started under it end at Close
func (a *App) Context() context.Context {
	return a.ctx
}

// SalvageInterruptedRuns finds runs still marked running from a previous process, writes any
// checkpointed records to a table and marks the run degraded
func (a *App) SalvageInterruptedRuns(ctx context.Context) {
	if a.StorageManager == nil {
		return
	}
	runs := a.StorageManager.RunStorage()

	recent, err := runs.ListRuns(ctx, salvageScanLimit)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to scan run history for interrupted runs")
		return
	}

	for _, run := range recent {
		if run.Outcome != models.OutcomeRunning || run.ID == a.ExportSession.Status().RunID {
			continue
		}
		a.salvageRun(ctx, runs, run)
	}
}

func (a *App) salvageRun(ctx context.Context, runs interfaces.RunStorage, run *models.ExportRun) {
	now := time.Now()
	run.Outcome = models.OutcomeDegraded
	run.FinishedAt = &now
	run.Error = "interrupted: process exited before the run finished"

	checkpoint, err := runs.LoadCheckpoint(ctx, run.ID)
	switch {
	case errors.Is(err, interfaces.ErrRunNotFound):
	case err != nil:
		a.Logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to load checkpoint")
	case len(checkpoint.Records) > 0:
		path, err := a.Sink.WriteTable(ctx, checkpoint.Records)
		if err != nil {
			a.Logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to write salvaged records")
			break
		}
		run.OutputPath = path
		run.Pages = checkpoint.Page
		run.Records = len(checkpoint.Records)
		if err := runs.DeleteCheckpoint(ctx, run.ID); err != nil {
			a.Logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to delete checkpoint")
		}
	}

	if err := runs.SaveRun(ctx, run); err != nil {
		a.Logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to mark interrupted run")
		return
	}

	a.Logger.Info().
		Str("run_id", run.ID).
		Int("records", run.Records).
		Str("output", run.OutputPath).
		Msg("Interrupted export run salvaged")
}

// Close stops the schedule, lets a running export write its partial table, then releases resources
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.ExportSession != nil && a.ExportSession.IsRunning() {
		if err := a.ExportSession.RequestStop(); err != nil && !errors.Is(err, export.ErrNotRunning) {
			a.Logger.Warn().Err(err).Msg("Failed to stop export session")
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := a.ExportSession.Wait(waitCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("Export session did not finish before shutdown")
		}
		cancel()
	}

	a.cancelCtx()

	if a.Browser != nil {
		a.Browser.Shutdown()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
