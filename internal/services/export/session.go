// Package export drives an order export session: page-by-page traversal of the order list,
// per-order detail merging, and hand-off of the collected records to a table sink.
package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
	"github.com/ternarybob/orderflow/internal/services/merge"
	"github.com/ternarybob/orderflow/internal/services/tasks"
)

var (
	// ErrAlreadyRunning is returned by Start while a session is not idle
	ErrAlreadyRunning = errors.New("export session already running")
	// ErrNotRunning is returned by RequestStop when there is nothing to stop
	ErrNotRunning = errors.New("export session not running")
)

// State is the session's lifecycle state
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateFinished State = "finished"
)

// Dependencies are the collaborators a session drives
type Dependencies struct {
	Source    interfaces.PageSource
	Extractor interfaces.PageExtractor
	Fetcher   interfaces.DetailFetcher
	Paginator interfaces.Paginator
	Sink      interfaces.TableSink
	Observer  interfaces.ProgressObserver // Optional
	Runs      interfaces.RunStorage       // Optional
	Pacer     tasks.Pacer                 // Optional; built from the export config when nil
}

// Result is the outcome of one finished session
type Result struct {
	RunID      string               `json:"run_id"`
	Outcome    models.ExportOutcome `json:"outcome"`
	Pages      int                  `json:"pages"`
	Records    int                  `json:"records"`
	OutputPath string               `json:"output_path,omitempty"`
	Err        error                `json:"-"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// Status is a point-in-time snapshot of the session
type Status struct {
	State      State     `json:"state"`
	RunID      string    `json:"run_id,omitempty"`
	Page       int       `json:"page"`
	Records    int       `json:"records"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	LastResult *Result   `json:"last_result,omitempty"`
}

// Session is the export state machine: Idle -> Running -> (Stopping) -> Finished -> Idle.
// Only one run is active at a time; the aggregate of a run is owned by its loop goroutine.
type Session struct {
	deps   Dependencies
	config common.ExportConfig
	merge  *merge.Stage
	logger arbor.ILogger

	mu        sync.Mutex
	state     State
	runID     string
	page      int
	records   int
	startedAt time.Time
	stop      *tasks.StopToken
	done      chan struct{}
	last      *Result
}

// NewSession creates an idle session
func NewSession(deps Dependencies, config common.ExportConfig, logger arbor.ILogger) *Session {
	s := &Session{
		deps:   deps,
		config: config,
		logger: logger,
		state:  StateIdle,
	}

	pacer := deps.Pacer
	if pacer == nil {
		pacer = tasks.NewBatchPacer(tasks.PacerConfig{
			MinDelay:   config.DetailDelayMin.Std(),
			MaxDelay:   config.DetailDelayMax.Std(),
			BatchSize:  config.BatchSize,
			BatchPause: config.BatchPause.Std(),
			MaxRate:    config.MaxRate,
		}, s.onBatchPause)
	}

	s.merge = merge.NewStage(deps.Fetcher, tasks.NewRunner(config.Concurrency, pacer, logger), logger)
	return s
}

// Start begins a new run. ctx bounds the whole run, not just the call; cancelling it acts as a stop.
// Returns ErrAlreadyRunning, without side effects, unless the session is idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	s.state = StateRunning
	s.runID = common.NewRunID()
	s.page = 0
	s.records = 0
	s.startedAt = time.Now()
	s.stop = tasks.NewStopToken(ctx)
	s.done = make(chan struct{})

	runID, stop, done := s.runID, s.stop, s.done
	s.mu.Unlock()

	exportRunning.Set(1)
	s.logger.Info().
		Str("run_id", runID).
		Int("concurrency", s.config.Concurrency).
		Int("batch_size", s.config.BatchSize).
		Msg("Export session started")

	s.saveRun(ctx, &models.ExportRun{
		ID:        runID,
		StartedAt: s.startedAt,
		Outcome:   models.OutcomeRunning,
	})

	common.SafeGo(s.logger, "export-session", func() {
		s.run(ctx, runID, stop, done)
	})
	return nil
}

// RequestStop asks the running session to stop at its next suspension point.
// Work already in flight is allowed to finish and everything collected so far is exported.
func (s *Session) RequestStop() error {
	s.mu.Lock()
	switch s.state {
	case StateStopping:
		s.mu.Unlock()
		return nil
	case StateRunning:
	default:
		s.mu.Unlock()
		return ErrNotRunning
	}

	s.state = StateStopping
	s.stop.Stop()
	runID := s.runID
	s.mu.Unlock()

	s.logger.Info().Str("run_id", runID).Msg("Export stop requested")
	s.notify(models.PhaseStopping, "正在停止...", nil)
	return nil
}

// Wait blocks until the current run has finished and returns its result.
// When the session is idle it returns the last result (nil if there has been none).
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	done := s.done
	if s.state == StateIdle || done == nil {
		last := s.last
		s.mu.Unlock()
		return last, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		State:      s.state,
		LastResult: s.last,
	}
	if s.state != StateIdle {
		status.RunID = s.runID
		status.Page = s.page
		status.Records = s.records
		status.StartedAt = s.startedAt
	}
	return status
}

// IsRunning reports whether a run is in progress
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle
}

func (s *Session) run(ctx context.Context, runID string, stop *tasks.StopToken, done chan struct{}) {
	defer close(done)

	s.notify(models.PhaseStarting, "开始批量导出...", nil)

	var aggregate []models.Record
	outcome, pages, loopErr := s.loop(ctx, runID, stop, &aggregate)

	s.finish(ctx, runID, aggregate, outcome, pages, loopErr)
}

// loop processes pages until the paginator is exhausted, a stop is observed, or an error occurs.
// The aggregate survives every exit path, including a panic.
func (s *Session) loop(ctx context.Context, runID string, stop *tasks.StopToken, aggregate *[]models.Record) (outcome models.ExportOutcome, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("run_id", runID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", common.GetStackTrace()).
				Msg("Recovered from panic in export loop")
			outcome = models.OutcomeDegraded
			err = fmt.Errorf("export loop panic: %v", r)
		}
	}()

	// A collaborator error caused by the stop (a cancelled parent context) is a cancellation
	interrupted := func(err error) (models.ExportOutcome, int, error) {
		if stop.Stopped() {
			return models.OutcomeCancelled, pages, nil
		}
		return models.OutcomeDegraded, pages, err
	}

	for page := 1; ; page++ {
		if stop.Stopped() {
			return models.OutcomeCancelled, pages, nil
		}

		s.setPage(page)
		s.notify(models.PhaseSettling, fmt.Sprintf("正在解析第 %d 页...", page), nil)

		settle := s.config.PageSettleDelay.Std()
		if page == 1 {
			settle = s.config.FirstPageDelay.Std()
		}
		if !tasks.Sleep(stop, settle) {
			return models.OutcomeCancelled, pages, nil
		}

		if err := s.deps.Source.ScrollToBottom(ctx); err != nil {
			return interrupted(fmt.Errorf("scroll page %d: %w", page, err))
		}
		if !tasks.Sleep(stop, s.config.ScrollDelay.Std()) {
			return models.OutcomeCancelled, pages, nil
		}
		if err := s.deps.Source.ScrollToTop(ctx); err != nil {
			return interrupted(fmt.Errorf("scroll page %d: %w", page, err))
		}

		s.notify(models.PhaseParsing, fmt.Sprintf("正在解析第 %d 页...", page), nil)
		html, err := s.deps.Source.CurrentHTML(ctx)
		if err != nil {
			return interrupted(fmt.Errorf("read page %d: %w", page, err))
		}

		records := s.deps.Extractor.ExtractPage(ctx, html)
		pages = page
		exportPagesTotal.Inc()

		if len(records) > 0 {
			s.notify(models.PhaseDetails, fmt.Sprintf("第 %d 页：准备抓取订单详情 (%d 个)...", page, len(records)), nil)

			stats := s.merge.Merge(ctx, stop, records, func(index, total int, orderID string) {
				s.notify(models.PhaseDetails, fmt.Sprintf("第 %d 页：正在抓取订单 %s 详情 (%d/%d)...", page, orderID, index+1, total), nil)
			})

			// Merged records are kept even when the merge was cut short by a stop
			for _, record := range records {
				*aggregate = append(*aggregate, record.Exportable())
			}
			exportRecordsTotal.Add(float64(len(records)))
			s.setRecords(len(*aggregate))
			s.checkpoint(ctx, runID, page, *aggregate)

			s.logger.Info().
				Str("run_id", runID).
				Int("page", page).
				Int("page_records", len(records)).
				Int("unique_orders", stats.Unique).
				Int("details_fetched", stats.Fetched).
				Int("details_skipped", stats.Skipped).
				Int("total_records", len(*aggregate)).
				Msg("Page processed")

			percent := 50
			s.notify(models.PhaseDetails, fmt.Sprintf("已收集 %d 条订单记录", len(*aggregate)), &percent)
		} else {
			s.logger.Debug().Str("run_id", runID).Int("page", page).Msg("No orders found on page")
		}

		if stop.Stopped() {
			return models.OutcomeCancelled, pages, nil
		}

		if s.config.MaxPages > 0 && page >= s.config.MaxPages {
			s.notify(models.PhaseAdvancing, fmt.Sprintf("已达到页数上限 (%d)，准备生成文件...", s.config.MaxPages), nil)
			return models.OutcomeCompleted, pages, nil
		}

		s.notify(models.PhaseAdvancing, fmt.Sprintf("正在翻到第 %d 页...", page+1), nil)
		advanced, err := s.deps.Paginator.Advance(ctx, stop.Done())
		if err != nil {
			return interrupted(fmt.Errorf("advance from page %d: %w", page, err))
		}
		if stop.Stopped() {
			return models.OutcomeCancelled, pages, nil
		}
		if !advanced {
			s.notify(models.PhaseAdvancing, "已到达最后一页，准备生成文件...", nil)
			return models.OutcomeCompleted, pages, nil
		}
	}
}

// finish hands the aggregate to the sink, records the result and returns the session to idle
func (s *Session) finish(ctx context.Context, runID string, aggregate []models.Record, outcome models.ExportOutcome, pages int, loopErr error) {
	s.setState(StateFinished)

	// Partial results are written even when ctx was cancelled
	writeCtx := context.WithoutCancel(ctx)

	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	result := &Result{
		RunID:     runID,
		Outcome:   outcome,
		Pages:     pages,
		Records:   len(aggregate),
		Err:       loopErr,
		StartedAt: startedAt,
	}

	if loopErr != nil {
		s.logger.Error().
			Str("run_id", runID).
			Err(loopErr).
			Int("records", len(aggregate)).
			Msg("Export loop failed, saving collected records")
		s.notify(models.PhaseWriting, "导出出错，尝试保存已获取数据...", nil)
	}

	var message string
	if len(aggregate) > 0 {
		s.notify(models.PhaseWriting, "正在生成文件...", nil)
		path, err := s.deps.Sink.WriteTable(writeCtx, aggregate)
		if err != nil {
			s.logger.Error().Str("run_id", runID).Err(err).Msg("Failed to write export table")
			result.Outcome = models.OutcomeDegraded
			result.Err = errors.Join(loopErr, fmt.Errorf("write table: %w", err))
			message = fmt.Sprintf("导出文件失败：%v（已收集 %d 条订单记录）", err, len(aggregate))
		} else {
			result.OutputPath = path
			s.deleteCheckpoint(writeCtx, runID)
			switch result.Outcome {
			case models.OutcomeCancelled:
				message = fmt.Sprintf("已取消导出。共导出 %d 个订单", len(aggregate))
			case models.OutcomeDegraded:
				message = fmt.Sprintf("导出中断。已保存 %d 个订单", len(aggregate))
			default:
				message = fmt.Sprintf("导出完成！共导出 %d 个订单", len(aggregate))
			}
		}
	} else {
		if result.Outcome != models.OutcomeDegraded {
			result.Outcome = models.OutcomeEmpty
		}
		message = "未获取到任何订单数据"
	}

	result.FinishedAt = time.Now()

	percent := 100
	if len(aggregate) == 0 {
		s.notify(models.PhaseFinished, message, nil)
	} else {
		s.notify(models.PhaseFinished, message, &percent)
	}

	finishedAt := result.FinishedAt
	run := &models.ExportRun{
		ID:         runID,
		StartedAt:  startedAt,
		FinishedAt: &finishedAt,
		Outcome:    result.Outcome,
		Pages:      result.Pages,
		Records:    result.Records,
		OutputPath: result.OutputPath,
	}
	if result.Err != nil {
		run.Error = result.Err.Error()
	}
	s.saveRun(writeCtx, run)

	exportRunsTotal.WithLabelValues(string(result.Outcome)).Inc()
	exportRunDuration.Observe(result.FinishedAt.Sub(startedAt).Seconds())
	exportRunning.Set(0)

	s.logger.Info().
		Str("run_id", runID).
		Str("outcome", string(result.Outcome)).
		Int("pages", result.Pages).
		Int("records", result.Records).
		Str("output", result.OutputPath).
		Msg("Export session finished")

	s.mu.Lock()
	s.last = result
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *Session) onBatchPause(ordinal int, pause time.Duration) {
	s.notify(models.PhasePaused, fmt.Sprintf("已抓取 %d 个，暂停 %d 秒防拦截...", ordinal, int(pause.Seconds())), nil)
}

// notify publishes progress to the observer, if any
func (s *Session) notify(phase models.ExportPhase, message string, percent *int) {
	if s.deps.Observer == nil {
		return
	}

	s.mu.Lock()
	progress := models.Progress{
		RunID:     s.runID,
		Phase:     phase,
		Page:      s.page,
		Records:   s.records,
		Message:   message,
		Timestamp: time.Now(),
	}
	s.mu.Unlock()

	if percent != nil {
		progress = progress.WithPercent(*percent)
	}
	s.deps.Observer.OnProgress(progress)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setPage(page int) {
	s.mu.Lock()
	s.page = page
	s.mu.Unlock()
}

func (s *Session) setRecords(records int) {
	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
}

func (s *Session) saveRun(ctx context.Context, run *models.ExportRun) {
	if s.deps.Runs == nil {
		return
	}
	if err := s.deps.Runs.SaveRun(ctx, run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to save export run")
	}
}

func (s *Session) checkpoint(ctx context.Context, runID string, page int, aggregate []models.Record) {
	if s.deps.Runs == nil {
		return
	}
	snapshot := make([]models.Record, len(aggregate))
	copy(snapshot, aggregate)
	if err := s.deps.Runs.SaveCheckpoint(context.WithoutCancel(ctx), &models.Checkpoint{
		RunID:     runID,
		Page:      page,
		Records:   snapshot,
		UpdatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("run_id", runID).Int("page", page).Msg("Failed to save checkpoint")
	}
}

func (s *Session) deleteCheckpoint(ctx context.Context, runID string) {
	if s.deps.Runs == nil {
		return
	}
	if err := s.deps.Runs.DeleteCheckpoint(ctx, runID); err != nil && !errors.Is(err, interfaces.ErrRunNotFound) {
		s.logger.Debug().Err(err).Str("run_id", runID).Msg("Failed to delete checkpoint")
	}
}
