// Package browser owns the chromedp connection to the logged-in browser that exports run against.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
)

// ErrNotStarted is returned by page operations before Start or after Shutdown
var ErrNotStarted = errors.New("browser session not started")

// Session holds one browser and the tab showing the order list. Detail pages open in extra tabs
// of the same browser so they share its cookies.
type Session struct {
	config common.BrowserConfig
	logger arbor.ILogger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
}

// NewSession creates an unstarted session
func NewSession(config common.BrowserConfig, logger arbor.ILogger) *Session {
	return &Session{config: config, logger: logger}
}

// Start launches (or attaches to) the browser and opens the start URL
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("browser session already started")
	}

	startTime := time.Now()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if s.config.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), s.config.RemoteURL)
	} else {
		opts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", s.config.Headless),
			chromedp.Flag("no-sandbox", s.config.NoSandbox),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-background-timer-throttling", false),
			chromedp.Flag("disable-backgrounding-occluded-windows", false),
			chromedp.Flag("disable-renderer-backgrounding", false),
		)
		if s.config.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(s.config.UserDataDir))
		}
		if s.config.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(s.config.UserAgent))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx, cancel := s.withTimeout(ctx, browserCtx)
	defer cancel()

	target := s.config.StartURL
	if target == "" {
		target = "about:blank"
	}
	if err := chromedp.Run(startCtx, chromedp.Navigate(target)); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser failed to open %s: %w", target, err)
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.started = true

	s.logger.Info().
		Str("start_url", target).
		Bool("remote", s.config.RemoteURL != "").
		Bool("headless", s.config.Headless).
		Dur("startup_time", time.Since(startTime)).
		Msg("Browser session started")

	return nil
}

// NewTab opens another tab in the same browser. The caller must call cancel to close it.
func (s *Session) NewTab() (context.Context, context.CancelFunc) {
	s.mu.Lock()
	browserCtx := s.browserCtx
	s.mu.Unlock()

	if browserCtx == nil {
		ctx, cancel := context.WithCancelCause(context.Background())
		cancel(ErrNotStarted)
		return ctx, func() {}
	}
	return chromedp.NewContext(browserCtx)
}

// Shutdown closes the browser; a launched browser process exits, an attached one is left running
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.logger.Debug().Msg("Browser session already shut down or never started")
		return nil
	}

	s.browserCancel()
	s.allocCancel()
	s.browserCtx = nil
	s.started = false

	s.logger.Info().Msg("Browser session shut down")
	return nil
}

// run executes actions on the list tab, bounded by ctx and the request timeout
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	browserCtx := s.browserCtx
	s.mu.Unlock()

	if browserCtx == nil {
		return ErrNotStarted
	}

	runCtx, cancel := s.withTimeout(ctx, browserCtx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// withTimeout derives a context from the tab context that also ends when ctx ends
func (s *Session) withTimeout(ctx context.Context, tabCtx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.config.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	runCtx, cancel := context.WithTimeout(tabCtx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
