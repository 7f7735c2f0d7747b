package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// CurrentHTML returns the rendered document of the order list tab
func (s *Session) CurrentHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

// ScrollToBottom scrolls the list tab to the bottom so lazy content renders
func (s *Session) ScrollToBottom(ctx context.Context) error {
	return s.run(ctx, chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

// ScrollToTop scrolls the list tab back to the top
func (s *Session) ScrollToTop(ctx context.Context) error {
	return s.run(ctx, chromedp.Evaluate(`window.scrollTo(0, 0)`, nil))
}

// Paginator clicks the list's "next page" control
type Paginator struct {
	session       *Session
	selector      string
	preClickDelay time.Duration
	logger        arbor.ILogger
}

// NewPaginator creates a paginator. selector must match only an enabled "next" control.
func NewPaginator(session *Session, selector string, preClickDelay time.Duration, logger arbor.ILogger) *Paginator {
	return &Paginator{
		session:       session,
		selector:      selector,
		preClickDelay: preClickDelay,
		logger:        logger,
	}
}

// HasNextPage reports whether an enabled "next" control is present
func (p *Paginator) HasNextPage(ctx context.Context) (bool, error) {
	quoted, err := json.Marshal(p.selector)
	if err != nil {
		return false, err
	}

	var present bool
	script := fmt.Sprintf(`(() => { const el = document.querySelector(%s); return !!el && !el.disabled; })()`, quoted)
	if err := p.session.run(ctx, chromedp.Evaluate(script, &present)); err != nil {
		return false, fmt.Errorf("failed to query next page control: %w", err)
	}
	return present, nil
}

// Advance scrolls the "next" control into view, waits, then clicks it.
// Returns false without touching the page when there is no enabled control, and without clicking
// when stop closes before the click.
func (p *Paginator) Advance(ctx context.Context, stop <-chan struct{}) (bool, error) {
	if stopped(stop) {
		return false, nil
	}

	ok, err := p.HasNextPage(ctx)
	if err != nil || !ok {
		return false, err
	}

	if err := p.session.run(ctx, chromedp.ScrollIntoView(p.selector, chromedp.ByQuery)); err != nil {
		return false, fmt.Errorf("failed to scroll to next page control: %w", err)
	}

	if !waitBeforeClick(ctx, stop, p.preClickDelay) {
		p.logger.Debug().Str("selector", p.selector).Msg("Next page click skipped: stop requested")
		return false, ctx.Err()
	}

	if err := p.session.run(ctx, chromedp.Click(p.selector, chromedp.ByQuery)); err != nil {
		return false, fmt.Errorf("failed to click next page: %w", err)
	}

	p.logger.Debug().Str("selector", p.selector).Msg("Clicked next page")
	return true, nil
}

// waitBeforeClick waits d and reports whether the click may still go ahead
func waitBeforeClick(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		case <-timer.C:
		}
	}
	return !stopped(stop) && ctx.Err() == nil
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
