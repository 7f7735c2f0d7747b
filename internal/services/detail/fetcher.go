package detail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/models"
)

var errNoDetailLink = errors.New("order has no detail link")

// TabOpener opens a new tab in a browser that carries the logged-in session
type TabOpener interface {
	NewTab() (context.Context, context.CancelFunc)
}

// BrowserFetcher loads detail pages in a fresh tab of the export browser, so requests carry its cookies.
// It always settles: every failure becomes an empty patch.
type BrowserFetcher struct {
	tabs    TabOpener
	parser  *Parser
	timeout time.Duration
	settle  time.Duration
	referer string
	logger  arbor.ILogger
}

// NewBrowserFetcher creates a detail fetcher that renders pages in tabs opened by tabs
func NewBrowserFetcher(tabs TabOpener, config common.DetailConfig, selectors common.SelectorConfig, logger arbor.ILogger) *BrowserFetcher {
	timeout := config.Timeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrowserFetcher{
		tabs:    tabs,
		parser:  NewParser(selectors),
		timeout: timeout,
		settle:  config.SettleDelay.Std(),
		logger:  logger,
	}
}

// WithReferer sends url as the Referer of every detail request, as a click from the list page would
func (f *BrowserFetcher) WithReferer(url string) *BrowserFetcher {
	f.referer = url
	return f
}

// FetchDetail implements interfaces.DetailFetcher
func (f *BrowserFetcher) FetchDetail(ctx context.Context, ref string) (patch models.DetailPatch) {
	defer func() {
		if r := recover(); r != nil {
			patch = models.EmptyPatch(fmt.Errorf("panic fetching detail: %v", r))
		}
	}()

	if ref == "" {
		return models.EmptyPatch(errNoDetailLink)
	}
	url := absoluteURL(ref)

	tabCtx, closeTab := f.tabs.NewTab()
	defer closeTab()

	// Closing the tab is how a cancelled caller aborts the load
	release := context.AfterFunc(ctx, closeTab)
	defer release()

	tabCtx, cancel := context.WithTimeout(tabCtx, f.timeout)
	defer cancel()

	started := time.Now()
	var page string
	actions := []chromedp.Action{}
	if f.referer != "" {
		actions = append(actions,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Referer": f.referer}),
		)
	}
	actions = append(actions,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.settle),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return models.EmptyPatch(fmt.Errorf("load detail page %s: %w", url, err))
	}

	fields, err := f.parser.Parse(page)
	if err != nil {
		return models.EmptyPatch(err)
	}

	f.logger.Debug().
		Str("url", url).
		Dur("duration", time.Since(started)).
		Str("trade_no", fields[models.DetailTradeNo]).
		Msg("Detail page parsed")

	return models.DetailPatch{Fields: fields}
}

// NoopFetcher never loads anything; records keep empty detail fields
type NoopFetcher struct{}

// FetchDetail implements interfaces.DetailFetcher
func (NoopFetcher) FetchDetail(ctx context.Context, ref string) models.DetailPatch {
	return models.EmptyPatch(nil)
}
