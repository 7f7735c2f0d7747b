package interfaces

import (
	"context"

	"github.com/ternarybob/orderflow/internal/models"
)

// PageSource gives access to the currently rendered order list view
type PageSource interface {
	// CurrentHTML returns the rendered HTML of the current view
	CurrentHTML(ctx context.Context) (string, error)

	// ScrollToBottom scrolls the view to the bottom to trigger lazy-loaded content
	ScrollToBottom(ctx context.Context) error

	// ScrollToTop scrolls the view back to the top
	ScrollToTop(ctx context.Context) error
}

// PageExtractor turns rendered list-page content into records.
// It never fails: malformed orders are skipped and an empty page yields an empty slice.
type PageExtractor interface {
	ExtractPage(ctx context.Context, html string) []*models.Record
}

// DetailFetcher loads the detail page for one order.
// It always settles: network, parse and timeout failures produce an empty patch.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, ref string) models.DetailPatch
}

// Paginator drives the list view's "next page" control
type Paginator interface {
	// HasNextPage reports whether an enabled "next" control is present
	HasNextPage(ctx context.Context) (bool, error)

	// Advance clicks the "next" control; returns false without side effects when there is none.
	// stop is observed up to the click: once it is closed no navigation is started and Advance returns false.
	Advance(ctx context.Context, stop <-chan struct{}) (bool, error)
}

// TableSink serializes the final aggregate and returns where it was written
type TableSink interface {
	WriteTable(ctx context.Context, records []models.Record) (string, error)
}

// ProgressObserver receives one-way progress notifications
type ProgressObserver interface {
	OnProgress(progress models.Progress)
}

// ProgressFunc adapts a function to ProgressObserver
type ProgressFunc func(progress models.Progress)

// OnProgress implements ProgressObserver
func (f ProgressFunc) OnProgress(progress models.Progress) {
	f(progress)
}
