// Package merge reconciles list-page records with order detail pages: one detail fetch per
// order id, with the fetched patch fanned back out to every line item of that order.
package merge

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
	"github.com/ternarybob/orderflow/internal/services/tasks"
)

// FetchHook is told about each detail fetch as it starts (index is zero-based)
type FetchHook func(index, total int, orderID string)

// Stats summarizes one merge pass
type Stats struct {
	Records  int // Records on the page
	Unique   int // Distinct order ids with a detail reference
	Fetched  int // Fetch tasks that settled with a patch
	Skipped  int // Fetch tasks skipped after a stop
	Enriched int // Records that received a non-empty patch
}

// Stage is the deduplicating merge stage
type Stage struct {
	fetcher interfaces.DetailFetcher
	runner  *tasks.Runner
	logger  arbor.ILogger
}

// NewStage creates a merge stage over the given fetcher and runner
func NewStage(fetcher interfaces.DetailFetcher, runner *tasks.Runner, logger arbor.ILogger) *Stage {
	return &Stage{
		fetcher: fetcher,
		runner:  runner,
		logger:  logger,
	}
}

type orderRef struct {
	orderID string
	ref     string
}

// uniqueRefs returns one detail reference per order id in first-seen order,
// skipping records without an order id or reference
func uniqueRefs(records []*models.Record) []orderRef {
	seen := make(map[string]bool, len(records))
	refs := make([]orderRef, 0, len(records))
	for _, record := range records {
		if record.OrderID == "" || record.DetailRef == "" || seen[record.OrderID] {
			continue
		}
		seen[record.OrderID] = true
		refs = append(refs, orderRef{orderID: record.OrderID, ref: record.DetailRef})
	}
	return refs
}

// Merge fetches detail for each distinct order on the page and applies the patch to every record
// sharing that order id. Records are modified in place; DetailRef is cleared on all of them.
func (s *Stage) Merge(ctx context.Context, stop *tasks.StopToken, records []*models.Record, onFetch FetchHook) Stats {
	refs := uniqueRefs(records)
	stats := Stats{Records: len(records), Unique: len(refs)}

	fetchTasks := make([]tasks.Task[models.OrderPatch], len(refs))
	for i, ref := range refs {
		i, ref := i, ref
		fetchTasks[i] = func(ctx context.Context) (models.OrderPatch, bool) {
			if stop.Stopped() {
				return models.OrderPatch{}, false
			}
			if onFetch != nil {
				onFetch(i, len(refs), ref.orderID)
			}

			patch := s.fetcher.FetchDetail(ctx, ref.ref)
			if patch.Err != nil {
				s.logger.Debug().
					Str("order_id", ref.orderID).
					Err(patch.Err).
					Msg("Detail fetch yielded no enrichment")
			}
			return models.OrderPatch{OrderID: ref.orderID, Patch: patch}, true
		}
	}

	results := tasks.Run(ctx, s.runner, stop, fetchTasks)

	patches := make(map[string]models.DetailPatch, len(results))
	for _, result := range results {
		if result.Skipped {
			stats.Skipped++
			continue
		}
		if result.OK {
			stats.Fetched++
			patches[result.Value.OrderID] = result.Value.Patch
		}
	}

	for _, record := range records {
		if patch, ok := patches[record.OrderID]; ok && record.OrderID != "" {
			record.ApplyPatch(patch)
			if !patch.IsEmpty() {
				stats.Enriched++
			}
		}
		record.DetailRef = ""
	}

	s.logger.Debug().
		Int("records", stats.Records).
		Int("unique_orders", stats.Unique).
		Int("fetched", stats.Fetched).
		Int("skipped", stats.Skipped).
		Int("enriched", stats.Enriched).
		Msg("Detail merge complete")

	return stats
}
