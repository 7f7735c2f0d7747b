package merge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/models"
	"github.com/ternarybob/orderflow/internal/services/tasks"
)

// fakeFetcher returns a patch derived from the reference and counts calls per reference
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	order   []string
	fail    map[string]bool
	onFetch func(ref string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeFetcher) FetchDetail(ctx context.Context, ref string) models.DetailPatch {
	f.mu.Lock()
	f.calls[ref]++
	f.order = append(f.order, ref)
	fail := f.fail[ref]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(ref)
	}
	if fail {
		return models.EmptyPatch(errors.New("timeout"))
	}
	return models.DetailPatch{Fields: map[string]string{
		models.DetailTradeNo:   "trade-" + ref,
		models.DetailRecipient: "recipient of " + ref,
	}}
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func record(orderID, ref, title string) *models.Record {
	r := models.NewRecord()
	r.OrderID = orderID
	r.DetailRef = ref
	r.ItemTitle = title
	return r
}

func newStage(fetcher *fakeFetcher, limit int) *Stage {
	logger := arbor.NewLogger()
	return NewStage(fetcher, tasks.NewRunner(limit, nil, logger), logger)
}

func TestMerge_OneFetchPerOrder(t *testing.T) {
	fetcher := newFakeFetcher()
	stage := newStage(fetcher, 1)

	records := []*models.Record{
		record("A1", "https://detail/a1", "item 1"),
		record("A1", "https://detail/a1", "item 2"),
		record("A2", "https://detail/a2", "item 3"),
	}

	stats := stage.Merge(context.Background(), tasks.NewStopToken(context.Background()), records, nil)

	assert.Equal(t, 2, fetcher.totalCalls())
	assert.Equal(t, []string{"https://detail/a1", "https://detail/a2"}, fetcher.order)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 2, stats.Unique)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 3, stats.Enriched)
	require.Len(t, records, 3)

	// Both line items of A1 carry the same detail fields
	assert.Equal(t, records[0].DetailFields, records[1].DetailFields)
	assert.Equal(t, "trade-https://detail/a1", records[0].DetailFields[models.DetailTradeNo])
	assert.Equal(t, "trade-https://detail/a2", records[2].DetailFields[models.DetailTradeNo])

	// Untouched keys are still present and empty
	assert.Equal(t, "", records[0].DetailFields[models.DetailPaidAt])

	for _, r := range records {
		assert.Empty(t, r.DetailRef)
	}
}

func TestMerge_DedupCountsDistinctOrdersWithRefs(t *testing.T) {
	tests := []struct {
		name    string
		records []*models.Record
		want    int
	}{
		{
			name:    "empty page",
			records: nil,
			want:    0,
		},
		{
			name: "missing order id skipped",
			records: []*models.Record{
				record("", "https://detail/x", "orphan"),
				record("B1", "https://detail/b1", "item"),
			},
			want: 1,
		},
		{
			name: "missing reference skipped",
			records: []*models.Record{
				record("C1", "", "no link"),
				record("C2", "https://detail/c2", "item"),
			},
			want: 1,
		},
		{
			name: "many line items one order",
			records: []*models.Record{
				record("D1", "https://detail/d1", "a"),
				record("D1", "https://detail/d1", "b"),
				record("D1", "https://detail/d1", "c"),
				record("D1", "https://detail/d1", "d"),
			},
			want: 1,
		},
		{
			name: "first reference wins",
			records: []*models.Record{
				record("E1", "", "a"),
				record("E1", "https://detail/e1-second", "b"),
				record("E1", "https://detail/e1-third", "c"),
			},
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			stage := newStage(fetcher, 2)

			stats := stage.Merge(context.Background(), tasks.NewStopToken(context.Background()), tt.records, nil)

			assert.Equal(t, tt.want, fetcher.totalCalls())
			assert.Equal(t, tt.want, stats.Unique)
		})
	}
}

func TestMerge_FirstSeenReferenceUsed(t *testing.T) {
	fetcher := newFakeFetcher()
	stage := newStage(fetcher, 1)

	records := []*models.Record{
		record("E1", "https://detail/first", "a"),
		record("E1", "https://detail/second", "b"),
	}
	stage.Merge(context.Background(), tasks.NewStopToken(context.Background()), records, nil)

	assert.Equal(t, []string{"https://detail/first"}, fetcher.order)
	assert.Equal(t, "trade-https://detail/first", records[1].DetailFields[models.DetailTradeNo])
}

func TestMerge_FailedFetchLeavesFieldsEmpty(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.fail["https://detail/f1"] = true
	stage := newStage(fetcher, 1)

	records := []*models.Record{
		record("F1", "https://detail/f1", "a"),
		record("F2", "https://detail/f2", "b"),
	}
	stats := stage.Merge(context.Background(), tasks.NewStopToken(context.Background()), records, nil)

	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Enriched)
	for _, key := range models.DetailKeys {
		assert.Equal(t, "", records[0].DetailFields[key])
	}
	assert.NotEmpty(t, records[1].DetailFields[models.DetailTradeNo])
}

func TestMerge_PatchOverwritesExistingFields(t *testing.T) {
	fetcher := newFakeFetcher()
	stage := newStage(fetcher, 1)

	r := record("G1", "https://detail/g1", "a")
	r.DetailFields[models.DetailTradeNo] = "stale"
	stage.Merge(context.Background(), tasks.NewStopToken(context.Background()), []*models.Record{r}, nil)

	assert.Equal(t, "trade-https://detail/g1", r.DetailFields[models.DetailTradeNo])
}

func TestMerge_StopDuringFetchSkipsRemainingOrders(t *testing.T) {
	stop := tasks.NewStopToken(context.Background())
	fetcher := newFakeFetcher()
	fetcher.onFetch = func(ref string) {
		if ref == "https://detail/o3" {
			stop.Stop()
		}
	}
	stage := newStage(fetcher, 1)

	var records []*models.Record
	for _, id := range []string{"o1", "o2", "o3", "o4", "o5", "o6", "o7", "o8", "o9", "o10"} {
		records = append(records, record(id, "https://detail/"+id, "item "+id))
	}

	stats := stage.Merge(context.Background(), stop, records, nil)

	assert.Equal(t, 3, fetcher.totalCalls())
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 7, stats.Skipped)
	require.Len(t, records, 10)

	// The in-flight fetch completed and was applied
	assert.Equal(t, "trade-https://detail/o3", records[2].DetailFields[models.DetailTradeNo])
	for _, r := range records[3:] {
		assert.Equal(t, "", r.DetailFields[models.DetailTradeNo])
		assert.Empty(t, r.DetailRef)
	}
}

func TestMerge_FetchHookReportsProgress(t *testing.T) {
	fetcher := newFakeFetcher()
	stage := newStage(fetcher, 1)

	records := []*models.Record{
		record("H1", "https://detail/h1", "a"),
		record("H2", "https://detail/h2", "b"),
	}

	var seen []string
	stage.Merge(context.Background(), tasks.NewStopToken(context.Background()), records, func(index, total int, orderID string) {
		assert.Equal(t, 2, total)
		seen = append(seen, orderID)
	})

	assert.Equal(t, []string{"H1", "H2"}, seen)
}
