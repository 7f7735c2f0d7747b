// Package sink writes the final export aggregate to a spreadsheet file.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
)

type cellKind int

const (
	textCell cellKind = iota
	amountCell
	countCell
)

// column is one exported field: its header, display width and how to read it from a record
type column struct {
	header string
	width  float64
	kind   cellKind
	value  func(r *models.Record) string
}

func detailColumn(header string, width float64, key string) column {
	return column{header: header, width: width, value: func(r *models.Record) string { return r.DetailFields[key] }}
}

// columns in export order; the detail reference is never exported
var columns = []column{
	{header: "订单号", width: 25, value: func(r *models.Record) string { return r.OrderID }},
	{header: "下单时间", width: 20, value: func(r *models.Record) string { return r.OrderTime }},
	{header: "店铺名称", width: 20, value: func(r *models.Record) string { return r.ShopName }},
	{header: "商品标题", width: 50, value: func(r *models.Record) string { return r.ItemTitle }},
	{header: "商品规格", width: 30, value: func(r *models.Record) string { return r.ItemSpec }},
	{header: "单价", width: 10, kind: amountCell, value: func(r *models.Record) string { return r.UnitPrice }},
	{header: "原价", width: 10, kind: amountCell, value: func(r *models.Record) string { return r.ListPrice }},
	{header: "数量", width: 8, kind: countCell, value: func(r *models.Record) string { return r.Quantity }},
	{header: "实付款(含运费)", width: 15, kind: amountCell, value: func(r *models.Record) string { return r.ActualFee }},
	{header: "运费", width: 10, kind: amountCell, value: func(r *models.Record) string { return r.ShippingFee }},
	{header: "交易状态", width: 15, value: func(r *models.Record) string { return r.Status }},
	{header: "商品主图", width: 50, value: func(r *models.Record) string { return r.ItemImage }},
	detailColumn("收件人信息", 50, models.DetailRecipient),
	detailColumn("交易快照", 50, models.DetailSnapshot),
	detailColumn("支付宝交易号", 30, models.DetailTradeNo),
	detailColumn("创建时间", 20, models.DetailCreatedAt),
	detailColumn("付款时间", 20, models.DetailPaidAt),
	detailColumn("发货时间", 20, models.DetailShippedAt),
	detailColumn("成交时间", 20, models.DetailCompletedAt),
}

// Headers returns the exported column headers in order
func Headers() []string {
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.header
	}
	return headers
}

// maxAmount keeps amount cells well inside float64's exact decimal range
var maxAmount = decimal.New(1, 12)

// cell returns the typed value for a column: numbers for parseable amounts and counts, text otherwise.
// Amounts with more than two decimals stay text so no digits are lost.
func (c column) cell(r *models.Record) interface{} {
	raw := c.value(r)
	switch c.kind {
	case amountCell:
		if d, err := decimal.NewFromString(raw); err == nil && d.Exponent() >= -2 && d.Abs().LessThan(maxAmount) {
			return d.InexactFloat64()
		}
	case countCell:
		if d, err := decimal.NewFromString(raw); err == nil && d.IsInteger() {
			return d.IntPart()
		}
	}
	return raw
}

// New returns the sink for the configured output format
func New(config common.OutputConfig, logger arbor.ILogger) (interfaces.TableSink, error) {
	switch config.Format {
	case "", "xlsx":
		return NewXLSXSink(config, logger), nil
	case "csv":
		return NewCSVSink(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", config.Format)
	}
}

// maxNameAttempts bounds the numbered suffixes tried when a table name is already taken
const maxNameAttempts = 1000

// createOutput reserves a new file named <dir>/<prefix>_<UTC timestamp>.<ext>, creating dir if needed.
// An existing file is never reused: a taken name gets a _2, _3, ... suffix.
func createOutput(config common.OutputConfig, now time.Time, ext string) (*os.File, string, error) {
	dir := config.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	prefix := config.FilePrefix
	if prefix == "" {
		prefix = "orders"
	}
	base := fmt.Sprintf("%s_%s", prefix, now.UTC().Format("2006-01-02T15-04-05"))

	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		name := base + "." + ext
		if attempt > 1 {
			name = fmt.Sprintf("%s_%d.%s", base, attempt, ext)
		}
		path := filepath.Join(dir, name)

		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return file, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no free output name for %s in %s", base, dir)
}

// discard closes and removes a partially written output file
func discard(file *os.File, path string, logger arbor.ILogger) {
	_ = file.Close()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", path).Msg("Failed to remove incomplete output file")
	}
}
