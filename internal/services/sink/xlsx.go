package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/models"
	"github.com/xuri/excelize/v2"
)

// amountNumFmt is the built-in "0.00" format, so amounts keep two decimals in the sheet
const amountNumFmt = 2

// XLSXSink writes the aggregate as a single-sheet workbook
type XLSXSink struct {
	config common.OutputConfig
	now    func() time.Time
	logger arbor.ILogger
}

// NewXLSXSink creates a workbook sink
func NewXLSXSink(config common.OutputConfig, logger arbor.ILogger) *XLSXSink {
	return &XLSXSink{config: config, now: time.Now, logger: logger}
}

// WriteTable implements interfaces.TableSink
// The workbook is built in memory first; a failed write leaves no file behind.
func (s *XLSXSink) WriteTable(ctx context.Context, records []models.Record) (string, error) {
	sheet := s.config.SheetName
	if sheet == "" {
		sheet = "Sheet1"
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close workbook")
		}
	}()

	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return "", fmt.Errorf("failed to name sheet: %w", err)
		}
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c.header
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	boldID, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(columns))
	if err != nil {
		return "", err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", boldID); err != nil {
		return "", fmt.Errorf("failed to style header: %w", err)
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		row := make([]interface{}, len(columns))
		for j, c := range columns {
			row[j] = c.cell(&records[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return "", fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	amountID, err := f.NewStyle(&excelize.Style{NumFmt: amountNumFmt})
	if err != nil {
		return "", fmt.Errorf("failed to create amount style: %w", err)
	}

	for i, c := range columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return "", err
		}
		if err := f.SetColWidth(sheet, name, name, c.width); err != nil {
			return "", fmt.Errorf("failed to set column width: %w", err)
		}
		if c.kind == amountCell && len(records) > 0 {
			last := fmt.Sprintf("%s%d", name, len(records)+1)
			if err := f.SetCellStyle(sheet, name+"2", last, amountID); err != nil {
				return "", fmt.Errorf("failed to style amounts: %w", err)
			}
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to freeze header row")
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	file, path, err := createOutput(s.config, s.now(), "xlsx")
	if err != nil {
		return "", err
	}
	if err := f.Write(file); err != nil {
		discard(file, path, s.logger)
		return "", fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		discard(file, path, s.logger)
		return "", fmt.Errorf("failed to close workbook %s: %w", path, err)
	}

	s.logger.Info().
		Str("path", path).
		Str("sheet", sheet).
		Int("records", len(records)).
		Msg("Export workbook written")

	return path, nil
}
