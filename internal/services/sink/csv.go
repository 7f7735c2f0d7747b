package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/models"
)

// utf8BOM makes spreadsheet apps detect UTF-8 for the Chinese headers
const utf8BOM = "\ufeff"

// CSVSink writes the aggregate as a UTF-8 CSV file
type CSVSink struct {
	config common.OutputConfig
	now    func() time.Time
	logger arbor.ILogger
}

// NewCSVSink creates a CSV sink
func NewCSVSink(config common.OutputConfig, logger arbor.ILogger) *CSVSink {
	return &CSVSink{config: config, now: time.Now, logger: logger}
}

// WriteTable implements interfaces.TableSink. A failed write leaves no file behind.
func (s *CSVSink) WriteTable(ctx context.Context, records []models.Record) (path string, err error) {
	file, path, err := createOutput(s.config, s.now(), "csv")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			discard(file, path, s.logger)
		}
	}()

	if err := s.write(ctx, file, records); err != nil {
		return "", err
	}
	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}

	s.logger.Info().
		Str("path", path).
		Int("records", len(records)).
		Msg("Export CSV written")

	return path, nil
}

func (s *CSVSink) write(ctx context.Context, out io.Writer, records []models.Record) error {
	buf := bufio.NewWriter(out)
	if _, err := buf.WriteString(utf8BOM); err != nil {
		return err
	}

	w := csv.NewWriter(buf)
	if err := w.Write(Headers()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(columns))
	for i := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		for j, c := range columns {
			row[j] = c.value(&records[i])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Flush()
}
