package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVOptions configures CSV export behavior
type CSVOptions struct {
	Delimiter     rune `json:"delimiter"`
	UseCRLF       bool `json:"use_crlf"`
	IncludeHeader bool `json:"include_header"`
}

// DefaultCSVOptions returns default CSV export options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Delimiter: ',', IncludeHeader: true}
}

// CSVExporter exports rows to CSV format
type CSVExporter struct {
	writer  *csv.Writer
	options CSVOptions
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(w io.Writer, options CSVOptions) *CSVExporter {
	writer := csv.NewWriter(w)
	if options.Delimiter != 0 {
		writer.Comma = options.Delimiter
	}
	writer.UseCRLF = options.UseCRLF
	return &CSVExporter{writer: writer, options: options}
}

// Export writes the header and rows and flushes the writer.
func (e *CSVExporter) Export(rows []Row) error {
	if e.options.IncludeHeader {
		if err := e.writer.Write(Columns); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for _, row := range rows {
		if err := e.writer.Write(row.Strings()); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	e.writer.Flush()
	return e.writer.Error()
}
