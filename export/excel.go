package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	SheetName    string `json:"sheet_name"`
	FreezeHeader bool   `json:"freeze_header"`
	AutoFilter   bool   `json:"auto_filter"`
	// HeaderColor is the header fill as RRGGBB.
	HeaderColor string `json:"header_color"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		SheetName:    "Validation Results",
		FreezeHeader: true,
		AutoFilter:   true,
		HeaderColor:  "4472C4",
	}
}

// ExcelExporter exports rows to an Excel workbook
type ExcelExporter struct {
	file    *excelize.File
	options ExcelOptions
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(options ExcelOptions) *ExcelExporter {
	file := excelize.NewFile()
	if options.SheetName == "" {
		options.SheetName = "Sheet1"
	}
	if options.HeaderColor == "" {
		options.HeaderColor = DefaultExcelOptions().HeaderColor
	}
	file.SetSheetName("Sheet1", options.SheetName)
	return &ExcelExporter{file: file, options: options}
}

// Export writes the header, the rows and a summary sheet.
func (e *ExcelExporter) Export(rows []Row) error {
	sheet := e.options.SheetName

	headerStyle, err := e.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{e.options.HeaderColor}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := e.file.SetSheetRow(sheet, "A1", &Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(Columns), 1)
	if err := e.file.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}

	widths := make([]int, len(Columns))
	for i, c := range Columns {
		widths[i] = len(c)
	}
	for i, row := range rows {
		values := row.Values()
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := e.file.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
		for j, s := range row.Strings() {
			widths[j] = max(widths[j], len(s))
		}
	}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := e.file.SetColWidth(sheet, col, col, float64(min(max(w+2, 10), 60))); err != nil {
			return err
		}
	}

	if e.options.FreezeHeader {
		if err := e.file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}
	if e.options.AutoFilter && len(rows) > 0 {
		end, _ := excelize.CoordinatesToCellName(len(Columns), len(rows)+1)
		if err := e.file.AutoFilter(sheet, "A1:"+end, nil); err != nil {
			return err
		}
	}

	return e.writeSummary(Summarize(rows))
}

func (e *ExcelExporter) writeSummary(s Summary) error {
	const sheet = "Summary"
	if _, err := e.file.NewSheet(sheet); err != nil {
		return err
	}
	summary := [][]any{
		{"Documents", s.Total},
		{"Compliant", s.Compliant},
		{"Non-compliant", s.NonCompliant},
		{"Errors", s.Errors},
	}
	for i, r := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := e.file.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	return e.file.SetColWidth(sheet, "A", "A", 16)
}

// WriteTo writes the workbook to w.
func (e *ExcelExporter) WriteTo(w io.Writer) (int64, error) {
	return e.file.WriteTo(w)
}

// SaveAs saves the workbook to a path
func (e *ExcelExporter) SaveAs(path string) error {
	return e.file.SaveAs(path)
}

// Close closes the workbook
func (e *ExcelExporter) Close() error {
	return e.file.Close()
}
