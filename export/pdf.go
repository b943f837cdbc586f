package export

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFOptions configures the PDF summary report.
type PDFOptions struct {
	Title       string
	PageSize    string
	FontFamily  string
	FontSize    float64
	DateFormat  string
	GeneratedAt time.Time
}

// DefaultPDFOptions returns default PDF report options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		Title:      "Drawing Signature Validation Report",
		PageSize:   "A4",
		FontFamily: "Helvetica",
		FontSize:   8,
		DateFormat: "2006-01-02 15:04:05 MST",
	}
}

const bottomMargin = 15

// pdfColumns are the columns printed in the report table with their widths in mm.
var pdfColumns = []struct {
	label string
	index int
	width float64
}{
	{"File", 0, 80},
	{"Signatures", 2, 20},
	{"Valid", 3, 15},
	{"Trust Status", 4, 30},
	{"Associations", 5, 35},
	{"Compliance", 6, 50},
	{"Error", 9, 47},
}

// PDFReport renders rows as a landscape table with a summary section.
type PDFReport struct {
	pdf     *gofpdf.Fpdf
	options PDFOptions
}

// NewPDFReport creates a report.
func NewPDFReport(options PDFOptions) *PDFReport {
	pdf := gofpdf.New("L", "mm", options.PageSize, "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, bottomMargin)
	pdf.SetTitle(options.Title, true)
	pdf.SetCreator("sealtrust", true)
	r := &PDFReport{pdf: pdf, options: options}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(options.FontFamily, "I", 7)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	return r
}

// Generate lays out the report.
func (r *PDFReport) Generate(rows []Row) error {
	pdf := r.pdf
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont(r.options.FontFamily, "B", 16)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 10, r.options.Title, "", 1, "C", false, 0, "")
	if !r.options.GeneratedAt.IsZero() {
		pdf.SetFont(r.options.FontFamily, "", r.options.FontSize)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 6, "Generated: "+r.options.GeneratedAt.Format(r.options.DateFormat), "", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	s := Summarize(rows)
	pdf.SetFont(r.options.FontFamily, "B", r.options.FontSize+2)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 7, "Summary", "", 1, "L", false, 0, "")
	pdf.SetFont(r.options.FontFamily, "", r.options.FontSize+1)
	for _, item := range []struct {
		label string
		value int
	}{
		{"Documents", s.Total},
		{"Compliant", s.Compliant},
		{"Non-compliant", s.NonCompliant},
		{"Errors", s.Errors},
	} {
		pdf.CellFormat(40, 5, item.label+":", "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprint(item.value), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	r.header()
	pdf.SetFont(r.options.FontFamily, "", r.options.FontSize)
	_, pageHeight := pdf.GetPageSize()
	for i, row := range rows {
		if pdf.GetY()+7 > pageHeight-bottomMargin {
			pdf.AddPage()
			r.header()
			pdf.SetFont(r.options.FontFamily, "", r.options.FontSize)
		}
		switch {
		case row.Error != "":
			pdf.SetFillColor(252, 228, 214)
		case i%2 == 1:
			pdf.SetFillColor(242, 242, 242)
		default:
			pdf.SetFillColor(255, 255, 255)
		}
		values := row.Strings()
		for _, c := range pdfColumns {
			pdf.CellFormat(c.width, 6, tr(truncate(values[c.index], c.width)), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
	}
	return pdf.Error()
}

func (r *PDFReport) header() {
	pdf := r.pdf
	pdf.SetFont(r.options.FontFamily, "B", r.options.FontSize)
	pdf.SetFillColor(68, 114, 196)
	pdf.SetTextColor(255, 255, 255)
	for _, c := range pdfColumns {
		pdf.CellFormat(c.width, 7, c.label, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
}

// truncate shortens s to fit roughly width millimetres; paths keep their
// tail since the file name is the useful part.
func truncate(s string, width float64) string {
	limit := int(width / 1.6)
	runes := []rune(s)
	if len(runes) <= limit || limit < 4 {
		return s
	}
	return "..." + string(runes[len(runes)-limit+3:])
}

// WriteTo writes the document to w.
func (r *PDFReport) WriteTo(w io.Writer) error {
	return r.pdf.Output(w)
}

// Bytes renders the document.
func (r *PDFReport) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := r.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveAs writes the document to path.
func (r *PDFReport) SaveAs(path string) error {
	return r.pdf.OutputFileAndClose(path)
}
