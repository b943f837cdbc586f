// Package export writes validation summaries as CSV, Excel and PDF.
package export

import (
	"strconv"
	"strings"

	"github.com/georgepadayatti/sealtrust/batch"
	"github.com/georgepadayatti/sealtrust/engine"
)

// Columns are the export headers, in order.
var Columns = []string{
	"File Path",
	"Signatures Found",
	"Total Signatures",
	"Valid Signatures",
	"Trust Status",
	"Certificate Associations",
	"Compliance Status",
	"Overall Valid",
	"Validation Methods",
	"Error",
}

// Row is one document of an export.
type Row struct {
	FilePath          string
	SignaturesFound   bool
	TotalSignatures   int
	ValidSignatures   int
	TrustStatus       string
	Associations      []string
	ComplianceStatus  string
	OverallValid      bool
	ValidationMethods []string
	Error             string
}

// RowFromReport flattens a document report.
func RowFromReport(r *engine.Report) Row {
	row := Row{FilePath: r.FilePath}
	if d := r.Digital; d != nil {
		row.SignaturesFound = d.SignaturesFound()
		row.TotalSignatures = d.TotalCount
		row.ValidSignatures = d.ValidCount
		row.TrustStatus = string(d.TrustStatus)
		row.Associations = d.CertificateAssociations
	}
	if h := r.Hybrid; h != nil {
		row.Associations = h.Associations
		row.ComplianceStatus = string(h.ComplianceStatus)
		row.OverallValid = h.OverallValid
		row.ValidationMethods = h.ValidationMethodsUsed
	}
	return row
}

// RowsFromBatch flattens a batch result, keeping failed and cancelled
// documents as rows with their status in Error.
func RowsFromBatch(res *batch.Result) []Row {
	rows := make([]Row, 0, len(res.Tasks))
	for _, task := range res.Tasks {
		if task.Report != nil {
			rows = append(rows, RowFromReport(task.Report))
			continue
		}
		msg := task.Error
		if msg == "" {
			msg = string(task.Status)
		}
		rows = append(rows, Row{FilePath: task.Path, Error: msg})
	}
	return rows
}

// Values returns the row in Columns order.
func (r Row) Values() []any {
	return []any{
		r.FilePath,
		r.SignaturesFound,
		r.TotalSignatures,
		r.ValidSignatures,
		r.TrustStatus,
		strings.Join(r.Associations, "; "),
		r.ComplianceStatus,
		r.OverallValid,
		strings.Join(r.ValidationMethods, "; "),
		r.Error,
	}
}

// Strings returns the row as text in Columns order.
func (r Row) Strings() []string {
	values := r.Values()
	out := make([]string, len(values))
	for i, v := range values {
		switch v := v.(type) {
		case string:
			out[i] = v
		case bool:
			out[i] = strconv.FormatBool(v)
		case int:
			out[i] = strconv.Itoa(v)
		}
	}
	return out
}

// Summary counts rows by outcome.
type Summary struct {
	Total        int
	Compliant    int
	NonCompliant int
	Errors       int
}

// Summarize counts rows.
func Summarize(rows []Row) Summary {
	s := Summary{Total: len(rows)}
	for _, r := range rows {
		switch {
		case r.Error != "":
			s.Errors++
		case r.OverallValid:
			s.Compliant++
		default:
			s.NonCompliant++
		}
	}
	return s
}
