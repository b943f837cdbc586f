package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/georgepadayatti/sealtrust/batch"
	"github.com/georgepadayatti/sealtrust/engine"
	"github.com/georgepadayatti/sealtrust/export"
	"github.com/georgepadayatti/sealtrust/hybrid"
)

// BatchOptions contains options for the batch command.
type BatchOptions struct {
	ConfigFile string
	SealFile   string
	Workers    int
	CSVFile    string
	ExcelFile  string
	PDFFile    string
	JSON       bool
	Quiet      bool
}

// BatchCommand implements the 'batch' command.
func BatchCommand(args []string) {
	batchFlags := flag.NewFlagSet("batch", flag.ExitOnError)
	batchFlags.SetOutput(stderr)

	var opts BatchOptions

	batchFlags.StringVar(&opts.ConfigFile, "config", "", "Configuration file (YAML)")
	batchFlags.StringVar(&opts.SealFile, "seal", "", "Seal verdicts file produced by the image seal pipeline")
	batchFlags.IntVar(&opts.Workers, "workers", 0, "Number of drawings validated concurrently (default from configuration)")
	batchFlags.StringVar(&opts.CSVFile, "csv", "", "Write the summary as CSV to this file")
	batchFlags.StringVar(&opts.ExcelFile, "xlsx", "", "Write the summary as an Excel workbook to this file")
	batchFlags.StringVar(&opts.PDFFile, "pdf", "", "Write the summary as a PDF report to this file")
	batchFlags.BoolVar(&opts.JSON, "json", false, "Output the batch result in JSON format")
	batchFlags.BoolVar(&opts.Quiet, "quiet", false, "Do not report progress")

	batchFlags.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s batch [options] <path>...\n\n", os.Args[0])
		fmt.Fprintln(stdout, "Validate many drawings. Directories expand to the PDF files they contain.")
		fmt.Fprintln(stdout, "Exits with status 1 when any drawing failed or is not compliant.")
		fmt.Fprintln(stdout, "")
		fmt.Fprintln(stdout, "Options:")
		batchFlags.SetOutput(stdout)
		batchFlags.PrintDefaults()
		fmt.Fprintln(stdout, "")
		fmt.Fprintln(stdout, "Examples:")
		fmt.Fprintf(stdout, "  %s batch drawings/\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s batch -workers 8 -csv results.csv -xlsx results.xlsx drawings/\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s batch -seal seals.yaml -pdf report.pdf a.pdf b.pdf\n", os.Args[0])
	}

	if err := batchFlags.Parse(args[2:]); err != nil {
		fail(err)
		return
	}

	if len(batchFlags.Args()) < 1 {
		batchFlags.Usage()
		osExit(1)
		return
	}

	paths, err := expandPaths(batchFlags.Args())
	if err != nil {
		fail(err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := runBatch(ctx, paths, &opts)
	if err != nil {
		fail(err)
		return
	}

	if err := exportBatch(res, &opts); err != nil {
		fail(err)
		return
	}

	if opts.JSON {
		writeJSON(stdout, res)
	} else {
		writeBatch(stdout, res)
	}

	if res.Failed > 0 || res.Cancelled > 0 || res.Compliant < res.Total {
		osExit(1)
	}
}

// expandPaths replaces directories by the PDF files directly inside them.
func expandPaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			// missing files are reported per document by the batch
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no PDF files found")
	}
	return paths, nil
}

func runBatch(ctx context.Context, paths []string, opts *BatchOptions) (*batch.Result, error) {
	cfg, logger, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	e, err := engine.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	var seals hybrid.SealVerdicts
	if opts.SealFile != "" {
		if seals, err = hybrid.LoadSealVerdicts(opts.SealFile); err != nil {
			return nil, err
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Batch.Workers
	}
	p := batch.NewProcessor(e, seals, workers, logger)
	if !opts.Quiet && !opts.JSON {
		p.Progress = func(pr batch.Progress) {
			fmt.Fprintf(stderr, "[%d/%d] %s %s\n", pr.Completed, pr.Total, pr.Task.Path, pr.Task.Status)
		}
	}
	return p.Run(ctx, paths), nil
}

// exportBatch writes the requested summary files.
func exportBatch(res *batch.Result, opts *BatchOptions) error {
	rows := export.RowsFromBatch(res)

	if opts.CSVFile != "" {
		f, err := os.Create(opts.CSVFile)
		if err != nil {
			return fmt.Errorf("failed to create CSV file: %w", err)
		}
		if err := export.NewCSVExporter(f, export.DefaultCSVOptions()).Export(rows); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	if opts.ExcelFile != "" {
		x := export.NewExcelExporter(export.DefaultExcelOptions())
		defer x.Close()
		if err := x.Export(rows); err != nil {
			return err
		}
		if err := x.SaveAs(opts.ExcelFile); err != nil {
			return fmt.Errorf("failed to save workbook: %w", err)
		}
	}

	if opts.PDFFile != "" {
		pdfOpts := export.DefaultPDFOptions()
		pdfOpts.GeneratedAt = time.Now()
		r := export.NewPDFReport(pdfOpts)
		if err := r.Generate(rows); err != nil {
			return err
		}
		if err := r.SaveAs(opts.PDFFile); err != nil {
			return fmt.Errorf("failed to save PDF report: %w", err)
		}
	}
	return nil
}

func writeBatch(w io.Writer, res *batch.Result) {
	for _, task := range res.Tasks {
		switch {
		case task.Report != nil:
			fmt.Fprintf(w, "%s %s %s\n", getStatusIcon(task.Compliant()), task.Path, task.Report.Hybrid.ComplianceStatus)
		case task.Error != "":
			fmt.Fprintf(w, "[ERROR] %s %s\n", task.Path, task.Error)
		default:
			fmt.Fprintf(w, "[SKIP] %s %s\n", task.Path, task.Status)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Batch %s\n", res.ID)
	fmt.Fprintf(w, "  Documents: %d\n", res.Total)
	fmt.Fprintf(w, "  Compliant: %d\n", res.Compliant)
	fmt.Fprintf(w, "  Failed: %d\n", res.Failed)
	if res.Cancelled > 0 {
		fmt.Fprintf(w, "  Cancelled: %d\n", res.Cancelled)
	}
	fmt.Fprintf(w, "  Duration: %s\n", res.Duration.Round(time.Millisecond))
}
