package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/georgepadayatti/sealtrust/certmodel"
	"github.com/georgepadayatti/sealtrust/config"
	"github.com/georgepadayatti/sealtrust/digital"
	"github.com/georgepadayatti/sealtrust/engine"
	"github.com/georgepadayatti/sealtrust/hybrid"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	ConfigFile     string
	SealFile       string
	Online         bool
	TrustRootsFile string
	JSON           bool
	Verbose        bool
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)
	verifyFlags.SetOutput(stderr)

	var opts VerifyOptions

	verifyFlags.StringVar(&opts.ConfigFile, "config", "", "Configuration file (YAML)")
	verifyFlags.StringVar(&opts.SealFile, "seal", "", "Seal verdicts file produced by the image seal pipeline")
	verifyFlags.BoolVar(&opts.Online, "online", false, "Check revocation online over OCSP and CRL distribution points")
	verifyFlags.StringVar(&opts.TrustRootsFile, "trust-roots", "", "File containing additional trusted root certificates (PEM format)")
	verifyFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	verifyFlags.BoolVar(&opts.Verbose, "verbose", false, "Show detailed validation information")

	verifyFlags.Usage = func() {
		fmt.Fprintf(stdout, "Usage: %s verify [options] <drawing.pdf>\n\n", os.Args[0])
		fmt.Fprintln(stdout, "Validate the digital signature(s) of a drawing and decide compliance.")
		fmt.Fprintln(stdout, "Exits with status 1 when the drawing is not compliant.")
		fmt.Fprintln(stdout, "")
		fmt.Fprintln(stdout, "Options:")
		verifyFlags.SetOutput(stdout)
		verifyFlags.PrintDefaults()
		fmt.Fprintln(stdout, "")
		fmt.Fprintln(stdout, "Examples:")
		fmt.Fprintf(stdout, "  %s verify drawing.pdf\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s verify -json drawing.pdf\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s verify -seal seals.yaml -online drawing.pdf\n", os.Args[0])
		fmt.Fprintf(stdout, "  %s verify -trust-roots roots.pem drawing.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fail(err)
		return
	}

	if len(verifyFlags.Args()) < 1 {
		verifyFlags.Usage()
		osExit(1)
		return
	}

	report, err := verifyDocument(context.Background(), verifyFlags.Arg(0), &opts)
	if err != nil {
		fail(err)
		return
	}

	if opts.JSON {
		writeJSON(stdout, report)
	} else {
		writeReport(stdout, report, opts.Verbose)
	}

	if !report.Hybrid.OverallValid {
		osExit(1)
	}
}

// verifyDocument builds an engine from the options and validates one file.
func verifyDocument(ctx context.Context, path string, opts *VerifyOptions) (*engine.Report, error) {
	cfg, logger, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	if opts.Online {
		cfg.Revocation.Mode = config.RevocationOnline
	}

	e, err := engine.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	if opts.TrustRootsFile != "" {
		if err := addTrustRoots(e.Store(), opts.TrustRootsFile); err != nil {
			return nil, err
		}
	}

	var seal *hybrid.SealResult
	if opts.SealFile != "" {
		verdicts, err := hybrid.LoadSealVerdicts(opts.SealFile)
		if err != nil {
			return nil, err
		}
		seal = verdicts.Lookup(path)
	}
	return e.ValidateFile(ctx, path, seal)
}

// addTrustRoots adds every certificate of a PEM or DER file as a custom root.
func addTrustRoots(store *truststore.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read trust roots: %w", err)
	}
	certs, err := certmodel.ParseBundle(data)
	if err != nil {
		return fmt.Errorf("failed to parse trust roots: %w", err)
	}
	for _, c := range certs {
		store.Add(&truststore.Entry{Cert: c, Partition: truststore.PartitionCustom, Source: path})
	}
	return nil
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(stderr, "Error encoding JSON: %v\n", err)
		osExit(1)
	}
}

// writeReport writes a human readable report.
func writeReport(w io.Writer, report *engine.Report, verbose bool) {
	d, h := report.Digital, report.Hybrid

	fmt.Fprintf(w, "File: %s\n", report.FilePath)
	fmt.Fprintf(w, "Compliance: %s %s\n", getStatusIcon(h.OverallValid), h.ComplianceStatus)
	if len(h.Associations) > 0 {
		fmt.Fprintf(w, "Associations: %s\n", strings.Join(h.Associations, ", "))
	}
	fmt.Fprintf(w, "Digital signatures: %d of %d valid (%s)\n", d.ValidCount, d.TotalCount, d.TrustStatus)
	if h.SealConfidence > 0 || h.SealValid {
		fmt.Fprintf(w, "Seal: %s (confidence %.2f)\n", boolToStatus(h.SealValid), h.SealConfidence)
	}
	fmt.Fprintln(w)

	for i, sig := range d.Signatures {
		fmt.Fprintf(w, "Signature #%d", i+1)
		if sig.FieldName != "" {
			fmt.Fprintf(w, " (%s)", sig.FieldName)
		}
		fmt.Fprintf(w, ": %s\n", getStatusIcon(sig.Valid))
		fmt.Fprintf(w, "  Integrity: %s\n", boolToStatus(sig.IntegrityValid))
		if sig.Validation != nil && sig.Validation.Result != nil {
			fmt.Fprintf(w, "  Trust: %s\n", boolToStatus(sig.Validation.TrustAnchorReached))
		}
		if sig.SignerName != "" {
			fmt.Fprintf(w, "  Signer: %s\n", sig.SignerName)
		}
		if sig.SigningTime != nil {
			fmt.Fprintf(w, "  Signing Time: %s\n", sig.SigningTime.Format(time.RFC3339))
		}
		if id := sig.AssociationID(); id != "" {
			fmt.Fprintf(w, "  Association: %s\n", id)
		}
		if sig.Reason != "" {
			fmt.Fprintf(w, "  Reason: %s\n", sig.Reason)
		}
		if sig.Location != "" {
			fmt.Fprintf(w, "  Location: %s\n", sig.Location)
		}

		if verbose {
			writeSignatureDetails(w, sig)
		}

		var errs []string
		if sig.IntegrityError != "" {
			errs = append(errs, sig.IntegrityError)
		}
		if sig.Validation != nil && sig.Validation.Result != nil {
			errs = append(errs, sig.Validation.Errors...)
		}
		writeList(w, "Errors", errs)
		writeList(w, "Warnings", sig.Warnings)
		fmt.Fprintln(w)
	}

	writeList(w, "Document warnings", d.Warnings)
	if verbose {
		writeList(w, "Notes", h.Notes)
	}
}

func writeSignatureDetails(w io.Writer, sig *digital.Signature) {
	fmt.Fprintf(w, "\n  Container: %s", sig.ContainerKind)
	if sig.SubFilter != "" {
		fmt.Fprintf(w, " (%s)", sig.SubFilter)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Algorithms: %s / %s\n", sig.DigestAlgorithm, sig.SignatureAlgorithm)
	fmt.Fprintf(w, "  Byte Range: %v\n", sig.ByteRange)

	if sig.Validation == nil || sig.Validation.Result == nil {
		return
	}
	fmt.Fprintf(w, "\n  Certificate Chain:\n")
	for _, s := range sig.Validation.Statuses {
		anchor := ""
		if s.TrustAnchor {
			anchor = " [trust anchor]"
		}
		fmt.Fprintf(w, "    - %s%s\n", s.Subject, anchor)
		fmt.Fprintf(w, "      Status: %s\n", s.Status)
		fmt.Fprintf(w, "      Valid: %s to %s\n", s.NotBefore.Format(time.RFC3339), s.NotAfter.Format(time.RFC3339))
		if s.Revocation != nil {
			fmt.Fprintf(w, "      Revocation: %s", s.Revocation.Status)
			if s.Revocation.Source != "" {
				fmt.Fprintf(w, " (%s)", s.Revocation.Source)
			}
			fmt.Fprintln(w)
		}
	}
	if m := sig.Validation.Association; m != nil {
		fmt.Fprintf(w, "\n  Association Match:\n")
		fmt.Fprintf(w, "    Rule: %s\n", m.Rule)
		fmt.Fprintf(w, "    Value: %s\n", m.Value)
		fmt.Fprintf(w, "    Confidence: %.2f\n", m.Confidence)
	}
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "    - %s\n", item)
	}
}

// getStatusIcon returns an icon for the status.
func getStatusIcon(ok bool) string {
	if ok {
		return "[OK]"
	}
	return "[FAIL]"
}

// boolToStatus converts a boolean to a status string.
func boolToStatus(b bool) string {
	if b {
		return "OK"
	}
	return "FAILED"
}
