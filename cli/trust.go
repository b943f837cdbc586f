package cli

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/georgepadayatti/sealtrust/certmodel"
	"github.com/georgepadayatti/sealtrust/config"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// TrustCommand implements the 'trust' command and its sub-commands.
func TrustCommand(args []string) {
	if len(args) < 3 {
		trustUsage()
		osExit(1)
		return
	}

	sub := args[2]
	rest := args[3:]
	var err error
	switch sub {
	case "list":
		err = trustList(rest)
	case "add":
		err = trustAdd(rest)
	case "remove":
		err = trustRemove(rest)
	case "associations":
		err = trustAssociations(rest)
	case "help", "-h", "--help":
		trustUsage()
		return
	default:
		fmt.Fprintf(stderr, "Unknown trust command: %s\n\n", sub)
		trustUsage()
		osExit(1)
		return
	}
	if err != nil {
		fail(err)
	}
}

func trustUsage() {
	fmt.Fprintf(stdout, "Usage: %s trust <command> [options] <args>\n\n", os.Args[0])
	fmt.Fprintln(stdout, "Manage the trusted certificate directories.")
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  list          List trusted certificates")
	fmt.Fprintln(stdout, "  add           Validate a CA certificate and copy it into a trust directory")
	fmt.Fprintln(stdout, "  remove        Remove a certificate by SHA-256 fingerprint")
	fmt.Fprintln(stdout, "  associations  Show the association table and its certificates")
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "Examples:")
	fmt.Fprintf(stdout, "  %s trust list -partition association\n", os.Args[0])
	fmt.Fprintf(stdout, "  %s trust add -association APEGA apega-ca.pem\n", os.Args[0])
	fmt.Fprintf(stdout, "  %s trust remove 3f2a...e1\n", os.Args[0])
}

// loadTrust loads the configured trust sources without building an engine.
func loadTrust(cfg *config.AppConfig, logger *zap.Logger) ([]*truststore.Entry, error) {
	entries, _, err := truststore.NewLoader(cfg.TrustStore.Sources(), logger).Load()
	return entries, err
}

// trustEntry is the JSON form of a listed certificate.
type trustEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Partition   string    `json:"partition"`
	Association string    `json:"association,omitempty"`
	Subject     string    `json:"subject"`
	NotAfter    time.Time `json:"not_after"`
	Source      string    `json:"source,omitempty"`
}

func trustList(args []string) error {
	fs := flag.NewFlagSet("trust list", flag.ExitOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "Configuration file (YAML)")
	partition := fs.String("partition", "", "Only list one partition: system, custom or association")
	asJSON := fs.Bool("json", false, "Output in JSON format")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	only := -1
	if *partition != "" {
		p, err := truststore.ParsePartition(*partition)
		if err != nil {
			return err
		}
		only = int(p)
	}

	entries, err := loadTrust(cfg, logger)
	if err != nil {
		return err
	}
	list := make([]trustEntry, 0, len(entries))
	for _, e := range entries {
		if only >= 0 && int(e.Partition) != only {
			continue
		}
		list = append(list, trustEntry{
			Fingerprint: e.Cert.Fingerprint.String(),
			Partition:   e.Partition.String(),
			Association: e.Association,
			Subject:     e.Cert.Subject.String(),
			NotAfter:    e.Cert.NotAfter,
			Source:      e.Source,
		})
	}

	if *asJSON {
		writeJSON(stdout, list)
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tASSOCIATION\tSUBJECT\tEXPIRES\tFINGERPRINT")
	for _, e := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Partition, e.Association, e.Subject, e.NotAfter.Format("2006-01-02"), e.Fingerprint[:16])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "\n%d certificate(s)\n", len(list))
	return nil
}

func trustAdd(args []string) error {
	fs := flag.NewFlagSet("trust add", flag.ExitOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "Configuration file (YAML)")
	assoc := fs.String("association", "", "Add the certificate for this association instead of as a custom root")
	dir := fs.String("dir", "", "Custom roots directory (default: the first configured one)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: trust add [options] <certificate>")
	}

	cfg, logger, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}
	certs, err := certmodel.ParseBundle(data)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, c := range certs {
		if err := checkTrustable(c, now); err != nil {
			return err
		}
	}

	target, err := trustTarget(cfg, *assoc, *dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, c := range certs {
		buf.Write(c.EncodePEM())
	}
	path := filepath.Join(target, certs[0].Fingerprint.String()[:16]+".pem")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	logger.Info("Trusted certificate added", zap.String("path", path), zap.Int("certificates", len(certs)))
	for _, c := range certs {
		fmt.Fprintf(stdout, "Added %s (%s)\n", c.Subject, c.Fingerprint)
	}
	fmt.Fprintf(stdout, "Written to %s\n", path)
	return nil
}

// checkTrustable rejects certificates that cannot serve as trust anchors.
func checkTrustable(c *certmodel.Certificate, now time.Time) error {
	if !c.IsCA {
		return fmt.Errorf("%s is not a CA certificate", c.Subject)
	}
	if v := c.ValidityAt(now); v != certmodel.ValidityOK {
		return fmt.Errorf("%s is %s", c.Subject, v)
	}
	if !c.HasKeyUsage(certmodel.KeyUsageKeyCertSign) {
		return fmt.Errorf("%s may not sign certificates", c.Subject)
	}
	return nil
}

func trustTarget(cfg *config.AppConfig, assoc, dir string) (string, error) {
	if assoc != "" {
		table, err := cfg.Associations.LoadTable()
		if err != nil {
			return "", err
		}
		if _, ok := table.Lookup(assoc); !ok {
			return "", fmt.Errorf("unknown association %q (known: %s)", assoc, strings.Join(table.IDs(), ", "))
		}
		if cfg.TrustStore.AssociationDir == "" {
			return "", config.NewConfigError("trust-store.association-dir", "not configured")
		}
		return filepath.Join(cfg.TrustStore.AssociationDir, assoc), nil
	}
	if dir != "" {
		return dir, nil
	}
	if len(cfg.TrustStore.CustomRootsDirs) == 0 {
		return "", config.NewConfigError("trust-store.custom-roots-dirs", "not configured")
	}
	return cfg.TrustStore.CustomRootsDirs[0], nil
}

func trustRemove(args []string) error {
	fs := flag.NewFlagSet("trust remove", flag.ExitOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "Configuration file (YAML)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: trust remove [options] <fingerprint>")
	}

	cfg, logger, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	entries, err := loadTrust(cfg, logger)
	if err != nil {
		return err
	}
	entry, err := findEntry(entries, fs.Arg(0))
	if err != nil {
		return err
	}
	if entry.Partition == truststore.PartitionSystem {
		return fmt.Errorf("%s belongs to the system bundle and cannot be removed", entry.Cert.Subject)
	}

	// the loader keeps duplicates, so every file holding the certificate
	// has to be rewritten for it to stop being trusted
	sources := entrySources(entries, entry.Cert.Fingerprint)
	for _, src := range sources {
		if isPKCS12(src) {
			return fmt.Errorf("%s is a PKCS#12 bundle; remove the file itself", src)
		}
	}
	for _, src := range sources {
		if err := removeFromFile(src, entry.Cert.Fingerprint); err != nil {
			return err
		}
		logger.Info("Trusted certificate removed", zap.String("path", src), zap.Stringer("fingerprint", entry.Cert.Fingerprint))
		fmt.Fprintf(stdout, "Removed %s from %s\n", entry.Cert.Subject, src)
	}
	return nil
}

// entrySources lists the distinct files that hold fp, in load order.
func entrySources(entries []*truststore.Entry, fp certmodel.Fingerprint) []string {
	var sources []string
	for _, e := range entries {
		if e.Cert.Fingerprint == fp && !slices.Contains(sources, e.Source) {
			sources = append(sources, e.Source)
		}
	}
	return sources
}

func isPKCS12(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return true
	}
	return false
}

// findEntry resolves a full fingerprint or an unambiguous hex prefix.
func findEntry(entries []*truststore.Entry, query string) (*truststore.Entry, error) {
	q := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(query), ":", ""))
	if q == "" {
		return nil, errors.New("empty fingerprint")
	}
	var found *truststore.Entry
	for _, e := range entries {
		if !strings.HasPrefix(e.Cert.Fingerprint.String(), q) {
			continue
		}
		if found != nil && found.Cert.Fingerprint != e.Cert.Fingerprint {
			return nil, fmt.Errorf("fingerprint prefix %q is ambiguous", query)
		}
		if found == nil || found.Partition == truststore.PartitionSystem {
			found = e
		}
	}
	if found == nil {
		return nil, fmt.Errorf("no trusted certificate with fingerprint %q", query)
	}
	return found, nil
}

// removeFromFile rewrites a certificate file without fp, deleting the file
// when nothing is left.
func removeFromFile(path string, fp certmodel.Fingerprint) error {
	if isPKCS12(path) {
		return fmt.Errorf("%s is a PKCS#12 bundle; remove the file itself", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	certs, err := certmodel.ParseBundle(data)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, c := range certs {
		if c.Fingerprint != fp {
			buf.Write(c.EncodePEM())
		}
	}
	if buf.Len() == 0 {
		return os.Remove(path)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func trustAssociations(args []string) error {
	fs := flag.NewFlagSet("trust associations", flag.ExitOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "Configuration file (YAML)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	table, err := cfg.Associations.LoadTable()
	if err != nil {
		return err
	}
	entries, err := loadTrust(cfg, logger)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, e := range entries {
		if e.Partition == truststore.PartitionAssociation {
			counts[e.Association]++
		}
	}
	for _, a := range table {
		fmt.Fprintf(stdout, "%s - %s\n", a.ID, a.Name)
		fmt.Fprintf(stdout, "  Keywords: %s\n", strings.Join(a.Keywords, ", "))
		if len(a.PolicyOIDs) > 0 {
			fmt.Fprintf(stdout, "  Policy OIDs: %s\n", strings.Join(a.PolicyOIDs, ", "))
		}
		fmt.Fprintf(stdout, "  Trusted certificates: %d\n", counts[a.ID])
	}
	return nil
}
