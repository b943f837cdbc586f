package truststore

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/sealtrust/certmodel"
)

// DefaultSystemBundles are tried in order; the first existing file is used.
var DefaultSystemBundles = []string{
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/etc/ssl/ca-bundle.pem",
	"/etc/ssl/cert.pem",
}

var certificateExtensions = map[string]bool{
	".pem": true,
	".crt": true,
	".cer": true,
	".der": true,
	".p12": true,
	".pfx": true,
}

// LoadError reports a trust source that could not be read at all.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("trust store source %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Sources describes where trusted certificates are read from.
type Sources struct {
	// UseSystem enables loading the system bundle.
	UseSystem bool
	// SystemBundles overrides DefaultSystemBundles.
	SystemBundles []string
	// CustomDirs hold custom roots, one or more certificates per file.
	CustomDirs []string
	// AssociationDir holds one sub-directory per association identifier.
	AssociationDir string
	// PKCS12Password unlocks .p12/.pfx trust bundles.
	PKCS12Password string
}

// LoadReport summarizes a load.
type LoadReport struct {
	SystemBundle string
	Counts       map[Partition]int
	Files        int
	Warnings     []string
}

// Loader reads trusted certificates from disk.
type Loader struct {
	Sources Sources
	Logger  *zap.Logger
}

// NewLoader creates a loader for the sources.
func NewLoader(sources Sources, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{Sources: sources, Logger: logger}
}

// Load reads every configured source. Malformed files are skipped and
// reported; a configured directory that cannot be read fails the load.
func (l *Loader) Load() ([]*Entry, *LoadReport, error) {
	report := &LoadReport{Counts: make(map[Partition]int)}
	var entries []*Entry

	if l.Sources.UseSystem {
		bundles := l.Sources.SystemBundles
		if len(bundles) == 0 {
			bundles = DefaultSystemBundles
		}
		for _, path := range bundles {
			if _, err := os.Stat(path); err != nil {
				continue
			}
			certs, err := readSystemBundle(path, report, l.Logger)
			if err != nil {
				report.warn(l.Logger, fmt.Sprintf("system bundle %s skipped: %v", path, err))
				break
			}
			report.SystemBundle = path
			report.Files++
			for _, c := range certs {
				entries = append(entries, &Entry{Cert: c, Partition: PartitionSystem, Source: path})
			}
			break
		}
		if report.SystemBundle == "" {
			report.warn(l.Logger, "no system certificate bundle found")
		}
	}

	for _, dir := range l.Sources.CustomDirs {
		loaded, err := l.loadDir(dir, PartitionCustom, "", report)
		if err != nil {
			return nil, report, err
		}
		entries = append(entries, loaded...)
	}

	if dir := l.Sources.AssociationDir; dir != "" {
		subdirs, err := os.ReadDir(dir)
		if err != nil {
			return nil, report, &LoadError{Path: dir, Err: err}
		}
		for _, d := range subdirs {
			if !d.IsDir() {
				continue
			}
			loaded, err := l.loadDir(filepath.Join(dir, d.Name()), PartitionAssociation, d.Name(), report)
			if err != nil {
				return nil, report, err
			}
			entries = append(entries, loaded...)
		}
	}

	for _, e := range entries {
		report.Counts[e.Partition]++
	}
	l.Logger.Info("Trust store loaded",
		zap.Int("system", report.Counts[PartitionSystem]),
		zap.Int("custom", report.Counts[PartitionCustom]),
		zap.Int("association", report.Counts[PartitionAssociation]),
		zap.Int("warnings", len(report.Warnings)))
	return entries, report, nil
}

// LoadInto loads the sources and replaces the content of store.
func (l *Loader) LoadInto(store *Store) (*LoadReport, error) {
	entries, report, err := l.Load()
	if err != nil {
		return report, err
	}
	store.Replace(entries)
	return report, nil
}

func (l *Loader) loadDir(dir string, p Partition, association string, report *LoadReport) ([]*Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{Path: dir, Err: err}
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !certificateExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
			continue
		}
		names = append(names, f.Name())
	}
	sort.Strings(names)

	var entries []*Entry
	for _, name := range names {
		path := filepath.Join(dir, name)
		certs, err := l.readFile(path)
		if err != nil {
			report.warn(l.Logger, fmt.Sprintf("%s skipped: %v", path, err))
			continue
		}
		report.Files++
		for _, c := range certs {
			entries = append(entries, &Entry{Cert: c, Partition: p, Association: association, Source: path})
		}
	}
	return entries, nil
}

func (l *Loader) readFile(path string) ([]*certmodel.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return decodePKCS12(data, l.Sources.PKCS12Password)
	default:
		return certmodel.ParseBundle(data)
	}
}

// readSystemBundle parses a distribution bundle block by block so that one
// unparseable root does not discard the others.
func readSystemBundle(path string, report *LoadReport, logger *zap.Logger) ([]*certmodel.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var certs []*certmodel.Certificate
	for n := 1; ; n++ {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := certmodel.Parse(block.Bytes)
		if err != nil {
			report.warn(logger, fmt.Sprintf("%s block %d skipped: %v", path, n, err))
			continue
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no certificates in bundle", certmodel.ErrCertificateParse)
	}
	return certs, nil
}

// decodePKCS12 accepts both trust store bundles and key bundles; for the
// latter only the certificates are kept.
func decodePKCS12(data []byte, password string) ([]*certmodel.Certificate, error) {
	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err != nil {
		_, leaf, cas, chainErr := pkcs12.DecodeChain(data, password)
		if chainErr != nil {
			return nil, fmt.Errorf("%w: PKCS#12: %v", certmodel.ErrCertificateParse, errors.Join(err, chainErr))
		}
		certs = append([]*x509.Certificate{leaf}, cas...)
	}
	out := make([]*certmodel.Certificate, 0, len(certs))
	for _, c := range certs {
		out = append(out, certmodel.FromX509(c))
	}
	return out, nil
}

func (r *LoadReport) warn(logger *zap.Logger, msg string) {
	r.Warnings = append(r.Warnings, msg)
	logger.Warn("Trust store source skipped", zap.String("reason", msg))
}
