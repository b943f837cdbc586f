package revocation

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/sealtrust/certmodel"
)

// ParseCRL parses a DER or PEM ("X509 CRL") encoded revocation list.
func ParseCRL(data []byte) (*x509.RevocationList, error) {
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	crl, err := x509.ParseRevocationList(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCRLParseFailed, err)
	}
	return crl, nil
}

// evaluateCRL answers for cert from a CRL that must be issued and signed by
// issuer and current at now.
func evaluateCRL(crl *x509.RevocationList, cert, issuer *certmodel.Certificate, now time.Time) Result {
	if !bytes.Equal(crl.RawIssuer, issuer.X509().RawSubject) {
		return Result{Status: StatusUnknown, Source: SourceCRL, Err: ErrCRLIssuerMismatch}
	}
	if err := crl.CheckSignatureFrom(issuer.X509()); err != nil {
		return Result{Status: StatusUnknown, Source: SourceCRL, Err: fmt.Errorf("%w: %v", ErrCRLIssuerMismatch, err)}
	}
	if !crl.NextUpdate.IsZero() && now.After(crl.NextUpdate) {
		return Result{Status: StatusUnknown, Source: SourceCRL,
			Err: fmt.Errorf("%w: CRL next update %s", ErrStale, crl.NextUpdate.UTC().Format(time.RFC3339))}
	}
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return Result{
				Status:    StatusRevoked,
				Source:    SourceCRL,
				RevokedAt: entry.RevocationTime.UTC(),
				Reason:    ReasonName(entry.ReasonCode),
			}
		}
	}
	return Result{Status: StatusGood, Source: SourceCRL}
}

// CRLSetChecker answers from revocation lists held locally.
type CRLSetChecker struct {
	clock clockwork.Clock
	crls  []*x509.RevocationList
}

// NewCRLSetChecker creates an offline checker over crls. A nil clock uses
// the real clock.
func NewCRLSetChecker(clock clockwork.Clock, crls ...*x509.RevocationList) *CRLSetChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CRLSetChecker{clock: clock, crls: crls}
}

// Len returns the number of loaded CRLs.
func (c *CRLSetChecker) Len() int {
	return len(c.crls)
}

// Check implements Checker. Revoked wins over good when several CRLs of the
// same issuer disagree.
func (c *CRLSetChecker) Check(_ context.Context, cert, issuer *certmodel.Certificate) Result {
	if issuer == nil {
		return Result{Status: StatusUnknown, Source: SourceCRL, Err: ErrNoIssuer}
	}
	now := c.clock.Now()
	best := Result{Status: StatusUnknown, Source: SourceCRL}
	for _, crl := range c.crls {
		if !bytes.Equal(crl.RawIssuer, issuer.X509().RawSubject) {
			continue
		}
		res := evaluateCRL(crl, cert, issuer, now)
		switch res.Status {
		case StatusRevoked:
			return res
		case StatusGood:
			best = res
		default:
			if best.Status == StatusUnknown {
				best = res
			}
		}
	}
	if best.Status == StatusUnknown && best.Err == nil {
		best.Err = fmt.Errorf("no local CRL for issuer %s", issuer.Subject)
	}
	return best
}

var crlExtensions = map[string]bool{
	".crl": true,
	".pem": true,
	".der": true,
}

// LoadCRLDirs reads every CRL file in dirs. Files that do not parse are
// returned as warnings; a directory that cannot be read is an error.
func LoadCRLDirs(dirs ...string) ([]*x509.RevocationList, []string, error) {
	var (
		crls     []*x509.RevocationList
		warnings []string
	)
	for _, dir := range dirs {
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, warnings, fmt.Errorf("CRL directory %s: %w", dir, err)
		}
		var names []string
		for _, f := range files {
			if !f.IsDir() && crlExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s skipped: %v", path, err))
				continue
			}
			crl, err := ParseCRL(data)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s skipped: %v", path, err))
				continue
			}
			crls = append(crls, crl)
		}
	}
	return crls, warnings, nil
}
