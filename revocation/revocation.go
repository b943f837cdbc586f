// Package revocation reports whether certificates have been revoked.
//
// Checkers never fail: network or parsing problems degrade to StatusUnknown
// with the cause attached to the result, so an unreachable responder can
// never by itself invalidate a signature.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/sealtrust/certmodel"
)

var (
	ErrFetchFailed          = errors.New("revocation fetch failed")
	ErrResponseTooLarge     = errors.New("revocation response too large")
	ErrNoOCSPServers        = errors.New("certificate has no OCSP servers")
	ErrNoDistributionPoints = errors.New("certificate has no CRL distribution points")
	ErrOCSPParseFailed      = errors.New("failed to parse OCSP response")
	ErrCRLParseFailed       = errors.New("failed to parse CRL")
	ErrCRLIssuerMismatch    = errors.New("CRL not issued by certificate issuer")
	ErrStale                = errors.New("revocation information is stale")
	ErrNoIssuer             = errors.New("issuer certificate is required")
)

// Status is the revocation state of a certificate.
type Status int

const (
	StatusUnknown Status = iota
	StatusGood
	StatusRevoked
)

// String returns a string representation of the revocation status.
func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source names where a revocation answer came from.
const (
	SourceNone = "none"
	SourceOCSP = "OCSP"
	SourceCRL  = "CRL"
)

// Result contains the result of a revocation check.
type Result struct {
	Status    Status
	Source    string
	RevokedAt time.Time
	Reason    string
	// Err explains an unknown status. It is informational only.
	Err error
}

// Decisive reports whether the result settles the question.
func (r Result) Decisive() bool {
	return r.Status != StatusUnknown
}

// Checker looks up the revocation status of cert, issued by issuer. A trust
// anchor is passed as its own issuer.
type Checker interface {
	Check(ctx context.Context, cert, issuer *certmodel.Certificate) Result
}

// NoopChecker answers unknown for every certificate.
type NoopChecker struct{}

// Check implements Checker.
func (NoopChecker) Check(context.Context, *certmodel.Certificate, *certmodel.Certificate) Result {
	return Result{Status: StatusUnknown, Source: SourceNone}
}

type chained []Checker

// Chain returns a checker asking each checker in turn and returning the
// first decisive answer. When none is decisive the unknown results' errors
// are joined.
func Chain(checkers ...Checker) Checker {
	if len(checkers) == 1 {
		return checkers[0]
	}
	return chained(checkers)
}

func (c chained) Check(ctx context.Context, cert, issuer *certmodel.Certificate) Result {
	var errs []error
	source := SourceNone
	for _, checker := range c {
		res := checker.Check(ctx, cert, issuer)
		if res.Decisive() {
			return res
		}
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
		if res.Source != SourceNone && res.Source != "" {
			source = res.Source
		}
	}
	return Result{Status: StatusUnknown, Source: source, Err: errors.Join(errs...)}
}

var reasonNames = map[int]string{
	ocsp.Unspecified:          "unspecified",
	ocsp.KeyCompromise:        "keyCompromise",
	ocsp.CACompromise:         "cACompromise",
	ocsp.AffiliationChanged:   "affiliationChanged",
	ocsp.Superseded:           "superseded",
	ocsp.CessationOfOperation: "cessationOfOperation",
	ocsp.CertificateHold:      "certificateHold",
	ocsp.RemoveFromCRL:        "removeFromCRL",
	ocsp.PrivilegeWithdrawn:   "privilegeWithdrawn",
	ocsp.AACompromise:         "aACompromise",
}

// ReasonName returns the RFC 5280 name of a CRL reason code.
func ReasonName(code int) string {
	if name, ok := reasonNames[code]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", code)
}
