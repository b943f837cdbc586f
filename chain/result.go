package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/georgepadayatti/sealtrust/certmodel"
	"github.com/georgepadayatti/sealtrust/revocation"
)

var (
	ErrChainIncomplete    = errors.New("certificate chain incomplete")
	ErrSignatureInvalid   = errors.New("certificate signature invalid")
	ErrChainTooLong       = errors.New("certificate chain too long")
	ErrCertificateRevoked = errors.New("certificate revoked")

	// ErrUntrustedRoot is a ChainIncomplete failure: a self-signed
	// certificate outside the store has no issuer left to try.
	ErrUntrustedRoot = fmt.Errorf("%w: self-signed certificate is not trusted", ErrChainIncomplete)
)

// Status is the verdict on one certificate of a chain.
type Status string

const (
	StatusValid             Status = "valid"
	StatusExpired           Status = "expired"
	StatusNotYetValid       Status = "not-yet-valid"
	StatusRevoked           Status = "revoked"
	StatusRevocationUnknown Status = "revocation-unknown"
	StatusSignatureInvalid  Status = "signature-invalid"
	StatusKeyUsageInvalid   Status = "key-usage-invalid"
)

// severity orders statuses when several apply to one certificate.
var severity = map[Status]int{
	StatusValid:             0,
	StatusRevocationUnknown: 1,
	StatusKeyUsageInvalid:   2,
	StatusNotYetValid:       3,
	StatusExpired:           4,
	StatusRevoked:           5,
	StatusSignatureInvalid:  6,
}

// Worse reports whether s takes precedence over other.
func (s Status) Worse(other Status) bool {
	return severity[s] > severity[other]
}

// RevocationInfo records the revocation answer for a certificate.
type RevocationInfo struct {
	Status    string     `json:"status"`
	Source    string     `json:"source,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// CertificateStatus is the per-certificate entry of a Result.
type CertificateStatus struct {
	Fingerprint  certmodel.Fingerprint `json:"fingerprint"`
	Subject      string                `json:"subject"`
	Issuer       string                `json:"issuer"`
	SerialNumber string                `json:"serial_number"`
	NotBefore    time.Time             `json:"not_before"`
	NotAfter     time.Time             `json:"not_after"`
	Status       Status                `json:"status"`
	TrustAnchor  bool                  `json:"trust_anchor,omitempty"`
	Revocation   *RevocationInfo       `json:"revocation,omitempty"`
}

// Result is the outcome of building and validating one chain.
type Result struct {
	// Chain runs from the leaf to the last certificate reached.
	Chain []*certmodel.Certificate `json:"-"`
	// Statuses is parallel to Chain.
	Statuses []CertificateStatus `json:"certificates"`

	ChainComplete      bool `json:"chain_complete"`
	TrustAnchorReached bool `json:"trust_anchor_reached"`
	KeyUsageOK         bool `json:"key_usage_ok"`

	// Failure is the first chain level failure, matched with errors.Is.
	Failure        error  `json:"-"`
	FailureMessage string `json:"failure,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Leaf returns the first certificate of the chain.
func (r *Result) Leaf() *certmodel.Certificate {
	if len(r.Chain) == 0 {
		return nil
	}
	return r.Chain[0]
}

// Anchor returns the trust anchor, or nil when none was reached.
func (r *Result) Anchor() *certmodel.Certificate {
	if !r.TrustAnchorReached {
		return nil
	}
	return r.Chain[len(r.Chain)-1]
}

// StatusOf returns the status of the certificate with the fingerprint.
func (r *Result) StatusOf(fp certmodel.Fingerprint) (Status, bool) {
	for _, s := range r.Statuses {
		if s.Fingerprint == fp {
			return s.Status, true
		}
	}
	return "", false
}

// HasStatus reports whether any certificate has one of the statuses.
func (r *Result) HasStatus(statuses ...Status) bool {
	for _, s := range r.Statuses {
		for _, want := range statuses {
			if s.Status == want {
				return true
			}
		}
	}
	return false
}

func (r *Result) append(cert *certmodel.Certificate) {
	r.Chain = append(r.Chain, cert)
	r.Statuses = append(r.Statuses, CertificateStatus{
		Fingerprint:  cert.Fingerprint,
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.Text(16),
		NotBefore:    cert.NotBefore.UTC(),
		NotAfter:     cert.NotAfter.UTC(),
		Status:       StatusValid,
	})
}

// downgrade sets the status of certificate i unless a worse one is recorded.
func (r *Result) downgrade(i int, s Status) {
	if s.Worse(r.Statuses[i].Status) {
		r.Statuses[i].Status = s
	}
}

// fail records err as the chain failure unless one is already recorded.
func (r *Result) fail(err error) {
	r.Errors = append(r.Errors, err.Error())
	if r.Failure == nil {
		r.Failure = err
		r.FailureMessage = err.Error()
	}
}

func revocationInfo(res revocation.Result) *RevocationInfo {
	info := &RevocationInfo{
		Status: res.Status.String(),
		Source: res.Source,
		Reason: res.Reason,
	}
	if !res.RevokedAt.IsZero() {
		at := res.RevokedAt.UTC()
		info.RevokedAt = &at
	}
	return info
}
