package digital

import (
	"time"

	"github.com/georgepadayatti/sealtrust/association"
	"github.com/georgepadayatti/sealtrust/certmodel"
	"github.com/georgepadayatti/sealtrust/chain"
)

// TrustStatus is the document level verdict over all signatures.
type TrustStatus string

const (
	TrustFullyTrusted     TrustStatus = "fully_trusted"
	TrustPartiallyTrusted TrustStatus = "partially_trusted"
	TrustUntrusted        TrustStatus = "untrusted"
	TrustNoSignatures     TrustStatus = "no_signatures"
)

// TrustStatusFor aggregates signature counts.
func TrustStatusFor(total, valid int) TrustStatus {
	switch {
	case total == 0:
		return TrustNoSignatures
	case valid == total:
		return TrustFullyTrusted
	case valid > 0:
		return TrustPartiallyTrusted
	default:
		return TrustUntrusted
	}
}

// Trusted reports whether at least one signature is valid.
func (s TrustStatus) Trusted() bool {
	return s == TrustFullyTrusted || s == TrustPartiallyTrusted
}

// CertificateValidationResult is the chain verdict of one signature plus
// the association its chain was attributed to.
type CertificateValidationResult struct {
	*chain.Result
	Association *association.Match `json:"association,omitempty"`
}

// Signature is one validated signing event.
type Signature struct {
	FieldName   string     `json:"field_name"`
	SignerName  string     `json:"signer_name"`
	SignerEmail string     `json:"signer_email,omitempty"`
	Location    string     `json:"location,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ContactInfo string     `json:"contact_info,omitempty"`
	SigningTime *time.Time `json:"signing_time,omitempty"`

	ContainerKind      string   `json:"container_kind"`
	SubFilter          string   `json:"sub_filter,omitempty"`
	ByteRange          [4]int64 `json:"byte_range"`
	DigestAlgorithm    string   `json:"digest_algorithm"`
	SignatureAlgorithm string   `json:"signature_algorithm"`

	Certificate *certmodel.Certificate   `json:"-"`
	Embedded    []*certmodel.Certificate `json:"-"`

	IntegrityValid bool   `json:"integrity_valid"`
	IntegrityError string `json:"integrity_error,omitempty"`

	Validation *CertificateValidationResult `json:"certificate_validation"`
	Valid      bool                         `json:"valid"`
	Warnings   []string                     `json:"warnings,omitempty"`
}

// AssociationID returns the matched association, or "".
func (s *Signature) AssociationID() string {
	if s.Validation == nil || s.Validation.Association == nil {
		return ""
	}
	return s.Validation.Association.Association
}

// Result is the verdict over all signatures of a document.
type Result struct {
	Signatures              []*Signature `json:"signatures"`
	TotalCount              int          `json:"total_count"`
	ValidCount              int          `json:"valid_count"`
	TrustStatus             TrustStatus  `json:"trust_status"`
	CertificateAssociations []string     `json:"certificate_associations"`
	Warnings                []string     `json:"warnings,omitempty"`
}

// SignaturesFound reports whether the document carries any signature.
func (r *Result) SignaturesFound() bool {
	return r.TotalCount > 0
}
