// Package certmodel provides the immutable certificate representation shared
// by the trust store, the chain builder and the association mapper.
package certmodel

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"
)

// ErrCertificateParse is returned when bytes do not form a well-formed certificate.
var ErrCertificateParse = errors.New("certificate parse error")

var oidExtensionKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}

// Fingerprint is the SHA-256 digest of a certificate's DER encoding.
type Fingerprint [sha256.Size]byte

// String returns the lowercase hex form of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	fp, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = fp
	return nil
}

// ParseFingerprint parses a hex fingerprint, tolerating ':' separators.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	clean := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return fp, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	if len(raw) != len(fp) {
		return fp, fmt.Errorf("invalid fingerprint %q: expected %d bytes, got %d", s, len(fp), len(raw))
	}
	copy(fp[:], raw)
	return fp, nil
}

// FingerprintOf computes the fingerprint of DER bytes.
func FingerprintOf(der []byte) Fingerprint {
	return Fingerprint(sha256.Sum256(der))
}

// PublicKey describes a certificate's subject public key.
type PublicKey struct {
	// Algorithm is the key algorithm name (RSA, ECDSA, Ed25519, ...).
	Algorithm string
	// Raw is the DER SubjectPublicKeyInfo.
	Raw []byte
	// Key is the parsed key as returned by crypto/x509.
	Key any
}

// ValidityStatus is the outcome of evaluating a validity window at an instant.
type ValidityStatus int

const (
	ValidityOK ValidityStatus = iota
	ValidityExpired
	ValidityNotYetValid
)

// String returns the string representation of the validity status.
func (s ValidityStatus) String() string {
	switch s {
	case ValidityExpired:
		return "expired"
	case ValidityNotYetValid:
		return "not-yet-valid"
	default:
		return "valid"
	}
}

// Certificate is an immutable parsed X.509 certificate.
type Certificate struct {
	Subject      Name
	Issuer       Name
	SerialNumber *big.Int
	NotBefore    time.Time
	NotAfter     time.Time
	PublicKey    PublicKey
	KeyUsage     KeyUsage

	// Policies holds the certificate policy OIDs, sorted and de-duplicated.
	Policies []string

	SubjectKeyID   []byte
	AuthorityKeyID []byte
	IsCA           bool

	// Emails holds subject emailAddress values followed by SAN rfc822 names.
	Emails []string

	OCSPServers           []string
	CRLDistributionPoints []string

	Raw         []byte
	Fingerprint Fingerprint

	keyUsagePresent bool
	x509            *x509.Certificate
}

// Parse parses a DER encoded certificate.
func Parse(der []byte) (*Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateParse, err)
	}
	return FromX509(cert), nil
}

// FromX509 builds a Certificate from an already parsed x509 certificate.
func FromX509(cert *x509.Certificate) *Certificate {
	c := &Certificate{
		Subject:               NewName(cert.Subject),
		Issuer:                NewName(cert.Issuer),
		SerialNumber:          new(big.Int).Set(cert.SerialNumber),
		NotBefore:             cert.NotBefore,
		NotAfter:              cert.NotAfter,
		KeyUsage:              keyUsageFromX509(cert.KeyUsage),
		SubjectKeyID:          cloneBytes(cert.SubjectKeyId),
		AuthorityKeyID:        cloneBytes(cert.AuthorityKeyId),
		IsCA:                  cert.BasicConstraintsValid && cert.IsCA,
		OCSPServers:           append([]string(nil), cert.OCSPServer...),
		CRLDistributionPoints: append([]string(nil), cert.CRLDistributionPoints...),
		Raw:                   cert.Raw,
		Fingerprint:           FingerprintOf(cert.Raw),
		x509:                  cert,
	}

	c.PublicKey = PublicKey{
		Algorithm: cert.PublicKeyAlgorithm.String(),
		Raw:       cert.RawSubjectPublicKeyInfo,
		Key:       cert.PublicKey,
	}

	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidExtensionKeyUsage) {
			c.keyUsagePresent = true
			break
		}
	}

	c.Policies = policyStrings(cert)

	if c.Subject.Email != "" {
		c.Emails = append(c.Emails, c.Subject.Email)
	}
	for _, email := range cert.EmailAddresses {
		if !strings.EqualFold(email, c.Subject.Email) {
			c.Emails = append(c.Emails, email)
		}
	}

	return c
}

func policyStrings(cert *x509.Certificate) []string {
	seen := make(map[string]bool)
	var out []string
	for _, oid := range cert.Policies {
		s := oid.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, oid := range cert.PolicyIdentifiers {
		s := oid.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// X509 returns the underlying parsed certificate.
func (c *Certificate) X509() *x509.Certificate {
	return c.x509
}

// Equal reports whether both certificates are the same entity.
func (c *Certificate) Equal(other *Certificate) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Fingerprint == other.Fingerprint
}

// IsSelfIssued reports whether subject and issuer names are equal.
func (c *Certificate) IsSelfIssued() bool {
	return c.Subject.Equal(c.Issuer)
}

// IsSelfSigned reports whether the certificate is self-issued and its
// signature verifies under its own public key.
func (c *Certificate) IsSelfSigned() bool {
	return c.IsSelfIssued() && c.CheckSignatureFrom(c) == nil
}

// MayBeIssuedBy reports whether parent is a plausible issuer of c. Key
// identifiers decide when both are present, names otherwise.
func (c *Certificate) MayBeIssuedBy(parent *Certificate) bool {
	if len(c.AuthorityKeyID) > 0 && len(parent.SubjectKeyID) > 0 {
		return bytes.Equal(c.AuthorityKeyID, parent.SubjectKeyID)
	}
	return c.Issuer.Equal(parent.Subject)
}

// CheckSignatureFrom verifies that parent's public key signed c. Only the
// cryptographic link is checked; basic constraints and key usage of parent
// are evaluated separately by the chain validator.
func (c *Certificate) CheckSignatureFrom(parent *Certificate) error {
	return parent.x509.CheckSignature(c.x509.SignatureAlgorithm, c.x509.RawTBSCertificate, c.x509.Signature)
}

// SignatureAlgorithm returns the name of the algorithm the issuer signed with.
func (c *Certificate) SignatureAlgorithm() string {
	return c.x509.SignatureAlgorithm.String()
}

// ValidityAt evaluates the validity window at t.
func (c *Certificate) ValidityAt(t time.Time) ValidityStatus {
	if t.Before(c.NotBefore) {
		return ValidityNotYetValid
	}
	if t.After(c.NotAfter) {
		return ValidityExpired
	}
	return ValidityOK
}

// KeyUsagePresent reports whether the key usage extension is present.
func (c *Certificate) KeyUsagePresent() bool {
	return c.keyUsagePresent
}

// HasKeyUsage reports whether every flag in u is set. A certificate without
// the key usage extension is unrestricted.
func (c *Certificate) HasKeyUsage(u KeyUsage) bool {
	if !c.keyUsagePresent {
		return true
	}
	return c.KeyUsage&u == u
}

// HasAnyKeyUsage reports whether at least one flag in u is set. A certificate
// without the key usage extension is unrestricted.
func (c *Certificate) HasAnyKeyUsage(u KeyUsage) bool {
	if !c.keyUsagePresent {
		return true
	}
	return c.KeyUsage&u != 0
}

// EmailDomains returns the lowercase domains of all email addresses.
func (c *Certificate) EmailDomains() []string {
	var out []string
	for _, email := range c.Emails {
		if at := strings.LastIndexByte(email, '@'); at >= 0 && at < len(email)-1 {
			out = append(out, strings.ToLower(email[at+1:]))
		}
	}
	return out
}

// String returns a short human readable description.
func (c *Certificate) String() string {
	return fmt.Sprintf("%s (serial %s)", c.Subject.String(), c.SerialNumber.Text(16))
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
