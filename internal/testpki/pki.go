// Package testpki builds throwaway certificate hierarchies, CMS containers
// and signed PDF documents for tests.
package testpki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/sealtrust/certmodel"
)

// Identity is a certificate together with its private key.
type Identity struct {
	Cert *certmodel.Certificate
	Key  crypto.Signer
}

// X509 returns the parsed x509 form of the certificate.
func (id *Identity) X509() *x509.Certificate {
	return id.Cert.X509()
}

// PEM returns the certificate PEM encoded.
func (id *Identity) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: id.Cert.Raw})
}

type options struct {
	organization string
	unit         string
	email        string
	sanEmails    []string
	country      string
	notBefore    time.Time
	notAfter     time.Time
	keyUsage     x509.KeyUsage
	noKeyUsage   bool
	policies     []string
	ocspServer   string
	crlURL       string
	rsaKey       bool
	serial       *big.Int
	keyID        []byte
}

// Option customizes a generated certificate.
type Option func(*options)

// WithOrganization sets the subject organization.
func WithOrganization(org string) Option {
	return func(o *options) { o.organization = org }
}

// WithOrganizationalUnit sets the subject organizational unit.
func WithOrganizationalUnit(unit string) Option {
	return func(o *options) { o.unit = unit }
}

// WithCountry sets the subject country.
func WithCountry(country string) Option {
	return func(o *options) { o.country = country }
}

// WithEmail sets the subject emailAddress attribute.
func WithEmail(email string) Option {
	return func(o *options) { o.email = email }
}

// WithSANEmail adds an rfc822Name subject alternative name.
func WithSANEmail(email string) Option {
	return func(o *options) { o.sanEmails = append(o.sanEmails, email) }
}

// WithValidity sets the validity window.
func WithValidity(notBefore, notAfter time.Time) Option {
	return func(o *options) {
		o.notBefore = notBefore
		o.notAfter = notAfter
	}
}

// WithKeyUsage replaces the default key usage.
func WithKeyUsage(ku x509.KeyUsage) Option {
	return func(o *options) { o.keyUsage = ku }
}

// WithoutKeyUsage omits the key usage extension.
func WithoutKeyUsage() Option {
	return func(o *options) { o.noKeyUsage = true }
}

// WithPolicies adds certificate policy OIDs in dotted form.
func WithPolicies(oids ...string) Option {
	return func(o *options) { o.policies = append(o.policies, oids...) }
}

// WithOCSPServer sets the authority information access OCSP URL.
func WithOCSPServer(url string) Option {
	return func(o *options) { o.ocspServer = url }
}

// WithCRLDistributionPoint sets the CRL distribution point URL.
func WithCRLDistributionPoint(url string) Option {
	return func(o *options) { o.crlURL = url }
}

// WithRSAKey generates a 2048-bit RSA key instead of ECDSA P-256.
func WithRSAKey() Option {
	return func(o *options) { o.rsaKey = true }
}

// WithSubjectKeyID overrides the subject key identifier, which lets tests
// forge a certificate that claims to be another one's issuer.
func WithSubjectKeyID(ski []byte) Option {
	return func(o *options) { o.keyID = ski }
}

// WithSerial fixes the serial number.
func WithSerial(serial int64) Option {
	return func(o *options) { o.serial = big.NewInt(serial) }
}

// NewRoot creates a self-signed root CA.
func NewRoot(t testing.TB, commonName string, opts ...Option) *Identity {
	t.Helper()
	o := buildOptions(x509.KeyUsageCertSign|x509.KeyUsageCRLSign, opts)
	key := newKey(t, o)
	template := newTemplate(t, commonName, key, o)
	template.IsCA = true
	template.BasicConstraintsValid = true
	template.MaxPathLen = 3
	return create(t, template, template, key, key)
}

// NewIntermediate creates an intermediate CA issued by parent.
func NewIntermediate(t testing.TB, parent *Identity, commonName string, opts ...Option) *Identity {
	t.Helper()
	o := buildOptions(x509.KeyUsageCertSign|x509.KeyUsageCRLSign, opts)
	key := newKey(t, o)
	template := newTemplate(t, commonName, key, o)
	template.IsCA = true
	template.BasicConstraintsValid = true
	return create(t, template, parent.X509(), key, parent.Key)
}

// NewLeaf creates an end-entity signing certificate issued by parent.
func NewLeaf(t testing.TB, parent *Identity, commonName string, opts ...Option) *Identity {
	t.Helper()
	o := buildOptions(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment, opts)
	key := newKey(t, o)
	template := newTemplate(t, commonName, key, o)
	template.BasicConstraintsValid = true
	return create(t, template, parent.X509(), key, parent.Key)
}

// Chain is a root, intermediate and leaf issued in sequence.
type Chain struct {
	Root         *Identity
	Intermediate *Identity
	Leaf         *Identity
}

// NewChain creates a three level hierarchy. Leaf options are applied to the
// leaf only.
func NewChain(t testing.TB, leafOpts ...Option) *Chain {
	t.Helper()
	root := NewRoot(t, "Test Root CA", WithOrganization("Test Trust Services"))
	inter := NewIntermediate(t, root, "Test Issuing CA", WithOrganization("Test Trust Services"))
	leaf := NewLeaf(t, inter, "Jane Engineer", leafOpts...)
	return &Chain{Root: root, Intermediate: inter, Leaf: leaf}
}

func buildOptions(defaultKU x509.KeyUsage, opts []Option) *options {
	now := time.Now()
	o := &options{
		organization: "Test Org",
		notBefore:    now.Add(-time.Hour),
		notAfter:     now.Add(365 * 24 * time.Hour),
		keyUsage:     defaultKU,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newKey(t testing.TB, o *options) crypto.Signer {
	t.Helper()
	if o.rsaKey {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("Failed to generate RSA key: %v", err)
		}
		return key
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate ECDSA key: %v", err)
	}
	return key
}

func newTemplate(t testing.TB, commonName string, key crypto.Signer, o *options) *x509.Certificate {
	t.Helper()

	serial := o.serial
	if serial == nil {
		var err error
		serial, err = rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
		if err != nil {
			t.Fatalf("Failed to generate serial: %v", err)
		}
	}

	subject := pkix.Name{CommonName: commonName}
	if o.organization != "" {
		subject.Organization = []string{o.organization}
	}
	if o.unit != "" {
		subject.OrganizationalUnit = []string{o.unit}
	}
	if o.country != "" {
		subject.Country = []string{o.country}
	}
	if o.email != "" {
		subject.ExtraNames = append(subject.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1},
			Value: o.email,
		})
	}

	template := &x509.Certificate{
		SerialNumber:   serial,
		Subject:        subject,
		NotBefore:      o.notBefore,
		NotAfter:       o.notAfter,
		SubjectKeyId:   subjectKeyID(t, key.Public()),
		EmailAddresses: o.sanEmails,
	}
	if o.keyID != nil {
		template.SubjectKeyId = o.keyID
	}
	if !o.noKeyUsage {
		template.KeyUsage = o.keyUsage
	}
	for _, p := range o.policies {
		oid, err := x509.ParseOID(p)
		if err != nil {
			t.Fatalf("Invalid policy OID %q: %v", p, err)
		}
		template.Policies = append(template.Policies, oid)
	}
	if o.ocspServer != "" {
		template.OCSPServer = []string{o.ocspServer}
	}
	if o.crlURL != "" {
		template.CRLDistributionPoints = []string{o.crlURL}
	}
	return template
}

func subjectKeyID(t testing.TB, pub crypto.PublicKey) []byte {
	t.Helper()
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	sum := sha1.Sum(spki)
	return sum[:]
}

func create(t testing.TB, template, parent *x509.Certificate, key, parentKey crypto.Signer) *Identity {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), parentKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := certmodel.Parse(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return &Identity{Cert: cert, Key: key}
}

// CRL issues a DER CRL revoking the given certificates.
func (id *Identity) CRL(t testing.TB, thisUpdate, nextUpdate time.Time, revoked ...*certmodel.Certificate) []byte {
	t.Helper()
	template := &x509.RevocationList{
		Number:     big.NewInt(time.Now().UnixNano()),
		ThisUpdate: thisUpdate,
		NextUpdate: nextUpdate,
	}
	for _, cert := range revoked {
		template.RevokedCertificateEntries = append(template.RevokedCertificateEntries, x509.RevocationListEntry{
			SerialNumber:   cert.SerialNumber,
			RevocationTime: thisUpdate,
			ReasonCode:     1,
		})
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, id.X509(), id.Key)
	if err != nil {
		t.Fatalf("Failed to create CRL: %v", err)
	}
	return der
}

// OCSPResponse issues an OCSP response for cert signed directly by id.
// status is one of ocsp.Good, ocsp.Revoked or ocsp.Unknown.
func (id *Identity) OCSPResponse(t testing.TB, cert *certmodel.Certificate, status int, thisUpdate time.Time) []byte {
	t.Helper()
	template := ocsp.Response{
		Status:       status,
		SerialNumber: cert.SerialNumber,
		ThisUpdate:   thisUpdate,
		NextUpdate:   thisUpdate.Add(24 * time.Hour),
	}
	if status == ocsp.Revoked {
		template.RevokedAt = thisUpdate.Add(-time.Hour)
		template.RevocationReason = ocsp.KeyCompromise
	}
	der, err := ocsp.CreateResponse(id.X509(), id.X509(), template, id.Key)
	if err != nil {
		t.Fatalf("Failed to create OCSP response: %v", err)
	}
	return der
}
