package testpki

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/asn1"
	"sort"
	"testing"
	"time"

	"github.com/georgepadayatti/sealtrust/container"
)

type cmsOptions struct {
	encapsulate   bool
	adobeSHA1     bool
	noSignedAttrs bool
	ess           bool
	essHash       []byte
	extraCerts    []*Identity
	omitSigner    bool
	useSKI        bool
	signingTime   time.Time
	digestOID     asn1.ObjectIdentifier
	tamperDigest  bool
}

// CMSOption customizes a generated SignedData container.
type CMSOption func(*cmsOptions)

// Encapsulated embeds the content in the container instead of signing it detached.
func Encapsulated() CMSOption {
	return func(o *cmsOptions) { o.encapsulate = true }
}

// AdobeSHA1 embeds the SHA-1 digest of the content, as adbe.pkcs7.sha1 does.
func AdobeSHA1() CMSOption {
	return func(o *cmsOptions) { o.adobeSHA1 = true }
}

// WithoutSignedAttributes signs the content directly.
func WithoutSignedAttributes() CMSOption {
	return func(o *cmsOptions) { o.noSignedAttrs = true }
}

// WithSigningCertificateV2 adds the ESS signing-certificate-v2 attribute.
func WithSigningCertificateV2() CMSOption {
	return func(o *cmsOptions) { o.ess = true }
}

// WithSigningCertificateHash adds an ESS attribute carrying hash verbatim.
func WithSigningCertificateHash(hash []byte) CMSOption {
	return func(o *cmsOptions) {
		o.ess = true
		o.essHash = hash
	}
}

// WithCertificates embeds additional certificates after the signer's.
func WithCertificates(ids ...*Identity) CMSOption {
	return func(o *cmsOptions) { o.extraCerts = append(o.extraCerts, ids...) }
}

// WithoutSignerCertificate leaves the signer certificate out of the container.
func WithoutSignerCertificate() CMSOption {
	return func(o *cmsOptions) { o.omitSigner = true }
}

// WithSubjectKeyIdentifier identifies the signer by subject key identifier.
func WithSubjectKeyIdentifier() CMSOption {
	return func(o *cmsOptions) { o.useSKI = true }
}

// WithSigningTime adds the signingTime attribute.
func WithSigningTime(t time.Time) CMSOption {
	return func(o *cmsOptions) { o.signingTime = t }
}

// WithDigestAlgorithm overrides the advertised digest algorithm OID. Content
// is still hashed with SHA-256.
func WithDigestAlgorithm(oid asn1.ObjectIdentifier) CMSOption {
	return func(o *cmsOptions) { o.digestOID = oid }
}

// WithWrongMessageDigest corrupts the messageDigest attribute.
func WithWrongMessageDigest() CMSOption {
	return func(o *cmsOptions) { o.tamperDigest = true }
}

// SignCMS produces a DER ContentInfo carrying SignedData over content.
func SignCMS(t testing.TB, signer *Identity, content []byte, opts ...CMSOption) []byte {
	t.Helper()
	o := &cmsOptions{digestOID: container.OIDSHA256}
	for _, opt := range opts {
		opt(o)
	}

	signedContent := content
	if o.adobeSHA1 {
		sum := sha1.Sum(content)
		signedContent = sum[:]
		o.encapsulate = true
	}

	digest := sha256.Sum256(signedContent)
	toSign := signedContent

	var signedAttrs asn1.RawValue
	if !o.noSignedAttrs {
		md := digest[:]
		if o.tamperDigest {
			md = append([]byte(nil), md...)
			md[0] ^= 0xff
		}
		attrs := [][]byte{
			marshalAttribute(t, container.OIDContentType, container.OIDData),
			marshalAttribute(t, container.OIDMessageDigest, md),
		}
		if !o.signingTime.IsZero() {
			attrs = append(attrs, marshalAttribute(t, container.OIDSigningTime, o.signingTime.UTC()))
		}
		if o.ess {
			hash := o.essHash
			if hash == nil {
				sum := sha256.Sum256(signer.Cert.Raw)
				hash = sum[:]
			}
			ess := container.SigningCertificateV2{Certs: []container.ESSCertIDv2{{CertHash: hash}}}
			attrs = append(attrs, marshalAttribute(t, container.OIDSigningCertificateV2, ess))
		}
		sort.Slice(attrs, func(i, j int) bool { return bytes.Compare(attrs[i], attrs[j]) < 0 })
		body := bytes.Join(attrs, nil)

		set, err := asn1.Marshal(asn1.RawValue{Tag: asn1.TagSet, IsCompound: true, Bytes: body})
		if err != nil {
			t.Fatalf("Failed to marshal signed attributes: %v", err)
		}
		toSign = set
		signedAttrs = asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: body}
	}

	h := sha256.Sum256(toSign)
	signature, err := signer.Key.Sign(rand.Reader, h[:], crypto.SHA256)
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	si := container.SignerInfoRaw{
		Version:            1,
		SID:                signerIdentifier(t, signer, o.useSKI),
		DigestAlgorithm:    container.AlgorithmIdentifier{Algorithm: o.digestOID},
		SignedAttrs:        signedAttrs,
		SignatureAlgorithm: container.AlgorithmIdentifier{Algorithm: signatureOID(signer.Key)},
		Signature:          signature,
	}
	if o.useSKI {
		si.Version = 3
	}
	siDER, err := asn1.Marshal(si)
	if err != nil {
		t.Fatalf("Failed to marshal SignerInfo: %v", err)
	}

	var certs []asn1.RawValue
	if !o.omitSigner {
		certs = append(certs, asn1.RawValue{FullBytes: signer.Cert.Raw})
	}
	for _, id := range o.extraCerts {
		certs = append(certs, asn1.RawValue{FullBytes: id.Cert.Raw})
	}

	sd := container.SignedDataRaw{
		Version:          1,
		DigestAlgorithms: []container.AlgorithmIdentifier{{Algorithm: o.digestOID}},
		EncapContentInfo: container.EncapsulatedContentInfo{EContentType: container.OIDData},
		Certificates:     certs,
		SignerInfos:      []asn1.RawValue{{FullBytes: siDER}},
	}
	if o.encapsulate {
		octets, err := asn1.Marshal(signedContent)
		if err != nil {
			t.Fatalf("Failed to marshal content: %v", err)
		}
		sd.EncapContentInfo.EContent = asn1.RawValue{
			Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: octets,
		}
	}
	sdDER, err := asn1.Marshal(sd)
	if err != nil {
		t.Fatalf("Failed to marshal SignedData: %v", err)
	}

	der, err := asn1.Marshal(container.ContentInfo{
		ContentType: container.OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: sdDER},
	})
	if err != nil {
		t.Fatalf("Failed to marshal ContentInfo: %v", err)
	}
	return der
}

func marshalAttribute(t testing.TB, oid asn1.ObjectIdentifier, value any) []byte {
	t.Helper()
	v, err := asn1.Marshal(value)
	if err != nil {
		t.Fatalf("Failed to marshal attribute value: %v", err)
	}
	attr, err := asn1.Marshal(container.Attribute{Type: oid, Values: []asn1.RawValue{{FullBytes: v}}})
	if err != nil {
		t.Fatalf("Failed to marshal attribute: %v", err)
	}
	return attr
}

func signerIdentifier(t testing.TB, signer *Identity, useSKI bool) asn1.RawValue {
	t.Helper()
	if useSKI {
		return asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, Bytes: signer.Cert.SubjectKeyID}
	}
	ias, err := asn1.Marshal(container.IssuerAndSerialNumber{
		Issuer:       asn1.RawValue{FullBytes: signer.X509().RawIssuer},
		SerialNumber: signer.Cert.SerialNumber,
	})
	if err != nil {
		t.Fatalf("Failed to marshal signer identifier: %v", err)
	}
	return asn1.RawValue{FullBytes: ias}
}

func signatureOID(key crypto.Signer) asn1.ObjectIdentifier {
	switch key.(type) {
	case *rsa.PrivateKey:
		return container.OIDSHA256WithRSA
	case *ecdsa.PrivateKey:
		return container.OIDECDSAWithSHA256
	default:
		return nil
	}
}
