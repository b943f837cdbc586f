// Package container decodes the CMS/PKCS#7 signature containers embedded in
// signed documents.
//
// Supported container kinds form a closed set. Each kind has its own decoder
// and all decoders produce the same Container description.
package container

import (
	"bytes"
	"crypto"
	"crypto/sha1"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/georgepadayatti/sealtrust/certmodel"
)

// Common errors
var (
	ErrContainerMalformed         = errors.New("container malformed")
	ErrUnsupportedContainerFormat = errors.New("unsupported container format")
)

// Kind identifies a signature container format.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAdobeDetached is adbe.pkcs7.detached: detached CMS over the covered bytes.
	KindAdobeDetached
	// KindAdobeSHA1 is adbe.pkcs7.sha1: the encapsulated content is the SHA-1
	// digest of the covered bytes.
	KindAdobeSHA1
	// KindPAdES is ETSI.CAdES.detached.
	KindPAdES
	// KindCMS is a plain PKCS#7/CMS SignedData, encapsulated or detached.
	KindCMS
)

// String returns the sub-filter style name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAdobeDetached:
		return "adbe.pkcs7.detached"
	case KindAdobeSHA1:
		return "adbe.pkcs7.sha1"
	case KindPAdES:
		return "ETSI.CAdES.detached"
	case KindCMS:
		return "CMS"
	default:
		return "unknown"
	}
}

// KindFor maps a signature dictionary's Filter and SubFilter to a kind.
// Unknown sub-filters fall back to generic CMS decoding.
func KindFor(filter, subFilter string) Kind {
	switch strings.TrimPrefix(subFilter, "/") {
	case "adbe.pkcs7.detached":
		return KindAdobeDetached
	case "adbe.pkcs7.sha1":
		return KindAdobeSHA1
	case "ETSI.CAdES.detached":
		return KindPAdES
	}
	if strings.TrimPrefix(filter, "/") == "Adobe.PPKLite" && subFilter == "" {
		return KindAdobeDetached
	}
	return KindCMS
}

// Signer describes the SignerInfo of a container.
type Signer struct {
	// IssuerRaw and SerialNumber are set for IssuerAndSerialNumber identifiers.
	IssuerRaw    []byte
	SerialNumber *big.Int
	// SubjectKeyID is set for subject key identifier signer identifiers.
	SubjectKeyID []byte

	DigestAlgorithm    crypto.Hash
	DigestOID          asn1.ObjectIdentifier
	SignatureOID       asn1.ObjectIdentifier
	SignatureAlgorithm string

	// SigningTime is the claimed signing time from the signed attributes.
	SigningTime time.Time
}

// Container is a decoded signature container.
type Container struct {
	Kind   Kind
	Signer Signer

	// SignerCertificate is the embedded certificate matching the signer
	// identifier, nil when the container does not carry it.
	SignerCertificate *certmodel.Certificate
	// Certificates are the embedded certificates in container order.
	Certificates []*certmodel.Certificate

	MessageDigest []byte
	Signature     []byte
	// SignedAttributes is the DER SET encoding the signature was computed over.
	SignedAttributes []byte
	// Content is the encapsulated content, nil for detached containers.
	Content []byte

	essCertHash   []byte
	essCertHashFn crypto.Hash

	Warnings []string
}

// Detached reports whether the container carries no encapsulated content.
func (c *Container) Detached() bool {
	return c.Content == nil
}

type decoder interface {
	decode(sd *parsedSignedData) (*Container, error)
}

var decoders = map[Kind]decoder{
	KindAdobeDetached: adobeDetachedDecoder{},
	KindAdobeSHA1:     adobeSHA1Decoder{},
	KindPAdES:         padesDecoder{},
	KindCMS:           cmsDecoder{},
}

// Parse decodes raw container bytes of the given kind. Trailing zero padding,
// as left by PDF /Contents placeholders, is ignored.
func Parse(kind Kind, raw []byte) (*Container, error) {
	d, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: container kind %s", ErrUnsupportedContainerFormat, kind)
	}
	sd, err := parseSignedData(raw)
	if err != nil {
		return nil, err
	}
	c, err := d.decode(sd)
	if err != nil {
		return nil, err
	}
	c.Kind = kind
	return c, nil
}

type adobeDetachedDecoder struct{}

func (adobeDetachedDecoder) decode(sd *parsedSignedData) (*Container, error) {
	c, err := sd.container()
	if err != nil {
		return nil, err
	}
	if !c.Detached() {
		c.Warnings = append(c.Warnings, "detached container carries encapsulated content; content ignored")
		c.Content = nil
	}
	return c, nil
}

type adobeSHA1Decoder struct{}

func (adobeSHA1Decoder) decode(sd *parsedSignedData) (*Container, error) {
	c, err := sd.container()
	if err != nil {
		return nil, err
	}
	if c.Detached() {
		return nil, fmt.Errorf("%w: adbe.pkcs7.sha1 container has no encapsulated digest", ErrContainerMalformed)
	}
	if len(c.Content) != sha1.Size {
		return nil, fmt.Errorf("%w: encapsulated digest is %d bytes, want %d", ErrContainerMalformed, len(c.Content), sha1.Size)
	}
	return c, nil
}

type padesDecoder struct{}

func (padesDecoder) decode(sd *parsedSignedData) (*Container, error) {
	c, err := sd.container()
	if err != nil {
		return nil, err
	}
	if !c.Detached() {
		return nil, fmt.Errorf("%w: ETSI.CAdES.detached container carries encapsulated content", ErrContainerMalformed)
	}
	if c.SignedAttributes == nil {
		return nil, fmt.Errorf("%w: ETSI.CAdES.detached container has no signed attributes", ErrContainerMalformed)
	}
	if c.essCertHash == nil {
		c.Warnings = append(c.Warnings, "signing-certificate-v2 attribute missing")
	}
	return c, nil
}

type cmsDecoder struct{}

func (cmsDecoder) decode(sd *parsedSignedData) (*Container, error) {
	return sd.container()
}

type parsedSignedData struct {
	raw    SignedDataRaw
	signer SignerInfoRaw
}

func parseSignedData(raw []byte) (*parsedSignedData, error) {
	var ci ContentInfo
	rest, err := asn1.Unmarshal(raw, &ci)
	if err != nil {
		return nil, fmt.Errorf("%w: ContentInfo: %v", ErrContainerMalformed, err)
	}
	if len(bytes.Trim(rest, "\x00")) > 0 {
		return nil, fmt.Errorf("%w: %d bytes of trailing data", ErrContainerMalformed, len(rest))
	}
	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("%w: content type %v is not SignedData", ErrContainerMalformed, ci.ContentType)
	}

	sd := &parsedSignedData{}
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd.raw); err != nil {
		return nil, fmt.Errorf("%w: SignedData: %v", ErrContainerMalformed, err)
	}
	if len(sd.raw.SignerInfos) == 0 {
		return nil, fmt.Errorf("%w: no signer infos", ErrContainerMalformed)
	}
	if _, err := asn1.Unmarshal(sd.raw.SignerInfos[0].FullBytes, &sd.signer); err != nil {
		return nil, fmt.Errorf("%w: SignerInfo: %v", ErrContainerMalformed, err)
	}
	return sd, nil
}

func (sd *parsedSignedData) container() (*Container, error) {
	si := sd.signer
	c := &Container{
		Signature: si.Signature,
	}

	hash, err := hashForOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return nil, err
	}
	sigName, err := signatureAlgorithmName(si.SignatureAlgorithm.Algorithm)
	if err != nil {
		return nil, err
	}
	c.Signer.DigestAlgorithm = hash
	c.Signer.DigestOID = si.DigestAlgorithm.Algorithm
	c.Signer.SignatureOID = si.SignatureAlgorithm.Algorithm
	c.Signer.SignatureAlgorithm = sigName

	if err := c.parseSignerIdentifier(si.SID); err != nil {
		return nil, err
	}

	if len(sd.raw.SignerInfos) > 1 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("container holds %d signer infos; only the first is evaluated", len(sd.raw.SignerInfos)))
	}

	if eContent := sd.raw.EncapContentInfo.EContent; len(eContent.Bytes) > 0 {
		var content []byte
		if _, err := asn1.Unmarshal(eContent.Bytes, &content); err != nil {
			return nil, fmt.Errorf("%w: encapsulated content: %v", ErrContainerMalformed, err)
		}
		if content == nil {
			content = []byte{}
		}
		c.Content = content
	}

	for i, rawCert := range sd.raw.Certificates {
		cert, err := certmodel.Parse(rawCert.FullBytes)
		if err != nil {
			c.Warnings = append(c.Warnings, fmt.Sprintf("embedded certificate %d skipped: %v", i, err))
			continue
		}
		c.Certificates = append(c.Certificates, cert)
	}
	c.SignerCertificate = c.findSignerCertificate()

	if len(si.SignedAttrs.FullBytes) > 0 {
		if err := c.parseSignedAttributes(si.SignedAttrs); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Container) parseSignerIdentifier(sid asn1.RawValue) error {
	if sid.Class == asn1.ClassContextSpecific && sid.Tag == 0 {
		c.Signer.SubjectKeyID = sid.Bytes
		return nil
	}
	var ias IssuerAndSerialNumber
	if _, err := asn1.Unmarshal(sid.FullBytes, &ias); err != nil {
		return fmt.Errorf("%w: signer identifier: %v", ErrContainerMalformed, err)
	}
	c.Signer.IssuerRaw = ias.Issuer.FullBytes
	c.Signer.SerialNumber = ias.SerialNumber
	return nil
}

func (c *Container) findSignerCertificate() *certmodel.Certificate {
	for _, cert := range c.Certificates {
		if len(c.Signer.SubjectKeyID) > 0 {
			if bytes.Equal(cert.SubjectKeyID, c.Signer.SubjectKeyID) {
				return cert
			}
			continue
		}
		if c.Signer.SerialNumber == nil || cert.SerialNumber.Cmp(c.Signer.SerialNumber) != 0 {
			continue
		}
		if bytes.Equal(cert.X509().RawIssuer, c.Signer.IssuerRaw) {
			return cert
		}
	}
	return nil
}

func (c *Container) parseSignedAttributes(raw asn1.RawValue) error {
	// The signature covers the attributes encoded as a SET, not as the
	// implicit [0] they are carried in.
	c.SignedAttributes = append([]byte{0x31}, raw.FullBytes[1:]...)

	rest := raw.Bytes
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return fmt.Errorf("%w: signed attribute: %v", ErrContainerMalformed, err)
		}
		if len(attr.Values) == 0 {
			continue
		}
		value := attr.Values[0].FullBytes
		switch {
		case attr.Type.Equal(OIDMessageDigest):
			if _, err := asn1.Unmarshal(value, &c.MessageDigest); err != nil {
				return fmt.Errorf("%w: message digest attribute: %v", ErrContainerMalformed, err)
			}
		case attr.Type.Equal(OIDSigningTime):
			var t time.Time
			if _, err := asn1.Unmarshal(value, &t); err == nil {
				c.Signer.SigningTime = t
			} else {
				c.Warnings = append(c.Warnings, fmt.Sprintf("signing time attribute unreadable: %v", err))
			}
		case attr.Type.Equal(OIDSigningCertificateV2):
			var sc SigningCertificateV2
			if _, err := asn1.Unmarshal(value, &sc); err != nil || len(sc.Certs) == 0 {
				c.Warnings = append(c.Warnings, "signing-certificate-v2 attribute unreadable")
				continue
			}
			fn := crypto.SHA256
			if len(sc.Certs[0].HashAlgorithm.Algorithm) > 0 {
				h, err := hashForOID(sc.Certs[0].HashAlgorithm.Algorithm)
				if err != nil {
					c.Warnings = append(c.Warnings, fmt.Sprintf("signing-certificate-v2 hash: %v", err))
					continue
				}
				fn = h
			}
			c.essCertHash = sc.Certs[0].CertHash
			c.essCertHashFn = fn
		}
	}

	if c.MessageDigest == nil {
		return fmt.Errorf("%w: message digest attribute missing", ErrContainerMalformed)
	}
	return nil
}
