package container

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/asn1"
	"errors"
	"fmt"

	_ "crypto/sha256"
	_ "crypto/sha512"
)

// Integrity errors
var (
	ErrDigestMismatch             = errors.New("message digest mismatch")
	ErrSignatureMismatch          = errors.New("signer signature does not verify")
	ErrSignerNotFound             = errors.New("signer certificate not found in container")
	ErrSigningCertificateMismatch = errors.New("signing certificate attribute does not match signer")
)

func hashForOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, nil
	case oid.Equal(OIDSHA224):
		return crypto.SHA224, nil
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	case oid.Equal(OIDMD5):
		return 0, fmt.Errorf("%w: MD5 digest", ErrUnsupportedContainerFormat)
	default:
		return 0, fmt.Errorf("%w: digest algorithm %v", ErrUnsupportedContainerFormat, oid)
	}
}

type signatureScheme int

const (
	schemeUnknown signatureScheme = iota
	schemeRSAPKCS1v15
	schemeRSAPSS
	schemeECDSA
	schemeEd25519
)

func schemeForOID(oid asn1.ObjectIdentifier) signatureScheme {
	switch {
	case oid.Equal(OIDRSAEncryption), oid.Equal(OIDSHA1WithRSA), oid.Equal(OIDSHA256WithRSA),
		oid.Equal(OIDSHA384WithRSA), oid.Equal(OIDSHA512WithRSA):
		return schemeRSAPKCS1v15
	case oid.Equal(OIDRSAPSS):
		return schemeRSAPSS
	case oid.Equal(OIDECPublicKey), oid.Equal(OIDECDSAWithSHA1), oid.Equal(OIDECDSAWithSHA256),
		oid.Equal(OIDECDSAWithSHA384), oid.Equal(OIDECDSAWithSHA512):
		return schemeECDSA
	case oid.Equal(OIDEd25519):
		return schemeEd25519
	default:
		return schemeUnknown
	}
}

func signatureAlgorithmName(oid asn1.ObjectIdentifier) (string, error) {
	switch schemeForOID(oid) {
	case schemeRSAPKCS1v15:
		return "RSA-PKCS1v15", nil
	case schemeRSAPSS:
		return "RSA-PSS", nil
	case schemeECDSA:
		return "ECDSA", nil
	case schemeEd25519:
		return "Ed25519", nil
	}
	if oid.Equal(OIDDSAWithSHA1) {
		return "", fmt.Errorf("%w: DSA signatures", ErrUnsupportedContainerFormat)
	}
	return "", fmt.Errorf("%w: signature algorithm %v", ErrUnsupportedContainerFormat, oid)
}

// DigestAlgorithmName returns the conventional name of the signer's digest.
func (c *Container) DigestAlgorithmName() string {
	return c.Signer.DigestAlgorithm.String()
}

// VerifyIntegrity checks that the container signs covered. The content digest
// is compared with the messageDigest attribute, the signer signature is
// verified with the embedded signer certificate and, when present, the ESS
// signing certificate hash is compared with that certificate.
func (c *Container) VerifyIntegrity(covered []byte) error {
	if c.SignerCertificate == nil {
		return ErrSignerNotFound
	}

	data, err := c.signedContent(covered)
	if err != nil {
		return err
	}

	signed := data
	if c.SignedAttributes != nil {
		h := c.Signer.DigestAlgorithm.New()
		h.Write(data)
		if !bytes.Equal(h.Sum(nil), c.MessageDigest) {
			return fmt.Errorf("%w: %s digest of signed content differs from messageDigest attribute",
				ErrDigestMismatch, c.DigestAlgorithmName())
		}
		signed = c.SignedAttributes
	}

	if err := c.verifySignature(signed); err != nil {
		return err
	}

	if c.essCertHash != nil {
		h := c.essCertHashFn.New()
		h.Write(c.SignerCertificate.Raw)
		if !bytes.Equal(h.Sum(nil), c.essCertHash) {
			return ErrSigningCertificateMismatch
		}
	}
	return nil
}

// signedContent returns the bytes the message digest is computed over.
func (c *Container) signedContent(covered []byte) ([]byte, error) {
	switch c.Kind {
	case KindAdobeSHA1:
		sum := sha1.Sum(covered)
		if !bytes.Equal(sum[:], c.Content) {
			return nil, fmt.Errorf("%w: encapsulated SHA-1 differs from covered bytes", ErrDigestMismatch)
		}
		return c.Content, nil
	case KindCMS:
		if c.Content != nil {
			if covered != nil && !bytes.Equal(c.Content, covered) {
				return nil, fmt.Errorf("%w: encapsulated content differs from covered bytes", ErrDigestMismatch)
			}
			return c.Content, nil
		}
	}
	return covered, nil
}

func (c *Container) verifySignature(signed []byte) error {
	pub := c.SignerCertificate.PublicKey.Key
	hashAlgo := c.Signer.DigestAlgorithm

	digest := func(h crypto.Hash) []byte {
		hh := h.New()
		hh.Write(signed)
		return hh.Sum(nil)
	}

	var ok bool
	switch schemeForOID(c.Signer.SignatureOID) {
	case schemeRSAPKCS1v15:
		key, isRSA := pub.(*rsa.PublicKey)
		if !isRSA {
			return fmt.Errorf("%w: expected RSA public key, got %T", ErrSignatureMismatch, pub)
		}
		ok = rsa.VerifyPKCS1v15(key, hashAlgo, digest(hashAlgo), c.Signature) == nil
	case schemeRSAPSS:
		key, isRSA := pub.(*rsa.PublicKey)
		if !isRSA {
			return fmt.Errorf("%w: expected RSA public key, got %T", ErrSignatureMismatch, pub)
		}
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: hashAlgo}
		ok = rsa.VerifyPSS(key, hashAlgo, digest(hashAlgo), c.Signature, opts) == nil
	case schemeECDSA:
		key, isEC := pub.(*ecdsa.PublicKey)
		if !isEC {
			return fmt.Errorf("%w: expected ECDSA public key, got %T", ErrSignatureMismatch, pub)
		}
		ok = ecdsa.VerifyASN1(key, digest(hashAlgo), c.Signature)
	case schemeEd25519:
		key, isEd := pub.(ed25519.PublicKey)
		if !isEd {
			return fmt.Errorf("%w: expected Ed25519 public key, got %T", ErrSignatureMismatch, pub)
		}
		ok = ed25519.Verify(key, signed, c.Signature)
	default:
		return fmt.Errorf("%w: signature algorithm %v", ErrUnsupportedContainerFormat, c.Signer.SignatureOID)
	}

	if !ok {
		return ErrSignatureMismatch
	}
	return nil
}
