package certmodel

import (
	"bytes"
	"encoding/pem"
	"fmt"
)

// ParseBundle parses one or more certificates from PEM or a single DER
// certificate. Any malformed certificate fails the whole bundle so callers
// can treat a file as one atomic unit.
func ParseBundle(data []byte) ([]*Certificate, error) {
	if !bytes.Contains(data, []byte("-----BEGIN")) {
		cert, err := Parse(data)
		if err != nil {
			return nil, err
		}
		return []*Certificate{cert}, nil
	}

	var certs []*Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := Parse(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("PEM block %d: %w", len(certs)+1, err)
		}
		certs = append(certs, cert)
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: no CERTIFICATE blocks found", ErrCertificateParse)
	}
	return certs, nil
}

// EncodePEM returns the PEM encoding of the certificate.
func (c *Certificate) EncodePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
}
