package certmodel

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// Name is a structured distinguished name.
type Name struct {
	Organization       string
	OrganizationalUnit string
	CommonName         string
	Email              string
	Country            string

	dn        string
	canonical string
}

// NewName builds a Name from a parsed pkix.Name.
func NewName(name pkix.Name) Name {
	n := Name{
		Organization:       first(name.Organization),
		OrganizationalUnit: first(name.OrganizationalUnit),
		CommonName:         name.CommonName,
		Country:            first(name.Country),
		dn:                 name.String(),
		canonical:          canonicalNameString(name),
	}
	for _, atv := range name.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if s, ok := atv.Value.(string); ok {
				n.Email = s
				break
			}
		}
	}
	return n
}

// String returns the RFC 2253 style form of the name.
func (n Name) String() string {
	return n.dn
}

// Canonical returns the normalized comparison key of the name.
func (n Name) Canonical() string {
	return n.canonical
}

// Equal compares two names using their canonical forms.
func (n Name) Equal(other Name) bool {
	return n.canonical == other.canonical
}

// canonicalNameString joins attribute type/value pairs in encoded order with
// whitespace collapsed and values case-folded.
func canonicalNameString(name pkix.Name) string {
	atvs := name.Names
	if len(atvs) == 0 {
		for _, rdn := range name.ToRDNSequence() {
			atvs = append(atvs, rdn...)
		}
	}

	parts := make([]string, 0, len(atvs))
	for _, atv := range atvs {
		parts = append(parts, fmt.Sprintf("%s=%s", atv.Type.String(), normalizeRDNValue(atv.Value)))
	}
	return strings.Join(parts, ",")
}

func normalizeRDNValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.Join(strings.Fields(v), " "))
	default:
		return fmt.Sprint(v)
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
