package certmodel

import (
	"crypto/x509"
	"strings"
)

// KeyUsage is a set of key usage flags.
type KeyUsage uint16

const (
	KeyUsageDigitalSignature KeyUsage = 1 << iota
	KeyUsageNonRepudiation
	KeyUsageKeyEncipherment
	KeyUsageDataEncipherment
	KeyUsageKeyAgreement
	KeyUsageKeyCertSign
	KeyUsageCRLSign
	KeyUsageEncipherOnly
	KeyUsageDecipherOnly
)

var keyUsageNames = []struct {
	flag KeyUsage
	name string
}{
	{KeyUsageDigitalSignature, "digitalSignature"},
	{KeyUsageNonRepudiation, "nonRepudiation"},
	{KeyUsageKeyEncipherment, "keyEncipherment"},
	{KeyUsageDataEncipherment, "dataEncipherment"},
	{KeyUsageKeyAgreement, "keyAgreement"},
	{KeyUsageKeyCertSign, "keyCertSign"},
	{KeyUsageCRLSign, "cRLSign"},
	{KeyUsageEncipherOnly, "encipherOnly"},
	{KeyUsageDecipherOnly, "decipherOnly"},
}

// x509 orders the same bits identically, but the mapping is spelled out so
// the two types can evolve independently.
func keyUsageFromX509(ku x509.KeyUsage) KeyUsage {
	var out KeyUsage
	pairs := []struct {
		in  x509.KeyUsage
		out KeyUsage
	}{
		{x509.KeyUsageDigitalSignature, KeyUsageDigitalSignature},
		{x509.KeyUsageContentCommitment, KeyUsageNonRepudiation},
		{x509.KeyUsageKeyEncipherment, KeyUsageKeyEncipherment},
		{x509.KeyUsageDataEncipherment, KeyUsageDataEncipherment},
		{x509.KeyUsageKeyAgreement, KeyUsageKeyAgreement},
		{x509.KeyUsageCertSign, KeyUsageKeyCertSign},
		{x509.KeyUsageCRLSign, KeyUsageCRLSign},
		{x509.KeyUsageEncipherOnly, KeyUsageEncipherOnly},
		{x509.KeyUsageDecipherOnly, KeyUsageDecipherOnly},
	}
	for _, p := range pairs {
		if ku&p.in != 0 {
			out |= p.out
		}
	}
	return out
}

// Names returns the flag names in bit order.
func (u KeyUsage) Names() []string {
	var names []string
	for _, kn := range keyUsageNames {
		if u&kn.flag != 0 {
			names = append(names, kn.name)
		}
	}
	return names
}

// String returns the flag names joined with commas.
func (u KeyUsage) String() string {
	return strings.Join(u.Names(), ",")
}

// ParseKeyUsage maps a flag name (either camelCase or snake_case) to its flag.
func ParseKeyUsage(name string) (KeyUsage, bool) {
	normalized := strings.ToLower(strings.ReplaceAll(name, "_", ""))
	for _, kn := range keyUsageNames {
		if strings.ToLower(kn.name) == normalized {
			return kn.flag, true
		}
	}
	return 0, false
}
