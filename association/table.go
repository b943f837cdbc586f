// Package association attributes certificate chains to professional
// engineering associations.
package association

import (
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Association describes one engineering association and the evidence that
// identifies its members' certificates.
type Association struct {
	ID         string   `yaml:"id" json:"id"`
	Name       string   `yaml:"name" json:"name"`
	Keywords   []string `yaml:"keywords" json:"keywords"`
	PolicyOIDs []string `yaml:"policy-oids" json:"policy_oids"`
}

// Table is an ordered list of associations. Earlier entries win ties.
type Table []Association

// DefaultTable returns the associations known out of the box. The policy
// OIDs are placeholders until the associations publish their own.
func DefaultTable() Table {
	return Table{
		{
			ID:         "APEGA",
			Name:       "Association of Professional Engineers and Geoscientists of Alberta",
			Keywords:   []string{"APEGA", "Association of Professional Engineers", "Alberta"},
			PolicyOIDs: []string{"1.2.3.4.5"},
		},
		{
			ID:         "APEGS",
			Name:       "Association of Professional Engineers and Geoscientists of Saskatchewan",
			Keywords:   []string{"APEGS", "Saskatchewan"},
			PolicyOIDs: []string{"1.2.3.4.6"},
		},
		{
			ID:         "EGBC",
			Name:       "Engineers and Geoscientists British Columbia",
			Keywords:   []string{"EGBC", "Engineers and Geoscientists", "British Columbia"},
			PolicyOIDs: []string{"1.2.3.4.7"},
		},
		{
			ID:         "EGM",
			Name:       "Engineers Geoscientists Manitoba",
			Keywords:   []string{"EGM", "Engineers Geoscientists Manitoba", "Manitoba"},
			PolicyOIDs: []string{"1.2.3.4.8"},
		},
	}
}

// Validate checks identifiers are present and unique and that policy OIDs
// are well formed.
func (t Table) Validate() error {
	seen := make(map[string]bool)
	for i, a := range t {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return fmt.Errorf("association %d: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("association %s: duplicate id", id)
		}
		seen[id] = true
		for _, oid := range a.PolicyOIDs {
			if _, err := x509.ParseOID(oid); err != nil {
				return fmt.Errorf("association %s: invalid policy OID %q: %w", id, oid, err)
			}
		}
		for _, kw := range a.Keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("association %s: empty keyword", id)
			}
		}
	}
	return nil
}

// Lookup returns the association with the identifier.
func (t Table) Lookup(id string) (Association, bool) {
	for _, a := range t {
		if a.ID == id {
			return a, true
		}
	}
	return Association{}, false
}

// IDs returns the identifiers in table order.
func (t Table) IDs() []string {
	ids := make([]string, len(t))
	for i, a := range t {
		ids[i] = a.ID
	}
	return ids
}

type tableFile struct {
	Associations Table `yaml:"associations"`
}

// ParseTable parses a YAML document with a top-level "associations" list.
func ParseTable(data []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse association table: %w", err)
	}
	if err := f.Associations.Validate(); err != nil {
		return nil, err
	}
	return f.Associations, nil
}

// LoadTable reads a table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read association table: %w", err)
	}
	return ParseTable(data)
}
