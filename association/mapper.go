package association

import (
	"github.com/georgepadayatti/sealtrust/certmodel"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// Mapper runs matchers over a chain.
type Mapper struct {
	Table    Table
	Matchers []Matcher
}

// NewMapper creates a mapper with the policy, keyword and trust store
// matchers, in that order.
func NewMapper(table Table) *Mapper {
	return &Mapper{
		Table: table,
		Matchers: []Matcher{
			PolicyMatcher{Table: table},
			NewKeywordMatcher(table),
			StoreMatcher{Table: table},
		},
	}
}

// Match walks chain from the leaf toward the anchor and returns the first
// match, so the signer's own identity is preferred over its CAs. It returns
// nil when no certificate matches.
func (m *Mapper) Match(snap *truststore.Snapshot, chain []*certmodel.Certificate) *Match {
	for i, cert := range chain {
		for _, matcher := range m.Matchers {
			if match := matcher.Match(snap, cert); match != nil {
				match.CertificateIndex = i
				return match
			}
		}
	}
	return nil
}
