package association

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/sealtrust/certmodel"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// Rule names the kind of evidence behind a match.
type Rule string

const (
	RulePolicy     Rule = "policy"
	RuleKeyword    Rule = "keyword"
	RuleTrustStore Rule = "trust-store"
)

// Match is the association attributed to a chain.
type Match struct {
	Association string `json:"association"`
	Name        string `json:"name,omitempty"`
	Rule        Rule   `json:"rule"`
	// Value is the matched OID, keyword or trusted fingerprint.
	Value string `json:"value"`
	// Field is the subject field a keyword was found in.
	Field string `json:"field,omitempty"`
	// CertificateIndex is the position of the matching certificate, 0 being
	// the leaf.
	CertificateIndex int     `json:"certificate_index"`
	Confidence       float64 `json:"confidence"`
}

// Matcher attributes a single certificate. It returns nil when it finds no
// evidence.
type Matcher interface {
	Match(snap *truststore.Snapshot, cert *certmodel.Certificate) *Match
}

// PolicyMatcher matches certificate policy OIDs against the table.
type PolicyMatcher struct {
	Table Table
}

// Match implements Matcher. Table order decides between associations.
func (m PolicyMatcher) Match(_ *truststore.Snapshot, cert *certmodel.Certificate) *Match {
	for _, a := range m.Table {
		for _, oid := range a.PolicyOIDs {
			if slices.Contains(cert.Policies, oid) {
				return &Match{
					Association: a.ID,
					Name:        a.Name,
					Rule:        RulePolicy,
					Value:       oid,
					Confidence:  confidence(a, cert),
				}
			}
		}
	}
	return nil
}

// KeywordMatcher looks for association keywords in the subject
// organization, common name and email domains. Comparison is
// case-insensitive and NFKC-normalized.
type KeywordMatcher struct {
	table  Table
	folded [][]string
}

// NewKeywordMatcher prepares the folded keywords of table.
func NewKeywordMatcher(table Table) *KeywordMatcher {
	m := &KeywordMatcher{table: table, folded: make([][]string, len(table))}
	for i, a := range table {
		for _, kw := range a.Keywords {
			m.folded[i] = append(m.folded[i], fold(kw))
		}
	}
	return m
}

// fold returns the comparison form of s. A Caser keeps state, so one is
// created per call.
func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// shortKeyword is the longest keyword, in runes, that only matches as a
// whole word. Abbreviations such as EGM occur inside ordinary words.
const shortKeyword = 3

// containsKeyword reports whether the folded text contains the folded
// keyword kw. Short keywords must not touch a letter or digit on either side.
func containsKeyword(text, kw string) bool {
	if utf8.RuneCountInString(kw) > shortKeyword {
		return strings.Contains(text, kw)
	}
	for off := 0; ; {
		i := strings.Index(text[off:], kw)
		if i < 0 {
			return false
		}
		start := off + i
		end := start + len(kw)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		off = start + size
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

type subjectField struct {
	name  string
	value string
}

func keywordFields(cert *certmodel.Certificate) []subjectField {
	fields := []subjectField{
		{"organization", cert.Subject.Organization},
		{"common-name", cert.Subject.CommonName},
	}
	for _, domain := range cert.EmailDomains() {
		fields = append(fields, subjectField{"email-domain", domain})
	}
	return fields
}

// Match implements Matcher. Associations are tried in table order, then
// keywords in their listed order, then fields.
func (m *KeywordMatcher) Match(_ *truststore.Snapshot, cert *certmodel.Certificate) *Match {
	fields := keywordFields(cert)
	for i := range fields {
		fields[i].value = fold(fields[i].value)
	}
	for i, a := range m.table {
		for j, kw := range m.folded[i] {
			for _, f := range fields {
				if f.value != "" && containsKeyword(f.value, kw) {
					return &Match{
						Association: a.ID,
						Name:        a.Name,
						Rule:        RuleKeyword,
						Value:       a.Keywords[j],
						Field:       f.name,
						Confidence:  confidence(a, cert),
					}
				}
			}
		}
	}
	return nil
}

// StoreMatcher attributes certificates that were loaded into the trust
// store on behalf of an association.
type StoreMatcher struct {
	Table Table
}

// Match implements Matcher.
func (m StoreMatcher) Match(snap *truststore.Snapshot, cert *certmodel.Certificate) *Match {
	if snap == nil {
		return nil
	}
	id := snap.AssociationOf(cert.Fingerprint)
	if id == "" {
		return nil
	}
	match := &Match{
		Association: id,
		Rule:        RuleTrustStore,
		Value:       cert.Fingerprint.String(),
		Confidence:  1,
	}
	if a, ok := m.Table.Lookup(id); ok {
		match.Name = a.Name
	}
	return match
}

// confidence scores the evidence for a on cert: one point per keyword
// found, two per policy OID, normalized so three points are certain.
func confidence(a Association, cert *certmodel.Certificate) float64 {
	text := fold(strings.Join([]string{cert.Subject.Organization, cert.Subject.CommonName, cert.Subject.Email}, " "))
	score := 0
	for _, kw := range a.Keywords {
		if containsKeyword(text, fold(kw)) {
			score++
		}
	}
	for _, oid := range a.PolicyOIDs {
		if slices.Contains(cert.Policies, oid) {
			score += 2
		}
	}
	return min(float64(score)/3.0, 1.0)
}
