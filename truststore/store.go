// Package truststore holds the trusted certificates used as chain anchors.
//
// Readers work on immutable snapshots obtained without locking. Mutations are
// serialized, build a new snapshot and publish it atomically, so a validation
// that took a snapshot never observes a partial update.
package truststore

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/georgepadayatti/sealtrust/certmodel"
)

// Partition identifies where a trusted certificate came from.
type Partition int

const (
	PartitionSystem Partition = iota
	PartitionCustom
	PartitionAssociation
)

// String returns the string representation of the partition.
func (p Partition) String() string {
	switch p {
	case PartitionSystem:
		return "system"
	case PartitionCustom:
		return "custom"
	case PartitionAssociation:
		return "association"
	default:
		return fmt.Sprintf("partition(%d)", int(p))
	}
}

// ParsePartition parses a partition name.
func ParsePartition(s string) (Partition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return PartitionSystem, nil
	case "custom":
		return PartitionCustom, nil
	case "association":
		return PartitionAssociation, nil
	default:
		return 0, fmt.Errorf("unknown partition %q", s)
	}
}

// Entry is a trusted certificate and its provenance.
type Entry struct {
	Cert      *certmodel.Certificate
	Partition Partition
	// Association is set for entries of the association partition.
	Association string
	// Source is the file the certificate was loaded from, if any.
	Source string
}

// Snapshot is an immutable view of the store.
type Snapshot struct {
	version uint64
	entries []*Entry

	byFingerprint map[certmodel.Fingerprint]int
	byKeyID       map[string][]int
	bySubject     map[string][]int
	byAssociation map[string][]int
}

func newSnapshot(version uint64, entries []*Entry) *Snapshot {
	s := &Snapshot{
		version:       version,
		entries:       entries,
		byFingerprint: make(map[certmodel.Fingerprint]int, len(entries)),
		byKeyID:       make(map[string][]int),
		bySubject:     make(map[string][]int),
		byAssociation: make(map[string][]int),
	}
	for i, e := range entries {
		s.byFingerprint[e.Cert.Fingerprint] = i
		if len(e.Cert.SubjectKeyID) > 0 {
			key := string(e.Cert.SubjectKeyID)
			s.byKeyID[key] = append(s.byKeyID[key], i)
		}
		subject := e.Cert.Subject.Canonical()
		s.bySubject[subject] = append(s.bySubject[subject], i)
		if e.Partition == PartitionAssociation && e.Association != "" {
			s.byAssociation[e.Association] = append(s.byAssociation[e.Association], i)
		}
	}
	return s
}

// Version increases with every published mutation.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of trusted certificates.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Entries returns all entries in snapshot order.
func (s *Snapshot) Entries() []*Entry {
	return append([]*Entry(nil), s.entries...)
}

// LookupByFingerprint returns the trusted certificate with the fingerprint, or nil.
func (s *Snapshot) LookupByFingerprint(fp certmodel.Fingerprint) *certmodel.Certificate {
	if i, ok := s.byFingerprint[fp]; ok {
		return s.entries[i].Cert
	}
	return nil
}

// Entry returns the entry for the fingerprint, or nil.
func (s *Snapshot) Entry(fp certmodel.Fingerprint) *Entry {
	if i, ok := s.byFingerprint[fp]; ok {
		return s.entries[i]
	}
	return nil
}

// LookupByKeyID returns trusted certificates with the subject key identifier.
func (s *Snapshot) LookupByKeyID(ski []byte) []*certmodel.Certificate {
	return s.certs(s.byKeyID[string(ski)])
}

// LookupBySubject returns trusted certificates with the subject name.
func (s *Snapshot) LookupBySubject(name certmodel.Name) []*certmodel.Certificate {
	return s.certs(s.bySubject[name.Canonical()])
}

// IsTrustAnchor reports whether the certificate itself is trusted.
func (s *Snapshot) IsTrustAnchor(cert *certmodel.Certificate) bool {
	_, ok := s.byFingerprint[cert.Fingerprint]
	return ok
}

// IssuerCandidates returns the trusted certificates that may have issued
// cert, in snapshot order. The key identifier index is used when cert carries
// an authority key identifier; certificates without a subject key
// identifier are still matched by name.
func (s *Snapshot) IssuerCandidates(cert *certmodel.Certificate) []*certmodel.Certificate {
	seen := make(map[int]bool)
	var idx []int
	add := func(indexes []int) {
		for _, i := range indexes {
			if seen[i] {
				continue
			}
			seen[i] = true
			if cert.MayBeIssuedBy(s.entries[i].Cert) {
				idx = append(idx, i)
			}
		}
	}
	if len(cert.AuthorityKeyID) > 0 {
		add(s.byKeyID[string(cert.AuthorityKeyID)])
	}
	add(s.bySubject[cert.Issuer.Canonical()])
	sort.Ints(idx)
	return s.certs(idx)
}

// Certificates returns the entries of one partition in snapshot order.
func (s *Snapshot) Certificates(p Partition) []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.Partition == p {
			out = append(out, e)
		}
	}
	return out
}

// Associations returns the sorted identifiers of associations with at least
// one trusted certificate.
func (s *Snapshot) Associations() []string {
	out := make([]string, 0, len(s.byAssociation))
	for id := range s.byAssociation {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AssociationCertificates returns the trusted certificates of an association.
func (s *Snapshot) AssociationCertificates(association string) []*certmodel.Certificate {
	return s.certs(s.byAssociation[association])
}

// AssociationOf returns the association a trusted certificate was loaded
// for, or "".
func (s *Snapshot) AssociationOf(fp certmodel.Fingerprint) string {
	if e := s.Entry(fp); e != nil && e.Partition == PartitionAssociation {
		return e.Association
	}
	return ""
}

func (s *Snapshot) certs(idx []int) []*certmodel.Certificate {
	if len(idx) == 0 {
		return nil
	}
	out := make([]*certmodel.Certificate, len(idx))
	for i, j := range idx {
		out[i] = s.entries[j].Cert
	}
	return out
}

// Store publishes trust store snapshots.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	logger  *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{logger: logger}
	s.current.Store(newSnapshot(0, nil))
	return s
}

// Snapshot returns the current snapshot. It never blocks.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// LookupByFingerprint looks up the current snapshot.
func (s *Store) LookupByFingerprint(fp certmodel.Fingerprint) *certmodel.Certificate {
	return s.Snapshot().LookupByFingerprint(fp)
}

// IssuerCandidates looks up the current snapshot.
func (s *Store) IssuerCandidates(cert *certmodel.Certificate) []*certmodel.Certificate {
	return s.Snapshot().IssuerCandidates(cert)
}

// IsTrustAnchor looks up the current snapshot.
func (s *Store) IsTrustAnchor(cert *certmodel.Certificate) bool {
	return s.Snapshot().IsTrustAnchor(cert)
}

// AddSystemRoot parses der and trusts it as a system root.
func (s *Store) AddSystemRoot(der []byte) (*certmodel.Certificate, error) {
	return s.addDER(der, PartitionSystem, "")
}

// AddCustomRoot parses der and trusts it as a custom root.
func (s *Store) AddCustomRoot(der []byte) (*certmodel.Certificate, error) {
	return s.addDER(der, PartitionCustom, "")
}

// AddAssociationCert parses der and trusts it on behalf of an association.
func (s *Store) AddAssociationCert(association string, der []byte) (*certmodel.Certificate, error) {
	if strings.TrimSpace(association) == "" {
		return nil, fmt.Errorf("association identifier is required")
	}
	return s.addDER(der, PartitionAssociation, association)
}

func (s *Store) addDER(der []byte, p Partition, association string) (*certmodel.Certificate, error) {
	cert, err := certmodel.Parse(der)
	if err != nil {
		return nil, err
	}
	return s.Add(&Entry{Cert: cert, Partition: p, Association: association}), nil
}

// Add trusts an already parsed certificate and returns the stored one. A
// certificate that is already trusted keeps its entry, except that an
// association entry supersedes a system or custom one.
func (s *Store) Add(e *Entry) *certmodel.Certificate {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	if existing := cur.Entry(e.Cert.Fingerprint); existing != nil {
		if e.Partition != PartitionAssociation || existing.Partition == PartitionAssociation {
			return existing.Cert
		}
		entries := cur.Entries()
		i := cur.byFingerprint[e.Cert.Fingerprint]
		entries[i] = &Entry{Cert: existing.Cert, Partition: e.Partition, Association: e.Association, Source: e.Source}
		s.publish(cur, entries)
		return existing.Cert
	}

	entries := append(cur.Entries(), e)
	s.publish(cur, entries)
	s.logger.Debug("Trusted certificate added",
		zap.String("subject", e.Cert.Subject.String()),
		zap.String("partition", e.Partition.String()),
		zap.String("fingerprint", e.Cert.Fingerprint.String()))
	return e.Cert
}

// Remove drops a trusted certificate. It reports whether it was present.
func (s *Store) Remove(fp certmodel.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	i, ok := cur.byFingerprint[fp]
	if !ok {
		return false
	}
	entries := make([]*Entry, 0, len(cur.entries)-1)
	entries = append(entries, cur.entries[:i]...)
	entries = append(entries, cur.entries[i+1:]...)
	s.publish(cur, entries)
	s.logger.Debug("Trusted certificate removed", zap.String("fingerprint", fp.String()))
	return true
}

// Replace swaps the whole content of the store. Duplicate fingerprints are
// resolved as in Add.
func (s *Store) Replace(entries []*Entry) {
	var deduped []*Entry
	pos := make(map[certmodel.Fingerprint]int)
	for _, e := range entries {
		if i, ok := pos[e.Cert.Fingerprint]; ok {
			if e.Partition == PartitionAssociation && deduped[i].Partition != PartitionAssociation {
				deduped[i] = e
			}
			continue
		}
		pos[e.Cert.Fingerprint] = len(deduped)
		deduped = append(deduped, e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(s.current.Load(), deduped)
}

func (s *Store) publish(cur *Snapshot, entries []*Entry) {
	s.current.Store(newSnapshot(cur.version+1, entries))
}
