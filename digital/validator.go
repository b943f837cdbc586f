// Package digital validates the cryptographic signatures embedded in a
// document and aggregates them into a document trust status.
package digital

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/georgepadayatti/sealtrust/association"
	"github.com/georgepadayatti/sealtrust/chain"
	"github.com/georgepadayatti/sealtrust/container"
	"github.com/georgepadayatti/sealtrust/pdfsig"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// Input is one signature container found in a document together with the
// bytes it covers.
type Input struct {
	FieldName   string
	Filter      string
	SubFilter   string
	Name        string
	Reason      string
	Location    string
	ContactInfo string
	SigningTime time.Time
	ByteRange   [4]int64
	// Contents is the raw signature container.
	Contents []byte
	// Covered is the signed document content, nil for encapsulated containers.
	Covered []byte
}

// InputFromPDF converts an extracted PDF signature.
func InputFromPDF(sig *pdfsig.Signature) Input {
	return Input{
		FieldName:   sig.FieldName,
		Filter:      sig.Filter,
		SubFilter:   sig.SubFilter,
		Name:        sig.Name,
		Reason:      sig.Reason,
		Location:    sig.Location,
		ContactInfo: sig.ContactInfo,
		SigningTime: sig.SigningTime,
		ByteRange:   sig.ByteRange,
		Contents:    sig.Contents,
		Covered:     sig.Covered,
	}
}

// Policy holds optional validation requirements.
type Policy struct {
	// RequireTimeValidity rejects signatures whose chain contains an expired
	// or not yet valid certificate.
	RequireTimeValidity bool
}

// Validator validates document signatures against a trust store.
type Validator struct {
	Store   *truststore.Store
	Builder *chain.Builder
	Mapper  *association.Mapper
	Policy  Policy
	Logger  *zap.Logger
}

// NewValidator creates a validator. A nil builder or mapper selects the
// defaults; a nil store trusts nothing.
func NewValidator(store *truststore.Store, builder *chain.Builder, mapper *association.Mapper, policy Policy, logger *zap.Logger) *Validator {
	if store == nil {
		store = truststore.NewStore(logger)
	}
	if builder == nil {
		builder = chain.NewBuilder(nil, nil, logger)
	}
	if mapper == nil {
		mapper = association.NewMapper(association.DefaultTable())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{Store: store, Builder: builder, Mapper: mapper, Policy: policy, Logger: logger}
}

// ValidatePDF extracts the signatures of a PDF and validates them.
func (v *Validator) ValidatePDF(ctx context.Context, data []byte) (*Result, error) {
	ex, err := pdfsig.Extract(data)
	if err != nil {
		return nil, err
	}
	inputs := make([]Input, len(ex.Signatures))
	for i, sig := range ex.Signatures {
		inputs[i] = InputFromPDF(sig)
	}
	res := v.ValidateDocument(ctx, inputs)
	res.Warnings = append(append([]string(nil), ex.Warnings...), res.Warnings...)
	return res, nil
}

// ValidateDocument validates every input against one trust store snapshot.
// Containers that cannot be decoded are skipped and reported in Warnings.
func (v *Validator) ValidateDocument(ctx context.Context, inputs []Input) *Result {
	snap := v.Store.Snapshot()
	res := &Result{CertificateAssociations: []string{}}
	res.Warnings = append(res.Warnings, overlapWarnings(inputs)...)

	associations := make(map[string]bool)
	for i, in := range inputs {
		sig, err := v.validateSignature(ctx, snap, in)
		if err != nil {
			name := in.FieldName
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("signature %s skipped: %v", name, err))
			v.Logger.Warn("Signature container skipped", zap.String("field", name), zap.Error(err))
			continue
		}
		res.Signatures = append(res.Signatures, sig)
		if sig.Valid {
			res.ValidCount++
		}
		if id := sig.AssociationID(); id != "" {
			associations[id] = true
		}
	}

	res.TotalCount = len(res.Signatures)
	res.TrustStatus = TrustStatusFor(res.TotalCount, res.ValidCount)
	for id := range associations {
		res.CertificateAssociations = append(res.CertificateAssociations, id)
	}
	sort.Strings(res.CertificateAssociations)

	v.Logger.Info("Document signatures validated",
		zap.Int("total", res.TotalCount),
		zap.Int("valid", res.ValidCount),
		zap.String("trust_status", string(res.TrustStatus)),
		zap.Uint64("trust_store_version", snap.Version()))
	return res
}

func (v *Validator) validateSignature(ctx context.Context, snap *truststore.Snapshot, in Input) (*Signature, error) {
	kind := container.KindFor(in.Filter, in.SubFilter)
	c, err := container.Parse(kind, in.Contents)
	if err != nil {
		return nil, err
	}

	sig := &Signature{
		FieldName:          in.FieldName,
		SignerName:         in.Name,
		Location:           in.Location,
		Reason:             in.Reason,
		ContactInfo:        in.ContactInfo,
		ContainerKind:      kind.String(),
		SubFilter:          in.SubFilter,
		ByteRange:          in.ByteRange,
		DigestAlgorithm:    c.DigestAlgorithmName(),
		SignatureAlgorithm: c.Signer.SignatureAlgorithm,
		Certificate:        c.SignerCertificate,
		Embedded:           c.Certificates,
		Warnings:           c.Warnings,
	}
	switch {
	case !in.SigningTime.IsZero():
		t := in.SigningTime.UTC()
		sig.SigningTime = &t
	case !c.Signer.SigningTime.IsZero():
		t := c.Signer.SigningTime.UTC()
		sig.SigningTime = &t
	}
	if leaf := c.SignerCertificate; leaf != nil {
		if sig.SignerName == "" {
			sig.SignerName = leaf.Subject.CommonName
		}
		if len(leaf.Emails) > 0 {
			sig.SignerEmail = leaf.Emails[0]
		}
	}

	if err := c.VerifyIntegrity(in.Covered); err != nil {
		sig.IntegrityError = err.Error()
	} else {
		sig.IntegrityValid = true
	}

	chainRes := v.Builder.Build(ctx, snap, c.SignerCertificate, c.Certificates)
	sig.Validation = &CertificateValidationResult{
		Result:      chainRes,
		Association: v.Mapper.Match(snap, chainRes.Chain),
	}
	sig.Valid = v.valid(sig)

	v.Logger.Debug("Signature validated",
		zap.String("field", sig.FieldName),
		zap.String("signer", sig.SignerName),
		zap.String("kind", sig.ContainerKind),
		zap.Bool("integrity", sig.IntegrityValid),
		zap.Bool("trust_anchor_reached", chainRes.TrustAnchorReached),
		zap.String("association", sig.AssociationID()),
		zap.Bool("valid", sig.Valid))
	return sig, nil
}

func (v *Validator) valid(sig *Signature) bool {
	r := sig.Validation.Result
	if !sig.IntegrityValid || !r.TrustAnchorReached {
		return false
	}
	if r.HasStatus(chain.StatusSignatureInvalid, chain.StatusRevoked) {
		return false
	}
	if v.Policy.RequireTimeValidity && r.HasStatus(chain.StatusExpired, chain.StatusNotYetValid) {
		return false
	}
	return true
}

// overlapWarnings reports pairs of signatures whose covered spans
// intersect without one containing the other. Nested spans are the normal
// shape of incremental updates and are not reported.
func overlapWarnings(inputs []Input) []string {
	type span struct {
		name       string
		start, end int64
	}
	var spans []span
	for i, in := range inputs {
		br := in.ByteRange
		if br == [4]int64{} {
			continue
		}
		name := in.FieldName
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		spans = append(spans, span{name, br[0], br[2] + br[3]})
	}

	var warnings []string
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			a, b := spans[i], spans[j]
			if a.start >= b.end || b.start >= a.end {
				continue
			}
			nested := (a.start <= b.start && b.end <= a.end) || (b.start <= a.start && a.end <= b.end)
			if nested {
				continue
			}
			warnings = append(warnings, fmt.Sprintf("signatures %s and %s cover overlapping byte ranges; validated independently", a.name, b.name))
		}
	}
	return warnings
}
