// Package chain builds certificate paths from a signer certificate to a
// trust anchor and evaluates every certificate on the way.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/sealtrust/certmodel"
	"github.com/georgepadayatti/sealtrust/revocation"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// DefaultMaxDepth bounds chain length, anchor included.
const DefaultMaxDepth = 10

// Builder constructs and validates chains. The zero value is usable: it
// evaluates at the real current time and reports revocation as unknown.
type Builder struct {
	// Clock supplies the evaluation instant.
	Clock clockwork.Clock
	// Revocation is consulted for every certificate of an anchored chain.
	Revocation revocation.Checker
	// MaxDepth limits the number of certificates in a chain.
	MaxDepth int
	Logger   *zap.Logger
}

// NewBuilder creates a builder. Nil arguments select the defaults.
func NewBuilder(checker revocation.Checker, clock clockwork.Clock, logger *zap.Logger) *Builder {
	return &Builder{Clock: clock, Revocation: checker, MaxDepth: DefaultMaxDepth, Logger: logger}
}

func (b *Builder) clock() clockwork.Clock {
	if b.Clock == nil {
		return clockwork.NewRealClock()
	}
	return b.Clock
}

func (b *Builder) checker() revocation.Checker {
	if b.Revocation == nil {
		return revocation.NoopChecker{}
	}
	return b.Revocation
}

func (b *Builder) maxDepth() int {
	if b.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return b.MaxDepth
}

func (b *Builder) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

// Build walks from leaf toward a trust anchor of snap, drawing issuers from
// the snapshot first and from embedded in container order. Path construction
// stops at the first failure; the certificates reached so far are still
// evaluated and reported.
func (b *Builder) Build(ctx context.Context, snap *truststore.Snapshot, leaf *certmodel.Certificate, embedded []*certmodel.Certificate) *Result {
	res := &Result{}
	if leaf == nil {
		res.fail(fmt.Errorf("%w: no signer certificate", ErrChainIncomplete))
		return res
	}

	res.append(leaf)
	inChain := map[certmodel.Fingerprint]bool{leaf.Fingerprint: true}
	current := leaf
	anchored := false

	for {
		if snap.IsTrustAnchor(current) {
			anchored = true
			break
		}
		if current.IsSelfSigned() {
			res.fail(fmt.Errorf("%w: %s", ErrUntrustedRoot, current.Subject))
			break
		}

		candidates := issuerCandidates(snap, current, embedded, inChain)
		if len(candidates) == 0 {
			res.fail(fmt.Errorf("%w: issuer of %s not found", ErrChainIncomplete, current.Subject))
			break
		}

		var parent *certmodel.Certificate
		for _, c := range candidates {
			if err := current.CheckSignatureFrom(c); err == nil {
				parent = c
				break
			}
		}
		if parent == nil {
			res.downgrade(len(res.Chain)-1, StatusSignatureInvalid)
			res.fail(fmt.Errorf("%w: no candidate issuer of %s verifies its signature", ErrSignatureInvalid, current.Subject))
			break
		}

		if len(res.Chain) >= b.maxDepth() {
			res.fail(fmt.Errorf("%w: more than %d certificates", ErrChainTooLong, b.maxDepth()))
			break
		}
		res.append(parent)
		inChain[parent.Fingerprint] = true
		current = parent
	}

	if anchored {
		res.ChainComplete = true
		res.TrustAnchorReached = true
		res.Statuses[len(res.Statuses)-1].TrustAnchor = true
	}

	b.checkCertificates(res, b.clock().Now())
	if anchored {
		b.checkRevocation(ctx, res)
	}

	b.logger().Debug("Chain built",
		zap.String("leaf", leaf.Subject.String()),
		zap.Int("length", len(res.Chain)),
		zap.Bool("complete", res.ChainComplete),
		zap.Bool("trust_anchor_reached", res.TrustAnchorReached),
		zap.String("failure", res.FailureMessage))
	return res
}

// issuerCandidates lists possible parents of cert: trusted certificates in
// snapshot order, then embedded ones in container order, without repeats
// and without certificates already on the path.
func issuerCandidates(snap *truststore.Snapshot, cert *certmodel.Certificate, embedded []*certmodel.Certificate, inChain map[certmodel.Fingerprint]bool) []*certmodel.Certificate {
	seen := make(map[certmodel.Fingerprint]bool)
	var out []*certmodel.Certificate
	add := func(c *certmodel.Certificate) {
		if inChain[c.Fingerprint] || seen[c.Fingerprint] {
			return
		}
		seen[c.Fingerprint] = true
		out = append(out, c)
	}
	for _, c := range snap.IssuerCandidates(cert) {
		add(c)
	}
	for _, c := range embedded {
		if c != nil && cert.MayBeIssuedBy(c) {
			add(c)
		}
	}
	return out
}

// checkCertificates evaluates validity windows and key usage at now.
func (b *Builder) checkCertificates(res *Result, now time.Time) {
	res.KeyUsageOK = true
	for i, cert := range res.Chain {
		switch cert.ValidityAt(now) {
		case certmodel.ValidityExpired:
			res.downgrade(i, StatusExpired)
			res.Errors = append(res.Errors, fmt.Sprintf("%s expired at %s", cert.Subject, cert.NotAfter.UTC().Format(time.RFC3339)))
		case certmodel.ValidityNotYetValid:
			res.downgrade(i, StatusNotYetValid)
			res.Errors = append(res.Errors, fmt.Sprintf("%s is not valid until %s", cert.Subject, cert.NotBefore.UTC().Format(time.RFC3339)))
		}

		if i == 0 {
			if !cert.HasAnyKeyUsage(certmodel.KeyUsageDigitalSignature | certmodel.KeyUsageNonRepudiation) {
				res.KeyUsageOK = false
				res.downgrade(i, StatusKeyUsageInvalid)
				res.Errors = append(res.Errors, fmt.Sprintf("%s lacks digitalSignature and nonRepudiation key usage", cert.Subject))
			}
			continue
		}
		if !cert.HasKeyUsage(certmodel.KeyUsageKeyCertSign) {
			res.KeyUsageOK = false
			res.downgrade(i, StatusKeyUsageInvalid)
			res.Errors = append(res.Errors, fmt.Sprintf("%s lacks keyCertSign key usage", cert.Subject))
		}
	}
}

// checkRevocation asks the checker about every certificate; the anchor is
// passed as its own issuer.
func (b *Builder) checkRevocation(ctx context.Context, res *Result) {
	checker := b.checker()
	for i, cert := range res.Chain {
		issuer := cert
		if i+1 < len(res.Chain) {
			issuer = res.Chain[i+1]
		}
		rev := checker.Check(ctx, cert, issuer)
		res.Statuses[i].Revocation = revocationInfo(rev)

		switch rev.Status {
		case revocation.StatusRevoked:
			res.downgrade(i, StatusRevoked)
			res.TrustAnchorReached = false
			res.fail(fmt.Errorf("%w: %s (%s)", ErrCertificateRevoked, cert.Subject, rev.Reason))
		case revocation.StatusUnknown:
			res.downgrade(i, StatusRevocationUnknown)
			res.Warnings = append(res.Warnings, fmt.Sprintf("revocation status unknown for %s", cert.Subject))
		}
	}
}
