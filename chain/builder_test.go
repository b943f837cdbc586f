package chain_test

import (
	"context"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/sealtrust/certmodel"
	"github.com/georgepadayatti/sealtrust/chain"
	"github.com/georgepadayatti/sealtrust/internal/testpki"
	"github.com/georgepadayatti/sealtrust/revocation"
	"github.com/georgepadayatti/sealtrust/truststore"
)

// staticChecker answers good for every certificate except the revoked ones.
type staticChecker struct {
	revoked map[certmodel.Fingerprint]bool
	issuers []*certmodel.Certificate
}

func (c *staticChecker) Check(_ context.Context, cert, issuer *certmodel.Certificate) revocation.Result {
	c.issuers = append(c.issuers, issuer)
	if c.revoked[cert.Fingerprint] {
		return revocation.Result{Status: revocation.StatusRevoked, Source: revocation.SourceCRL, Reason: "keyCompromise"}
	}
	return revocation.Result{Status: revocation.StatusGood, Source: revocation.SourceCRL}
}

func storeWith(t *testing.T, anchors ...*testpki.Identity) *truststore.Snapshot {
	t.Helper()
	store := truststore.NewStore(nil)
	for _, a := range anchors {
		if _, err := store.AddCustomRoot(a.Cert.Raw); err != nil {
			t.Fatal(err)
		}
	}
	return store.Snapshot()
}

func newBuilder(checker revocation.Checker) *chain.Builder {
	return chain.NewBuilder(checker, clockwork.NewFakeClockAt(time.Now()), nil)
}

func TestBuildCompleteChain(t *testing.T) {
	pki := testpki.NewChain(t)
	snap := storeWith(t, pki.Root)
	checker := &staticChecker{}

	res := newBuilder(checker).Build(context.Background(), snap, pki.Leaf.Cert, []*certmodel.Certificate{pki.Leaf.Cert, pki.Intermediate.Cert})

	if !res.ChainComplete || !res.TrustAnchorReached {
		t.Fatalf("expected anchored chain, got failure %v", res.Failure)
	}
	if len(res.Chain) != 3 || !res.Chain[1].Equal(pki.Intermediate.Cert) || !res.Anchor().Equal(pki.Root.Cert) {
		t.Fatalf("unexpected chain %v", res.Chain)
	}
	if res.HasStatus(chain.StatusSignatureInvalid) {
		t.Error("no signature-invalid status expected")
	}
	for _, s := range res.Statuses {
		if s.Status != chain.StatusValid {
			t.Errorf("%s: status %s", s.Subject, s.Status)
		}
	}
	if !res.Statuses[2].TrustAnchor || res.Statuses[0].TrustAnchor {
		t.Error("only the last certificate is the anchor")
	}
	if !res.KeyUsageOK {
		t.Error("KeyUsageOK should be true")
	}
	if len(checker.issuers) != 3 || !checker.issuers[0].Equal(pki.Intermediate.Cert) || !checker.issuers[2].Equal(pki.Root.Cert) {
		t.Error("revocation should be asked with the next certificate as issuer and the anchor as its own issuer")
	}
}

func TestBuildAnchorAtIntermediate(t *testing.T) {
	pki := testpki.NewChain(t)
	res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Intermediate), pki.Leaf.Cert, nil)
	if !res.TrustAnchorReached || len(res.Chain) != 2 {
		t.Fatalf("expected a two certificate chain, got %d (%v)", len(res.Chain), res.Failure)
	}
}

func TestBuildLeafIsAnchor(t *testing.T) {
	pki := testpki.NewChain(t)
	res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Leaf), pki.Leaf.Cert, nil)
	if !res.TrustAnchorReached || len(res.Chain) != 1 {
		t.Fatalf("directly trusted leaf should anchor immediately, got %v", res.Failure)
	}
}

func TestBuildIncomplete(t *testing.T) {
	pki := testpki.NewChain(t)
	res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, nil)

	if res.ChainComplete || res.TrustAnchorReached {
		t.Error("chain without the intermediate must be incomplete")
	}
	if !errors.Is(res.Failure, chain.ErrChainIncomplete) {
		t.Errorf("Failure = %v", res.Failure)
	}
	if len(res.Chain) != 1 {
		t.Errorf("partial chain should hold the leaf, got %d", len(res.Chain))
	}
	if res.Statuses[0].Revocation != nil {
		t.Error("revocation is only checked for anchored chains")
	}
}

func TestBuildNilLeaf(t *testing.T) {
	res := newBuilder(nil).Build(context.Background(), storeWith(t), nil, nil)
	if !errors.Is(res.Failure, chain.ErrChainIncomplete) || res.Leaf() != nil {
		t.Errorf("Failure = %v", res.Failure)
	}
}

func TestBuildSignatureInvalid(t *testing.T) {
	pki := testpki.NewChain(t)
	forged := testpki.NewIntermediate(t, pki.Root, "Test Issuing CA",
		testpki.WithOrganization("Test Trust Services"),
		testpki.WithSubjectKeyID(pki.Intermediate.Cert.SubjectKeyID))

	res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, []*certmodel.Certificate{forged.Cert})

	if !errors.Is(res.Failure, chain.ErrSignatureInvalid) {
		t.Fatalf("Failure = %v", res.Failure)
	}
	if res.TrustAnchorReached {
		t.Error("anchor must not be reached")
	}
	if got, _ := res.StatusOf(pki.Leaf.Cert.Fingerprint); got != chain.StatusSignatureInvalid {
		t.Errorf("leaf status = %s", got)
	}
}

func TestBuildPrefersVerifyingCandidate(t *testing.T) {
	pki := testpki.NewChain(t)
	forged := testpki.NewIntermediate(t, pki.Root, "Test Issuing CA",
		testpki.WithOrganization("Test Trust Services"),
		testpki.WithSubjectKeyID(pki.Intermediate.Cert.SubjectKeyID))

	embedded := []*certmodel.Certificate{forged.Cert, pki.Intermediate.Cert}
	res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, embedded)
	if !res.TrustAnchorReached {
		t.Fatalf("the genuine intermediate should be chosen, got %v", res.Failure)
	}
	if !res.Chain[1].Equal(pki.Intermediate.Cert) {
		t.Error("wrong parent selected")
	}
}

func TestBuildUntrustedRoot(t *testing.T) {
	pki := testpki.NewChain(t)
	embedded := []*certmodel.Certificate{pki.Intermediate.Cert, pki.Root.Cert}
	res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t), pki.Leaf.Cert, embedded)

	if res.ChainComplete || res.TrustAnchorReached {
		t.Errorf("complete=%v anchored=%v", res.ChainComplete, res.TrustAnchorReached)
	}
	if !errors.Is(res.Failure, chain.ErrChainIncomplete) || !errors.Is(res.Failure, chain.ErrUntrustedRoot) {
		t.Errorf("Failure = %v", res.Failure)
	}
	if res.Anchor() != nil {
		t.Error("Anchor should be nil")
	}
}

func TestBuildAfterAnchorRemoved(t *testing.T) {
	pki := testpki.NewChain(t)
	store := truststore.NewStore(nil)
	root, err := store.AddCustomRoot(pki.Root.Cert.Raw)
	if err != nil {
		t.Fatal(err)
	}
	embedded := []*certmodel.Certificate{pki.Intermediate.Cert, pki.Root.Cert}
	builder := newBuilder(&staticChecker{})

	res := builder.Build(context.Background(), store.Snapshot(), pki.Leaf.Cert, embedded)
	if !res.TrustAnchorReached {
		t.Fatalf("expected anchored chain, got %v", res.Failure)
	}

	if !store.Remove(root.Fingerprint) {
		t.Fatal("Remove reported no change")
	}
	res = builder.Build(context.Background(), store.Snapshot(), pki.Leaf.Cert, embedded)

	if res.ChainComplete || res.TrustAnchorReached {
		t.Errorf("complete=%v anchored=%v", res.ChainComplete, res.TrustAnchorReached)
	}
	if !errors.Is(res.Failure, chain.ErrChainIncomplete) {
		t.Errorf("Failure = %v", res.Failure)
	}
	if len(res.Statuses) != 3 {
		t.Fatalf("expected the whole path to be reported, got %d certificates", len(res.Statuses))
	}
	for i, s := range res.Statuses[:2] {
		if s.Status == chain.StatusSignatureInvalid {
			t.Errorf("certificate %d: signatures along the path are intact", i)
		}
	}
}

func TestBuildTooLong(t *testing.T) {
	pki := testpki.NewChain(t)
	builder := newBuilder(&staticChecker{})
	embedded := []*certmodel.Certificate{pki.Intermediate.Cert}

	builder.MaxDepth = 2
	res := builder.Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, embedded)
	if !errors.Is(res.Failure, chain.ErrChainTooLong) || res.TrustAnchorReached {
		t.Errorf("Failure = %v", res.Failure)
	}

	builder.MaxDepth = 3
	if res := builder.Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, embedded); !res.TrustAnchorReached {
		t.Errorf("depth 3 should be enough, got %v", res.Failure)
	}
}

func TestBuildValidityAffectsOnlyThatCertificate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		notBefore time.Time
		notAfter  time.Time
		want      chain.Status
	}{
		{"expired", now.Add(-2 * 365 * 24 * time.Hour), now.Add(-365 * 24 * time.Hour), chain.StatusExpired},
		{"not yet valid", now.Add(24 * time.Hour), now.Add(48 * time.Hour), chain.StatusNotYetValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pki := testpki.NewChain(t, testpki.WithValidity(tt.notBefore, tt.notAfter))
			res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, []*certmodel.Certificate{pki.Intermediate.Cert})

			if !res.TrustAnchorReached {
				t.Fatalf("validity problems must not prevent anchoring, got %v", res.Failure)
			}
			if res.Statuses[0].Status != tt.want {
				t.Errorf("leaf status = %s, want %s", res.Statuses[0].Status, tt.want)
			}
			if res.Statuses[1].Status != chain.StatusValid || res.Statuses[2].Status != chain.StatusValid {
				t.Error("sibling certificates must stay valid")
			}
			if len(res.Errors) != 1 {
				t.Errorf("Errors = %v", res.Errors)
			}
		})
	}
}

func TestBuildKeyUsage(t *testing.T) {
	t.Run("leaf without signing usage", func(t *testing.T) {
		pki := testpki.NewChain(t, testpki.WithKeyUsage(x509.KeyUsageKeyEncipherment))
		res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, []*certmodel.Certificate{pki.Intermediate.Cert})
		if res.KeyUsageOK || res.Statuses[0].Status != chain.StatusKeyUsageInvalid {
			t.Errorf("KeyUsageOK=%v status=%s", res.KeyUsageOK, res.Statuses[0].Status)
		}
		if !res.TrustAnchorReached {
			t.Error("key usage does not break the path")
		}
	})

	t.Run("non repudiation only", func(t *testing.T) {
		pki := testpki.NewChain(t, testpki.WithKeyUsage(x509.KeyUsageContentCommitment))
		res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, []*certmodel.Certificate{pki.Intermediate.Cert})
		if !res.KeyUsageOK {
			t.Error("nonRepudiation is sufficient for the leaf")
		}
	})

	t.Run("leaf without extension", func(t *testing.T) {
		pki := testpki.NewChain(t, testpki.WithoutKeyUsage())
		res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, []*certmodel.Certificate{pki.Intermediate.Cert})
		if !res.KeyUsageOK {
			t.Error("a certificate without key usage is unrestricted")
		}
	})

	t.Run("intermediate without keyCertSign", func(t *testing.T) {
		root := testpki.NewRoot(t, "Root")
		inter := testpki.NewIntermediate(t, root, "Issuing", testpki.WithKeyUsage(x509.KeyUsageDigitalSignature))
		leaf := testpki.NewLeaf(t, inter, "Leaf")
		res := newBuilder(&staticChecker{}).Build(context.Background(), storeWith(t, root), leaf.Cert, []*certmodel.Certificate{inter.Cert})
		if res.KeyUsageOK || res.Statuses[1].Status != chain.StatusKeyUsageInvalid || res.Statuses[0].Status != chain.StatusValid {
			t.Errorf("KeyUsageOK=%v statuses=%+v", res.KeyUsageOK, res.Statuses)
		}
	})
}

func TestBuildRevocation(t *testing.T) {
	pki := testpki.NewChain(t)
	embedded := []*certmodel.Certificate{pki.Intermediate.Cert}

	t.Run("revoked", func(t *testing.T) {
		checker := &staticChecker{revoked: map[certmodel.Fingerprint]bool{pki.Intermediate.Cert.Fingerprint: true}}
		res := newBuilder(checker).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, embedded)

		if res.TrustAnchorReached {
			t.Error("revocation must clear TrustAnchorReached")
		}
		if !res.ChainComplete {
			t.Error("the path itself is complete")
		}
		if !errors.Is(res.Failure, chain.ErrCertificateRevoked) {
			t.Errorf("Failure = %v", res.Failure)
		}
		if res.Statuses[1].Status != chain.StatusRevoked || res.Statuses[1].Revocation.Reason != "keyCompromise" {
			t.Errorf("intermediate = %+v", res.Statuses[1])
		}
		if res.Statuses[0].Status != chain.StatusValid {
			t.Error("leaf status should not change")
		}
	})

	t.Run("unknown is a warning", func(t *testing.T) {
		res := newBuilder(revocation.NoopChecker{}).Build(context.Background(), storeWith(t, pki.Root), pki.Leaf.Cert, embedded)
		if !res.TrustAnchorReached || res.Failure != nil {
			t.Fatalf("unknown revocation must not fail the chain: %v", res.Failure)
		}
		if len(res.Warnings) != 3 {
			t.Errorf("Warnings = %v", res.Warnings)
		}
		for _, s := range res.Statuses {
			if s.Status != chain.StatusRevocationUnknown {
				t.Errorf("%s: %s", s.Subject, s.Status)
			}
		}
	})

	t.Run("revoked outranks expired", func(t *testing.T) {
		now := time.Now()
		expired := testpki.NewChain(t, testpki.WithValidity(now.Add(-48*time.Hour), now.Add(-24*time.Hour)))
		checker := &staticChecker{revoked: map[certmodel.Fingerprint]bool{expired.Leaf.Cert.Fingerprint: true}}
		res := newBuilder(checker).Build(context.Background(), storeWith(t, expired.Root), expired.Leaf.Cert, []*certmodel.Certificate{expired.Intermediate.Cert})
		if res.Statuses[0].Status != chain.StatusRevoked {
			t.Errorf("leaf status = %s", res.Statuses[0].Status)
		}
	})
}

func TestBuildDeterministic(t *testing.T) {
	pki := testpki.NewChain(t)
	snap := storeWith(t, pki.Root)
	builder := newBuilder(&staticChecker{})
	embedded := []*certmodel.Certificate{pki.Intermediate.Cert}

	first := builder.Build(context.Background(), snap, pki.Leaf.Cert, embedded)
	for i := 0; i < 5; i++ {
		again := builder.Build(context.Background(), snap, pki.Leaf.Cert, embedded)
		if len(again.Chain) != len(first.Chain) {
			t.Fatal("chain length changed between runs")
		}
		for j := range again.Chain {
			if !again.Chain[j].Equal(first.Chain[j]) || again.Statuses[j].Status != first.Statuses[j].Status {
				t.Fatal("chain changed between runs")
			}
		}
	}
}

func TestStatusPrecedence(t *testing.T) {
	order := []chain.Status{
		chain.StatusSignatureInvalid,
		chain.StatusRevoked,
		chain.StatusExpired,
		chain.StatusNotYetValid,
		chain.StatusKeyUsageInvalid,
		chain.StatusRevocationUnknown,
		chain.StatusValid,
	}
	for i := 0; i < len(order)-1; i++ {
		if !order[i].Worse(order[i+1]) {
			t.Errorf("%s should outrank %s", order[i], order[i+1])
		}
	}
}
