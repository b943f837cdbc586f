package digital

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/sealtrust/chain"
	"github.com/georgepadayatti/sealtrust/internal/testpki"
	"github.com/georgepadayatti/sealtrust/revocation"
	"github.com/georgepadayatti/sealtrust/truststore"
)

func newStore(t *testing.T, anchors ...*testpki.Identity) *truststore.Store {
	t.Helper()
	store := truststore.NewStore(nil)
	for _, a := range anchors {
		_, err := store.AddCustomRoot(a.Cert.Raw)
		require.NoError(t, err)
	}
	return store
}

func newValidator(store *truststore.Store, checker revocation.Checker, policy Policy) *Validator {
	builder := chain.NewBuilder(checker, clockwork.NewFakeClockAt(time.Now()), nil)
	return NewValidator(store, builder, nil, policy, nil)
}

func signedPDF(t *testing.T, pki *testpki.Chain) []byte {
	t.Helper()
	doc := testpki.NewPDF()
	doc.Sign(t, pki.Leaf, testpki.SignatureFields{
		Name:     "Jane Engineer",
		Reason:   "Approved for construction",
		Location: "Calgary",
		CMS:      []testpki.CMSOption{testpki.WithCertificates(pki.Intermediate)},
	})
	return doc.Bytes()
}

func TestTrustStatusFor(t *testing.T) {
	tests := []struct {
		total, valid int
		want         TrustStatus
	}{
		{0, 0, TrustNoSignatures},
		{3, 3, TrustFullyTrusted},
		{3, 1, TrustPartiallyTrusted},
		{2, 0, TrustUntrusted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TrustStatusFor(tt.total, tt.valid), "%d of %d", tt.valid, tt.total)
	}
	assert.True(t, TrustPartiallyTrusted.Trusted())
	assert.False(t, TrustNoSignatures.Trusted())
}

func TestValidatePDFTrusted(t *testing.T) {
	pki := testpki.NewChain(t, testpki.WithOrganization("APEGA"), testpki.WithEmail("jane@apega.ca"))
	v := newValidator(newStore(t, pki.Root), nil, Policy{})

	res, err := v.ValidatePDF(context.Background(), signedPDF(t, pki))
	require.NoError(t, err)

	require.Len(t, res.Signatures, 1)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, 1, res.ValidCount)
	assert.Equal(t, TrustFullyTrusted, res.TrustStatus)
	assert.Equal(t, []string{"APEGA"}, res.CertificateAssociations)

	sig := res.Signatures[0]
	assert.True(t, sig.Valid)
	assert.True(t, sig.IntegrityValid)
	assert.Equal(t, "Signature1", sig.FieldName)
	assert.Equal(t, "Jane Engineer", sig.SignerName)
	assert.Equal(t, "jane@apega.ca", sig.SignerEmail)
	assert.Equal(t, "Calgary", sig.Location)
	assert.Equal(t, "adbe.pkcs7.detached", sig.SubFilter)
	assert.Equal(t, "SHA-256", sig.DigestAlgorithm)
	require.NotNil(t, sig.Validation)
	assert.True(t, sig.Validation.TrustAnchorReached)
	assert.Len(t, sig.Validation.Chain, 3)
	assert.Equal(t, "APEGA", sig.AssociationID())
	// revocation is not checked by the no-op checker
	assert.True(t, sig.Validation.HasStatus(chain.StatusRevocationUnknown))
}

func TestValidatePDFNoSignatures(t *testing.T) {
	v := newValidator(newStore(t), nil, Policy{})
	res, err := v.ValidatePDF(context.Background(), testpki.NewPDF().Bytes())
	require.NoError(t, err)
	assert.Equal(t, TrustNoSignatures, res.TrustStatus)
	assert.False(t, res.SignaturesFound())
	assert.NotNil(t, res.CertificateAssociations)
}

func TestValidatePDFUntrustedRoot(t *testing.T) {
	pki := testpki.NewChain(t)
	other := testpki.NewRoot(t, "Other Root")
	v := newValidator(newStore(t, other), nil, Policy{})

	res, err := v.ValidatePDF(context.Background(), signedPDF(t, pki))
	require.NoError(t, err)
	assert.Equal(t, TrustUntrusted, res.TrustStatus)
	assert.True(t, res.Signatures[0].IntegrityValid)
	assert.False(t, res.Signatures[0].Valid)
}

func TestValidatorWithoutStore(t *testing.T) {
	pki := testpki.NewChain(t)
	v := NewValidator(nil, nil, nil, Policy{}, nil)
	require.NotNil(t, v.Store)

	res, err := v.ValidatePDF(context.Background(), signedPDF(t, pki))
	require.NoError(t, err)
	assert.Equal(t, TrustUntrusted, res.TrustStatus)
	assert.True(t, res.Signatures[0].IntegrityValid)
	assert.False(t, res.Signatures[0].Valid)
}

func TestValidatePDFTampered(t *testing.T) {
	pki := testpki.NewChain(t)
	data := signedPDF(t, pki)
	i := bytes.Index(data, []byte("612 792"))
	require.GreaterOrEqual(t, i, 0)
	data[i+2] = '3'

	v := newValidator(newStore(t, pki.Root), nil, Policy{})
	res, err := v.ValidatePDF(context.Background(), data)
	require.NoError(t, err)

	sig := res.Signatures[0]
	assert.False(t, sig.IntegrityValid)
	assert.NotEmpty(t, sig.IntegrityError)
	assert.True(t, sig.Validation.TrustAnchorReached)
	assert.False(t, sig.Valid)
	assert.Equal(t, TrustUntrusted, res.TrustStatus)
}

func TestValidatePartiallyTrusted(t *testing.T) {
	trusted := testpki.NewChain(t)
	stranger := testpki.NewChain(t)

	doc := testpki.NewPDF()
	doc.Sign(t, trusted.Leaf, testpki.SignatureFields{CMS: []testpki.CMSOption{testpki.WithCertificates(trusted.Intermediate)}})
	doc.Sign(t, stranger.Leaf, testpki.SignatureFields{CMS: []testpki.CMSOption{testpki.WithCertificates(stranger.Intermediate)}})

	v := newValidator(newStore(t, trusted.Root), nil, Policy{})
	res, err := v.ValidatePDF(context.Background(), doc.Bytes())
	require.NoError(t, err)

	require.Len(t, res.Signatures, 2)
	assert.Equal(t, "Signature1", res.Signatures[0].FieldName)
	assert.True(t, res.Signatures[0].Valid)
	assert.False(t, res.Signatures[1].Valid)
	assert.Equal(t, TrustPartiallyTrusted, res.TrustStatus)
	// incremental updates nest and are not reported as overlapping
	for _, w := range res.Warnings {
		assert.NotContains(t, w, "overlapping")
	}
}

func TestValidateDocumentSkipsMalformed(t *testing.T) {
	pki := testpki.NewChain(t)
	content := []byte("drawing content")
	good := Input{
		FieldName: "Seal",
		Filter:    "Adobe.PPKLite",
		SubFilter: "adbe.pkcs7.detached",
		Contents:  testpki.SignCMS(t, pki.Leaf, content, testpki.WithCertificates(pki.Intermediate)),
		Covered:   content,
	}
	bad := Input{
		FieldName: "Broken",
		Filter:    "Adobe.PPKLite",
		SubFilter: "adbe.pkcs7.detached",
		Contents:  []byte("not a container"),
	}

	v := newValidator(newStore(t, pki.Root), nil, Policy{})
	res := v.ValidateDocument(context.Background(), []Input{bad, good})

	require.Len(t, res.Signatures, 1)
	assert.Equal(t, "Seal", res.Signatures[0].FieldName)
	assert.Equal(t, TrustFullyTrusted, res.TrustStatus)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Broken")
}

func TestValidateRequireTimeValidity(t *testing.T) {
	root := testpki.NewRoot(t, "Root")
	now := time.Now()
	leaf := testpki.NewLeaf(t, root, "Jane", testpki.WithValidity(now.Add(-48*time.Hour), now.Add(-24*time.Hour)))
	content := []byte("drawing")
	in := Input{
		Filter:    "Adobe.PPKLite",
		SubFilter: "adbe.pkcs7.detached",
		Contents:  testpki.SignCMS(t, leaf, content),
		Covered:   content,
	}
	store := newStore(t, root)

	lenient := newValidator(store, nil, Policy{}).ValidateDocument(context.Background(), []Input{in})
	assert.True(t, lenient.Signatures[0].Valid)
	assert.True(t, lenient.Signatures[0].Validation.HasStatus(chain.StatusExpired))

	strict := newValidator(store, nil, Policy{RequireTimeValidity: true}).ValidateDocument(context.Background(), []Input{in})
	assert.False(t, strict.Signatures[0].Valid)
	assert.Equal(t, TrustUntrusted, strict.TrustStatus)
}

func TestValidateRevoked(t *testing.T) {
	pki := testpki.NewChain(t)
	now := time.Now()
	crl, err := x509.ParseRevocationList(pki.Intermediate.CRL(t, now.Add(-time.Hour), now.Add(24*time.Hour), pki.Leaf.Cert))
	require.NoError(t, err)
	rootCRL, err := x509.ParseRevocationList(pki.Root.CRL(t, now.Add(-time.Hour), now.Add(24*time.Hour)))
	require.NoError(t, err)
	checker := revocation.NewCRLSetChecker(clockwork.NewFakeClockAt(now), crl, rootCRL)

	v := newValidator(newStore(t, pki.Root), checker, Policy{})
	res, err := v.ValidatePDF(context.Background(), signedPDF(t, pki))
	require.NoError(t, err)

	sig := res.Signatures[0]
	assert.True(t, sig.IntegrityValid)
	assert.False(t, sig.Valid)
	assert.True(t, sig.Validation.HasStatus(chain.StatusRevoked))
	assert.Equal(t, TrustUntrusted, res.TrustStatus)
}

func TestOverlapWarnings(t *testing.T) {
	inputs := []Input{
		{FieldName: "A", ByteRange: [4]int64{0, 100, 200, 100}},
		{FieldName: "B", ByteRange: [4]int64{50, 100, 250, 150}},
		{FieldName: "C", ByteRange: [4]int64{60, 10, 80, 10}},
		{FieldName: "D", ByteRange: [4]int64{500, 10, 520, 10}},
	}
	warnings := overlapWarnings(inputs)
	// C nests in A and B, D is disjoint from both
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "A and B")

	v := newValidator(newStore(t), nil, Policy{})
	res := v.ValidateDocument(context.Background(), inputs)
	assert.Contains(t, res.Warnings, warnings[0])
	assert.Equal(t, TrustNoSignatures, res.TrustStatus)
}

func TestResultJSONStable(t *testing.T) {
	pki := testpki.NewChain(t, testpki.WithOrganization("EGBC"))
	data := signedPDF(t, pki)
	v := newValidator(newStore(t, pki.Root), nil, Policy{})

	first, err := v.ValidatePDF(context.Background(), data)
	require.NoError(t, err)
	second, err := v.ValidatePDF(context.Background(), data)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	assert.Contains(t, string(a), `"trust_status":"fully_trusted"`)
	assert.Contains(t, string(a), `"association":"EGBC"`)
}
