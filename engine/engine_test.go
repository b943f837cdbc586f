package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/sealtrust/config"
	"github.com/georgepadayatti/sealtrust/digital"
	"github.com/georgepadayatti/sealtrust/hybrid"
	"github.com/georgepadayatti/sealtrust/internal/testpki"
	"github.com/georgepadayatti/sealtrust/pdfsig"
)

type fixture struct {
	pki    *testpki.Chain
	dir    string
	config *config.AppConfig
	pdf    string
}

func newFixture(t *testing.T, leafOpts ...testpki.Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	pki := testpki.NewChain(t, leafOpts...)

	roots := filepath.Join(dir, "roots")
	require.NoError(t, os.MkdirAll(roots, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(roots, "root.pem"), pki.Root.PEM(), 0o644))

	doc := testpki.NewPDF()
	doc.Sign(t, pki.Leaf, testpki.SignatureFields{
		Name: "Jane Engineer",
		CMS:  []testpki.CMSOption{testpki.WithCertificates(pki.Intermediate)},
	})
	pdf := filepath.Join(dir, "drawing.pdf")
	require.NoError(t, os.WriteFile(pdf, doc.Bytes(), 0o644))

	cfg := config.DefaultAppConfig()
	cfg.TrustStore.CustomRootsDirs = []string{roots}
	return &fixture{pki: pki, dir: dir, config: cfg, pdf: pdf}
}

func TestValidateFileCompliant(t *testing.T) {
	f := newFixture(t, testpki.WithOrganization("EGBC"))
	e, err := New(f.config, nil)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 1, e.Store().Snapshot().Len())
	assert.Equal(t, 1, e.LoadReport().Files)

	report, err := e.ValidateFile(context.Background(), f.pdf, nil)
	require.NoError(t, err)

	assert.Equal(t, f.pdf, report.FilePath)
	assert.Equal(t, digital.TrustFullyTrusted, report.Digital.TrustStatus)
	assert.True(t, report.Hybrid.OverallValid)
	assert.Equal(t, hybrid.Compliant, report.Hybrid.ComplianceStatus)
	assert.Equal(t, []string{"EGBC"}, report.Hybrid.Associations)
}

func TestValidateFileNoAssociation(t *testing.T) {
	f := newFixture(t)
	e, err := New(f.config, nil)
	require.NoError(t, err)

	report, err := e.ValidateFile(context.Background(), f.pdf, nil)
	require.NoError(t, err)
	assert.Equal(t, hybrid.CompliantNoAssociation, report.Hybrid.ComplianceStatus)
}

func TestAssociationDirectory(t *testing.T) {
	f := newFixture(t)
	assocDir := filepath.Join(f.dir, "associations", "APEGS")
	require.NoError(t, os.MkdirAll(assocDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assocDir, "issuing.pem"), f.pki.Intermediate.PEM(), 0o644))
	f.config.TrustStore.AssociationDir = filepath.Join(f.dir, "associations")

	e, err := New(f.config, nil)
	require.NoError(t, err)

	report, err := e.ValidateFile(context.Background(), f.pdf, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"APEGS"}, report.Digital.CertificateAssociations)
	assert.Equal(t, hybrid.Compliant, report.Hybrid.ComplianceStatus)
}

func TestOfflineRevocation(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	crls := filepath.Join(f.dir, "crls")
	require.NoError(t, os.MkdirAll(crls, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(crls, "issuing.crl"),
		f.pki.Intermediate.CRL(t, now.Add(-time.Hour), now.Add(24*time.Hour), f.pki.Leaf.Cert), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(crls, "root.crl"),
		f.pki.Root.CRL(t, now.Add(-time.Hour), now.Add(24*time.Hour)), 0o644))

	f.config.Revocation.Mode = config.RevocationOffline
	f.config.Revocation.CRLDirs = []string{crls}

	e, err := New(f.config, nil, WithClock(clockwork.NewFakeClockAt(now)))
	require.NoError(t, err)

	report, err := e.ValidateFile(context.Background(), f.pdf, nil)
	require.NoError(t, err)
	assert.Equal(t, digital.TrustUntrusted, report.Digital.TrustStatus)
	assert.Equal(t, hybrid.NonCompliant, report.Hybrid.ComplianceStatus)

	// a seal verdict alone satisfies accept-either
	report, err = e.ValidateFile(context.Background(), f.pdf, &hybrid.SealResult{Valid: true, Confidence: 0.95, Association: "APEGA"})
	require.NoError(t, err)
	assert.Equal(t, hybrid.Compliant, report.Hybrid.ComplianceStatus)
}

func TestRequireBoth(t *testing.T) {
	f := newFixture(t)
	f.config.Compliance.RequireBoth = true
	f.config.Compliance.AcceptEither = false

	e, err := New(f.config, nil)
	require.NoError(t, err)

	report, err := e.ValidateFile(context.Background(), f.pdf, nil)
	require.NoError(t, err)
	assert.False(t, report.Hybrid.OverallValid)

	report, err = e.ValidateFile(context.Background(), f.pdf, &hybrid.SealResult{Valid: true, Confidence: 0.8})
	require.NoError(t, err)
	assert.True(t, report.Hybrid.OverallValid)
}

func TestNewErrors(t *testing.T) {
	cfg := config.DefaultAppConfig()
	cfg.TrustStore.CustomRootsDirs = []string{filepath.Join(t.TempDir(), "missing")}
	_, err := New(cfg, nil)
	assert.Error(t, err)

	cfg = config.DefaultAppConfig()
	cfg.Revocation.Mode = "sometimes"
	_, err = New(cfg, nil)
	assert.Error(t, err)

	cfg = config.DefaultAppConfig()
	cfg.Revocation.Mode = config.RevocationOffline
	cfg.Revocation.CRLDirs = []string{filepath.Join(t.TempDir(), "missing")}
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	e, err := New(nil, nil)
	require.NoError(t, err)

	_, err = e.ValidateFile(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), nil)
	assert.Error(t, err)

	_, err = e.ValidateBytes(context.Background(), "notes.txt", []byte("plain text"), nil)
	assert.ErrorIs(t, err, pdfsig.ErrNotPDF)
}

func TestStartReload(t *testing.T) {
	f := newFixture(t)
	e, err := New(f.config, nil)
	require.NoError(t, err)
	require.NoError(t, e.StartReload())
	e.Close()

	f.config.TrustStore.ReloadSchedule = "@every 1h"
	e, err = New(f.config, nil)
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.StartReload())
	assert.Error(t, e.StartReload())
}
