package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/sealtrust/internal/testpki"
)

type exitCode int

// run invokes the CLI with captured output and exit status.
func run(t *testing.T, args ...string) (out, errOut string, code int) {
	t.Helper()
	var o, e bytes.Buffer
	oldOut, oldErr, oldExit := stdout, stderr, osExit
	stdout, stderr = &o, &e
	osExit = func(c int) { panic(exitCode(c)) }
	defer func() {
		stdout, stderr, osExit = oldOut, oldErr, oldExit
		if r := recover(); r != nil {
			c, ok := r.(exitCode)
			if !ok {
				panic(r)
			}
			code = int(c)
		}
		out, errOut = o.String(), e.String()
	}()
	Run(append([]string{"sealtrust"}, args...))
	return
}

type fixture struct {
	dir    string
	pki    *testpki.Chain
	roots  string
	assoc  string
	config string
	signed string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir:   dir,
		pki:   testpki.NewChain(t, testpki.WithOrganization("EGBC")),
		roots: filepath.Join(dir, "roots"),
		assoc: filepath.Join(dir, "associations"),
	}
	require.NoError(t, os.MkdirAll(f.roots, 0o755))
	require.NoError(t, os.MkdirAll(f.assoc, 0o755))

	f.config = filepath.Join(dir, "sealtrust.yaml")
	cfg := fmt.Sprintf(`trust-store:
  custom-roots-dirs: [%q]
  association-dir: %q
logging:
  level: error
  output: %q
`, f.roots, f.assoc, filepath.Join(dir, "sealtrust.log"))
	require.NoError(t, os.WriteFile(f.config, []byte(cfg), 0o644))

	doc := testpki.NewPDF()
	doc.Sign(t, f.pki.Leaf, testpki.SignatureFields{
		Name: "Jane Engineer",
		CMS:  []testpki.CMSOption{testpki.WithCertificates(f.pki.Intermediate)},
	})
	f.signed = filepath.Join(dir, "signed.pdf")
	require.NoError(t, os.WriteFile(f.signed, doc.Bytes(), 0o644))
	return f
}

func (f *fixture) writeRoot(t *testing.T) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.roots, "root.pem"), f.pki.Root.PEM(), 0o644))
}

func (f *fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type verifyJSON struct {
	FilePath string `json:"file_path"`
	Digital  struct {
		TrustStatus string `json:"trust_status"`
	} `json:"digital_validation"`
	Hybrid struct {
		OverallValid     bool     `json:"overall_valid"`
		ComplianceStatus string   `json:"compliance_status"`
		Associations     []string `json:"associations"`
	} `json:"hybrid_validation"`
}

func TestVersionAndUsage(t *testing.T) {
	out, _, code := run(t, "version")
	assert.Zero(t, code)
	assert.Contains(t, out, "sealtrust version dev")

	out, _, code = run(t, "help")
	assert.Zero(t, code)
	assert.Contains(t, out, "verify")
	assert.Contains(t, out, "batch")
	assert.Contains(t, out, "trust")

	_, errOut, code := run(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")
}

func TestVerifyCompliantJSON(t *testing.T) {
	f := newFixture(t)
	f.writeRoot(t)

	out, _, code := run(t, "verify", "-config", f.config, "-json", f.signed)
	assert.Zero(t, code)

	var got verifyJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, f.signed, got.FilePath)
	assert.Equal(t, "fully_trusted", got.Digital.TrustStatus)
	assert.True(t, got.Hybrid.OverallValid)
	assert.Equal(t, "COMPLIANT", got.Hybrid.ComplianceStatus)
	assert.Equal(t, []string{"EGBC"}, got.Hybrid.Associations)
}

func TestVerifyText(t *testing.T) {
	f := newFixture(t)
	f.writeRoot(t)

	out, _, code := run(t, "verify", "-config", f.config, "-verbose", f.signed)
	assert.Zero(t, code)
	assert.Contains(t, out, "Compliance: [OK] COMPLIANT")
	assert.Contains(t, out, "Digital signatures: 1 of 1 valid (fully_trusted)")
	assert.Contains(t, out, "Signer: Jane Engineer")
	assert.Contains(t, out, "Association: EGBC")
	assert.Contains(t, out, "Certificate Chain:")
	assert.Contains(t, out, "[trust anchor]")
}

func TestVerifyNonCompliantExitsOne(t *testing.T) {
	f := newFixture(t)
	unsigned := f.write(t, "unsigned.pdf", testpki.NewPDF().Bytes())

	out, _, code := run(t, "verify", "-config", f.config, unsigned)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "NON_COMPLIANT")
	assert.Contains(t, out, "Digital signatures: 0 of 0 valid (no_signatures)")
}

func TestVerifyUntrustedWithoutRoots(t *testing.T) {
	f := newFixture(t)

	out, _, code := run(t, "verify", "-config", f.config, "-json", f.signed)
	assert.Equal(t, 1, code)
	var got verifyJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "untrusted", got.Digital.TrustStatus)
}

func TestVerifyTrustRootsFlag(t *testing.T) {
	f := newFixture(t)
	roots := f.write(t, "extra-roots.pem", f.pki.Root.PEM())

	out, _, code := run(t, "verify", "-config", f.config, "-trust-roots", roots, "-json", f.signed)
	assert.Zero(t, code)
	var got verifyJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "COMPLIANT", got.Hybrid.ComplianceStatus)
}

func TestVerifySealVerdicts(t *testing.T) {
	f := newFixture(t)
	unsigned := f.write(t, "unsigned.pdf", testpki.NewPDF().Bytes())
	seals := f.write(t, "seals.yaml", []byte("seals:\n  unsigned.pdf: {valid: true, confidence: 0.95, association: APEGA}\n"))

	out, _, code := run(t, "verify", "-config", f.config, "-seal", seals, "-json", unsigned)
	assert.Zero(t, code)
	var got verifyJSON
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "COMPLIANT", got.Hybrid.ComplianceStatus)
	assert.Equal(t, []string{"APEGA"}, got.Hybrid.Associations)
}

func TestVerifyErrors(t *testing.T) {
	f := newFixture(t)

	_, errOut, code := run(t, "verify", "-config", f.config, filepath.Join(f.dir, "missing.pdf"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")

	notPDF := f.write(t, "notes.txt", []byte("hello"))
	_, _, code = run(t, "verify", "-config", f.config, notPDF)
	assert.Equal(t, 1, code)

	_, errOut, code = run(t, "verify", "-config", filepath.Join(f.dir, "nope.yaml"), f.signed)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")

	out, _, code := run(t, "verify", "-config", f.config)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Usage:")
}

func TestBatchExports(t *testing.T) {
	f := newFixture(t)
	f.writeRoot(t)
	drawings := filepath.Join(f.dir, "drawings")
	require.NoError(t, os.MkdirAll(drawings, 0o755))
	signed, err := os.ReadFile(f.signed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(drawings, "a.pdf"), signed, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(drawings, "b.PDF"), testpki.NewPDF().Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(drawings, "readme.txt"), []byte("x"), 0o644))

	csvPath := filepath.Join(f.dir, "out.csv")
	xlsxPath := filepath.Join(f.dir, "out.xlsx")
	pdfPath := filepath.Join(f.dir, "out.pdf")
	out, _, code := run(t, "batch", "-config", f.config, "-quiet", "-workers", "2",
		"-csv", csvPath, "-xlsx", xlsxPath, "-pdf", pdfPath, drawings)

	assert.Equal(t, 1, code, "one drawing is not compliant")
	assert.Contains(t, out, "Documents: 2")
	assert.Contains(t, out, "Compliant: 1")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, strings.HasSuffix(records[1][0], "a.pdf"))
	assert.Equal(t, "COMPLIANT", records[1][6])
	assert.Equal(t, "NON_COMPLIANT", records[2][6])

	for _, p := range []string{xlsxPath, pdfPath} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.NotZero(t, info.Size())
	}
}

func TestBatchJSONAllCompliant(t *testing.T) {
	f := newFixture(t)
	f.writeRoot(t)

	out, _, code := run(t, "batch", "-config", f.config, "-json", f.signed)
	assert.Zero(t, code)
	var got struct {
		Total     int `json:"total"`
		Compliant int `json:"compliant"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, 1, got.Compliant)
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.pdf", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub.pdf"), 0o755))

	paths, err := expandPaths([]string{dir, "missing.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "b.pdf"), "missing.pdf"}, paths)

	_, err = expandPaths([]string{t.TempDir()})
	assert.Error(t, err)
}

func TestTrustAddListRemove(t *testing.T) {
	f := newFixture(t)
	root := f.write(t, "root.pem", f.pki.Root.PEM())

	out, _, code := run(t, "trust", "add", "-config", f.config, root)
	require.Zero(t, code)
	assert.Contains(t, out, "Added")
	fp := f.pki.Root.Cert.Fingerprint.String()
	stored := filepath.Join(f.roots, fp[:16]+".pem")
	assert.FileExists(t, stored)

	_, errOut, code := run(t, "trust", "add", "-config", f.config, root)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "already exists")

	out, _, code = run(t, "trust", "list", "-config", f.config, "-json")
	require.Zero(t, code)
	var list []trustEntry
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, fp, list[0].Fingerprint)
	assert.Equal(t, "custom", list[0].Partition)
	assert.Equal(t, stored, list[0].Source)

	out, _, code = run(t, "trust", "list", "-config", f.config)
	require.Zero(t, code)
	assert.Contains(t, out, "Test Root CA")
	assert.Contains(t, out, "1 certificate(s)")

	out, _, code = run(t, "trust", "remove", "-config", f.config, fp[:12])
	require.Zero(t, code)
	assert.Contains(t, out, "Removed")
	assert.NoFileExists(t, stored)

	_, errOut, code = run(t, "trust", "remove", "-config", f.config, fp[:12])
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no trusted certificate")
}

func TestTrustRemoveDuplicates(t *testing.T) {
	f := newFixture(t)
	f.writeRoot(t)
	bundle := filepath.Join(f.roots, "bundle.pem")
	require.NoError(t, os.WriteFile(bundle, append(f.pki.Root.PEM(), f.pki.Intermediate.PEM()...), 0o644))
	egbc := filepath.Join(f.assoc, "EGBC")
	require.NoError(t, os.MkdirAll(egbc, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(egbc, "root.pem"), f.pki.Root.PEM(), 0o644))

	fp := f.pki.Root.Cert.Fingerprint.String()
	out, _, code := run(t, "trust", "remove", "-config", f.config, fp)
	require.Zero(t, code)
	assert.Equal(t, 3, strings.Count(out, "Removed"))
	assert.NoFileExists(t, filepath.Join(f.roots, "root.pem"))
	assert.NoFileExists(t, filepath.Join(egbc, "root.pem"))

	data, err := os.ReadFile(bundle)
	require.NoError(t, err)
	assert.Equal(t, f.pki.Intermediate.PEM(), data)

	_, errOut, code := run(t, "trust", "remove", "-config", f.config, fp)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no trusted certificate")
}

func TestTrustAddRejectsLeaf(t *testing.T) {
	f := newFixture(t)
	leaf := f.write(t, "leaf.pem", f.pki.Leaf.PEM())

	_, errOut, code := run(t, "trust", "add", "-config", f.config, leaf)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not a CA certificate")
}

func TestTrustAssociations(t *testing.T) {
	f := newFixture(t)
	inter := f.write(t, "apegs.pem", f.pki.Intermediate.PEM())

	_, errOut, code := run(t, "trust", "add", "-config", f.config, "-association", "NOPE", inter)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown association")

	_, _, code = run(t, "trust", "add", "-config", f.config, "-association", "APEGS", inter)
	require.Zero(t, code)

	out, _, code := run(t, "trust", "list", "-config", f.config, "-partition", "association", "-json")
	require.Zero(t, code)
	var list []trustEntry
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "APEGS", list[0].Association)

	out, _, code = run(t, "trust", "associations", "-config", f.config)
	require.Zero(t, code)
	assert.Contains(t, out, "APEGA - Association of Professional Engineers and Geoscientists of Alberta")
	assert.Contains(t, out, "APEGS - ")
	assert.Equal(t, 3, strings.Count(out, "Trusted certificates: 0"))
	assert.Equal(t, 1, strings.Count(out, "Trusted certificates: 1"))
}

func TestTrustUsage(t *testing.T) {
	out, _, code := run(t, "trust")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "associations")

	_, errOut, code := run(t, "trust", "bogus")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown trust command")
}
