package hybrid

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/sealtrust/digital"
)

func digitalResult(status digital.TrustStatus, associations ...string) *digital.Result {
	total, valid := 0, 0
	switch status {
	case digital.TrustFullyTrusted:
		total, valid = 1, 1
	case digital.TrustPartiallyTrusted:
		total, valid = 2, 1
	case digital.TrustUntrusted:
		total = 1
	}
	if associations == nil {
		associations = []string{}
	}
	return &digital.Result{TotalCount: total, ValidCount: valid, TrustStatus: status, CertificateAssociations: associations}
}

func TestRulesValidate(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())
	assert.NoError(t, Rules{RequireBoth: true, MinimumSealConfidence: 0.5}.Validate())

	for name, r := range map[string]Rules{
		"both modes":     {RequireBoth: true, AcceptEither: true},
		"no mode":        {},
		"confidence low": {AcceptEither: true, MinimumSealConfidence: -0.1},
		"confidence big": {AcceptEither: true, MinimumSealConfidence: 1.5},
	} {
		t.Run(name, func(t *testing.T) {
			err := r.Validate()
			assert.True(t, errors.Is(err, ErrInvalidRules), "got %v", err)
		})
	}

	_, err := NewValidator(Rules{}, nil)
	assert.ErrorIs(t, err, ErrInvalidRules)
}

func TestValidateDecisionTable(t *testing.T) {
	either, err := NewValidator(DefaultRules(), nil)
	require.NoError(t, err)
	both, err := NewValidator(Rules{RequireBoth: true, MinimumSealConfidence: 0.7}, nil)
	require.NoError(t, err)

	goodSeal := &SealResult{Valid: true, Confidence: 0.9}
	weakSeal := &SealResult{Valid: true, Confidence: 0.5}
	badSeal := &SealResult{Valid: false, Confidence: 0.95}

	tests := []struct {
		name      string
		validator *Validator
		seal      *SealResult
		digital   *digital.Result
		want      bool
	}{
		{"either: seal only", either, goodSeal, digitalResult(digital.TrustUntrusted), true},
		{"either: digital only", either, badSeal, digitalResult(digital.TrustFullyTrusted), true},
		{"either: partially trusted", either, nil, digitalResult(digital.TrustPartiallyTrusted), true},
		{"either: weak seal", either, weakSeal, digitalResult(digital.TrustNoSignatures), false},
		{"either: nothing", either, nil, digitalResult(digital.TrustNoSignatures), false},
		{"both: both valid", both, goodSeal, digitalResult(digital.TrustFullyTrusted), true},
		{"both: weak seal", both, weakSeal, digitalResult(digital.TrustFullyTrusted), false},
		{"both: digital untrusted", both, goodSeal, digitalResult(digital.TrustUntrusted), false},
		{"both: no seal", both, nil, digitalResult(digital.TrustFullyTrusted), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tt.validator.Validate(tt.seal, tt.digital)
			assert.Equal(t, tt.want, res.OverallValid)
			if !tt.want {
				assert.Equal(t, NonCompliant, res.ComplianceStatus)
			}
		})
	}
}

func TestComplianceStatus(t *testing.T) {
	v, err := NewValidator(DefaultRules(), nil)
	require.NoError(t, err)

	res := v.Validate(nil, digitalResult(digital.TrustFullyTrusted, "APEGA"))
	assert.Equal(t, Compliant, res.ComplianceStatus)
	assert.Equal(t, []string{"APEGA"}, res.Associations)

	res = v.Validate(nil, digitalResult(digital.TrustFullyTrusted))
	assert.Equal(t, CompliantNoAssociation, res.ComplianceStatus)

	// the association may come from either channel
	res = v.Validate(&SealResult{Valid: true, Confidence: 0.8, Association: "EGBC"}, digitalResult(digital.TrustFullyTrusted, "APEGA", "EGBC"))
	assert.Equal(t, Compliant, res.ComplianceStatus)
	assert.Equal(t, []string{"APEGA", "EGBC"}, res.Associations)

	res = v.Validate(nil, digitalResult(digital.TrustUntrusted, "APEGA"))
	assert.Equal(t, NonCompliant, res.ComplianceStatus)
}

func TestMethodsAndNotes(t *testing.T) {
	v, err := NewValidator(DefaultRules(), nil)
	require.NoError(t, err)

	res := v.Validate(&SealResult{Valid: true, Confidence: 0.9, Association: "APEGS"}, digitalResult(digital.TrustFullyTrusted, "APEGS"))
	assert.Equal(t, []string{"seal", "digital"}, res.ValidationMethodsUsed)
	assert.Equal(t, []string{TypeSeal, TypeDigital}, res.SignatureTypesFound)
	assert.Contains(t, res.Notes, "Image-based seal validation passed (confidence: 0.90)")
	assert.Contains(t, res.Notes, "Certificate associations: APEGS")
	assert.Equal(t, "Document is compliant: COMPLIANT", res.Notes[len(res.Notes)-1])

	res = v.Validate(nil, digitalResult(digital.TrustNoSignatures))
	assert.Equal(t, []string{MethodDigital}, res.ValidationMethodsUsed)
	assert.Empty(t, res.SignatureTypesFound)
	assert.Contains(t, res.Notes, "No signatures found in document")
	assert.Equal(t, "Document does not meet validation requirements", res.Notes[len(res.Notes)-1])

	res = v.Validate(&SealResult{Valid: true, Confidence: 0.3}, nil)
	assert.Contains(t, res.Notes, "Image-based seal confidence 0.30 is below the required 0.70")
}

func TestLoadSealVerdicts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seals.yaml")
	doc := `seals:
  drawings/a.pdf: {valid: true, confidence: 0.92, association: APEGA}
  b.pdf:
    valid: false
    confidence: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	verdicts, err := LoadSealVerdicts(path)
	require.NoError(t, err)
	require.Len(t, verdicts, 2)

	a := verdicts.Lookup("drawings/./a.pdf")
	require.NotNil(t, a)
	assert.True(t, a.Valid)
	assert.Equal(t, "APEGA", a.Association)

	b := verdicts.Lookup("/elsewhere/b.pdf")
	require.NotNil(t, b)
	assert.False(t, b.Valid)

	assert.Nil(t, verdicts.Lookup("c.pdf"))
	assert.Nil(t, SealVerdicts(nil).Lookup("a.pdf"))

	// JSON is accepted as well
	verdicts, err = ParseSealVerdicts([]byte(`{"seals": {"x.pdf": {"valid": true, "confidence": 1}}}`))
	require.NoError(t, err)
	assert.True(t, verdicts.Lookup("x.pdf").Valid)

	_, err = ParseSealVerdicts([]byte("seals:\n  x.pdf: {valid: true, confidence: 2}\n"))
	assert.Error(t, err)
	_, err = LoadSealVerdicts(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
