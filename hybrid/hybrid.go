// Package hybrid combines the verdict of the image-based seal pipeline with
// the digital signature verdict into a compliance decision.
package hybrid

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/georgepadayatti/sealtrust/digital"
)

var ErrInvalidRules = errors.New("invalid compliance rules")

// ComplianceStatus is the document level compliance decision.
type ComplianceStatus string

const (
	Compliant              ComplianceStatus = "COMPLIANT"
	CompliantNoAssociation ComplianceStatus = "COMPLIANT_NO_ASSOCIATION"
	NonCompliant           ComplianceStatus = "NON_COMPLIANT"
)

// Validation method and signature type names reported in results.
const (
	MethodSeal    = "seal"
	MethodDigital = "digital"

	TypeSeal    = "image_based_seal"
	TypeDigital = "digital_signature"
)

// Rules selects how the two channels are combined. Exactly one of
// RequireBoth and AcceptEither is set.
type Rules struct {
	RequireBoth           bool    `yaml:"require-both" json:"require_both"`
	AcceptEither          bool    `yaml:"accept-either" json:"accept_either"`
	MinimumSealConfidence float64 `yaml:"minimum-seal-confidence" json:"minimum_seal_confidence"`
}

// DefaultRules accepts either channel and requires a seal confidence of 0.7.
func DefaultRules() Rules {
	return Rules{AcceptEither: true, MinimumSealConfidence: 0.7}
}

// Validate checks that exactly one mode is selected and the confidence
// threshold lies in [0, 1].
func (r Rules) Validate() error {
	if r.RequireBoth == r.AcceptEither {
		return fmt.Errorf("%w: exactly one of require-both and accept-either must be set", ErrInvalidRules)
	}
	if r.MinimumSealConfidence < 0 || r.MinimumSealConfidence > 1 {
		return fmt.Errorf("%w: minimum seal confidence %v outside [0, 1]", ErrInvalidRules, r.MinimumSealConfidence)
	}
	return nil
}

// SealResult is the verdict of the external seal pipeline for a document.
type SealResult struct {
	Valid       bool    `yaml:"valid" json:"valid"`
	Confidence  float64 `yaml:"confidence" json:"confidence"`
	Association string  `yaml:"association,omitempty" json:"association,omitempty"`
}

// Result is the combined decision for a document.
type Result struct {
	SealValid       bool    `json:"seal_valid"`
	SealConfidence  float64 `json:"seal_confidence"`
	SealAssociation string  `json:"seal_association,omitempty"`

	DigitalSignaturesFound bool                `json:"digital_signatures_found"`
	DigitalValid           bool                `json:"digital_valid"`
	DigitalTrustStatus     digital.TrustStatus `json:"digital_trust_status,omitempty"`
	DigitalAssociations    []string            `json:"digital_associations"`

	OverallValid          bool             `json:"overall_valid"`
	ComplianceStatus      ComplianceStatus `json:"compliance_status"`
	Associations          []string         `json:"associations"`
	SignatureTypesFound   []string         `json:"signature_types_found"`
	ValidationMethodsUsed []string         `json:"validation_methods_used"`
	Notes                 []string         `json:"validation_notes"`
}

// Validator applies Rules to the two channel verdicts.
type Validator struct {
	rules  Rules
	logger *zap.Logger
}

// NewValidator creates a validator after checking rules.
func NewValidator(rules Rules, logger *zap.Logger) (*Validator, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{rules: rules, logger: logger}, nil
}

// Rules returns the rules in effect.
func (v *Validator) Rules() Rules {
	return v.rules
}

// Validate combines seal and d. Either may be nil when that channel did not
// run.
func (v *Validator) Validate(seal *SealResult, d *digital.Result) *Result {
	res := &Result{
		DigitalAssociations:   []string{},
		Associations:          []string{},
		SignatureTypesFound:   []string{},
		ValidationMethodsUsed: []string{},
	}

	sealValid := false
	if seal != nil {
		res.SealValid = seal.Valid
		res.SealConfidence = seal.Confidence
		res.SealAssociation = seal.Association
		res.SignatureTypesFound = append(res.SignatureTypesFound, TypeSeal)
		res.ValidationMethodsUsed = append(res.ValidationMethodsUsed, MethodSeal)
		sealValid = seal.Valid && seal.Confidence >= v.rules.MinimumSealConfidence
	}

	if d != nil {
		res.DigitalSignaturesFound = d.SignaturesFound()
		res.DigitalTrustStatus = d.TrustStatus
		res.DigitalValid = d.TrustStatus.Trusted()
		res.DigitalAssociations = append(res.DigitalAssociations, d.CertificateAssociations...)
		res.ValidationMethodsUsed = append(res.ValidationMethodsUsed, MethodDigital)
		if res.DigitalSignaturesFound {
			res.SignatureTypesFound = append(res.SignatureTypesFound, TypeDigital)
		}
	}

	if v.rules.RequireBoth {
		res.OverallValid = sealValid && res.DigitalValid
	} else {
		res.OverallValid = sealValid || res.DigitalValid
	}

	res.Associations = union(res.SealAssociation, res.DigitalAssociations)
	switch {
	case !res.OverallValid:
		res.ComplianceStatus = NonCompliant
	case len(res.Associations) > 0:
		res.ComplianceStatus = Compliant
	default:
		res.ComplianceStatus = CompliantNoAssociation
	}
	res.Notes = v.notes(seal, d, res)

	v.logger.Debug("Hybrid validation complete",
		zap.Bool("seal_valid", sealValid),
		zap.Bool("digital_valid", res.DigitalValid),
		zap.Bool("overall_valid", res.OverallValid),
		zap.String("compliance_status", string(res.ComplianceStatus)))
	return res
}

func union(seal string, others []string) []string {
	set := make(map[string]bool, len(others)+1)
	if seal != "" {
		set[seal] = true
	}
	for _, a := range others {
		set[a] = true
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (v *Validator) notes(seal *SealResult, d *digital.Result, res *Result) []string {
	var notes []string

	if seal != nil {
		switch {
		case !seal.Valid:
			notes = append(notes, "Image-based seal validation failed or no valid seals found")
		case seal.Confidence < v.rules.MinimumSealConfidence:
			notes = append(notes, fmt.Sprintf("Image-based seal confidence %.2f is below the required %.2f",
				seal.Confidence, v.rules.MinimumSealConfidence))
		default:
			notes = append(notes, fmt.Sprintf("Image-based seal validation passed (confidence: %.2f)", seal.Confidence))
			if seal.Association != "" {
				notes = append(notes, "Seal association: "+seal.Association)
			}
		}
	}

	if d != nil {
		switch {
		case !d.SignaturesFound():
			notes = append(notes, "No digital signatures found")
		case res.DigitalValid:
			notes = append(notes, fmt.Sprintf("Digital signature validation passed (trust: %s, %d of %d valid)",
				d.TrustStatus, d.ValidCount, d.TotalCount))
			if len(d.CertificateAssociations) > 0 {
				notes = append(notes, "Certificate associations: "+strings.Join(d.CertificateAssociations, ", "))
			}
		default:
			notes = append(notes, "Digital signature validation failed or signatures untrusted")
		}
	}

	if len(res.SignatureTypesFound) == 0 {
		notes = append(notes, "No signatures found in document")
	}
	if res.OverallValid {
		notes = append(notes, fmt.Sprintf("Document is compliant: %s", res.ComplianceStatus))
	} else {
		notes = append(notes, "Document does not meet validation requirements")
	}
	return notes
}
