package hybrid

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SealVerdicts maps document paths to the seal pipeline's verdicts.
type SealVerdicts map[string]*SealResult

// Lookup finds the verdict for path by exact path, cleaned path and finally
// base name.
func (v SealVerdicts) Lookup(path string) *SealResult {
	if v == nil {
		return nil
	}
	if r, ok := v[path]; ok {
		return r
	}
	if r, ok := v[filepath.Clean(path)]; ok {
		return r
	}
	if r, ok := v[filepath.Base(path)]; ok {
		return r
	}
	return nil
}

// ParseSealVerdicts decodes a YAML or JSON document of the form
//
//	seals:
//	  drawings/a.pdf: {valid: true, confidence: 0.92, association: APEGA}
func ParseSealVerdicts(data []byte) (SealVerdicts, error) {
	var doc struct {
		Seals SealVerdicts `yaml:"seals"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse seal verdicts: %w", err)
	}
	for path, r := range doc.Seals {
		if r == nil {
			return nil, fmt.Errorf("seal verdict for %s is empty", path)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("seal verdict for %s: confidence %v outside [0, 1]", path, r.Confidence)
		}
	}
	if doc.Seals == nil {
		doc.Seals = SealVerdicts{}
	}
	return doc.Seals, nil
}

// LoadSealVerdicts reads a verdict file written by the seal pipeline.
func LoadSealVerdicts(path string) (SealVerdicts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seal verdicts: %w", err)
	}
	return ParseSealVerdicts(data)
}
