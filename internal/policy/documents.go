package policy

import (
	"fmt"
	"strings"

	"isomine/internal/artifact"
	"isomine/internal/services"
)

// PendingHash marks a source part whose hash has not been locked yet.
const PendingHash = "PENDING"

// DefaultParts are the required parts when a run does not override them.
var DefaultParts = []string{"P06", "P08", "P09"}

// RelevantPolicy selects the parts a run must mine.
type RelevantPolicy struct {
	PolicyID     string   `json:"policy_id"`
	InScopeParts []string `json:"in_scope_parts" validate:"required,min=1,dive,required"`
}

// Parts returns the trimmed in-scope part list.
func (p RelevantPolicy) Parts() []string {
	out := make([]string, 0, len(p.InScopeParts))
	for _, part := range p.InScopeParts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SourcePart declares one PDF part and its expected content hash.
type SourcePart struct {
	Part              string `json:"part" validate:"required"`
	SHA256            string `json:"sha256" validate:"required"`
	PreferredFilename string `json:"preferred_filename,omitempty"`
	FallbackPattern   string `json:"fallback_pattern,omitempty"`
}

// SourcePDFSet is the declared source document set.
type SourcePDFSet struct {
	SetID   string       `json:"pdfset_id,omitempty"`
	Edition string       `json:"edition,omitempty"`
	Parts   []SourcePart `json:"parts" validate:"required,dive"`
}

// Part returns the declaration of part.
func (s SourcePDFSet) Part(part string) (SourcePart, bool) {
	for _, p := range s.Parts {
		if p.Part == part {
			return p, true
		}
	}
	return SourcePart{}, false
}

// PreferredName returns the declared or conventional file name of part.
func (p SourcePart) PreferredName() string {
	if p.PreferredFilename != "" {
		return p.PreferredFilename
	}
	return fmt.Sprintf("ISO 26262-%s;2018 ed.2 (en).pdf", partNumber(p.Part))
}

// Pattern returns the declared or conventional fallback filename pattern.
func (p SourcePart) Pattern() string {
	if p.FallbackPattern != "" {
		return p.FallbackPattern
	}
	return fmt.Sprintf(`(?i)^ISO\s*26262[-; ]%s.*2018.*ed\.?\s*2.*\.pdf$`, partNumber(p.Part))
}

func partNumber(part string) string {
	n := strings.TrimLeft(strings.TrimPrefix(strings.ToUpper(part), "P"), "0")
	if n == "" {
		return "0"
	}
	return n
}

// ExtractionPolicy holds the per-page decision thresholds. The four primary
// thresholds are mandatory; the OCR banding keys default when absent.
type ExtractionPolicy struct {
	PolicyID                     string   `json:"policy_id"`
	NonBlankInkCoverageRatioMin  *float64 `json:"non_blank_ink_coverage_ratio_min" validate:"required,gte=0,lte=1"`
	PrimaryLowCharCountThreshold *int     `json:"primary_low_char_count_threshold" validate:"required,gte=0"`
	ReplacementCharRatioMax      *float64 `json:"replacement_char_ratio_max" validate:"required,gte=0,lte=1"`
	ControlCharRatioMax          *float64 `json:"control_char_ratio_max" validate:"required,gte=0,lte=1"`
	OCRPassMinChars              *int     `json:"ocr_pass_min_chars,omitempty" validate:"omitempty,gte=0"`
	OCRReviewMinChars            *int     `json:"ocr_review_min_chars,omitempty" validate:"omitempty,gte=0"`
	OrientationConfidenceMin     *float64 `json:"orientation_confidence_min,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// Thresholds is the dereferenced form of ExtractionPolicy.
type Thresholds struct {
	PolicyID                     string
	NonBlankInkCoverageRatioMin  float64
	PrimaryLowCharCountThreshold int
	ReplacementCharRatioMax      float64
	ControlCharRatioMax          float64
	OCRPassMinChars              int
	OCRReviewMinChars            int
	OrientationConfidenceMin     float64
}

// Thresholds applies defaults to the optional keys.
func (p ExtractionPolicy) Thresholds() Thresholds {
	t := Thresholds{
		PolicyID:                     p.PolicyID,
		NonBlankInkCoverageRatioMin:  *p.NonBlankInkCoverageRatioMin,
		PrimaryLowCharCountThreshold: *p.PrimaryLowCharCountThreshold,
		ReplacementCharRatioMax:      *p.ReplacementCharRatioMax,
		ControlCharRatioMax:          *p.ControlCharRatioMax,
		OCRPassMinChars:              200,
		OCRReviewMinChars:            20,
		OrientationConfidenceMin:     0.8,
	}
	if t.PolicyID == "" {
		t.PolicyID = "extraction_policy_v1"
	}
	if p.OCRPassMinChars != nil {
		t.OCRPassMinChars = *p.OCRPassMinChars
	}
	if p.OCRReviewMinChars != nil {
		t.OCRReviewMinChars = *p.OCRReviewMinChars
	}
	if p.OrientationConfidenceMin != nil {
		t.OrientationConfidenceMin = *p.OrientationConfidenceMin
	}
	return t
}

// ThresholdProfile overrides quality thresholds by metric key.
type ThresholdProfile struct {
	ProfileID  string             `json:"profile_id" validate:"required"`
	Thresholds map[string]float64 `json:"thresholds" validate:"required,dive,gte=0,lte=100"`
}

// LoadRelevantPolicy reads the required-part policy.
func LoadRelevantPolicy(path string) (RelevantPolicy, error) {
	var doc RelevantPolicy
	err := load("relevant policy", path, &doc)
	return doc, err
}

// LoadSourcePDFSet reads the source PDF set.
func LoadSourcePDFSet(path string) (SourcePDFSet, error) {
	var doc SourcePDFSet
	err := load("source pdfset", path, &doc)
	return doc, err
}

// LoadExtractionPolicy reads extraction thresholds.
func LoadExtractionPolicy(path string) (Thresholds, error) {
	var doc ExtractionPolicy
	if err := load("extraction policy", path, &doc); err != nil {
		return Thresholds{}, err
	}
	return doc.Thresholds(), nil
}

// LoadThresholdProfile reads a quality threshold override profile.
func LoadThresholdProfile(path string) (ThresholdProfile, error) {
	var doc ThresholdProfile
	err := load("threshold profile", path, &doc)
	return doc, err
}

// LockSourceHashes writes observed hashes into the PENDING entries of the
// source pdfset at path. Keys the typed form does not know are preserved;
// comments are not.
func LockSourceHashes(path string, observed map[string]string) error {
	var raw map[string]any
	if err := artifact.ReadJSONC(path, &raw); err != nil {
		return services.Wrap(services.ErrConfiguration, "policy", "lock source hashes", path, err)
	}
	parts, _ := raw["parts"].([]any)
	for _, entry := range parts {
		row, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		part, _ := row["part"].(string)
		sum, ok := observed[part]
		if !ok {
			continue
		}
		if declared, _ := row["sha256"].(string); strings.TrimSpace(declared) == PendingHash {
			row["sha256"] = sum
		}
	}
	if err := artifact.WriteJSON(path, raw); err != nil {
		return services.Wrap(services.ErrConfiguration, "policy", "lock source hashes", path, err)
	}
	return nil
}
