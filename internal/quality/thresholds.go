package quality

import (
	"fmt"
	"maps"
	"slices"

	"isomine/internal/normalize"
	"isomine/internal/policy"
	"isomine/internal/services"
)

// DefaultProfileID names the built-in threshold profile.
const DefaultProfileID = "default"

var defaultThresholds = map[string]float64{
	"paragraph_license_max_pct":             5,
	"list_license_max_pct":                  5,
	"table_license_max_pct":                 10,
	"paragraph_meaningful_min_pct":          90,
	"list_meaningful_min_pct":               85,
	"table_meaningful_min_pct":              70,
	"paragraph_pattern_conformance_min_pct": 95,
	"list_marker_validity_min_pct":          95,
	"list_continuation_capture_min_pct":     95,
	"table_structural_validity_min_pct":     90,
	"table_pattern_conformance_min_pct":     90,
	"line_wrap_precision_min_pct":           95,
	"dehyphenation_precision_min_pct":       95,
	"section_boundary_f1_min":               0.95,
	"clause_boundary_f1_min":                0.95,
	"table_scope_recall_min_pct":            95,
	"superscript_retention_min_pct":         95,
	"subscript_retention_min_pct":           95,
	"footnote_marker_retention_min_pct":     95,
	"section_anchor_resolution_min_pct":     100,
	"clause_anchor_resolution_min_pct":      100,
	"table_anchor_resolution_min_pct":       100,
	"unit_parent_scope_linkage_min_pct":     100,
	"unit_anchor_linkage_min_pct":           100,
	"replay_signature_match_min_pct":        100,
}

// Profile is a named set of thresholds keyed like defaultThresholds.
type Profile struct {
	ID         string
	Thresholds map[string]float64
}

// DefaultProfile returns a copy of the built-in thresholds.
func DefaultProfile() Profile {
	return Profile{ID: DefaultProfileID, Thresholds: maps.Clone(defaultThresholds)}
}

// LoadProfile reads a JSONC override profile over the defaults. An empty
// path yields the defaults. Unknown keys are configuration errors.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	doc, err := policy.LoadThresholdProfile(path)
	if err != nil {
		return p, err
	}
	for _, key := range slices.Sorted(maps.Keys(doc.Thresholds)) {
		if _, ok := defaultThresholds[key]; !ok {
			return p, services.Wrap(services.ErrConfiguration, "quality", "threshold profile",
				fmt.Sprintf("%s: unknown threshold %q", path, key), nil)
		}
		p.Thresholds[key] = doc.Thresholds[key]
	}
	p.ID = doc.ProfileID
	return p, nil
}

// check compares one metric with one threshold. Max checks pass at or
// below the threshold, min checks at or above.
type check struct {
	name  string
	key   string
	max   bool
	value func(Metrics) float64
}

var checks = []check{
	{"paragraph_license", "paragraph_license_max_pct", true, func(m Metrics) float64 { return m.Contamination[normalize.TypeParagraph].LicenseHeaderPct }},
	{"list_license", "list_license_max_pct", true, func(m Metrics) float64 { return m.Contamination[normalize.TypeList].LicenseHeaderPct }},
	{"table_license", "table_license_max_pct", true, func(m Metrics) float64 { return m.Contamination[normalize.TypeTable].LicenseHeaderPct }},
	{"paragraph_meaningful", "paragraph_meaningful_min_pct", false, func(m Metrics) float64 { return m.Semantic.ParagraphMeaningfulPct }},
	{"list_meaningful", "list_meaningful_min_pct", false, func(m Metrics) float64 { return m.Semantic.ListMeaningfulPct }},
	{"table_meaningful", "table_meaningful_min_pct", false, func(m Metrics) float64 { return m.Semantic.TableMeaningfulPct }},
	{"paragraph_pattern", "paragraph_pattern_conformance_min_pct", false, func(m Metrics) float64 { return m.Semantic.ParagraphPatternPct }},
	{"list_marker", "list_marker_validity_min_pct", false, func(m Metrics) float64 { return m.Semantic.ListMarkerPct }},
	{"list_continuation", "list_continuation_capture_min_pct", false, func(m Metrics) float64 { return m.Semantic.ListContinuationPct }},
	{"table_structural", "table_structural_validity_min_pct", false, func(m Metrics) float64 { return m.Semantic.TableStructuralPct }},
	{"table_pattern", "table_pattern_conformance_min_pct", false, func(m Metrics) float64 { return m.Semantic.TablePatternPct }},
	{"line_wrap", "line_wrap_precision_min_pct", false, func(m Metrics) float64 { return m.Wrap.LineWrapPrecisionPct }},
	{"dehyphenation", "dehyphenation_precision_min_pct", false, func(m Metrics) float64 { return m.Wrap.DehyphenationPrecisionPct }},
	{"section_boundary", "section_boundary_f1_min", false, func(m Metrics) float64 { return m.Scope.SectionBoundaryF1 }},
	{"clause_boundary", "clause_boundary_f1_min", false, func(m Metrics) float64 { return m.Scope.ClauseBoundaryF1 }},
	{"table_scope", "table_scope_recall_min_pct", false, func(m Metrics) float64 { return m.Scope.TableScopeRecallPct }},
	{"superscript", "superscript_retention_min_pct", false, func(m Metrics) float64 { return m.Typography.SuperscriptPct }},
	{"subscript", "subscript_retention_min_pct", false, func(m Metrics) float64 { return m.Typography.SubscriptPct }},
	{"footnote", "footnote_marker_retention_min_pct", false, func(m Metrics) float64 { return m.Typography.FootnotePct }},
	{"section_anchor", "section_anchor_resolution_min_pct", false, func(m Metrics) float64 { return m.Lineage.SectionAnchorPct }},
	{"clause_anchor", "clause_anchor_resolution_min_pct", false, func(m Metrics) float64 { return m.Lineage.ClauseAnchorPct }},
	{"table_anchor", "table_anchor_resolution_min_pct", false, func(m Metrics) float64 { return m.Lineage.TableAnchorPct }},
	{"unit_parent_scope", "unit_parent_scope_linkage_min_pct", false, func(m Metrics) float64 { return m.Lineage.UnitToParentScopePct }},
	{"unit_anchor", "unit_anchor_linkage_min_pct", false, func(m Metrics) float64 { return m.Lineage.UnitToAnchorPct }},
	{"replay", "replay_signature_match_min_pct", false, func(m Metrics) float64 { return m.Replay.SignatureMatchPct }},
}

func (c check) pass(m Metrics, p Profile) bool {
	v, limit := c.value(m), p.Thresholds[c.key]
	if c.max {
		return v <= limit
	}
	return v >= limit
}

// Evaluate applies every threshold of p to m.
func Evaluate(m Metrics, p Profile) map[string]bool {
	out := make(map[string]bool, len(checks))
	for _, c := range checks {
		out[c.name] = c.pass(m, p)
	}
	return out
}

// Category is a rolled-up group of threshold results.
type Category struct {
	Pass    bool            `json:"pass"`
	Details map[string]bool `json:"details"`
}

var categories = []struct {
	name   string
	checks map[string]string
}{
	{"contamination", map[string]string{
		normalize.TypeParagraph: "paragraph_license", normalize.TypeList: "list_license", normalize.TypeTable: "table_license",
	}},
	{"semantic", identity("paragraph_meaningful", "list_meaningful", "table_meaningful")},
	{"pattern", identity("paragraph_pattern", "list_marker", "list_continuation", "table_structural", "table_pattern")},
	{"scope", identity("section_boundary", "clause_boundary", "table_scope")},
	{"wrap", identity("line_wrap", "dehyphenation")},
	{"supsub", identity("superscript", "subscript", "footnote")},
	{"lineage", identity("unit_anchor", "unit_parent_scope", "section_anchor", "clause_anchor", "table_anchor")},
	{"replay", identity("replay")},
}

func identity(names ...string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = n
	}
	return out
}

// CategoryNames lists the categories in reporting order.
func CategoryNames() []string {
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		out = append(out, c.name)
	}
	return out
}

// Categorize rolls threshold results into categories.
func Categorize(results map[string]bool) map[string]Category {
	out := make(map[string]Category, len(categories))
	for _, c := range categories {
		cat := Category{Pass: true, Details: map[string]bool{}}
		for label, name := range c.checks {
			ok := results[name]
			cat.Details[label] = ok
			cat.Pass = cat.Pass && ok
		}
		out[c.name] = cat
	}
	return out
}
