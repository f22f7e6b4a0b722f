package quality

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"isomine/internal/canonical"
	"isomine/internal/state"
)

// ScorecardSchemaVersion is the scorecard document version.
const ScorecardSchemaVersion = 1

// Scorecard is artifacts/quality/scorecard.json.
type Scorecard struct {
	SchemaVersion    int                        `json:"schema_version"`
	RunID            string                     `json:"run_id"`
	BaselineRunID    string                     `json:"baseline_run_id"`
	GeneratedAtUTC   string                     `json:"generated_at_utc"`
	InputSignature   string                     `json:"input_signature"`
	RequiredParts    []string                   `json:"required_parts"`
	Mode             string                     `json:"mode"`
	ProfileID        string                     `json:"threshold_profile_id"`
	Metrics          Report                     `json:"metrics"`
	BaselineMetrics  *Report                    `json:"baseline_metrics,omitempty"`
	ThresholdProfile map[string]float64         `json:"threshold_profile"`
	ThresholdResults map[string]bool            `json:"threshold_results"`
	Categories       map[string]Category        `json:"category_results"`
	PartResults      map[string]map[string]bool `json:"required_part_results"`
	BoundsViolations []string                   `json:"bounds_violations"`
	OverallPass      bool                       `json:"overall_pass"`
}

// Anomaly is one failing metric in quality-anomalies.jsonl.
type Anomaly struct {
	Scope     string  `json:"scope"`
	Check     string  `json:"check"`
	Threshold string  `json:"threshold_key,omitempty"`
	Value     float64 `json:"value"`
	Limit     float64 `json:"limit"`
	Bound     string  `json:"bound"`
}

// Sample is one flattened numeric metric.
type Sample struct {
	Name  string
	Value float64
}

// Flatten lists the numeric leaves of m as dotted names in sorted order.
func Flatten(m Metrics) ([]Sample, error) {
	data, err := canonical.Marshal(m)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var out []Sample
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch t := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				name := k
				if prefix != "" {
					name = prefix + "." + k
				}
				walk(name, t[k])
			}
		case json.Number:
			if f, err := t.Float64(); err == nil {
				out = append(out, Sample{Name: prefix, Value: f})
			}
		}
	}
	walk("", generic)
	return out, nil
}

// BoundsViolations lists every *_pct metric outside [0,100].
func BoundsViolations(m Metrics) ([]string, error) {
	samples, err := Flatten(m)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range samples {
		if !strings.HasSuffix(s.Name, "_pct") {
			continue
		}
		if math.IsNaN(s.Value) || s.Value < 0 || s.Value > 100 {
			out = append(out, fmt.Sprintf("%s=%g", s.Name, s.Value))
		}
	}
	return out, nil
}

// InputSignature hashes the baseline run id and the canonical metrics.
func InputSignature(baselineRunID string, report Report) (string, error) {
	data, err := canonical.Marshal(report)
	if err != nil {
		return "", err
	}
	return canonical.SHA256Hex(append([]byte(baselineRunID+":"), data...)), nil
}

// BuildScorecard evaluates report against profile. Overall pass requires
// every threshold, every category and every required part to pass and
// every percentage to be in bounds.
func BuildScorecard(runID, baselineRunID, mode string, report Report, profile Profile, now time.Time) (Scorecard, error) {
	sig, err := InputSignature(baselineRunID, report)
	if err != nil {
		return Scorecard{}, err
	}
	card := Scorecard{
		SchemaVersion:    ScorecardSchemaVersion,
		RunID:            runID,
		BaselineRunID:    baselineRunID,
		GeneratedAtUTC:   state.Timestamp(now),
		InputSignature:   sig,
		RequiredParts:    slices.Clone(report.RequiredParts),
		Mode:             mode,
		ProfileID:        profile.ID,
		Metrics:          report,
		ThresholdProfile: profile.Thresholds,
		ThresholdResults: Evaluate(report.Metrics, profile),
		PartResults:      map[string]map[string]bool{},
		BoundsViolations: []string{},
	}
	card.Categories = Categorize(card.ThresholdResults)

	pass := true
	for _, ok := range card.ThresholdResults {
		pass = pass && ok
	}
	for _, c := range card.Categories {
		pass = pass && c.Pass
	}
	overall, err := BoundsViolations(report.Metrics)
	if err != nil {
		return card, err
	}
	card.BoundsViolations = append(card.BoundsViolations, overall...)
	for _, part := range sortedKeys(report.ByPart) {
		violations, err := BoundsViolations(report.ByPart[part])
		if err != nil {
			return card, err
		}
		for _, v := range violations {
			card.BoundsViolations = append(card.BoundsViolations, part+"."+v)
		}
	}
	for _, part := range report.RequiredParts {
		m, ok := report.ByPart[strings.ToUpper(part)]
		if !ok {
			card.PartResults[part] = map[string]bool{}
			pass = false
			continue
		}
		results := Evaluate(m, profile)
		card.PartResults[part] = results
		for _, ok := range results {
			pass = pass && ok
		}
	}
	card.OverallPass = pass && len(card.BoundsViolations) == 0
	return card, nil
}

// Anomalies lists every failing threshold, overall first and then per
// required part.
func (c Scorecard) Anomalies() []Anomaly {
	out := []Anomaly{}
	add := func(scope string, m Metrics, results map[string]bool) {
		for _, chk := range checks {
			if results[chk.name] {
				continue
			}
			bound := "min"
			if chk.max {
				bound = "max"
			}
			out = append(out, Anomaly{
				Scope: scope, Check: chk.name, Threshold: chk.key,
				Value: chk.value(m), Limit: c.ThresholdProfile[chk.key], Bound: bound,
			})
		}
	}
	add("overall", c.Metrics.Metrics, c.ThresholdResults)
	for _, part := range c.RequiredParts {
		if m, ok := c.Metrics.ByPart[strings.ToUpper(part)]; ok {
			add(part, m, c.PartResults[part])
		}
	}
	for _, v := range c.BoundsViolations {
		out = append(out, Anomaly{Scope: "bounds", Check: v, Bound: "pct_range", Limit: 100})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
