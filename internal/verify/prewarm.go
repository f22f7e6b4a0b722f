package verify

import (
	"strings"
	"time"

	"isomine/internal/normalize"
	"isomine/internal/state"
)

// Anomaly kinds.
const (
	AnomalyReplacementChar = "replacement_char"
	AnomalyControlChars    = "control_char_cluster"
	AnomalyParserArtifact  = "parser_artifact_pattern"
)

var parserArtifacts = []string{"@@@", "###"}

// Anomaly is one prewarm build-quality finding.
type Anomaly struct {
	Kind    string `json:"kind"`
	UnitID  string `json:"unit_id"`
	SliceID string `json:"slice_id"`
	Count   int    `json:"count,omitempty"`
}

// PrewarmReport is prewarm-build-quality.json.
type PrewarmReport struct {
	RunID               string `json:"run_id"`
	TimestampUTC        string `json:"timestamp_utc"`
	SliceCount          int    `json:"slice_count"`
	NormalizationPass   bool   `json:"normalization_pass"`
	ArtifactHygienePass bool   `json:"artifact_hygiene_pass"`
	AnomalyCount        int    `json:"anomaly_count"`
}

// Prewarm scans slice text for replacement characters, stray control
// characters and parser artifact patterns.
func Prewarm(runID string, slices []normalize.UnitSlice, now time.Time) (PrewarmReport, []Anomaly) {
	report := PrewarmReport{RunID: runID, TimestampUTC: state.Timestamp(now), SliceCount: len(slices),
		NormalizationPass: true, ArtifactHygienePass: true}
	anomalies := []Anomaly{}
	for _, s := range slices {
		if strings.ContainsRune(s.Text, '\ufffd') {
			anomalies = append(anomalies, Anomaly{Kind: AnomalyReplacementChar, UnitID: s.UnitID, SliceID: s.SliceID})
			report.NormalizationPass = false
		}
		if n := strayControls(s.Text); n > 0 {
			anomalies = append(anomalies, Anomaly{Kind: AnomalyControlChars, UnitID: s.UnitID, SliceID: s.SliceID, Count: n})
			report.NormalizationPass = false
		}
		for _, pattern := range parserArtifacts {
			if strings.Contains(s.Text, pattern) {
				anomalies = append(anomalies, Anomaly{Kind: AnomalyParserArtifact, UnitID: s.UnitID, SliceID: s.SliceID})
				report.ArtifactHygienePass = false
				break
			}
		}
	}
	report.AnomalyCount = len(anomalies)
	return report, anomalies
}

func strayControls(text string) int {
	n := 0
	for _, r := range text {
		if r < 0x20 && !strings.ContainsRune("\n\r\t\f\v", r) {
			n++
		}
	}
	return n
}
