// Package layout names every file and directory a run reads or writes. The
// control plane (state, checklist, lock, run log, metadata artifacts) never
// carries prose; page and unit text lives only under the data-plane run root.
package layout

import "path/filepath"

// Layout resolves the roots of one run.
type Layout struct {
	RunID       string
	ControlRoot string
	RunRoot     string
	CorpusRoot  string
	IndexRoot   string
	Edition     string
}

func (l Layout) StateFile() string     { return filepath.Join(l.ControlRoot, "state.env") }
func (l Layout) ChecklistFile() string { return filepath.Join(l.ControlRoot, "checklist.env") }
func (l Layout) RunLog() string        { return filepath.Join(l.ControlRoot, "run.log") }
func (l Layout) LockFile() string      { return filepath.Join(l.ControlRoot, "lock", "active.lock") }
func (l Layout) ReportFile() string    { return filepath.Join(l.ControlRoot, "report.md") }
func (l Layout) ArtifactRoot() string  { return filepath.Join(l.ControlRoot, "artifacts") }

// StageDir is the control-plane artifact directory of a stage.
func (l Layout) StageDir(stage string) string {
	return filepath.Join(l.ArtifactRoot(), stage)
}

// Checkpoint is the done-marker of a stage.
func (l Layout) Checkpoint(stage string) string {
	return filepath.Join(l.ArtifactRoot(), "checkpoints", stage+".done.json")
}

func (l Layout) QADir() string       { return filepath.Join(l.ArtifactRoot(), "qa") }
func (l Layout) ProbesDir() string   { return filepath.Join(l.ArtifactRoot(), "probes") }
func (l Layout) ReplayDir() string   { return filepath.Join(l.ArtifactRoot(), "replay") }
func (l Layout) QualityDir() string  { return filepath.Join(l.ArtifactRoot(), "quality") }
func (l Layout) BaselineDir() string { return filepath.Join(l.ArtifactRoot(), "baseline") }

func (l Layout) IngestSummary() string {
	return filepath.Join(l.StageDir("ingest"), "ingest-summary.json")
}
func (l Layout) SourceHashEvidence() string {
	return filepath.Join(l.StageDir("ingest"), "source-hash-evidence.json")
}
func (l Layout) PageDecisions() string {
	return filepath.Join(l.StageDir("extract"), "extract-page-decisions.jsonl")
}
func (l Layout) ExtractSummary() string {
	return filepath.Join(l.StageDir("extract"), "extract-summary.json")
}
func (l Layout) NormalizedUnits() string {
	return filepath.Join(l.StageDir("normalize"), "normalized-units.jsonl")
}
func (l Layout) NormalizeSummary() string {
	return filepath.Join(l.StageDir("normalize"), "normalize-summary.json")
}
func (l Layout) QAQueue() string       { return filepath.Join(l.QADir(), "queue.jsonl") }
func (l Layout) Adjudications() string { return filepath.Join(l.QADir(), "adjudications.jsonl") }
func (l Layout) AnchoredUnits() string {
	return filepath.Join(l.StageDir("anchor"), "anchored-units.jsonl")
}
func (l Layout) ScopeAnchors() string {
	return filepath.Join(l.StageDir("anchor"), "scope-anchors.jsonl")
}
func (l Layout) AnchorSummary() string {
	return filepath.Join(l.StageDir("anchor"), "anchor-summary.json")
}
func (l Layout) PublishBegin() string  { return filepath.Join(l.StageDir("publish"), "publish.begin") }
func (l Layout) PublishCommit() string { return filepath.Join(l.StageDir("publish"), "publish.commit") }
func (l Layout) PublishSummary() string {
	return filepath.Join(l.StageDir("publish"), "publish-summary.json")
}
func (l Layout) VerifySummary() string {
	return filepath.Join(l.StageDir("verify"), "verify-summary.json")
}
func (l Layout) PrewarmQuality() string {
	return filepath.Join(l.StageDir("verify"), "prewarm-build-quality.json")
}
func (l Layout) PrewarmAnomalies() string {
	return filepath.Join(l.StageDir("verify"), "prewarm-anomalies.jsonl")
}
func (l Layout) ProbeResults() string {
	return filepath.Join(l.StageDir("verify"), "probe-results.json")
}
func (l Layout) ProbeFreezeManifest() string {
	return filepath.Join(l.ProbesDir(), "probeset-freeze-manifest.json")
}
func (l Layout) ReplaySignatures() string {
	return filepath.Join(l.ReplayDir(), "verbatim-replay-signatures.json")
}
func (l Layout) ReplayCheck() string { return filepath.Join(l.ReplayDir(), "replay-check.json") }
func (l Layout) Scorecard() string   { return filepath.Join(l.QualityDir(), "scorecard.json") }
func (l Layout) QualityAnomalies() string {
	return filepath.Join(l.QualityDir(), "quality-anomalies.jsonl")
}
func (l Layout) MetricsTextfile() string {
	return filepath.Join(l.QualityDir(), "isomine-quality.prom")
}
func (l Layout) Snapshot() string { return filepath.Join(l.BaselineDir(), "snapshot.cbor.zst") }

// Data plane.

func (l Layout) verbatim(stage string) string { return filepath.Join(l.RunRoot, stage, "verbatim") }

func (l Layout) PageText() string   { return filepath.Join(l.verbatim("extract"), "page-text.jsonl") }
func (l Layout) PageBlocks() string { return filepath.Join(l.verbatim("extract"), "page-blocks.jsonl") }
func (l Layout) PageIndex() string  { return filepath.Join(l.verbatim("extract"), "page-index.json") }
func (l Layout) PageSignatures() string {
	return filepath.Join(l.verbatim("extract"), "page-signatures.jsonl")
}
func (l Layout) UnitSlices() string {
	return filepath.Join(l.verbatim("normalize"), "unit-slices.jsonl")
}
func (l Layout) UnitTextLinks() string {
	return filepath.Join(l.verbatim("normalize"), "unit-text-links.jsonl")
}
func (l Layout) AnchorTextLinks() string {
	return filepath.Join(l.verbatim("anchor"), "anchor-text-links.jsonl")
}
func (l Layout) AnchorLinkIndex() string {
	return filepath.Join(l.verbatim("anchor"), "anchor-link-index.json")
}

// DataStageFile mirrors a control summary into the data plane for
// consumers that only see the run root.
func (l Layout) DataStageFile(stage, name string) string {
	return filepath.Join(l.RunRoot, stage, name)
}

func (l Layout) QueryDir() string { return filepath.Join(l.RunRoot, "query") }
func (l Layout) QuerySourceRows() string {
	return filepath.Join(l.QueryDir(), "query-source-rows.jsonl")
}
func (l Layout) InvertedIndexDir() string { return filepath.Join(l.QueryDir(), "inverted-index") }
func (l Layout) PhraseIndexDir() string   { return filepath.Join(l.QueryDir(), "phrase-index") }
func (l Layout) QueryIndexManifest() string {
	return filepath.Join(l.QueryDir(), "index-manifest.json")
}
func (l Layout) ProbeSetDir() string { return filepath.Join(l.QueryDir(), "probe-set") }

// Published corpus.

func (l Layout) PartCorpusDir(part string) string {
	return filepath.Join(l.CorpusRoot, l.Edition, part)
}

func (l Layout) ClauseManifest(part string) string {
	return filepath.Join(l.PartCorpusDir(part), "clause-manifest.jsonc")
}

func (l Layout) PartManifest(part string) string {
	return filepath.Join(l.PartCorpusDir(part), "part-manifest.jsonc")
}

func (l Layout) AnchorRegistry() string { return filepath.Join(l.IndexRoot, "anchor-registry.jsonc") }
func (l Layout) CorpusManifest() string { return filepath.Join(l.IndexRoot, "corpus-manifest.jsonc") }

// WithRoots returns a copy of l writing into scratch control and data roots.
func (l Layout) WithRoots(controlRoot, runRoot string) Layout {
	l.ControlRoot = controlRoot
	l.RunRoot = runRoot
	return l
}
