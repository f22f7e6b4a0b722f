package verify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/layout"
	"isomine/internal/ledger"
	"isomine/internal/logging"
	"isomine/internal/normalize"
	"isomine/internal/publish"
	"isomine/internal/query"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Version identifies the verify gate set.
const Version = "verify/v2"

// Options drive one verify pass.
type Options struct {
	Layout          layout.Layout
	RunID           string
	RequiredParts   []string
	SourceSignature string
	Ledger          *ledger.Store
	Now             time.Time
	Logger          *slog.Logger
}

// Summary is verify-summary.json.
type Summary struct {
	RunID                     string        `json:"run_id"`
	TimestampUTC              string        `json:"timestamp_utc"`
	VerifierVersion           string        `json:"verifier_version"`
	SchemaPass                bool          `json:"schema_pass"`
	IntegrityPass             bool          `json:"integrity_pass"`
	AnchorRegistryCount       int           `json:"anchor_registry_count"`
	CorpusAnchorCount         int           `json:"corpus_anchor_count"`
	RequiredPartsCompleteness string        `json:"required_parts_completeness"`
	UnresolvedQACount         int           `json:"unresolved_qa_count"`
	NormalizationPass         bool          `json:"normalization_pass"`
	ArtifactHygienePass       bool          `json:"artifact_hygiene_pass"`
	AnomalyCount              int           `json:"anomaly_count"`
	QueryIndexSignature       string        `json:"query_index_signature"`
	QuerySmoke                Smoke         `json:"query_smoke"`
	ProbeSignature            string        `json:"probe_signature"`
	ProbeSuites               SuiteOutcomes `json:"probe_suites"`
	ReplaySignaturePass       bool          `json:"replay_signature_pass"`
	ReplayPriorRunID          string        `json:"replay_prior_run_id,omitempty"`
	ReportContentPass         bool          `json:"report_content_pass"`
}

// Result is what a verify pass produced.
type Result struct {
	Summary    Summary
	Signatures ReplaySignatures
	Manifest   query.Manifest
	Freeze     FreezeManifest
	Paths      []string
}

// Run applies every verify gate in order and stops at the first failure.
func Run(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	l := opts.Layout
	res := Result{Summary: Summary{RunID: opts.RunID, TimestampUTC: state.Timestamp(opts.Now), VerifierVersion: Version}}
	sum := &res.Summary

	reg, err := CheckRegistry(l)
	if err != nil {
		return res, err
	}
	sum.SchemaPass, sum.IntegrityPass = true, true
	sum.AnchorRegistryCount, sum.CorpusAnchorCount = reg.RegistryAnchors, reg.CorpusAnchors

	normSummary, err := normalize.ReadSummary(l)
	if err != nil {
		return res, err
	}
	if sum.RequiredPartsCompleteness, err = CheckRequiredParts(l, opts.RequiredParts, normSummary); err != nil {
		return res, err
	}
	sum.UnresolvedQACount = normSummary.QAUnresolvedCount

	slicesIn, err := normalize.ReadSlices(l)
	if err != nil {
		return res, err
	}
	report, anomalies := Prewarm(opts.RunID, slicesIn, opts.Now)
	if err := artifact.WriteJSON(l.PrewarmQuality(), report); err != nil {
		return res, err
	}
	if err := artifact.WriteJSONL(l.PrewarmAnomalies(), anomalies); err != nil {
		return res, err
	}
	res.Paths = append(res.Paths, l.PrewarmQuality(), l.PrewarmAnomalies())
	sum.NormalizationPass, sum.ArtifactHygienePass, sum.AnomalyCount = report.NormalizationPass, report.ArtifactHygienePass, report.AnomalyCount
	if !report.NormalizationPass {
		return res, services.Wrap(services.ErrQualityGate, state.Verify, "prewarm", "text normalization gate failed", nil)
	}
	if !report.ArtifactHygienePass {
		return res, services.Wrap(services.ErrQualityGate, state.Verify, "prewarm", "artifact hygiene gate failed", nil)
	}

	if res.Manifest, err = query.BuildFromRun(l, opts.RunID); err != nil {
		return res, err
	}
	res.Paths = append(res.Paths, l.QueryIndexManifest())
	sum.QueryIndexSignature = res.Manifest.Signature
	searcher, err := query.Open(l)
	if err != nil {
		return res, err
	}
	idx, _, err := query.Load(l)
	if err != nil {
		return res, err
	}
	if sum.QuerySmoke, err = RunSmoke(searcher, idx.Rows); err != nil {
		return res, err
	}
	if !sum.QuerySmoke.WordPass {
		return res, services.Wrap(services.ErrQualityGate, state.Verify, "query smoke", "deterministic word query returned no hits", nil)
	}
	if !sum.QuerySmoke.PhrasePass {
		return res, services.Wrap(services.ErrQualityGate, state.Verify, "query smoke", "deterministic phrase query returned no hits", nil)
	}

	probes, err := BuildProbes(idx.Rows)
	if err != nil {
		return res, err
	}
	if res.Freeze, err = Freeze(opts.RunID, probes, opts.Now); err != nil {
		return res, err
	}
	paths, err := WriteProbes(l, probes, res.Freeze)
	if err != nil {
		return res, err
	}
	res.Paths = append(res.Paths, paths...)
	sum.ProbeSignature = res.Freeze.Signature
	outcome, err := RunProbes(searcher, probes, opts.Now)
	if err != nil {
		return res, err
	}
	if err := artifact.WriteJSON(l.ProbeResults(), outcome); err != nil {
		return res, err
	}
	res.Paths = append(res.Paths, l.ProbeResults())
	sum.ProbeSuites = outcome.Suites
	for _, kind := range ProbeKinds {
		if !outcome.Suites.Passed(kind) {
			return res, services.Wrap(services.ErrQualityGate, state.Verify, "probes", kind+" probe suite failed", nil)
		}
	}

	if err := replay(ctx, opts, &res, logger); err != nil {
		return res, err
	}

	// The summary is written before the content scan so the scan covers it,
	// then rewritten with the scan verdict.
	sum.ReportContentPass = true
	if err := writeSummary(l, res.Summary); err != nil {
		return res, err
	}
	if err := CheckReportContent(l.ControlRoot); err != nil {
		sum.ReportContentPass = false
		if werr := writeSummary(l, res.Summary); werr != nil {
			logger.Warn("verify summary not rewritten", logging.Error(werr))
		}
		return res, err
	}
	res.Paths = append(res.Paths, l.VerifySummary())
	logger.Info("verify gates passed",
		logging.Int("anchor_registry_count", sum.AnchorRegistryCount),
		logging.String("probe_signature", sum.ProbeSignature),
		logging.String("replay_prior_run_id", sum.ReplayPriorRunID),
	)
	return res, nil
}

func writeSummary(l layout.Layout, sum Summary) error {
	if err := artifact.WriteJSON(l.VerifySummary(), sum); err != nil {
		return err
	}
	return artifact.WriteJSON(l.DataStageFile(state.Verify, "verify-summary.json"), sum)
}

// replay signs the run, compares it with the latest completed run over the
// same sources and records the result in the ledger.
func replay(ctx context.Context, opts Options, res *Result, logger *slog.Logger) error {
	l := opts.Layout
	sigs, err := ComputeSignatures(l, opts.RunID, opts.SourceSignature, opts.Now)
	if err != nil {
		return err
	}
	if opts.Ledger != nil && opts.SourceSignature != "" {
		prior, err := opts.Ledger.PriorSignatures(ctx, opts.SourceSignature, opts.RunID)
		if err != nil {
			return services.Wrap(services.ErrStopCondition, state.Verify, "prior signatures", "", err)
		}
		if prior != nil {
			sigs.PriorRunID = prior.RunID
			for _, d := range Compare(sigs, FromLedger(*prior)) {
				sigs.Mismatches = append(sigs.Mismatches, "prior "+prior.RunID+": "+d)
			}
			sigs.MismatchCount = len(sigs.Mismatches)
		}
	}
	if err := artifact.WriteJSON(l.ReplaySignatures(), sigs); err != nil {
		return err
	}
	res.Paths = append(res.Paths, l.ReplaySignatures())
	res.Signatures = sigs
	res.Summary.ReplayPriorRunID = sigs.PriorRunID
	if sigs.MismatchCount > 0 {
		return services.Wrap(services.ErrDeterminism, state.Verify, "replay signatures",
			fmt.Sprintf("%d mismatch(es): %s", sigs.MismatchCount, sigs.Mismatches[0]), nil)
	}
	res.Summary.ReplaySignaturePass = true
	if opts.Ledger != nil {
		if err := opts.Ledger.RecordSignatures(ctx, sigs.ToLedger(opts.Now)); err != nil {
			logger.Warn("replay signatures not recorded", logging.Error(err))
		}
	}
	return nil
}

// CheckRequiredParts requires full coverage and a published part manifest
// for every required part. It returns the "n/m" completeness label.
func CheckRequiredParts(l layout.Layout, required []string, summary normalize.Summary) (string, error) {
	manifest, err := publish.ReadCorpusManifest(l)
	if err != nil {
		return "", services.Wrap(services.ErrQualityGate, state.Verify, "required parts", l.CorpusManifest(), err)
	}
	var published []string
	for _, ref := range manifest.Parts {
		published = append(published, ref.Part)
	}
	complete := 0
	var missing []string
	for _, part := range required {
		cov, ok := summary.Coverage[part]
		if ok && cov.CoverageRatio >= 1 && slices.Contains(published, part) {
			complete++
			continue
		}
		missing = append(missing, part)
	}
	label := fmt.Sprintf("%d/%d", complete, len(required))
	if len(missing) > 0 {
		return label, services.Wrap(services.ErrQualityGate, state.Verify, "required parts",
			fmt.Sprintf("required parts incomplete (%s): %v", label, missing), nil)
	}
	return label, nil
}
