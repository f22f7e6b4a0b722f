package extract

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"isomine/internal/config"
	"isomine/internal/ingest"
	"isomine/internal/policy"
	"isomine/internal/stage"
	"isomine/internal/state"
)

// Handler is the extract stage.
type Handler struct {
	poppler *Poppler
	scorer  QualityScorer
}

// NewHandler constructs the extract stage around poppler. A nil scorer
// selects CharBandScorer with the run's policy thresholds.
func NewHandler(poppler *Poppler, scorer QualityScorer) *Handler {
	return &Handler{poppler: poppler, scorer: scorer}
}

func (h *Handler) Name() string    { return state.Extract }
func (h *Handler) Version() string { return "extract/v3" }

// HealthCheck verifies the poppler binaries resolve.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.poppler == nil {
		return stage.Unhealthy(state.Extract, "poppler tools not configured")
	}
	toText, info := h.poppler.Binaries()
	for _, bin := range []string{toText, info} {
		if _, err := exec.LookPath(bin); err != nil {
			return stage.Unhealthy(state.Extract, fmt.Sprintf("binary %q not found", bin))
		}
	}
	return stage.Healthy(state.Extract)
}

// PopplerFromConfig builds the poppler wrapper from the [tools] section.
func PopplerFromConfig(cfg *config.Config) *Poppler {
	if cfg == nil {
		return NewPoppler("pdftotext", "pdfinfo", 2*time.Minute)
	}
	timeout := time.Duration(cfg.Tools.TimeoutSeconds) * time.Second
	return NewPoppler(cfg.Tools.PDFToText, cfg.Tools.PDFInfo, timeout).WithRasterizer(cfg.Tools.PDFToPPM)
}

func workersFromConfig(cfg *config.Config) int {
	if cfg == nil {
		return 0
	}
	return cfg.Tools.MaxWorkers
}

// Execute extracts every page of the parts recorded by ingest.
func (h *Handler) Execute(ctx context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	summary, err := ingest.ReadSummary(env.Layout)
	if err != nil {
		return res, err
	}
	policyPath := env.State.Get(state.KeyExtractionPolicyPath)
	thresholds, err := policy.LoadExtractionPolicy(policyPath)
	if err != nil {
		return res, err
	}
	res.Read(env.Layout.IngestSummary(), policyPath)
	for _, part := range summary.Parts() {
		res.Read(summary.ResolvedParts[part].ResolvedPath)
	}

	poppler := h.poppler
	if poppler == nil {
		poppler = PopplerFromConfig(env.Config)
	}
	out, err := Run(ctx, Options{
		RunID:      env.State.Get(state.KeyRunID),
		Ingest:     summary,
		Thresholds: thresholds,
		Source:     poppler,
		Scorer:     h.scorer,
		Workers:    workersFromConfig(env.Config),
		Now:        env.Now(),
		Logger:     env.Log(),
	})
	if err != nil {
		return res, err
	}
	res.Confirm("CB_EXTRACT_PRIMARY_EVAL_COMPLETE", "CB_EXTRACT_FALLBACK_COMPLETE")

	paths, err := WriteOutputs(env.Layout, out)
	if err != nil {
		return res, err
	}
	res.Wrote(paths...)
	res.Confirm("CB_EXTRACT_PAGE_DECISIONS_WRITTEN", "CB_EXTRACT_SUMMARY_WRITTEN")
	return res, nil
}
