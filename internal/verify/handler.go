package verify

import (
	"context"
	"slices"

	"isomine/internal/ingest"
	"isomine/internal/stage"
	"isomine/internal/state"
)

// Handler is the verify stage.
type Handler struct{}

// NewHandler constructs the verify stage.
func NewHandler() *Handler { return &Handler{} }

func (h *Handler) Name() string    { return state.Verify }
func (h *Handler) Version() string { return Version }

func (h *Handler) HealthCheck(context.Context) stage.Health { return stage.Healthy(state.Verify) }

// Execute runs every verify gate and records the probe freeze signature.
func (h *Handler) Execute(ctx context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	l := env.Layout
	summary, err := ingest.ReadSummary(l)
	if err != nil {
		return res, err
	}
	required := env.State.RequiredParts()
	if env.Flags.AllowPartialScope || env.State.Get(state.KeyMode) == "partial" {
		required = slices.DeleteFunc(slices.Clone(required), func(p string) bool {
			return slices.Contains(summary.MissingParts, p)
		})
	}
	res.Read(l.IngestSummary(), l.NormalizeSummary(), l.UnitSlices(), l.AnchorTextLinks(), l.AnchorRegistry(), l.CorpusManifest())

	out, err := Run(ctx, Options{
		Layout:          l,
		RunID:           env.State.Get(state.KeyRunID),
		RequiredParts:   required,
		SourceSignature: summary.SourceSignature,
		Ledger:          env.Ledger,
		Now:             env.Now(),
		Logger:          env.Log(),
	})
	if err != nil {
		return res, err
	}
	env.State.Set(state.KeyProbeFreezeSignature, out.Freeze.Signature)
	res.Wrote(out.Paths...)
	res.Confirm(
		"CB_VERIFY_SCHEMA_PASS",
		"CB_VERIFY_INTEGRITY_PASS",
		"CB_VERIFY_REQUIRED_PARTS_PASS",
		"CB_VERIFY_REPORT_CONTENT_PASS",
		"CB_VERIFY_SUMMARY_WRITTEN",
	)
	return res, nil
}
