package publish

import (
	"context"

	"isomine/internal/anchor"
	"isomine/internal/extract"
	"isomine/internal/logging"
	"isomine/internal/normalize"
	"isomine/internal/stage"
	"isomine/internal/state"
)

// Handler is the publish stage.
type Handler struct{}

// NewHandler constructs the publish stage.
func NewHandler() *Handler { return &Handler{} }

func (h *Handler) Name() string    { return state.Publish }
func (h *Handler) Version() string { return "publish/v2" }

func (h *Handler) HealthCheck(context.Context) stage.Health { return stage.Healthy(state.Publish) }

// Execute gates and publishes the anchored units.
func (h *Handler) Execute(_ context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	l := env.Layout
	summary, err := normalize.ReadSummary(l)
	if err != nil {
		return res, err
	}
	decisions, err := extract.ReadDecisions(l)
	if err != nil {
		return res, err
	}
	units, err := anchor.ReadUnits(l)
	if err != nil {
		return res, err
	}
	res.Read(l.NormalizeSummary(), l.PageDecisions(), l.AnchoredUnits())

	plain := make([]normalize.Unit, len(units))
	for i, u := range units {
		plain[i] = u.Unit
	}
	skipQA := env.State.Get(state.KeyMode) == "partial" && !env.Flags.FailOnQA
	if err := CheckGates(GateInput{Summary: summary, Decisions: decisions, Units: plain, SkipQA: skipQA}); err != nil {
		return res, err
	}
	if skipQA && summary.QAUnresolvedCount > 0 {
		logging.WarnWithContext(env.Log(), "publishing with unresolved QA items", "qa_gate",
			logging.Int("qa_unresolved_count", summary.QAUnresolvedCount),
			logging.String(logging.FieldImpact, "published corpus includes units awaiting review"),
		)
	}
	res.Confirm("CB_PUBLISH_QA_GATE_PASS")

	shardSize := MaxShardSize
	if env.Config != nil && env.Config.Corpus.ShardSize > 0 {
		shardSize = env.Config.Corpus.ShardSize
	}
	out, err := Run(Options{
		RunID:     env.State.Get(state.KeyRunID),
		Layout:    l,
		Units:     units,
		ShardSize: shardSize,
		Now:       env.Now(),
		Logger:    env.Log(),
	})
	if err != nil {
		return res, err
	}
	res.Wrote(out.Paths...)
	res.Confirm("CB_PUBLISH_SHARDS_WRITTEN", "CB_PUBLISH_REGISTRY_WRITTEN", "CB_PUBLISH_TRANSACTION_COMMIT")
	return res, nil
}
