package normalize

import (
	"context"

	"isomine/internal/artifact"
	"isomine/internal/extract"
	"isomine/internal/logging"
	"isomine/internal/services"
	"isomine/internal/stage"
	"isomine/internal/state"
)

// Handler is the normalize stage.
type Handler struct {
	limits Limits
}

// NewHandler constructs the normalize stage with DefaultLimits.
func NewHandler() *Handler { return &Handler{limits: DefaultLimits} }

func (h *Handler) Name() string    { return state.Normalize }
func (h *Handler) Version() string { return Version }

func (h *Handler) HealthCheck(context.Context) stage.Health { return stage.Healthy(state.Normalize) }

// Execute segments the page records written by extract.
func (h *Handler) Execute(_ context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	l := env.Layout
	pages, err := extract.ReadPages(l)
	if err != nil {
		return res, err
	}
	blocks, err := extract.ReadBlocks(l)
	if err != nil {
		return res, err
	}
	decisions, err := extract.ReadDecisions(l)
	if err != nil {
		return res, err
	}
	var index extract.PageIndex
	if err := artifact.ReadJSON(l.PageIndex(), &index); err != nil {
		return res, services.Wrap(services.ErrStopCondition, state.Normalize, "read page index", l.PageIndex(), err)
	}
	adjudications, err := ReadAdjudications(l)
	if err != nil {
		return res, err
	}
	res.Read(l.PageText(), l.PageBlocks(), l.PageDecisions(), l.PageIndex())
	if len(adjudications) > 0 {
		res.Read(l.Adjudications())
	}

	out, err := Run(Options{
		RunID:         env.State.Get(state.KeyRunID),
		Edition:       env.State.Get(state.KeyEdition),
		Pages:         pages,
		Blocks:        blocks,
		Decisions:     decisions,
		PageCounts:    index.PageCounts,
		Adjudications: adjudications,
		Limits:        h.limits,
		Now:           env.Now(),
		Logger:        env.Log(),
	})
	if err != nil {
		return res, err
	}
	res.Confirm("CB_NORMALIZE_COVERAGE_COMPUTED")

	paths, err := WriteOutputs(l, out)
	if err != nil {
		return res, err
	}
	res.Wrote(paths...)
	res.Confirm("CB_NORMALIZE_UNITS_WRITTEN", "CB_NORMALIZE_QA_QUEUE_WRITTEN", "CB_NORMALIZE_SUMMARY_WRITTEN")

	if out.Summary.QAUnresolvedCount > 0 {
		logging.WarnWithContext(env.Log(), "units need manual review", "qa_queue",
			logging.Int("qa_unresolved_count", out.Summary.QAUnresolvedCount),
			logging.String(logging.FieldErrorHint, "run qa-list and qa-apply before publish"),
			logging.String(logging.FieldImpact, "publish is blocked until the queue is empty"),
		)
	}
	return res, nil
}
