package anchor

import (
	"context"

	"isomine/internal/normalize"
	"isomine/internal/stage"
	"isomine/internal/state"
)

// DefaultNamespace prefixes anchors when no configuration is supplied.
const DefaultNamespace = "iso26262"

// Handler is the anchor stage.
type Handler struct{}

// NewHandler constructs the anchor stage.
func NewHandler() *Handler { return &Handler{} }

func (h *Handler) Name() string    { return state.Anchor }
func (h *Handler) Version() string { return "anchor/v2" }

func (h *Handler) HealthCheck(context.Context) stage.Health { return stage.Healthy(state.Anchor) }

// Execute anchors the units written by normalize.
func (h *Handler) Execute(_ context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	l := env.Layout
	units, err := normalize.ReadUnits(l)
	if err != nil {
		return res, err
	}
	links, err := normalize.ReadLinks(l)
	if err != nil {
		return res, err
	}
	res.Read(l.NormalizedUnits(), l.UnitTextLinks())

	namespace := DefaultNamespace
	if env.Config != nil && env.Config.Corpus.AnchorNamespace != "" {
		namespace = env.Config.Corpus.AnchorNamespace
	}
	out, err := Run(Options{
		RunID:     env.State.Get(state.KeyRunID),
		Namespace: namespace,
		Edition:   env.State.Get(state.KeyEdition),
		Units:     units,
		Links:     links,
		Now:       env.Now(),
		Logger:    env.Log(),
	})
	if err != nil {
		return res, err
	}
	res.Confirm("CB_ANCHOR_DEDUP_CHECK_PASS")

	paths, err := WriteOutputs(l, out)
	if err != nil {
		return res, err
	}
	res.Wrote(paths...)
	res.Confirm("CB_ANCHOR_IDS_WRITTEN", "CB_ANCHOR_SUMMARY_WRITTEN")
	return res, nil
}
