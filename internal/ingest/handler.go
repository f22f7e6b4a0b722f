package ingest

import (
	"context"

	"isomine/internal/logging"
	"isomine/internal/stage"
	"isomine/internal/state"
)

// Handler is the ingest stage.
type Handler struct{}

// NewHandler constructs the ingest stage.
func NewHandler() *Handler { return &Handler{} }

func (h *Handler) Name() string    { return state.Ingest }
func (h *Handler) Version() string { return "ingest/v2" }

func (h *Handler) HealthCheck(context.Context) stage.Health { return stage.Healthy(state.Ingest) }

// Execute resolves the parts recorded in the run contract.
func (h *Handler) Execute(ctx context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	st := env.State
	opts := Options{
		RunID:                st.Get(state.KeyRunID),
		Mode:                 st.Get(state.KeyMode),
		PDFRoot:              st.Get(state.KeyPDFRoot),
		SourcePDFSetPath:     st.Get(state.KeySourcePDFSetPath),
		RelevantPolicyPath:   st.Get(state.KeyRelevantPolicyPath),
		ExtractionPolicyPath: st.Get(state.KeyExtractionPolicyPath),
		RequiredParts:        st.RequiredParts(),
		LockSourceHashes:     env.Flags.LockSourceHashes,
		AllowPartialScope:    env.Flags.AllowPartialScope || partialMode(st),
		Now:                  env.Now(),
		Logger:               env.Log(),
	}
	res.Read(opts.SourcePDFSetPath, opts.RelevantPolicyPath)

	summary, err := Resolve(ctx, opts)
	if err != nil {
		return res, err
	}
	res.Confirm("CB_INGEST_SOURCE_PDFSET_VALID", "CB_INGEST_REQUIRED_PARTS_FOUND", "CB_INGEST_HASHES_VERIFIED")
	for _, part := range summary.Parts() {
		res.Read(summary.ResolvedParts[part].ResolvedPath)
	}
	if st.Initialized() {
		res.Confirm("CB_INGEST_STATE_INITIALIZED")
	}

	outputs, err := WriteOutputs(env.Layout, summary)
	if err != nil {
		return res, err
	}
	res.Wrote(outputs...)
	res.Confirm("CB_INGEST_SUMMARY_WRITTEN")

	if env.Ledger != nil {
		if err := env.Ledger.SetSourceSignature(ctx, opts.RunID, summary.SourceSignature, env.Now()); err != nil {
			env.Log().Warn("source signature not recorded", logging.Error(err))
		}
	}
	return res, nil
}

func partialMode(st *state.State) bool { return st.Get(state.KeyMode) == "partial" }
