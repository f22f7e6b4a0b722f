package finalize

import (
	"context"

	"isomine/internal/services"
	"isomine/internal/stage"
	"isomine/internal/state"
)

// Handler is the finalize stage.
type Handler struct{}

// NewHandler constructs the finalize stage.
func NewHandler() *Handler { return &Handler{} }

func (h *Handler) Name() string    { return state.Finalize }
func (h *Handler) Version() string { return Version }

func (h *Handler) HealthCheck(context.Context) stage.Health { return stage.Healthy(state.Finalize) }

// Execute writes the run report and snapshot, flips the run summary flags
// and releases the lock held by this invocation.
func (h *Handler) Execute(ctx context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	l := env.Layout
	res.Read(l.IngestSummary(), l.AnchorSummary(), l.PublishSummary(), l.VerifySummary())

	out, err := Run(ctx, Options{
		Layout:        l,
		RunID:         env.State.Get(state.KeyRunID),
		Mode:          env.State.Get(state.KeyMode),
		RequiredParts: env.State.RequiredParts(),
		Ledger:        env.Ledger,
		Now:           env.Now(),
		Logger:        env.Log(),
	})
	if err != nil {
		return res, err
	}
	res.Wrote(out.Paths...)
	res.Confirm("CB_FINALIZE_REPORT_APPENDED")

	env.State.Set(state.KeyReportAppended, "1")
	env.State.Set(state.KeyRunSummaryUpdated, "1")
	if err := state.Save(env.State, env.Checklist); err != nil {
		return res, services.Wrap(services.ErrConfiguration, state.Finalize, "persist state", "write run summary flags", err)
	}
	res.Confirm("CB_FINALIZE_STATE_FLAGS_WRITTEN")

	if env.ReleaseLock != nil {
		if err := env.ReleaseLock(); err != nil {
			return res, services.Wrap(services.ErrLockContention, state.Finalize, "release lock", l.LockFile(), err)
		}
	}
	res.Confirm("CB_FINALIZE_LOCK_RELEASED")
	return res, nil
}
