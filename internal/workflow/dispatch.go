package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"isomine/internal/ledger"
	"isomine/internal/lock"
	"isomine/internal/logging"
	"isomine/internal/services"
	"isomine/internal/stage"
	"isomine/internal/stageexec"
	"isomine/internal/state"
)

// Outcome describes one dispatched stage.
type Outcome struct {
	RunID     string
	Stage     string
	NextStage string
	Result    stage.Result
	Elapsed   time.Duration
}

// RunStage dispatches exactly one stage for the run selected by req.
func (m *Manager) RunStage(ctx context.Context, req Request, name string) (Outcome, error) {
	handler, err := m.registry.Lookup(name)
	if err != nil {
		return Outcome{}, err
	}
	r, err := m.resolve(req, name)
	if err != nil {
		return Outcome{}, err
	}
	l := r.layout
	out := Outcome{RunID: l.RunID, Stage: name}

	ctx = services.WithRunID(ctx, l.RunID)
	ctx = services.WithRequestID(ctx, uuid.NewString())

	runLog, err := logging.OpenRunLog(l.RunLog())
	if err != nil {
		return out, services.Wrap(services.ErrStopCondition, "workflow", "open run log", l.RunLog(), err)
	}
	defer runLog.Close()
	logger := logging.WithContext(ctx, runLog.Attach(m.logger))

	held, err := lock.Acquire(ctx, l.LockFile(), l.RunID, m.lockOpts, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "run lock unavailable", "lock_contention",
			logging.String(logging.FieldPath, l.LockFile()),
			logging.String(logging.FieldErrorHint, "wait for the other invocation or remove a stale lock"),
			logging.Error(err))
		return out, err
	}
	defer func() {
		if err := held.Release(); err != nil {
			logger.Warn("lock release failed", logging.Error(err))
		}
	}()

	contract, err := m.contract(r)
	if err != nil {
		return out, m.fatal(logger, "run contract unavailable", err)
	}
	now := m.now()
	st, cl, err := state.Bootstrap(l, contract, now)
	if err != nil {
		return out, m.fatal(logger, "bootstrap failed", err)
	}
	resume, err := state.ReconcileResume(l, st, cl, logger, now)
	if err != nil {
		return out, m.fatal(logger, "resume reconciliation failed", err)
	}
	if err := checkOrder(st, cl, name, resume, logger); err != nil {
		return out, m.fatal(logger, "stage out of order", err)
	}

	store, err := m.openLedger(ctx, logger)
	if err != nil {
		return out, m.fatal(logger, "ledger unavailable", err)
	}
	if store != nil {
		defer store.Close()
		m.registerRun(ctx, store, st, r, logger)
	}

	env := &stage.Env{
		Layout:    l,
		Config:    m.cfg,
		State:     st,
		Checklist: cl,
		Ledger:    store,
		Logger:    logger,
		Flags:     m.flags(req, r),
		Clock:     m.now,
		ReleaseLock: func() error {
			return held.Release()
		},
	}
	started := time.Now()
	res, err := stageexec.Run(ctx, stageexec.Options{
		Logger:  logger,
		Ledger:  store,
		Handler: handler,
		Env:     env,
	})
	out.Result = res
	out.Elapsed = time.Since(started)
	out.NextStage = st.Get(state.KeyCurrentStage)
	return out, err
}

// checkOrder enforces pipeline order. A done stage asked for again is reset
// together with every later stage.
func checkOrder(st *state.State, cl *state.Checklist, name, resume string, logger *slog.Logger) error {
	want := state.StageIndex(name)
	at := len(state.Stages)
	if resume != state.Complete {
		at = state.StageIndex(resume)
	}
	switch {
	case want > at:
		return services.Wrap(services.ErrStopCondition, name, "dispatch",
			fmt.Sprintf("%s is not done; run it before %s", resume, name), nil)
	case want < at:
		logging.WarnWithContext(logger, "re-running completed stage", "stage_rerun",
			logging.String(logging.FieldStage, name),
			logging.String(logging.FieldImpact, "this stage and every later stage are reset"))
		state.ResetFrom(st, cl, name)
		if err := state.Save(st, cl); err != nil {
			return services.Wrap(services.ErrStopCondition, name, "reset", "save state", err)
		}
	}
	return nil
}

func (m *Manager) flags(req Request, r resolved) stage.Flags {
	failOnQA := m.cfg.Run.FailOnQA
	if req.Flags.FailOnQA != nil {
		failOnQA = *req.Flags.FailOnQA
	}
	return stage.Flags{
		LockSourceHashes:  req.Flags.LockSourceHashes,
		AllowPartialScope: req.Flags.AllowPartialScope || r.mode == "partial",
		FailOnQA:          failOnQA,
	}
}

func (m *Manager) openLedger(ctx context.Context, logger *slog.Logger) (*ledger.Store, error) {
	if m.cfg.Paths.LedgerPath == "" {
		logger.Debug("ledger path not configured; run history disabled")
		return nil, nil
	}
	return ledger.Open(ctx, m.cfg.Paths.LedgerPath)
}

func (m *Manager) registerRun(ctx context.Context, store *ledger.Store, st *state.State, r resolved, logger *slog.Logger) {
	started, err := time.Parse(time.RFC3339, st.Get(state.KeyStartedAt))
	if err != nil {
		started = m.now()
	}
	err = store.RegisterRun(ctx, ledger.Run{
		RunID:       r.layout.RunID,
		ControlRoot: r.layout.ControlRoot,
		RunRoot:     r.layout.RunRoot,
		Edition:     r.layout.Edition,
		Mode:        r.mode,
		StartedAt:   started,
		UpdatedAt:   m.now(),
	})
	if err != nil {
		logging.WarnWithContext(logger, "run not registered in ledger", "ledger_register_failed",
			logging.String(logging.FieldImpact, "replay and quality comparisons will not see this run"),
			logging.Error(err))
	}
}

// fatal logs a pre-dispatch failure with its exit code and returns it.
func (m *Manager) fatal(logger *slog.Logger, msg string, err error) error {
	details := services.Details(err)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "run_fatal"),
		logging.String("error_kind", details.Kind),
		logging.Int("exit_code", services.ExitCode(err)),
		logging.Error(err),
	}
	if errors.Is(err, services.ErrContractDrift) {
		attrs = append(attrs, logging.String(logging.FieldErrorHint, "start a new run or restore the original settings"))
	}
	logger.Error(msg, logging.Args(attrs...)...)
	return err
}
