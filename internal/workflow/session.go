package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"isomine/internal/config"
	"isomine/internal/layout"
	"isomine/internal/ledger"
	"isomine/internal/lock"
	"isomine/internal/logging"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Session is a locked view of an existing run for operations that sit
// outside the stage sequence: replay, QA adjudication, quality scoring and
// index rebuilds.
type Session struct {
	Layout    layout.Layout
	Config    *config.Config
	State     *state.State
	Checklist *state.Checklist
	// Ledger is nil when run history is disabled.
	Ledger *ledger.Store
	Logger *slog.Logger
	Now    time.Time
}

// RunLayout resolves an existing run without locking it. Read-only
// operations such as search and explain use it.
func (m *Manager) RunLayout(req Request, op string) (layout.Layout, error) {
	r, err := m.resolve(req, op)
	if err != nil {
		return layout.Layout{}, err
	}
	if r.recorded[state.KeyRunID] == "" {
		return layout.Layout{}, services.Wrap(services.ErrNotFound, op, "load state", "no run state at "+r.layout.ControlRoot, nil)
	}
	return r.layout, nil
}

// WithRun resolves an existing run, holds its lock for the duration of fn
// and logs into the run log under op.
func (m *Manager) WithRun(ctx context.Context, req Request, op string, fn func(context.Context, *Session) error) error {
	l, err := m.RunLayout(req, op)
	if err != nil {
		return err
	}
	ctx = services.WithRunID(ctx, l.RunID)
	ctx = services.WithStage(ctx, op)
	ctx = services.WithRequestID(ctx, uuid.NewString())

	runLog, err := logging.OpenRunLog(l.RunLog())
	if err != nil {
		return services.Wrap(services.ErrStopCondition, op, "open run log", l.RunLog(), err)
	}
	defer runLog.Close()
	logger := logging.NewComponentLogger(logging.WithContext(ctx, runLog.Attach(m.logger)), op)

	held, err := lock.Acquire(ctx, l.LockFile(), l.RunID, m.lockOpts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Release(); err != nil {
			logger.Warn("lock release failed", logging.Error(err))
		}
	}()

	st, cl, err := state.Load(l)
	if err != nil {
		return m.fatal(logger, "state unavailable", err)
	}
	store, err := m.openLedger(ctx, logger)
	if err != nil {
		return m.fatal(logger, "ledger unavailable", err)
	}
	if store != nil {
		defer store.Close()
	}

	started := time.Now()
	err = fn(ctx, &Session{
		Layout:    l,
		Config:    m.cfg,
		State:     st,
		Checklist: cl,
		Ledger:    store,
		Logger:    logger,
		Now:       m.now(),
	})
	if err != nil {
		return m.fatal(logger, op+" failed", err)
	}
	logger.Info(op+" finished",
		logging.String(logging.FieldEventType, op+"_finished"),
		logging.Duration("elapsed", time.Since(started)))
	return nil
}
