package stageexec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"isomine/internal/layout"
	"isomine/internal/logging"
	"isomine/internal/services"
	"isomine/internal/stage"
	"isomine/internal/stageexec"
	"isomine/internal/state"
)

type ingestStub struct {
	write   bool
	confirm []string
	err     error
}

func (h ingestStub) Name() string                             { return state.Ingest }
func (h ingestStub) Version() string                          { return "test" }
func (h ingestStub) HealthCheck(context.Context) stage.Health { return stage.Healthy(state.Ingest) }

func (h ingestStub) Execute(_ context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	if h.err != nil {
		return res, h.err
	}
	out := env.Layout.IngestSummary()
	if h.write {
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return res, err
		}
		if err := os.WriteFile(out, []byte("{}\n"), 0o644); err != nil {
			return res, err
		}
	}
	res.Wrote(out)
	res.Confirm(h.confirm...)
	return res, nil
}

func newEnv(t *testing.T) *stage.Env {
	t.Helper()
	base := t.TempDir()
	l := layout.Layout{RunID: "r1", ControlRoot: filepath.Join(base, "control"), RunRoot: filepath.Join(base, "data")}
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	st, cl, err := state.Bootstrap(l, map[string]string{state.KeyRunID: "r1"}, now)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return &stage.Env{Layout: l, State: st, Checklist: cl, Clock: func() time.Time { return now }}
}

func TestRunMarksStageDone(t *testing.T) {
	env := newEnv(t)
	_, err := stageexec.Run(context.Background(), stageexec.Options{
		Logger:  logging.NewNop(),
		Handler: ingestStub{write: true, confirm: state.ChecklistKeys[state.Ingest]},
		Env:     env,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !env.State.Done(state.Ingest) {
		t.Fatal("ingest not marked done")
	}
	if got := env.State.Get(state.KeyCurrentStage); got != state.Extract {
		t.Fatalf("current stage = %q want extract", got)
	}
	if _, err := state.ReadCheckpoint(env.Layout, state.Ingest); err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}
}

func TestRunRefusesMissingOutputs(t *testing.T) {
	env := newEnv(t)
	_, err := stageexec.Run(context.Background(), stageexec.Options{
		Logger:  logging.NewNop(),
		Handler: ingestStub{confirm: state.ChecklistKeys[state.Ingest]},
		Env:     env,
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("got %v want ErrValidation", err)
	}
	if env.State.Done(state.Ingest) {
		t.Fatal("stage marked done without outputs")
	}
}

func TestRunRefusesIncompleteChecklist(t *testing.T) {
	env := newEnv(t)
	_, err := stageexec.Run(context.Background(), stageexec.Options{
		Logger:  logging.NewNop(),
		Handler: ingestStub{write: true, confirm: state.ChecklistKeys[state.Ingest][:2]},
		Env:     env,
	})
	if err == nil || env.State.Done(state.Ingest) {
		t.Fatalf("expected failure with incomplete checklist, got %v", err)
	}
	if env.Checklist.Get(state.ChecklistKeys[state.Ingest][0]) != "0" {
		t.Fatal("partial confirmations survived the failure")
	}
}

func TestRunPropagatesHandlerError(t *testing.T) {
	env := newEnv(t)
	boom := services.Wrap(services.ErrSource, "ingest", "resolve", "missing part", nil)
	_, err := stageexec.Run(context.Background(), stageexec.Options{
		Logger:  logging.NewNop(),
		Handler: ingestStub{err: boom},
		Env:     env,
	})
	if !errors.Is(err, services.ErrSource) {
		t.Fatalf("got %v want ErrSource", err)
	}
}
