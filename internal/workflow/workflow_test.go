package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"isomine/internal/config"
	"isomine/internal/fileutil"
	"isomine/internal/layout"
	"isomine/internal/ledger"
	"isomine/internal/lock"
	"isomine/internal/logging"
	"isomine/internal/services"
	"isomine/internal/stage"
	"isomine/internal/state"
	"isomine/internal/testsupport"
	"isomine/internal/workflow"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// stubStage writes the artifacts the resume reconciler expects of its stage
// and confirms every checklist item.
type stubStage struct {
	name    string
	err     error
	release bool
	calls   *int
}

func (s stubStage) Name() string                             { return s.name }
func (s stubStage) Version() string                          { return "stub" }
func (s stubStage) HealthCheck(context.Context) stage.Health { return stage.Healthy(s.name) }

func (s stubStage) Execute(_ context.Context, env *stage.Env) (stage.Result, error) {
	var res stage.Result
	if s.calls != nil {
		*s.calls++
	}
	if s.err != nil {
		return res, s.err
	}
	l := env.Layout
	paths := state.RequiredArtifacts(l, s.name)
	if s.name == state.Verify {
		paths = append(paths, l.QueryIndexManifest())
	}
	for _, p := range paths {
		if p == l.Checkpoint(s.name) {
			continue
		}
		if err := fileutil.WriteAtomic(p, []byte("{}\n"), 0o644); err != nil {
			return res, err
		}
		res.Wrote(p)
	}
	if s.release && env.ReleaseLock != nil {
		if err := env.ReleaseLock(); err != nil {
			return res, err
		}
	}
	res.Confirm(state.ChecklistKeys[s.name]...)
	return res, nil
}

type fixture struct {
	cfg     *config.Config
	manager *workflow.Manager
	calls   map[string]*int
}

func newFixture(t *testing.T, override ...stage.Handler) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	testsupport.Policies(t, cfg, []string{"P06", "P08"}, nil)
	f := fixture{cfg: cfg, calls: map[string]*int{}}
	byName := map[string]stage.Handler{}
	for _, name := range state.Stages {
		n := 0
		f.calls[name] = &n
		byName[name] = stubStage{name: name, release: name == state.Finalize, calls: &n}
	}
	for _, h := range override {
		byName[h.Name()] = h
	}
	handlers := make([]stage.Handler, 0, len(byName))
	for _, name := range state.Stages {
		handlers = append(handlers, byName[name])
	}
	registry, err := stage.NewRegistry(handlers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	f.manager = workflow.NewManager(cfg, registry, logging.NewNop(), workflow.WithClock(func() time.Time { return fixedNow }))
	return f
}

func (f fixture) layout(runID string) layout.Layout {
	return layout.Layout{RunID: runID, ControlRoot: f.cfg.ControlRunRoot(runID)}
}

func TestFullPipelineOneStagePerInvocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.manager.RunStage(ctx, workflow.Request{}, state.Ingest)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if first.RunID != workflow.NewRunID(fixedNow) {
		t.Fatalf("generated run id = %q", first.RunID)
	}
	for _, name := range state.Stages[1:] {
		out, err := f.manager.RunStage(ctx, workflow.Request{RunID: first.RunID}, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if out.Stage != name {
			t.Fatalf("dispatched %s want %s", out.Stage, name)
		}
	}
	for name, n := range f.calls {
		if *n != 1 {
			t.Fatalf("%s ran %d times", name, *n)
		}
	}

	l := f.layout(first.RunID)
	st, _, err := state.Load(l)
	if err != nil {
		t.Fatal(err)
	}
	if got := st.Get(state.KeyCurrentStage); got != state.Complete {
		t.Fatalf("current stage = %q", got)
	}
	if got := st.Get(state.KeyRequiredParts); got != "P06,P08" {
		t.Fatalf("required parts = %q", got)
	}
	if fileutil.Exists(l.LockFile()) {
		t.Fatal("lock left behind")
	}
	if info, err := os.Stat(l.RunLog()); err != nil || info.Size() == 0 {
		t.Fatalf("run log missing or empty: %v", err)
	}

	store, err := ledger.Open(ctx, f.cfg.Paths.LedgerPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	events, err := store.StageEvents(ctx, first.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2*len(state.Stages) {
		t.Fatalf("ledger events = %d", len(events))
	}

	status, err := f.manager.Status(workflow.Request{ResumeRun: l.ControlRoot})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range status.Stages {
		if !s.Done || !s.Checkpoint || s.Confirmed != s.Total {
			t.Fatalf("stage status %+v", s)
		}
	}
	if status.Holder != nil {
		t.Fatalf("idle run reports holder %+v", status.Holder)
	}
}

func TestStageOutOfOrderIsStopCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.manager.RunStage(ctx, workflow.Request{RunID: "r1"}, state.Ingest); err != nil {
		t.Fatal(err)
	}
	_, err := f.manager.RunStage(ctx, workflow.Request{RunID: "r1"}, state.Anchor)
	if !errors.Is(err, services.ErrStopCondition) {
		t.Fatalf("got %v want ErrStopCondition", err)
	}
	if *f.calls[state.Anchor] != 0 {
		t.Fatal("anchor dispatched before extract")
	}
}

func TestLaterStagesNeedRunID(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.RunStage(context.Background(), workflow.Request{}, state.Extract)
	if services.ExitCode(err) != 2 {
		t.Fatalf("got %v want usage error", err)
	}
}

func TestRerunResetsLaterStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := workflow.Request{RunID: "r1"}
	for _, name := range []string{state.Ingest, state.Extract, state.Normalize} {
		if _, err := f.manager.RunStage(ctx, req, name); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if _, err := f.manager.RunStage(ctx, req, state.Extract); err != nil {
		t.Fatalf("re-run extract: %v", err)
	}
	st, _, err := state.Load(f.layout("r1"))
	if err != nil {
		t.Fatal(err)
	}
	if !st.Done(state.Extract) || st.Done(state.Normalize) {
		t.Fatalf("extract=%v normalize=%v", st.Done(state.Extract), st.Done(state.Normalize))
	}
	if got := st.Get(state.KeyCurrentStage); got != state.Normalize {
		t.Fatalf("current stage = %q", got)
	}
}

func TestNoResumeRejectsExistingRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.manager.RunStage(ctx, workflow.Request{RunID: "r1"}, state.Ingest); err != nil {
		t.Fatal(err)
	}
	_, err := f.manager.RunStage(ctx, workflow.Request{RunID: "r1", NoResume: true}, state.Ingest)
	if !errors.Is(err, services.ErrUsage) {
		t.Fatalf("got %v want ErrUsage", err)
	}
	_, err = f.manager.RunStage(ctx, workflow.Request{ResumeRun: "missing"}, state.Ingest)
	if !errors.Is(err, services.ErrUsage) {
		t.Fatalf("resume of unknown run: %v", err)
	}
}

func TestContractDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.manager.RunStage(ctx, workflow.Request{RunID: "r1"}, state.Ingest); err != nil {
		t.Fatal(err)
	}
	_, err := f.manager.RunStage(ctx, workflow.Request{RunID: "r1", Mode: "partial"}, state.Extract)
	if !errors.Is(err, services.ErrContractDrift) || services.ExitCode(err) != 15 {
		t.Fatalf("got %v want contract drift", err)
	}
}

func TestLockContention(t *testing.T) {
	f := newFixture(t)
	l := f.layout("r1")
	payload := fmt.Sprintf(`{"pid":%d,"host":%q,"user":"op","run_id":"r1","acquired_at_utc":%q}`,
		os.Getpid(), hostname(t), time.Now().UTC().Format(time.RFC3339))
	if err := fileutil.WriteAtomic(l.LockFile(), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := f.manager.RunStage(context.Background(), workflow.Request{RunID: "r1"}, state.Ingest)
	if !errors.Is(err, services.ErrLockContention) || services.ExitCode(err) != 14 {
		t.Fatalf("got %v want lock contention", err)
	}
	if *f.calls[state.Ingest] != 0 {
		t.Fatal("stage ran without the lock")
	}
	if held, _, err := lock.ReadPayload(l.LockFile()); err != nil || held.PID != os.Getpid() {
		t.Fatalf("foreign lock disturbed: %+v %v", held, err)
	}
}

func TestStageFailureLeavesStageOpen(t *testing.T) {
	boom := services.Wrap(services.ErrSource, state.Ingest, "resolve", "part P08 missing", nil)
	f := newFixture(t, stubStage{name: state.Ingest, err: boom})
	_, err := f.manager.RunStage(context.Background(), workflow.Request{RunID: "r1"}, state.Ingest)
	if !errors.Is(err, services.ErrSource) {
		t.Fatalf("got %v", err)
	}
	st, _, err := state.Load(f.layout("r1"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Done(state.Ingest) {
		t.Fatal("failed stage marked done")
	}
	if fileutil.Exists(f.layout("r1").LockFile()) {
		t.Fatal("lock left behind after failure")
	}
}

func TestHealthCoversRegisteredStages(t *testing.T) {
	f := newFixture(t)
	health := f.manager.Health(context.Background())
	if len(health) != len(state.Stages) || len(stage.Unready(health)) != 0 {
		t.Fatalf("health = %+v", health)
	}
}

func hostname(t *testing.T) string {
	t.Helper()
	host, err := os.Hostname()
	if err != nil {
		t.Fatal(err)
	}
	return host
}

func TestWithRunHoldsLockAndLoadsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.manager.RunStage(ctx, workflow.Request{RunID: "r1"}, state.Ingest); err != nil {
		t.Fatal(err)
	}
	called := false
	err := f.manager.WithRun(ctx, workflow.Request{ResumeRun: "r1"}, "replay", func(_ context.Context, s *workflow.Session) error {
		called = true
		if !s.State.Done(state.Ingest) {
			t.Error("session state not loaded")
		}
		if s.Ledger == nil {
			t.Error("ledger not opened")
		}
		if !fileutil.Exists(s.Layout.LockFile()) {
			t.Error("lock not held during session")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("WithRun: called=%v err=%v", called, err)
	}
	if fileutil.Exists(f.layout("r1").LockFile()) {
		t.Fatal("lock left behind")
	}
}

func TestWithRunUnknownRun(t *testing.T) {
	f := newFixture(t)
	err := f.manager.WithRun(context.Background(), workflow.Request{RunID: "nope"}, "replay", func(context.Context, *workflow.Session) error {
		t.Fatal("callback ran for unknown run")
		return nil
	})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}
