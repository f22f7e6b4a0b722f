package ledger_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"isomine/internal/ledger"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "control", "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func register(t *testing.T, store *ledger.Store, runID string, started time.Time) {
	t.Helper()
	err := store.RegisterRun(context.Background(), ledger.Run{
		RunID: runID, ControlRoot: "/c/" + runID, RunRoot: "/d/" + runID,
		Edition: "2018", Mode: "strict", StartedAt: started, UpdatedAt: started,
	})
	if err != nil {
		t.Fatalf("RegisterRun: %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	for i := 0; i < 2; i++ {
		store, err := ledger.Open(context.Background(), path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		store.Close()
	}
}

func TestRegisterAndComplete(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	register(t, store, "r1", t0)
	register(t, store, "r1", t0.Add(time.Hour))

	run, err := store.GetRun(ctx, "r1")
	if err != nil || run == nil {
		t.Fatalf("GetRun: %v %v", run, err)
	}
	if !run.StartedAt.Equal(t0) {
		t.Fatalf("started_at overwritten: got %v want %v", run.StartedAt, t0)
	}
	if run.Status != ledger.StatusRunning {
		t.Fatalf("status = %q", run.Status)
	}
	if err := store.MarkCompleted(ctx, "r1", t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	run, _ = store.GetRun(ctx, "r1")
	if run.Status != ledger.StatusCompleted || run.CompletedAt.IsZero() {
		t.Fatalf("run not completed: %+v", run)
	}
	missing, err := store.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil run, got %v %v", missing, err)
	}
}

func TestLatestCompletedExcludesCurrent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		register(t, store, id, t0.Add(time.Duration(i)*time.Hour))
		if err := store.MarkCompleted(ctx, id, t0.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.LatestCompleted(ctx, "c")
	if err != nil || got == nil {
		t.Fatalf("LatestCompleted: %v %v", got, err)
	}
	if got.RunID != "b" {
		t.Fatalf("got %s want b", got.RunID)
	}
}

func TestPriorSignaturesMatchesSourceSignature(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	register(t, store, "old", t0)
	register(t, store, "other", t0)
	register(t, store, "new", t0.Add(time.Hour))
	for _, sig := range []ledger.Signatures{
		{RunID: "old", SourceSignature: "src1", PageText: "p", UnitSlices: "u", AnchorTextLinks: "a", UnitCount: 3, AnchorLinkCount: 3},
		{RunID: "other", SourceSignature: "src2", PageText: "x", UnitSlices: "x", AnchorTextLinks: "x"},
		{RunID: "new", SourceSignature: "src1", PageText: "p", UnitSlices: "u", AnchorTextLinks: "a", UnitCount: 3, AnchorLinkCount: 3},
	} {
		if err := store.RecordSignatures(ctx, sig); err != nil {
			t.Fatalf("RecordSignatures: %v", err)
		}
	}

	prior, err := store.PriorSignatures(ctx, "src1", "new")
	if err != nil {
		t.Fatal(err)
	}
	if prior != nil {
		t.Fatalf("incomplete run must not serve as prior: %+v", prior)
	}
	if err := store.MarkCompleted(ctx, "old", t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	prior, err = store.PriorSignatures(ctx, "src1", "new")
	if err != nil || prior == nil {
		t.Fatalf("PriorSignatures: %v %v", prior, err)
	}
	if prior.RunID != "old" || prior.UnitCount != 3 {
		t.Fatalf("unexpected prior %+v", prior)
	}
}

func TestStageEventsAndScorecards(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	register(t, store, "r1", time.Now())
	for _, ev := range []string{"stage_start", "stage_complete"} {
		if err := store.RecordStageEvent(ctx, ledger.StageEvent{RunID: "r1", Stage: "ingest", Event: ev}); err != nil {
			t.Fatal(err)
		}
	}
	events, err := store.StageEvents(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].Event != "stage_complete" {
		t.Fatalf("unexpected events %+v", events)
	}

	if err := store.RecordScorecard(ctx, ledger.Scorecard{RunID: "r1", ProfileID: "default", InputSignature: "sig", OverallPass: true, JSON: "{}"}); err != nil {
		t.Fatal(err)
	}
	card, err := store.LatestScorecard(ctx, "r1")
	if err != nil || card == nil {
		t.Fatalf("LatestScorecard: %v %v", card, err)
	}
	if !card.OverallPass || card.BaselineRunID != "" {
		t.Fatalf("unexpected scorecard %+v", card)
	}
}
