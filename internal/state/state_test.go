package state_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/layout"
	"isomine/internal/services"
	"isomine/internal/state"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newLayout(t *testing.T) layout.Layout {
	t.Helper()
	root := t.TempDir()
	return layout.Layout{
		RunID:       "run-1",
		ControlRoot: filepath.Join(root, "control"),
		RunRoot:     filepath.Join(root, "data"),
		CorpusRoot:  filepath.Join(root, "corpus"),
		IndexRoot:   filepath.Join(root, "index"),
		Edition:     "2018",
	}
}

func contract(l layout.Layout) map[string]string {
	return map[string]string{
		state.KeyRunID:         l.RunID,
		state.KeyRunRoot:       l.RunRoot,
		state.KeyRequiredParts: "P06,P08,P09",
		state.KeyEdition:       "2018",
	}
}

func touch(t *testing.T, path string, lines int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Repeat("{}\n", lines)), 0o644); err != nil {
		t.Fatal(err)
	}
}

func completeStage(t *testing.T, l layout.Layout, st *state.State, cl *state.Checklist, stage string) {
	t.Helper()
	for _, p := range state.RequiredArtifacts(l, stage) {
		if p != l.Checkpoint(stage) {
			touch(t, p, 1)
		}
	}
	for _, key := range state.ChecklistKeys[stage] {
		cl.Confirm(key)
	}
	if _, err := state.WriteCheckpoint(l, stage, nil, state.RequiredArtifacts(l, stage), now); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}
	if err := state.CompleteStage(l, st, cl, stage, now); err != nil {
		t.Fatalf("complete %s: %v", stage, err)
	}
}

func TestEnvFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.env")
	values := map[string]string{"B": `say "hi"`, "A": `C:\path`}
	if err := state.WriteEnvFile(path, values); err != nil {
		t.Fatal(err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "A=\"C:\\\\path\"\nB=\"say \\\"hi\\\"\"\n" {
		t.Fatalf("unexpected env file %q", raw)
	}
	back, err := state.ReadEnvFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if back["A"] != values["A"] || back["B"] != values["B"] {
		t.Fatalf("round trip mismatch: %v", back)
	}
}

func TestReadEnvFileSkipsCommentsAndBareLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.env")
	if err := os.WriteFile(path, []byte("# comment\n\nNOEQUALS\nK=v=w\nQ='single'\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := state.ReadEnvFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["K"] != "v=w" || got["Q"] != "single" {
		t.Fatalf("unexpected parse %v", got)
	}
}

func TestBootstrapDefaultsAndDrift(t *testing.T) {
	l := newLayout(t)
	st, cl, err := state.Bootstrap(l, contract(l), now)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if st.Get(state.DoneFlag(state.Verify)) != "0" || st.Get(state.KeyCurrentStage) != state.Ingest {
		t.Fatalf("unexpected defaults %v", st.Values())
	}
	if cl.Get("CB_ANCHOR_DEDUP_CHECK_PASS") != "0" || cl.Get(state.KeyChecklistSchemaVersion) != "1" {
		t.Fatalf("unexpected checklist %v", cl.Values())
	}

	if _, _, err := state.Bootstrap(l, contract(l), now.Add(time.Hour)); err != nil {
		t.Fatalf("re-bootstrap with same contract: %v", err)
	}

	drifted := contract(l)
	drifted[state.KeyRequiredParts] = "P06"
	_, _, err = state.Bootstrap(l, drifted, now)
	if !errors.Is(err, services.ErrContractDrift) {
		t.Fatalf("expected contract drift, got %v", err)
	}
	if !strings.Contains(err.Error(), state.KeyRequiredParts) {
		t.Fatalf("drift error should name the key: %v", err)
	}
}

func TestCompleteStageRequiresChecklistAndArtifacts(t *testing.T) {
	l := newLayout(t)
	st, cl, err := state.Bootstrap(l, contract(l), now)
	if err != nil {
		t.Fatal(err)
	}
	if err := state.CompleteStage(l, st, cl, state.Ingest, now); err == nil {
		t.Fatal("expected incomplete checklist error")
	}
	for _, key := range state.ChecklistKeys[state.Ingest] {
		cl.Confirm(key)
	}
	if err := state.CompleteStage(l, st, cl, state.Ingest, now); err == nil {
		t.Fatal("expected missing artifact error")
	}
	touch(t, l.IngestSummary(), 1)
	if err := state.CompleteStage(l, st, cl, state.Ingest, now); err != nil {
		t.Fatalf("complete ingest: %v", err)
	}
	if !st.Done(state.Ingest) || st.Get(state.KeyCurrentStage) != state.Extract {
		t.Fatalf("unexpected state after completion: %v", st.Values())
	}
}

func TestReconcileResumeRerunsInterruptedStage(t *testing.T) {
	l := newLayout(t)
	st, cl, err := state.Bootstrap(l, contract(l), now)
	if err != nil {
		t.Fatal(err)
	}
	completeStage(t, l, st, cl, state.Ingest)
	completeStage(t, l, st, cl, state.Extract)
	// normalize wrote its artifacts but was killed before the done flag.
	touch(t, l.NormalizeSummary(), 1)

	resume, err := state.ReconcileResume(l, st, cl, nil, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if resume != state.Normalize {
		t.Fatalf("resume got %s want %s", resume, state.Normalize)
	}
	if !st.Done(state.Extract) {
		t.Fatal("extract should stay done")
	}
}

func TestReconcileResumeResetsStageWithMissingArtifact(t *testing.T) {
	l := newLayout(t)
	st, cl, err := state.Bootstrap(l, contract(l), now)
	if err != nil {
		t.Fatal(err)
	}
	completeStage(t, l, st, cl, state.Ingest)
	completeStage(t, l, st, cl, state.Extract)
	if err := os.Remove(l.PageBlocks()); err != nil {
		t.Fatal(err)
	}
	st.Set(state.KeyLastCommittedCheckpoint, "")

	resume, err := state.ReconcileResume(l, st, cl, nil, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if resume != state.Extract {
		t.Fatalf("resume got %s want extract", resume)
	}
	if st.Done(state.Extract) || cl.Get("CB_EXTRACT_SUMMARY_WRITTEN") != "0" {
		t.Fatal("extract should be reset")
	}
	reloaded, _, err := state.Load(l)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Get(state.KeyCurrentStage) != state.Extract {
		t.Fatalf("reconciled stage not persisted: %v", reloaded.Values())
	}
}

func TestReconcileResumeStopsOnMissingCommittedCheckpoint(t *testing.T) {
	l := newLayout(t)
	st, cl, err := state.Bootstrap(l, contract(l), now)
	if err != nil {
		t.Fatal(err)
	}
	completeStage(t, l, st, cl, state.Ingest)
	if err := os.Remove(l.Checkpoint(state.Ingest)); err != nil {
		t.Fatal(err)
	}
	if _, err := state.ReconcileResume(l, st, cl, nil, now); !errors.Is(err, services.ErrStopCondition) {
		t.Fatalf("expected stop condition, got %v", err)
	}
}

func TestReconcileResumeStopsOnLinkCountDivergence(t *testing.T) {
	l := newLayout(t)
	st, cl, err := state.Bootstrap(l, contract(l), now)
	if err != nil {
		t.Fatal(err)
	}
	st.Set(state.DoneFlag(state.Anchor), "1")
	touch(t, l.UnitTextLinks(), 3)
	touch(t, l.AnchorTextLinks(), 2)
	_, err = state.ReconcileResume(l, st, cl, nil, now)
	if !errors.Is(err, services.ErrStopCondition) || !strings.Contains(err.Error(), "unit-text-links=3") {
		t.Fatalf("expected bijection stop condition, got %v", err)
	}
}

func TestReconcileResumeStopsOnOpenPublishTransaction(t *testing.T) {
	l := newLayout(t)
	st, cl, err := state.Bootstrap(l, contract(l), now)
	if err != nil {
		t.Fatal(err)
	}
	st.Set(state.DoneFlag(state.Publish), "1")
	touch(t, l.PublishBegin(), 1)
	if _, err := state.ReconcileResume(l, st, cl, nil, now); !errors.Is(err, services.ErrStopCondition) {
		t.Fatalf("expected stop condition, got %v", err)
	}
}

func TestCheckpointChecksumIgnoresTimestamp(t *testing.T) {
	l := newLayout(t)
	input := filepath.Join(t.TempDir(), "input.json")
	touch(t, input, 2)
	first, err := state.WriteCheckpoint(l, state.Anchor, []string{input, input}, []string{"b", "a"}, now)
	if err != nil {
		t.Fatal(err)
	}
	second, err := state.WriteCheckpoint(l, state.Anchor, []string{input}, []string{"a", "b"}, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if first.CanonicalChecksum != second.CanonicalChecksum {
		t.Fatal("checksum should not depend on timestamp or input order")
	}
	if len(second.InputHashes) != 1 || second.Outputs[0] != "a" {
		t.Fatalf("unexpected checkpoint %+v", second)
	}
	var onDisk state.Checkpoint
	if err := artifact.ReadJSON(l.Checkpoint(state.Anchor), &onDisk); err != nil {
		t.Fatal(err)
	}
	if onDisk.TimestampUTC != state.Timestamp(now.Add(time.Hour)) {
		t.Fatalf("unexpected timestamp %s", onDisk.TimestampUTC)
	}
}
