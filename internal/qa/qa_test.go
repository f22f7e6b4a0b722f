package qa_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isomine/internal/artifact"
	"isomine/internal/layout"
	"isomine/internal/normalize"
	"isomine/internal/qa"
	"isomine/internal/services"
	"isomine/internal/state"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T) (layout.Layout, *state.State, *state.Checklist) {
	t.Helper()
	base := t.TempDir()
	l := layout.Layout{RunID: "r1", ControlRoot: filepath.Join(base, "control"), RunRoot: filepath.Join(base, "data")}
	queue := []normalize.QAItem{
		{QAItemID: "qa-p06-p0003-u-001", UnitID: "p06-p0003-u-001", Part: "P06", Page: 3, UnitType: "paragraph",
			ExtractMethod: "ocr_fallback", QualityBand: "needs_review", ReasonCodes: []string{"primary_zero_text_nonblank"}},
		{QAItemID: "qa-p06-p0001-u-002", UnitID: "p06-p0001-u-002", Part: "P06", Page: 1, UnitType: "table",
			ExtractMethod: "ocr_fallback", QualityBand: "fail"},
	}
	require.NoError(t, artifact.WriteJSONL(l.QAQueue(), queue))
	st, cl, err := state.Bootstrap(l, map[string]string{state.KeyRunID: "r1"}, fixedNow)
	require.NoError(t, err)
	for _, s := range state.Stages {
		st.Set(state.DoneFlag(s), "1")
	}
	return l, st, cl
}

func TestParseDecisions(t *testing.T) {
	got, err := qa.ParseDecisions([]byte(`
decisions:
  - qa_item_id: qa-p06-p0003-u-001
    decision: confirm
    reviewer: mk
    note: checked against print
`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "qa-p06-p0003-u-001", got[0].QAItemID)
	assert.Equal(t, normalize.DecisionConfirm, got[0].Decision)

	_, err = qa.ParseDecisions([]byte("decisions:\n  - qa_item_id: x\n    decision: maybe\n    reviewer: mk\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrValidation))
	assert.Contains(t, err.Error(), "decisions[0].decision")

	_, err = qa.ParseDecisions([]byte("decisions:\n  - qa_item_id: x\n    decision: confirm\n"))
	assert.Contains(t, err.Error(), "missing qa decision key: decisions[0].reviewer")

	_, err = qa.ParseDecisions([]byte("decisions:\n  - qa_item_id: x\n    decision: confirm\n    reviewer: mk\n    score: 3\n"))
	assert.True(t, errors.Is(err, services.ErrValidation), "unknown key must be rejected: %v", err)

	_, err = qa.ParseDecisions(nil)
	assert.True(t, errors.Is(err, services.ErrValidation))
}

func TestApplyRecordsAndResets(t *testing.T) {
	l, st, cl := seed(t)
	res, err := qa.Apply(l, st, cl, []normalize.Adjudication{
		{QAItemID: "qa-p06-p0003-u-001", Decision: "confirm", Reviewer: "mk"},
		{QAItemID: "qa-p06-p0001-u-002", Decision: "reject", Reviewer: "mk"},
	}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, qa.ApplyResult{Recorded: 2, Confirmed: 1, Rejected: 1, ResetFrom: state.Normalize}, res)

	decided, err := normalize.ReadAdjudications(l)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00Z", decided["qa-p06-p0003-u-001"].TimestampUTC)

	reloaded, _, err := state.Load(l)
	require.NoError(t, err)
	assert.True(t, reloaded.Done(state.Ingest))
	assert.True(t, reloaded.Done(state.Extract))
	for _, s := range []string{state.Normalize, state.Anchor, state.Publish, state.Verify, state.Finalize} {
		assert.False(t, reloaded.Done(s), s)
	}
	assert.Equal(t, state.Normalize, reloaded.Get(state.KeyCurrentStage))

	rows, err := qa.List(l)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Page, "rows sort by part then page")
	assert.Equal(t, qa.StatusPending, rows[0].Status)
	assert.Equal(t, "reject", rows[0].Decision)

	out := qa.Render(rows)
	assert.Contains(t, out, "qa-p06-p0003-u-001")
	assert.Contains(t, out, "pending_rerun (confirm)")
}

func TestApplyRejectsUnknownItems(t *testing.T) {
	l, st, cl := seed(t)
	_, err := qa.Apply(l, st, cl, []normalize.Adjudication{
		{QAItemID: "qa-p06-p0003-u-001", Decision: "confirm", Reviewer: "mk"},
		{QAItemID: "qa-p09-p0001-u-001", Decision: "confirm", Reviewer: "mk"},
	}, fixedNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrValidation))
	assert.Contains(t, err.Error(), "qa-p09-p0001-u-001")

	decided, err := normalize.ReadAdjudications(l)
	require.NoError(t, err)
	assert.Empty(t, decided, "nothing recorded on rejection")
	assert.True(t, st.Done(state.Publish), "state untouched on rejection")
}

func TestListWithoutQueue(t *testing.T) {
	l := layout.Layout{ControlRoot: t.TempDir()}
	rows, err := qa.List(l)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
