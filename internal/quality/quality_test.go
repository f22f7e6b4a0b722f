package quality_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isomine/internal/anchor"
	"isomine/internal/artifact"
	"isomine/internal/baseline"
	"isomine/internal/layout"
	"isomine/internal/ledger"
	"isomine/internal/normalize"
	"isomine/internal/quality"
	"isomine/internal/services"
	"isomine/internal/verify"
)

var epoch = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func slice(id, unitType string, page int, text string, refs ...string) normalize.UnitSlice {
	return normalize.UnitSlice{
		SliceID: id + "-s01", UnitID: id, Part: "P06", Page: page, UnitType: unitType,
		SourceBlockRefs: refs, Text: text,
	}
}

func TestEmptyInputsScoreVacuouslyClean(t *testing.T) {
	report, err := quality.Compute(quality.Inputs{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.Semantic.ParagraphMeaningfulPct)
	assert.Equal(t, 100.0, report.Contamination[normalize.TypeTable].LicenseHeaderPct)
	assert.Equal(t, 1.0, report.Scope.SectionBoundaryF1)
	assert.Equal(t, 100.0, report.Replay.SignatureMatchPct)
	assert.Equal(t, 0.0, report.Pathology.ProvenanceOverlapPct)
	assert.Equal(t, quality.ScorerModeProxy, report.Boundary.ScorerMode)
	assert.ElementsMatch(t, []string{"P06", "P08", "P09"}, keys(report.ByPart))

	violations, err := quality.BoundsViolations(report.Metrics)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func keys[V any](m map[string]V) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestMeaningfulAndFragmentRules(t *testing.T) {
	assert.True(t, quality.Meaningful("The software safety requirements shall be derived from the technical safety concept."))
	assert.False(t, quality.Meaningful("Table 3 continued"))
	assert.False(t, quality.Meaningful("a a a a a a a a a a"))

	assert.True(t, quality.StartsLikeFragment("and the item shall"))
	assert.True(t, quality.StartsLikeFragment("With the result"))
	assert.False(t, quality.StartsLikeFragment("The item shall"))

	assert.True(t, quality.EndsLikeFragment("the item shall be"))
	assert.True(t, quality.EndsLikeFragment("hyphen-"))
	assert.False(t, quality.EndsLikeFragment("The item shall be defined."))
	assert.False(t, quality.EndsLikeFragment("   "))
}

func TestSharedBlockRefsRaiseTriadIdentity(t *testing.T) {
	in := quality.Inputs{
		RequiredParts: []string{"P06"},
		Slices: []normalize.UnitSlice{
			slice("u1", normalize.TypeParagraph, 1, "The item shall be defined.", "b1", "b2"),
			slice("u2", normalize.TypeTable, 1, "ASIL D", "b1", "b2"),
			slice("u3", normalize.TypeParagraph, 2, "The element shall be verified.", "b3"),
			slice("u4", normalize.TypeList, 2, "a) the element;", "b4"),
		},
	}
	report, err := quality.Compute(in)
	require.NoError(t, err)
	p := report.Pathology
	assert.Equal(t, 50.0, p.TriadIdentityPct)
	assert.Equal(t, 50.0, p.ProvenanceOverlapPct)
	assert.Equal(t, 100.0, p.SingletonPagePct)
	assert.Equal(t, 0.0, p.FragmentStartPct)
	assert.Equal(t, 0.0, report.Semantic.TableStructuralPct)
	assert.Equal(t, 100.0, report.Semantic.ListMarkerPct)
}

func TestThresholdFailuresRollUp(t *testing.T) {
	in := quality.Inputs{
		RequiredParts: []string{"P06"},
		Slices: []normalize.UnitSlice{
			slice("u1", normalize.TypeParagraph, 1, "Licensed to ACME. The software safety requirements shall be derived from the technical safety concept."),
		},
	}
	report, err := quality.Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 100.0, report.Contamination[normalize.TypeParagraph].LicenseHeaderPct)

	card, err := quality.BuildScorecard("r1", "", "strict", report, quality.DefaultProfile(), epoch)
	require.NoError(t, err)
	assert.False(t, card.OverallPass)
	assert.False(t, card.ThresholdResults["paragraph_license"])
	assert.False(t, card.Categories["contamination"].Pass)
	assert.False(t, card.Categories["contamination"].Details[normalize.TypeParagraph])
	assert.True(t, card.Categories["wrap"].Pass)
	assert.False(t, card.PartResults["P06"]["paragraph_license"])
	// slices without links fail unit anchor linkage as well
	assert.False(t, card.ThresholdResults["unit_anchor"])

	anomalies := card.Anomalies()
	require.NotEmpty(t, anomalies)
	assert.Equal(t, "overall", anomalies[0].Scope)
	assert.Equal(t, "paragraph_license", anomalies[0].Check)
	assert.Equal(t, "max", anomalies[0].Bound)
	assert.Equal(t, 5.0, anomalies[0].Limit)
}

func TestInputSignatureDependsOnBaseline(t *testing.T) {
	report, err := quality.Compute(quality.Inputs{})
	require.NoError(t, err)
	a, err := quality.InputSignature("r0", report)
	require.NoError(t, err)
	b, err := quality.InputSignature("r1", report)
	require.NoError(t, err)
	again, err := quality.InputSignature("r0", report)
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
  // relaxed tables
  "profile_id": "relaxed",
  "thresholds": {"table_meaningful_min_pct": 40}
}`), 0o644))
	p, err := quality.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "relaxed", p.ID)
	assert.Equal(t, 40.0, p.Thresholds["table_meaningful_min_pct"])
	assert.Equal(t, 90.0, p.Thresholds["paragraph_meaningful_min_pct"])

	require.NoError(t, os.WriteFile(path, []byte(`{"profile_id": "x", "thresholds": {"bogus_pct": 1}}`), 0o644))
	_, err = quality.LoadProfile(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrConfiguration))

	def, err := quality.LoadProfile("")
	require.NoError(t, err)
	assert.Equal(t, quality.DefaultProfileID, def.ID)
}

func TestGoldsetScoring(t *testing.T) {
	in := quality.Inputs{
		Slices: []normalize.UnitSlice{
			slice("u1", normalize.TypeParagraph, 1, "One."),
			slice("u2", normalize.TypeParagraph, 1, "Two."),
			slice("u3", normalize.TypeTable, 1, "Cell"),
		},
		Goldset: []quality.GoldsetRow{
			{Part: "P06", Page: 1, ExpectedCounts: map[string]int{normalize.TypeParagraph: 1, normalize.TypeTable: 2}},
		},
	}
	report, err := quality.Compute(in)
	require.NoError(t, err)
	b := report.Boundary
	assert.Equal(t, quality.ScorerModeFixture, b.ScorerMode)
	assert.Equal(t, 1, b.GoldsetRowCount)
	assert.Equal(t, 0.5, b.ParagraphPrecision)
	assert.Equal(t, 1.0, b.ParagraphRecall)
	assert.Equal(t, 1.0, b.TablePrecision)
	assert.Equal(t, 0.5, b.TableRecall)
	assert.Equal(t, 1.0, b.ListF1)

	_, err = quality.Compute(quality.Inputs{GoldsetRequired: true})
	assert.True(t, errors.Is(err, services.ErrConfiguration))
}

func seedRun(t *testing.T, runID string) layout.Layout {
	t.Helper()
	base := t.TempDir()
	l := layout.Layout{RunID: runID, ControlRoot: filepath.Join(base, "control"), RunRoot: filepath.Join(base, "data"), Edition: "2018"}
	texts := []string{
		"The software safety requirements shall be derived from the technical safety concept.",
		"Each software unit shall be verified against its detailed design specification.",
	}
	var (
		slices []normalize.UnitSlice
		links  []anchor.TextLink
		units  []anchor.AnchoredUnit
	)
	for i, text := range texts {
		id := []string{"p06-p0001-u-001", "p06-p0002-u-001"}[i]
		slices = append(slices, slice(id, normalize.TypeParagraph, i+1, text, "blk"+id))
		links = append(links, anchor.TextLink{AnchorID: "a" + id, UnitID: id, Part: "P06", Page: i + 1})
		units = append(units, anchor.AnchoredUnit{
			Unit: normalize.Unit{
				UnitID: id, UnitType: normalize.TypeParagraph, Part: "P06", Page: i + 1,
				SourceLocator: normalize.SourceLocator{Part: "P06", Section: "6", Clause: "6.4"},
			},
			AnchorID:            "a" + id,
			ScopeAnchors:        anchor.ScopeRefs{Section: "s6", Clause: "c64"},
			ParentScopeAnchorID: "c64",
		})
	}
	// one list item and one table cell so no unit type is empty; an empty
	// type scores 100% contamination
	list := slice("p06-p0001-l-001", normalize.TypeList, 1,
		"a) the software unit design shall be verified against the architectural design;", "blkl1")
	cell := slice("p06-p0002-t-001", normalize.TypeTable, 2,
		"Walkthrough of the detailed design is highly recommended for every ASIL", "blkt1")
	cell.SelectionMeta.RowIndex, cell.SelectionMeta.ColIndex = 1, 2
	slices = append(slices, list, cell)
	for _, extra := range []struct {
		s     normalize.UnitSlice
		table string
	}{{list, ""}, {cell, "Table 3"}} {
		id := extra.s.UnitID
		links = append(links, anchor.TextLink{AnchorID: "a" + id, UnitID: id, Part: "P06", Page: extra.s.Page})
		refs := anchor.ScopeRefs{Section: "s6", Clause: "c64"}
		parent := "c64"
		if extra.table != "" {
			refs.Table, parent = "t3", "t3"
		}
		units = append(units, anchor.AnchoredUnit{
			Unit: normalize.Unit{
				UnitID: id, UnitType: extra.s.UnitType, Part: "P06", Page: extra.s.Page,
				SourceLocator: normalize.SourceLocator{Part: "P06", Section: "6", Clause: "6.4", Table: extra.table},
			},
			AnchorID:            "a" + id,
			ScopeAnchors:        refs,
			ParentScopeAnchorID: parent,
		})
	}
	require.NoError(t, artifact.WriteJSONL(l.UnitSlices(), slices))
	require.NoError(t, artifact.WriteJSONL(l.AnchorTextLinks(), links))
	require.NoError(t, artifact.WriteJSONL(l.AnchoredUnits(), units))
	scope := normalize.ScopeCounters{Section: 1, Clause: 1}
	require.NoError(t, artifact.WriteJSON(l.NormalizeSummary(), normalize.Summary{
		RunID:                    runID,
		Coverage:                 map[string]normalize.Coverage{"P06": {PagesSeen: 2, CoverageRatio: 1}},
		ScopeBoundaries:          scope,
		ScopeOpportunities:       scope,
		ScopeBoundariesByPart:    map[string]normalize.ScopeCounters{"P06": scope},
		ScopeOpportunitiesByPart: map[string]normalize.ScopeCounters{"P06": scope},
	}))
	require.NoError(t, artifact.WriteJSON(l.ReplaySignatures(), verify.ReplaySignatures{RunID: runID}))
	return l
}

func TestRunWritesScorecardGaugesAndLedger(t *testing.T) {
	ctx := context.Background()
	store, err := ledger.Open(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	prior := seedRun(t, "r0")
	snap, err := baseline.FromRun(prior, "r0", "src", "2026-03-01T00:00:00Z")
	require.NoError(t, err)
	_, err = baseline.Write(prior, snap)
	require.NoError(t, err)
	for _, id := range []string{"r0", "r1"} {
		root := prior.ControlRoot
		runRoot := prior.RunRoot
		require.NoError(t, store.RegisterRun(ctx, ledger.Run{
			RunID: id, ControlRoot: root, RunRoot: runRoot, Edition: "2018", Mode: "strict", StartedAt: epoch, UpdatedAt: epoch,
		}))
	}
	require.NoError(t, store.MarkCompleted(ctx, "r0", epoch))

	l := seedRun(t, "r1")
	extra := filepath.Join(t.TempDir(), "textfile", "isomine.prom")
	res, err := quality.Run(ctx, quality.Options{
		Layout: l, RunID: "r1", Mode: "strict", RequiredParts: []string{"P06"},
		Ledger: store, TextfilePath: extra, Now: epoch,
	})
	require.NoError(t, err)

	card := res.Scorecard
	assert.True(t, card.OverallPass, "anomalies: %v", card.Anomalies())
	assert.Equal(t, "r0", card.BaselineRunID)
	require.NotNil(t, card.BaselineMetrics)
	assert.Equal(t, card.Metrics.Semantic, card.BaselineMetrics.Semantic)
	assert.Equal(t, []string{"P06"}, card.RequiredParts)
	assert.NoFileExists(t, l.QualityAnomalies())

	var onDisk quality.Scorecard
	require.NoError(t, artifact.ReadJSON(l.Scorecard(), &onDisk))
	assert.Equal(t, card.InputSignature, onDisk.InputSignature)

	for _, path := range []string{l.MetricsTextfile(), extra} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `isomine_quality_overall_pass{run_id="r1"} 1`)
		assert.Contains(t, string(data), `metric="semantic_and_pattern.paragraph_meaningful_unit_ratio_pct"`)
	}

	stored, err := store.LatestScorecard(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.OverallPass)
	assert.Equal(t, "r0", stored.BaselineRunID)
	assert.Equal(t, card.InputSignature, stored.InputSignature)
}

func TestEmptyUnitTypeScoresFullContamination(t *testing.T) {
	in := quality.Inputs{
		RequiredParts: []string{"P06"},
		Slices: []normalize.UnitSlice{
			slice("u1", normalize.TypeParagraph, 1, "The software safety requirements shall be derived from the technical safety concept."),
		},
	}
	report, err := quality.Compute(in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, report.Contamination[normalize.TypeParagraph].LicenseHeaderPct)
	assert.Equal(t, 100.0, report.Contamination[normalize.TypeList].LicenseHeaderPct)

	card, err := quality.BuildScorecard("r1", "", "strict", report, quality.DefaultProfile(), epoch)
	require.NoError(t, err)
	assert.True(t, card.ThresholdResults["paragraph_license"])
	assert.False(t, card.ThresholdResults["list_license"])
	assert.False(t, card.ThresholdResults["table_license"])
}

func TestRunFailsTheGate(t *testing.T) {
	l := seedRun(t, "r1")
	require.NoError(t, artifact.WriteJSON(l.ReplaySignatures(), verify.ReplaySignatures{RunID: "r1", MismatchCount: 1}))
	res, err := quality.Run(context.Background(), quality.Options{Layout: l, RunID: "r1", RequiredParts: []string{"P06"}, Now: epoch})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrQualityGate))
	assert.Equal(t, 13, services.ExitCode(err))
	assert.False(t, res.Scorecard.Categories["replay"].Pass)

	anomalies, err := artifact.ReadJSONL[quality.Anomaly](l.QualityAnomalies())
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)
	assert.Equal(t, "replay", anomalies[0].Check)
}
