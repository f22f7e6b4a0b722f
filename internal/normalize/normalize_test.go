package normalize_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isomine/internal/extract"
	"isomine/internal/normalize"
	"isomine/internal/services"
)

func tableRow(a, b, c string) string { return fmt.Sprintf("%-17s%-11s%s", a, b, c) }

var samplePage = strings.Join([]string{
	"ISO 26262-6:2018(E)",
	"7 Software architectural design",
	"7.1 Objectives",
	"The first objective of this sub-phase is to develop a software architec-",
	"tural design that satisfies the software safety requirements.",
	"",
	"a) the software architectural design shall be",
	"   verified against the requirements;",
	"b) static aspects shall be described.",
	"Table 3 - Principles for architectural design",
	tableRow("Principle", "ASIL A", "ASIL B"),
	tableRow("Hierarchical", "++", "++"),
	"Licensed to Example Corp",
	"12",
}, "\n")

type fixture struct {
	pages  []extract.PageRecord
	blocks map[string][]extract.BlockRecord
}

func (f *fixture) add(part string, page int, method, band, text string) extract.PageRecord {
	rec, blocks := extract.NewPageRecord(part, page, method, band, "pdfsha", text)
	f.pages = append(f.pages, rec)
	if f.blocks == nil {
		f.blocks = map[string][]extract.BlockRecord{}
	}
	f.blocks[rec.PageRecordID] = blocks
	return rec
}

func (f *fixture) options() normalize.Options {
	return normalize.Options{RunID: "r1", Edition: "2018-ed2", Pages: f.pages, Blocks: f.blocks}
}

func TestClassifyRules(t *testing.T) {
	cases := map[string]string{
		"Licensed to ACME Ltd":                   normalize.ClassLicense,
		"© ISO 2018 - All rights reserved":       normalize.ClassBoilerplate,
		"ISO 26262-6:2018(E)":                    normalize.ClassPageHeader,
		"iv":                                     normalize.ClassPageNumber,
		"Annex A (informative)":                  normalize.ClassAnnexHeading,
		"7.4.2 Software architectural design":    normalize.ClassHeading,
		"B.3 Examples of architectural notation": normalize.ClassHeading,
		"Table 12 - Methods for verification":    normalize.ClassTableCaption,
		"1) first item":                          normalize.ClassListMarker,
		"— the item definition;":                 normalize.ClassListMarker,
		"The item shall be specified.":           normalize.ClassBody,
		"7.4.3 The software architectural design shall be developed to a level of detail that supports verification.": normalize.ClassBody,
	}
	for text, want := range cases {
		got := normalize.Classify(normalize.Line{Raw: text, Text: text}, nil)
		assert.Equal(t, want, got, text)
	}

	row := tableRow("Method", "ASIL A", "ASIL B")
	assert.Equal(t, normalize.ClassTableRow, normalize.Classify(normalize.Line{Raw: row, Text: row}, nil))

	ctx := &normalize.Context{Repeated: map[string]bool{normalize.RepeatKey("Road vehicles - Functional safety"): true}}
	assert.Equal(t, normalize.ClassRepeated, normalize.Classify(normalize.Line{Text: "Road vehicles - Functional safety"}, ctx))
}

func TestRepeatKeyCollapsesDigits(t *testing.T) {
	assert.Equal(t, normalize.RepeatKey("Page 3 of 40"), normalize.RepeatKey("Page  12 of 40"))
}

func TestFoldAndJoin(t *testing.T) {
	assert.Equal(t, "ASIL fine", normalize.Fold("ＡＳＩＬ ﬁne"))
	assert.Equal(t, "x²", normalize.Fold("x²"))

	var rec normalize.Reconstruction
	assert.Equal(t, "requirement", normalize.Join("require-", "ment", &rec))
	assert.Equal(t, "ASIL-D", normalize.Join("ASIL-", "D", &rec))
	assert.Equal(t, normalize.Reconstruction{DehyphenationAttempts: 2, DehyphenationSuccess: 1}, rec)
}

func TestContaminationFilter(t *testing.T) {
	limits := normalize.DefaultLimits
	assert.True(t, normalize.Contaminated("All rights reserved. Published in Switzerland", limits))
	assert.True(t, normalize.Contaminated("Reference number ISO 26262", limits))
	assert.False(t, normalize.Contaminated("The reference number shall be recorded for every configuration item.", limits))
	assert.False(t, normalize.Contaminated("The supplier shall provide evidence.", limits))
}

func TestColumnsAligned(t *testing.T) {
	assert.True(t, normalize.ColumnsAligned(tableRow("Principle", "ASIL A", "ASIL B"), tableRow("Hierarchical", "++", "++")))
	assert.False(t, normalize.ColumnsAligned("word  word two", "other text  here and there"))
}

func TestSegmenterBuildsTypedCandidates(t *testing.T) {
	var f fixture
	rec := f.add("P06", 1, extract.MethodPrimary, "", samplePage)

	seg := normalize.NewSegmenter(nil, normalize.DefaultLimits)
	candidates, stats := seg.Page(normalize.PageLines(rec, f.blocks[rec.PageRecordID]), nil)

	counts := map[string]int{}
	for _, c := range candidates {
		counts[c.UnitType]++
	}
	require.Equal(t, map[string]int{normalize.TypeParagraph: 1, normalize.TypeList: 2, normalize.TypeTable: 6}, counts)

	para := candidates[0]
	assert.Equal(t, normalize.TypeParagraph, para.UnitType)
	assert.Contains(t, para.Text, "software architectural design that satisfies")
	assert.Len(t, para.BlockRefs(), 2)
	assert.Equal(t, normalize.Scope{Section: "7", Clause: "7.1"}, para.Scope)

	list := candidates[1]
	assert.Equal(t, "a) the software architectural design shall be verified against the requirements;", list.Text)
	assert.Equal(t, 1, list.ContinuationLines)

	cell := candidates[len(candidates)-1]
	assert.Equal(t, "Table 3", cell.Scope.Table)
	assert.Equal(t, 2, cell.Row)
	assert.Equal(t, 3, cell.Col)
	assert.Equal(t, "++", cell.Text)

	assert.Equal(t, map[string]int{
		normalize.ClassPageHeader: 1, normalize.ClassLicense: 1, normalize.ClassPageNumber: 1,
	}, stats.Stripped)
	assert.False(t, stats.Fallback)
	assert.Equal(t, normalize.Reconstruction{
		LineWrapAttempts: 2, LineWrapSuccess: 2, DehyphenationAttempts: 1, DehyphenationSuccess: 1,
	}, seg.Reconstruction())
	assert.Equal(t, normalize.ScopeCounters{Section: 1, Clause: 2, Table: 1}, seg.Tracker().Boundaries)
	assert.Equal(t, normalize.ScopeCounters{Section: 1, Clause: 2, Table: 1}, seg.Tracker().Opportunities)
}

func TestUncaptionedUnstableRowsAreBody(t *testing.T) {
	var f fixture
	rec := f.add("P08", 1, extract.MethodPrimary, "",
		"The verification  report shall list each finding and the tool used to find it.")
	seg := normalize.NewSegmenter(nil, normalize.DefaultLimits)
	candidates, stats := seg.Page(normalize.PageLines(rec, f.blocks[rec.PageRecordID]), nil)
	require.Len(t, candidates, 1)
	assert.Equal(t, normalize.TypeParagraph, candidates[0].UnitType)
	assert.Equal(t, 1, stats.DemotedTableRows)
}

func TestRunCoverageFallbackAndQA(t *testing.T) {
	var f fixture
	f.add("P06", 1, extract.MethodPrimary, "", samplePage)
	f.add("P06", 2, extract.MethodPrimary, "", "Licensed to Example Corp\n13")
	f.add("P06", 3, extract.MethodOCRFallback, extract.BandNeedsReview, "The supplier shall provide evidence.")
	opts := f.options()
	opts.Decisions = []extract.Decision{{Part: "P06", Page: 3, ReasonCodes: []string{extract.ReasonLowCharTextBearing}}}

	out, err := normalize.Run(opts)
	require.NoError(t, err)

	cov := out.Summary.Coverage["P06"]
	assert.Equal(t, normalize.Coverage{Expected: 3, Normalized: 3, PagesSeen: 3, CoverageRatio: 1}, cov)
	assert.Equal(t, 1, out.Summary.FallbackParagraphs)

	var fallback normalize.Unit
	for _, u := range out.Units {
		if u.Page == 2 {
			fallback = u
		}
	}
	assert.Equal(t, normalize.RulePageFallback, fallback.SelectionMeta.Rule)
	assert.NotEmpty(t, fallback.SourceBlockRefs)

	require.Len(t, out.Queue, 1)
	item := out.Queue[0]
	assert.Equal(t, "qa-p06-p0003-para-001", item.QAItemID)
	assert.Equal(t, []string{extract.ReasonLowCharTextBearing}, item.ReasonCodes)
	assert.Equal(t, 1, out.Summary.QAUnresolvedCount)

	assert.Len(t, out.Slices, len(out.Units))
	assert.Len(t, out.Links, len(out.Units))
	assert.Len(t, out.QueryRows, len(out.Units))
	assert.Equal(t, out.Summary.UnitCount, len(out.Units))

	opts.Adjudications = map[string]normalize.Adjudication{
		item.QAItemID: {QAItemID: item.QAItemID, Decision: normalize.DecisionConfirm, Reviewer: "qa"},
	}
	adjudicated, err := normalize.Run(opts)
	require.NoError(t, err)
	assert.Empty(t, adjudicated.Queue)
	assert.Equal(t, 1, adjudicated.Summary.AdjudicatedCount)
	for _, u := range adjudicated.Units {
		if u.Page == 3 {
			assert.Equal(t, normalize.ReviewManual, u.ReviewState)
		}
	}
}

func TestRunRejectedDecisionStaysQueued(t *testing.T) {
	var f fixture
	f.add("P09", 1, extract.MethodOCRFallback, extract.BandFail, "The supplier shall provide evidence.")
	opts := f.options()
	opts.Adjudications = map[string]normalize.Adjudication{
		"qa-p09-p0001-para-001": {QAItemID: "qa-p09-p0001-para-001", Decision: normalize.DecisionReject, Reviewer: "qa"},
	}
	out, err := normalize.Run(opts)
	require.NoError(t, err)
	require.Len(t, out.Queue, 1)
	assert.Equal(t, normalize.DecisionReject, out.Queue[0].LastDecision)
}

func TestRunStripsRepeatedLines(t *testing.T) {
	var f fixture
	bodies := []string{
		"The organization shall maintain the safety plan.",
		"Each work product shall be reviewed by an independent party.",
		"Tool qualification shall follow the tool classification.",
	}
	for i, body := range bodies {
		f.add("P08", i+1, extract.MethodPrimary, "", "Road vehicles - Functional safety - Part 8\n"+body)
	}
	out, err := normalize.Run(f.options())
	require.NoError(t, err)
	assert.Equal(t, 3, out.Summary.StrippedLines[normalize.ClassRepeated])
	for _, s := range out.Slices {
		assert.NotContains(t, s.Text, "Road vehicles")
	}
}

func TestRunCoverageShortfallIsFatal(t *testing.T) {
	var f fixture
	f.add("P06", 1, extract.MethodPrimary, "", samplePage)
	opts := f.options()
	opts.PageCounts = map[string]int{"P06": 2}

	_, err := normalize.Run(opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrQualityGate))
	assert.Contains(t, err.Error(), "P06: 1/2")
}

func TestRunDuplicatePageIsDeterminismError(t *testing.T) {
	var f fixture
	f.add("P06", 1, extract.MethodPrimary, "", samplePage)
	f.add("P06", 1, extract.MethodPrimary, "", "Another text for the same page shall fail.")
	_, err := normalize.Run(f.options())
	assert.True(t, errors.Is(err, services.ErrDeterminism))
}

func TestRunIsDeterministic(t *testing.T) {
	var f fixture
	f.add("P06", 1, extract.MethodPrimary, "", samplePage)
	f.add("P06", 2, extract.MethodPrimary, "", "Figure 3")
	a, err := normalize.Run(f.options())
	require.NoError(t, err)
	b, err := normalize.Run(f.options())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	ids := map[string]bool{}
	for _, u := range a.Units {
		assert.False(t, ids[u.UnitID], "duplicate unit id %s", u.UnitID)
		ids[u.UnitID] = true
	}
}
