package query_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isomine/internal/anchor"
	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/layout"
	"isomine/internal/normalize"
	"isomine/internal/publish"
	"isomine/internal/query"
	"isomine/internal/services"
)

type unitFixture struct {
	part     string
	page     int
	unitType string
	clause   string
	text     string
}

var fixtures = []unitFixture{
	{"P06", 2, normalize.TypeParagraph, "7.4", "The software architectural design shall be verified."},
	{"P06", 1, normalize.TypeParagraph, "7.1", "The safety plan shall  describe the software  architectural design."},
	{"P06", 3, normalize.TypeTable, "7.4", "Semi-formal notation"},
	{"P08", 1, normalize.TypeList, "6.4", "a) configuration items shall be identified;"},
}

func seedRun(t *testing.T) layout.Layout {
	t.Helper()
	base := t.TempDir()
	l := layout.Layout{
		RunID: "r1", ControlRoot: filepath.Join(base, "control"), RunRoot: filepath.Join(base, "data"),
		CorpusRoot: filepath.Join(base, "corpus"), IndexRoot: filepath.Join(base, "index"), Edition: "2018",
	}
	var rows []normalize.QuerySourceRow
	var slices []normalize.UnitSlice
	var links []anchor.TextLink
	var units []anchor.AnchoredUnit
	for i, f := range fixtures {
		unitID := canonical.UnitID(f.part, f.page, "u", i+1)
		sliceID := canonical.SliceID(unitID)
		anchorID := fmt.Sprintf("iso26262:%s:a%015d", strings.ToLower(f.part), i)
		rows = append(rows, normalize.QuerySourceRow{
			UnitID: unitID, SliceID: sliceID, Part: f.part, Page: f.page, UnitType: f.unitType,
			Clause: f.clause, Text: f.text, NormalizedText: canonical.NormalizeForQuery(f.text),
		})
		slices = append(slices, normalize.UnitSlice{
			SliceID: sliceID, UnitID: unitID, Part: f.part, Page: f.page, UnitType: f.unitType,
			TextSHA256: canonical.TextSHA256(f.text), Text: f.text,
		})
		links = append(links, anchor.TextLink{
			AnchorID: anchorID, UnitID: unitID, SliceID: sliceID, Part: f.part, Page: f.page,
			UnitType: f.unitType, Clause: f.clause, PageRecordID: "rec", BlockIDs: []string{"b1"},
			TextSHA256: canonical.TextSHA256(f.text),
		})
		units = append(units, anchor.AnchoredUnit{
			Unit: normalize.Unit{
				UnitID: unitID, UnitType: f.unitType, Part: f.part, Page: f.page,
				SourceLocator: normalize.SourceLocator{Part: f.part, Clause: f.clause, PageStart: f.page, PageEnd: f.page},
			},
			AnchorID: anchorID,
		})
	}
	// an unanchored row is never indexed
	rows = append(rows, normalize.QuerySourceRow{UnitID: "orphan", Part: "P09", Page: 1, Text: "software", NormalizedText: "software"})

	require.NoError(t, artifact.WriteJSONL(l.QuerySourceRows(), rows))
	require.NoError(t, artifact.WriteJSONL(l.UnitSlices(), slices))
	require.NoError(t, artifact.WriteJSONL(l.AnchorTextLinks(), links))
	_, err := publish.Run(publish.Options{RunID: "r1", Layout: l, Units: units, Now: time.Unix(0, 0)})
	require.NoError(t, err)
	return l
}

func TestBuildIndexesTokensAndPhrases(t *testing.T) {
	l := seedRun(t)
	m, err := query.BuildFromRun(l, "r1")
	require.NoError(t, err)
	assert.Equal(t, query.SchemaVersion, m.SchemaVersion)
	assert.Equal(t, 4, m.RowCount)
	assert.Equal(t, []string{"query/inverted-index/tokens-0001.jsonl"}, m.InvertedShards)
	assert.Equal(t, []string{"query/phrase-index/phrases-0001.jsonl"}, m.PhraseShards)
	assert.NotEmpty(t, m.Signature)

	idx, loaded, err := query.Load(l)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
	assert.Len(t, idx.Tokens["software"], 2)
	assert.Len(t, idx.Tokens["shall"], 3)
	assert.Len(t, idx.Phrases["architectural design"], 2)
	assert.Len(t, idx.Phrases["semi-formal notation"], 1, "full normalized text is a phrase key")
	assert.NotContains(t, idx.Tokens, "orphan")

	again, err := query.BuildFromRun(l, "r2")
	require.NoError(t, err)
	assert.Equal(t, m.Signature, again.Signature, "signature ignores the run id")
}

func TestPostingChecksumIsOrderSensitive(t *testing.T) {
	a := query.Posting{AnchorID: "a", UnitID: "u1"}
	b := query.Posting{AnchorID: "b", UnitID: "u2"}
	first, err := query.PostingChecksum([]query.Posting{a, b})
	require.NoError(t, err)
	second, err := query.PostingChecksum([]query.Posting{b, a})
	require.NoError(t, err)
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)
}

func TestSearchTermOrderingFiltersAndPointers(t *testing.T) {
	l := seedRun(t)
	_, err := query.BuildFromRun(l, "r1")
	require.NoError(t, err)
	s, err := query.Open(l)
	require.NoError(t, err)

	resp, err := s.Search(query.Request{Term: "  SHALL "})
	require.NoError(t, err)
	assert.Equal(t, "term", resp.Query.Mode)
	assert.Equal(t, "shall", resp.Query.Value)
	require.Equal(t, 3, resp.HitCount)
	assert.Equal(t, []int{1, 2, 1}, []int{resp.Hits[0].Page, resp.Hits[1].Page, resp.Hits[2].Page})
	assert.Equal(t, "P08", resp.Hits[2].Part)
	assert.Equal(t, 1, resp.Hits[0].Rank)
	assert.Equal(t, "P06:1", resp.Hits[0].CacheRefs.RecordID)
	assert.Equal(t, "2018/p06/paragraph-0001.jsonl", resp.Hits[0].LookupPointers.PartShardPath)
	assert.Equal(t, 1, resp.Hits[0].LookupPointers.JSONLRowHint)
	assert.Equal(t, 2, resp.Hits[1].LookupPointers.JSONLRowHint)
	assert.Nil(t, resp.Hits[0].Quote)

	resp, err = s.Search(query.Request{Term: "shall", Part: "P06", Clause: "7.4"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.HitCount)
	assert.Equal(t, 2, resp.Hits[0].Page)

	resp, err = s.Search(query.Request{Term: "shall", MaxHits: 1, Quote: true, MaxQuoteBytes: 12})
	require.NoError(t, err)
	require.Equal(t, 1, resp.HitCount)
	require.NotNil(t, resp.Hits[0].Quote)
	assert.Equal(t, "The safety p", *resp.Hits[0].Quote)

	resp, err = s.Search(query.Request{Term: "nonexistent"})
	require.NoError(t, err)
	assert.Zero(t, resp.HitCount)
	assert.NotNil(t, resp.Hits)
}

func TestSearchPhraseAndSubstringFallback(t *testing.T) {
	l := seedRun(t)
	_, err := query.BuildFromRun(l, "r1")
	require.NoError(t, err)
	s, err := query.Open(l)
	require.NoError(t, err)

	resp, err := s.Search(query.Request{Phrase: "Architectural  Design"})
	require.NoError(t, err)
	assert.False(t, resp.Query.Fallback)
	assert.Equal(t, 2, resp.HitCount)

	resp, err = s.Search(query.Request{Phrase: "design shall be verified"})
	require.NoError(t, err)
	assert.True(t, resp.Query.Fallback)
	require.Equal(t, 1, resp.HitCount)
	assert.Equal(t, 2, resp.Hits[0].Page)
}

func TestSearchRequiresExactlyOneMode(t *testing.T) {
	s := query.NewSearcher(layout.Layout{}, query.Build(nil))
	_, err := s.Search(query.Request{})
	assert.True(t, errors.Is(err, services.ErrUsage))
	_, err = s.Search(query.Request{Term: "a", Phrase: "a b"})
	assert.True(t, errors.Is(err, services.ErrUsage))
}

func TestExplainLineage(t *testing.T) {
	l := seedRun(t)
	unitID := canonical.UnitID("P06", 1, "u", 2)

	exp, err := query.Explain(l, "", unitID)
	require.NoError(t, err)
	require.True(t, exp.Found)
	assert.Equal(t, []string{canonical.SliceID(unitID)}, exp.Lineage.SliceIDs)
	assert.Len(t, exp.Lineage.TextSHA256, 1)
	assert.Equal(t, "7.1", exp.Lineage.Locator.Clause)

	byAnchor, err := query.Explain(l, exp.Lineage.AnchorID, "")
	require.NoError(t, err)
	assert.Equal(t, exp, byAnchor)

	missing, err := query.Explain(l, "iso26262:p99:none", "")
	require.NoError(t, err)
	assert.False(t, missing.Found)

	_, err = query.Explain(l, "", "")
	assert.True(t, errors.Is(err, services.ErrUsage))
}

func TestGuardedQuoteCutsOnRuneBoundary(t *testing.T) {
	assert.Equal(t, "one\ntwo", query.GuardedQuote("one\n\n two \nthree", 0))
	assert.Equal(t, "caf", query.GuardedQuote("café", 4))
}
