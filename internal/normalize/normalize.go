package normalize

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/extract"
	"isomine/internal/layout"
	"isomine/internal/logging"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Version identifies the segmentation rules in summaries and checkpoints.
const Version = "normalize/v4"

// RepeatedLinePct is the share of a part's pages a line must appear on to be
// treated as a running header or footer.
const RepeatedLinePct = 30

// Options drive one normalize pass.
type Options struct {
	RunID         string
	Edition       string
	Pages         []extract.PageRecord
	Blocks        map[string][]extract.BlockRecord
	Decisions     []extract.Decision
	PageCounts    map[string]int
	Adjudications map[string]Adjudication
	Limits        Limits
	Now           time.Time
	Logger        *slog.Logger
}

// Coverage is the per-part page coverage.
type Coverage struct {
	Expected      int     `json:"expected"`
	Normalized    int     `json:"normalized"`
	PagesSeen     int     `json:"pages_seen"`
	CoverageRatio float64 `json:"coverage_ratio"`
}

// Rejections counts discarded candidates.
type Rejections struct {
	MinTokens     int `json:"min_alpha_tokens"`
	Contamination int `json:"contamination"`
}

// Summary is normalize-summary.json.
type Summary struct {
	RunID                    string                   `json:"run_id"`
	TimestampUTC             string                   `json:"timestamp_utc"`
	NormalizerVersion        string                   `json:"normalizer_version"`
	UnitCount                int                      `json:"unit_count"`
	UnitCounts               map[string]int           `json:"unit_counts"`
	QAUnresolvedCount        int                      `json:"qa_unresolved_count"`
	AdjudicatedCount         int                      `json:"adjudicated_count"`
	Coverage                 map[string]Coverage      `json:"coverage"`
	LineReconstruction       Reconstruction           `json:"line_reconstruction"`
	ScopeBoundaries          ScopeCounters            `json:"scope_boundaries"`
	ScopeOpportunities       ScopeCounters            `json:"scope_opportunities"`
	ScopeBoundariesByPart    map[string]ScopeCounters `json:"scope_boundaries_by_part"`
	ScopeOpportunitiesByPart map[string]ScopeCounters `json:"scope_opportunities_by_part"`
	StrippedLines            map[string]int           `json:"stripped_lines"`
	RejectedCandidates       Rejections               `json:"rejected_candidates"`
	DemotedTableRows         int                      `json:"demoted_table_rows"`
	FallbackParagraphs       int                      `json:"fallback_paragraphs"`
}

// Output is everything one pass produces.
type Output struct {
	Summary   Summary
	Units     []Unit
	Slices    []UnitSlice
	Links     []UnitTextLink
	QueryRows []QuerySourceRow
	Queue     []QAItem
}

type pageKey struct {
	part string
	page int
}

// Run segments every page record into units.
func Run(opts Options) (Output, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	limits := opts.Limits
	if limits == (Limits{}) {
		limits = DefaultLimits
	}
	pages := append([]extract.PageRecord(nil), opts.Pages...)
	extract.SortPages(pages)

	reasons := make(map[pageKey][]string, len(opts.Decisions))
	for _, d := range opts.Decisions {
		reasons[pageKey{d.Part, d.Page}] = d.ReasonCodes
	}

	byPart := map[string][]extract.PageRecord{}
	seen := map[pageKey]bool{}
	for _, rec := range pages {
		key := pageKey{rec.Part, rec.Page}
		if seen[key] {
			return Output{}, services.Wrap(services.ErrDeterminism, state.Normalize, "pages",
				fmt.Sprintf("duplicate page record for %s page %d", rec.Part, rec.Page), nil)
		}
		seen[key] = true
		byPart[rec.Part] = append(byPart[rec.Part], rec)
	}

	out := Output{Summary: Summary{
		RunID:                    opts.RunID,
		TimestampUTC:             state.Timestamp(opts.Now),
		NormalizerVersion:        Version,
		UnitCounts:               map[string]int{TypeParagraph: 0, TypeList: 0, TypeTable: 0},
		Coverage:                 map[string]Coverage{},
		ScopeBoundariesByPart:    map[string]ScopeCounters{},
		ScopeOpportunitiesByPart: map[string]ScopeCounters{},
		StrippedLines:            map[string]int{},
	}}

	parts := make([]string, 0, len(byPart))
	for part := range byPart {
		parts = append(parts, part)
	}
	for part := range opts.PageCounts {
		if _, ok := byPart[part]; !ok {
			parts = append(parts, part)
		}
	}
	sort.Strings(parts)

	for _, part := range parts {
		recs := byPart[part]
		seg := NewSegmenter(RepeatedLines(recs, opts.Blocks), limits)
		paragraphPages := 0
		for _, rec := range recs {
			blocks := opts.Blocks[rec.PageRecordID]
			blockIDs := make([]string, 0, len(blocks))
			for _, b := range blocks {
				blockIDs = append(blockIDs, b.BlockID)
			}
			candidates, stats := seg.Page(PageLines(rec, blocks), blockIDs)
			out.addStats(stats)

			ordinals := map[string]int{}
			hasParagraph := false
			for _, c := range candidates {
				ordinals[c.UnitType]++
				built := Build(opts.Edition, rec, c, ordinals[c.UnitType])
				out.addUnit(built, reasons[pageKey{rec.Part, rec.Page}], opts.Adjudications)
				hasParagraph = hasParagraph || c.UnitType == TypeParagraph
			}
			if hasParagraph {
				paragraphPages++
			}
		}

		expected := opts.PageCounts[part]
		if expected == 0 {
			expected = len(recs)
		}
		cov := Coverage{Expected: expected, Normalized: paragraphPages, PagesSeen: len(recs)}
		if expected > 0 {
			cov.CoverageRatio = float64(paragraphPages) / float64(expected)
		}
		out.Summary.Coverage[part] = cov

		tracker := seg.Tracker()
		out.Summary.ScopeBoundariesByPart[part] = tracker.Boundaries
		out.Summary.ScopeOpportunitiesByPart[part] = tracker.Opportunities
		out.Summary.ScopeBoundaries.add(tracker.Boundaries)
		out.Summary.ScopeOpportunities.add(tracker.Opportunities)
		out.Summary.LineReconstruction.Add(seg.Reconstruction())

		logger.Info("part normalized",
			logging.String(logging.FieldPart, part),
			logging.Int("pages", len(recs)),
			logging.Int("paragraph_pages", paragraphPages),
			logging.Float64("coverage_ratio", cov.CoverageRatio),
		)
		if cov.CoverageRatio < 1.0 {
			return Output{}, services.Wrap(services.ErrQualityGate, state.Normalize, "coverage",
				fmt.Sprintf("required-part coverage below 100%% for %s: %d/%d", part, paragraphPages, expected), nil)
		}
	}

	out.Summary.UnitCount = len(out.Units)
	out.Summary.QAUnresolvedCount = len(out.Queue)
	return out, nil
}

func (o *Output) addStats(stats PageStats) {
	for class, n := range stats.Stripped {
		o.Summary.StrippedLines[class] += n
	}
	o.Summary.RejectedCandidates.MinTokens += stats.RejectedShort
	o.Summary.RejectedCandidates.Contamination += stats.RejectedBoiler
	o.Summary.DemotedTableRows += stats.DemotedTableRows
	if stats.Fallback {
		o.Summary.FallbackParagraphs++
	}
}

func (o *Output) addUnit(b Built, reasons []string, adjudications map[string]Adjudication) {
	if b.Unit.ReviewState == ReviewNeeded {
		qaID := QAItemID(b.Unit.UnitID)
		adj, decided := adjudications[qaID]
		if decided && adj.Decision == DecisionConfirm {
			b.Unit.ReviewState = ReviewManual
			o.Summary.AdjudicatedCount++
		} else {
			item := QAItem{
				QAItemID:          qaID,
				UnitID:            b.Unit.UnitID,
				Part:              b.Unit.Part,
				Page:              b.Unit.Page,
				UnitType:          b.Unit.UnitType,
				ExtractMethod:     b.Unit.Provenance.ExtractMethod,
				QualityBand:       b.Unit.Provenance.QualityBand,
				ReasonCodes:       append([]string{}, reasons...),
				Confidence:        0.5,
				RecommendedAction: "manual_adjudication",
			}
			if decided {
				item.LastDecision = adj.Decision
			}
			o.Queue = append(o.Queue, item)
		}
	}
	o.Summary.UnitCounts[b.Unit.UnitType]++
	o.Units = append(o.Units, b.Unit)
	o.Slices = append(o.Slices, b.Slice)
	o.Links = append(o.Links, b.Link)
	o.QueryRows = append(o.QueryRows, b.Query)
}

// RepeatedLines returns the repeat keys of lines that appear on at least
// RepeatedLinePct percent of the part's pages, and on two pages at least.
func RepeatedLines(recs []extract.PageRecord, blocks map[string][]extract.BlockRecord) map[string]bool {
	counts := map[string]int{}
	for _, rec := range recs {
		onPage := map[string]bool{}
		for _, b := range blocks[rec.PageRecordID] {
			if key := RepeatKey(Fold(b.Text)); key != "" {
				onPage[key] = true
			}
		}
		for key := range onPage {
			counts[key]++
		}
	}
	repeated := map[string]bool{}
	for key, n := range counts {
		if n >= 2 && n*100 >= RepeatedLinePct*len(recs) {
			repeated[key] = true
		}
	}
	return repeated
}

// WriteOutputs persists out and returns every written path.
func WriteOutputs(l layout.Layout, out Output) ([]string, error) {
	queue := out.Queue
	if queue == nil {
		queue = []QAItem{}
	}
	steps := []struct {
		path  string
		write func(string) error
	}{
		{l.NormalizedUnits(), func(p string) error { return artifact.WriteJSONL(p, out.Units) }},
		{l.QAQueue(), func(p string) error { return artifact.WriteJSONL(p, queue) }},
		{l.NormalizeSummary(), func(p string) error { return artifact.WriteJSON(p, out.Summary) }},
		{l.DataStageFile(state.Normalize, "normalize-summary.json"), func(p string) error { return artifact.WriteJSON(p, out.Summary) }},
		{l.UnitSlices(), func(p string) error { return artifact.WriteJSONL(p, out.Slices) }},
		{l.UnitTextLinks(), func(p string) error { return artifact.WriteJSONL(p, out.Links) }},
		{l.QuerySourceRows(), func(p string) error { return artifact.WriteJSONL(p, out.QueryRows) }},
	}
	paths := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := step.write(step.path); err != nil {
			return nil, err
		}
		paths = append(paths, step.path)
	}
	return paths, nil
}

// ReadSummary loads normalize-summary.json.
func ReadSummary(l layout.Layout) (Summary, error) {
	var s Summary
	if err := artifact.ReadJSON(l.NormalizeSummary(), &s); err != nil {
		return Summary{}, services.Wrap(services.ErrStopCondition, state.Normalize, "read summary", l.NormalizeSummary(), err)
	}
	return s, nil
}

// ReadUnits loads normalized-units.jsonl.
func ReadUnits(l layout.Layout) ([]Unit, error) {
	rows, err := artifact.ReadJSONL[Unit](l.NormalizedUnits())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, state.Normalize, "read units", l.NormalizedUnits(), err)
	}
	return rows, nil
}

// ReadSlices loads unit-slices.jsonl.
func ReadSlices(l layout.Layout) ([]UnitSlice, error) {
	rows, err := artifact.ReadJSONL[UnitSlice](l.UnitSlices())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, state.Normalize, "read slices", l.UnitSlices(), err)
	}
	return rows, nil
}

// ReadQueryRows loads query-source-rows.jsonl.
func ReadQueryRows(l layout.Layout) ([]QuerySourceRow, error) {
	rows, err := artifact.ReadJSONL[QuerySourceRow](l.QuerySourceRows())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, state.Normalize, "read query rows", l.QuerySourceRows(), err)
	}
	return rows, nil
}

// ReadLinks loads unit-text-links.jsonl.
func ReadLinks(l layout.Layout) ([]UnitTextLink, error) {
	rows, err := artifact.ReadJSONL[UnitTextLink](l.UnitTextLinks())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, state.Normalize, "read unit links", l.UnitTextLinks(), err)
	}
	return rows, nil
}
