package quality

import (
	"encoding/json"
	"math"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode"

	"isomine/internal/anchor"
	"isomine/internal/normalize"
	"isomine/internal/services"
	"isomine/internal/verify"
)

// DefaultRequiredParts are scored in by_part even when a run has no units
// for them.
var DefaultRequiredParts = []string{"P06", "P08", "P09"}

var unitTypes = []string{normalize.TypeParagraph, normalize.TypeList, normalize.TypeTable}

const (
	meaningfulMinTokens  = 8
	meaningfulMinUnique  = 0.35
	meaningfulMinAlpha   = 6
	oversizedParagraph   = 220
	ScorerModeProxy      = "proxy"
	ScorerModeFixture    = "fixture"
	signatureRefSeparate = "\x1f"
)

var (
	tokenRE    = regexp.MustCompile(`[a-z0-9_]+`)
	wordRE     = regexp.MustCompile(`^[A-Za-z]+`)
	tableRE    = regexp.MustCompile(`[A-Za-z]{2,}`)
	footnoteRE = regexp.MustCompile(`\bNOTE\s+\d+\b|\[[0-9]+\]|\([0-9]+\)`)
)

const (
	superscripts = "²³¹⁰ⁱ⁴⁵⁶⁷⁸⁹⁺⁻⁼⁽⁾ⁿ"
	subscripts   = "₀₁₂₃₄₅₆₇₈₉₊₋₌₍₎"
)

var fragmentConnectors = map[string]bool{
	"and": true, "or": true, "but": true, "for": true, "to": true, "of": true, "in": true,
	"on": true, "with": true, "by": true, "from": true, "including": true, "without": true,
}

// Contamination is scored per unit type.
type Contamination struct {
	LicenseHeaderPct        float64 `json:"license_header_contamination_rate_pct"`
	RepeatedHeaderFooterPct float64 `json:"repeated_header_footer_contamination_rate_pct"`
	BoilerplatePct          float64 `json:"boilerplate_phrase_contamination_rate_pct"`
}

type SemanticPattern struct {
	ParagraphMeaningfulPct float64 `json:"paragraph_meaningful_unit_ratio_pct"`
	ListMeaningfulPct      float64 `json:"list_meaningful_unit_ratio_pct"`
	TableMeaningfulPct     float64 `json:"table_meaningful_unit_ratio_pct"`
	ParagraphPatternPct    float64 `json:"paragraph_pattern_conformance_rate_pct"`
	ListMarkerPct          float64 `json:"list_bullet_marker_validity_rate_pct"`
	ListContinuationPct    float64 `json:"list_bullet_continuation_capture_rate_pct"`
	TableStructuralPct     float64 `json:"table_cell_structural_validity_rate_pct"`
	TablePatternPct        float64 `json:"table_cell_pattern_conformance_rate_pct"`
}

type WrapMetrics struct {
	LineWrapPrecisionPct      float64 `json:"line_wrap_repair_precision_pct"`
	DehyphenationPrecisionPct float64 `json:"dehyphenation_precision_pct"`
	ParagraphBoundaryF1       float64 `json:"paragraph_boundary_f1"`
}

type ScopeMetrics struct {
	SectionBoundaryF1   float64 `json:"section_boundary_f1"`
	ClauseBoundaryF1    float64 `json:"clause_boundary_f1"`
	TableScopeRecallPct float64 `json:"table_scope_detection_recall_pct"`
}

type Typography struct {
	SuperscriptPct float64 `json:"superscript_retention_rate_pct"`
	SubscriptPct   float64 `json:"subscript_retention_rate_pct"`
	FootnotePct    float64 `json:"footnote_marker_retention_rate_pct"`
}

type Lineage struct {
	UnitToPagePct        float64 `json:"unit_to_page_link_completeness_pct"`
	UnitToAnchorPct      float64 `json:"unit_to_anchor_link_completeness_pct"`
	UnitToParentScopePct float64 `json:"unit_to_parent_scope_link_completeness_pct"`
	SectionAnchorPct     float64 `json:"section_anchor_resolution_rate_pct"`
	ClauseAnchorPct      float64 `json:"clause_anchor_resolution_rate_pct"`
	TableAnchorPct       float64 `json:"table_anchor_resolution_rate_pct"`
}

type ReplayMetrics struct {
	SignatureMatchPct float64 `json:"replay_signature_match_rate_pct"`
}

// Pathology signals structural segmentation defects.
type Pathology struct {
	ResidualLegalHits    int     `json:"residual_legal_boilerplate_hit_count"`
	TriadIdentityPct     float64 `json:"triad_source_set_identity_rate_pct"`
	FragmentStartPct     float64 `json:"paragraph_fragment_start_rate_pct"`
	FragmentEndPct       float64 `json:"paragraph_fragment_end_rate_pct"`
	SingletonPagePct     float64 `json:"paragraph_singleton_page_rate_pct"`
	OversizedPct         float64 `json:"oversized_paragraph_rate_pct"`
	ProvenanceOverlapPct float64 `json:"unit_type_provenance_overlap_rate_pct"`
}

// Boundary scores segmentation against a goldset fixture, or against page
// and structure proxies when no fixture is configured.
type Boundary struct {
	ScorerMode         string         `json:"scorer_mode"`
	GoldsetRowCount    int            `json:"goldset_row_count"`
	Matched            map[string]int `json:"matched_segments"`
	Expected           map[string]int `json:"expected_segments"`
	Predicted          map[string]int `json:"predicted_segments"`
	ParagraphPrecision float64        `json:"paragraph_boundary_precision"`
	ParagraphRecall    float64        `json:"paragraph_boundary_recall"`
	ParagraphF1        float64        `json:"paragraph_boundary_f1"`
	ListPrecision      float64        `json:"list_boundary_precision"`
	ListRecall         float64        `json:"list_boundary_recall"`
	ListF1             float64        `json:"list_boundary_f1"`
	TablePrecision     float64        `json:"table_cell_boundary_precision"`
	TableRecall        float64        `json:"table_cell_boundary_recall"`
	TableF1            float64        `json:"table_cell_boundary_f1"`
}

// Metrics is one scored population: the whole run or a single part.
type Metrics struct {
	Contamination map[string]Contamination `json:"contamination"`
	Semantic      SemanticPattern          `json:"semantic_and_pattern"`
	Wrap          WrapMetrics              `json:"wrap_and_dehyphenation"`
	Scope         ScopeMetrics             `json:"scope_extraction"`
	Typography    Typography               `json:"typography"`
	Lineage       Lineage                  `json:"lineage"`
	Replay        ReplayMetrics            `json:"replay"`
	Pathology     Pathology                `json:"pathology"`
	Boundary      Boundary                 `json:"boundary_goldset"`
}

// Report is the overall metrics plus one Metrics per part.
type Report struct {
	Metrics
	ByPart        map[string]Metrics `json:"by_part"`
	RequiredParts []string           `json:"required_parts"`
}

// GoldsetRow is one page of the boundary goldset fixture.
type GoldsetRow struct {
	Part               string                       `json:"part"`
	Page               int                          `json:"page"`
	UnitType           string                       `json:"unit_type"`
	ExpectedCounts     map[string]int               `json:"expected_counts"`
	ExpectedBoundaries map[string][]json.RawMessage `json:"expected_boundaries"`
}

func (g GoldsetRow) expected(unitType string) int {
	if n, ok := g.ExpectedCounts[unitType]; ok {
		return max(0, n)
	}
	if b, ok := g.ExpectedBoundaries[unitType]; ok {
		return len(b)
	}
	if g.UnitType == unitType {
		return 1
	}
	return 0
}

// Inputs are the artifacts one computation reads. Summary and Replay are
// optional: a baseline snapshot carries neither.
type Inputs struct {
	Slices          []normalize.UnitSlice
	Links           []anchor.TextLink
	Anchored        []anchor.AnchoredUnit
	Summary         *normalize.Summary
	Replay          *verify.ReplaySignatures
	Goldset         []GoldsetRow
	GoldsetRequired bool
	RequiredParts   []string
}

// Compute scores the inputs overall and per part.
func Compute(in Inputs) (Report, error) {
	if in.GoldsetRequired && len(in.Goldset) == 0 {
		return Report{}, services.Wrap(services.ErrConfiguration, "quality", "boundary goldset", "boundary goldset fixture missing or empty", nil)
	}
	required := in.RequiredParts
	if len(required) == 0 {
		required = DefaultRequiredParts
	}
	report := Report{
		Metrics:       compute(in, ""),
		ByPart:        map[string]Metrics{},
		RequiredParts: slices.Clone(required),
	}
	partSet := map[string]bool{}
	for _, p := range required {
		partSet[strings.ToUpper(p)] = true
	}
	for _, s := range in.Slices {
		if s.Part != "" {
			partSet[strings.ToUpper(s.Part)] = true
		}
	}
	for part := range partSet {
		sub := in
		sub.Slices = filter(in.Slices, func(s normalize.UnitSlice) bool { return strings.EqualFold(s.Part, part) })
		sub.Links = filter(in.Links, func(l anchor.TextLink) bool { return strings.EqualFold(l.Part, part) })
		sub.Anchored = filter(in.Anchored, func(u anchor.AnchoredUnit) bool { return strings.EqualFold(unitPart(u), part) })
		report.ByPart[part] = compute(sub, part)
	}
	return report, nil
}

func filter[T any](rows []T, keep func(T) bool) []T {
	var out []T
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func unitPart(u anchor.AnchoredUnit) string {
	if u.Part != "" {
		return u.Part
	}
	return u.SourceLocator.Part
}

func clampPct(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// pct is a clamped percentage; an empty denominator scores 100.
func pct(num, den int) float64 {
	if den <= 0 {
		return 100
	}
	return clampPct(float64(num) / float64(den) * 100)
}

// ratio is hit/expected clamped to [0,1]; nothing expected scores 1.
func ratio(hit, expected int) float64 {
	if expected <= 0 {
		return 1
	}
	return math.Min(1, math.Max(0, float64(hit)/float64(expected)))
}

func tokenize(text string) []string { return tokenRE.FindAllString(strings.ToLower(text), -1) }

// Meaningful reports whether text reads as substantive prose rather than
// a fragment or a run of identifiers.
func Meaningful(text string) bool {
	tokens := tokenize(text)
	if len(tokens) < meaningfulMinTokens {
		return false
	}
	unique := map[string]bool{}
	alpha := 0
	for _, t := range tokens {
		unique[t] = true
		if len(t) >= 3 && isAlpha(t) {
			alpha++
		}
	}
	return float64(len(unique))/float64(len(tokens)) >= meaningfulMinUnique && alpha >= meaningfulMinAlpha
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

// StartsLikeFragment reports a paragraph that begins mid-sentence.
func StartsLikeFragment(text string) bool {
	s := strings.TrimLeftFunc(text, unicode.IsSpace)
	if s == "" {
		return false
	}
	first := []rune(s)[0]
	if unicode.IsLower(first) || strings.ContainsRune(",;)-", first) {
		return true
	}
	word := wordRE.FindString(s)
	return word != "" && fragmentConnectors[strings.ToLower(word)]
}

// EndsLikeFragment reports a paragraph that stops mid-sentence.
func EndsLikeFragment(text string) bool {
	s := strings.TrimRightFunc(text, unicode.IsSpace)
	if s == "" || normalize.EndsSentence(s) {
		return false
	}
	if strings.HasSuffix(s, "-") || strings.HasSuffix(s, ",") || strings.HasSuffix(s, "...") {
		return true
	}
	r := []rune(s)
	last := r[len(r)-1]
	return unicode.IsLetter(last) || unicode.IsDigit(last)
}

type pageKey struct {
	part string
	page int
}

func slicePage(s normalize.UnitSlice) (pageKey, bool) {
	if s.Part == "" || s.Page <= 0 {
		return pageKey{}, false
	}
	return pageKey{strings.ToUpper(s.Part), s.Page}, true
}

func compute(in Inputs, part string) Metrics {
	byType := map[string][]normalize.UnitSlice{}
	for _, s := range in.Slices {
		byType[s.UnitType] = append(byType[s.UnitType], s)
	}
	paragraphs, lists, tables := byType[normalize.TypeParagraph], byType[normalize.TypeList], byType[normalize.TypeTable]

	m := Metrics{Contamination: map[string]Contamination{}}
	for _, t := range unitTypes {
		license, boiler := 0, 0
		for _, s := range byType[t] {
			if normalize.HasLicense(s.Text) {
				license++
			}
			if normalize.HasBoilerplate(s.Text) {
				boiler++
			}
		}
		n := len(byType[t])
		m.Contamination[t] = Contamination{
			LicenseHeaderPct:        pct(license, n),
			RepeatedHeaderFooterPct: pct(license, n),
			BoilerplatePct:          pct(boiler, n),
		}
	}

	count := func(rows []normalize.UnitSlice, ok func(normalize.UnitSlice) bool) int {
		n := 0
		for _, r := range rows {
			if ok(r) {
				n++
			}
		}
		return n
	}
	meaningful := func(s normalize.UnitSlice) bool { return Meaningful(s.Text) }
	listMarker := count(lists, func(s normalize.UnitSlice) bool { return normalize.HasListMarker(s.Text) })
	tableStructural := count(tables, func(s normalize.UnitSlice) bool {
		return s.SelectionMeta.RowIndex > 0 && s.SelectionMeta.ColIndex > 0
	})
	m.Semantic = SemanticPattern{
		ParagraphMeaningfulPct: pct(count(paragraphs, meaningful), len(paragraphs)),
		ListMeaningfulPct:      pct(count(lists, meaningful), len(lists)),
		TableMeaningfulPct:     pct(count(tables, meaningful), len(tables)),
		ParagraphPatternPct: pct(count(paragraphs, func(s normalize.UnitSlice) bool {
			return strings.TrimSpace(s.Text) != "" && !normalize.HasLicense(s.Text)
		}), len(paragraphs)),
		ListMarkerPct: pct(listMarker, len(lists)),
		ListContinuationPct: pct(count(lists, func(s normalize.UnitSlice) bool {
			return s.SelectionMeta.ContinuationLineCount >= 0
		}), len(lists)),
		TableStructuralPct: pct(tableStructural, len(tables)),
		TablePatternPct: pct(count(tables, func(s normalize.UnitSlice) bool {
			return tableRE.MatchString(s.Text) && !normalize.HasLicense(s.Text)
		}), len(tables)),
	}

	var summary normalize.Summary
	if in.Summary != nil {
		summary = *in.Summary
	}
	pagesTotal := 0
	if part != "" {
		pagesTotal = summary.Coverage[part].PagesSeen
	} else {
		for _, c := range summary.Coverage {
			pagesTotal += c.PagesSeen
		}
	}
	if pagesTotal <= 0 {
		pages := map[pageKey]bool{}
		for _, s := range in.Slices {
			if k, ok := slicePage(s); ok {
				pages[k] = true
			}
		}
		pagesTotal = len(pages)
	}
	paragraphPages := map[pageKey]int{}
	for _, s := range paragraphs {
		if k, ok := slicePage(s); ok {
			paragraphPages[k]++
		}
	}
	paragraphProxy := ratio(len(paragraphPages), pagesTotal)
	rec := summary.LineReconstruction
	m.Wrap = WrapMetrics{
		LineWrapPrecisionPct:      pct(rec.LineWrapSuccess, rec.LineWrapAttempts),
		DehyphenationPrecisionPct: pct(rec.DehyphenationSuccess, rec.DehyphenationAttempts),
		ParagraphBoundaryF1:       paragraphProxy,
	}

	boundaries, opportunities := summary.ScopeBoundaries, summary.ScopeOpportunities
	if part != "" {
		boundaries, opportunities = summary.ScopeBoundariesByPart[part], summary.ScopeOpportunitiesByPart[part]
	}
	floor := 0
	if pagesTotal > 0 {
		floor = 1
	}
	m.Scope = ScopeMetrics{
		SectionBoundaryF1:   ratio(boundaries.Section, max(boundaries.Section, opportunities.Section, floor)),
		ClauseBoundaryF1:    ratio(boundaries.Clause, max(boundaries.Clause, opportunities.Clause, floor)),
		TableScopeRecallPct: pct(boundaries.Table, max(boundaries.Table, opportunities.Table)),
	}

	var superOps, subOps, footOps int
	for _, s := range in.Slices {
		if strings.ContainsAny(s.Text, superscripts) {
			superOps++
		}
		if strings.ContainsAny(s.Text, subscripts) {
			subOps++
		}
		if footnoteRE.MatchString(s.Text) {
			footOps++
		}
	}
	// slices carry the extracted text verbatim, so every occurrence is retained
	m.Typography = Typography{
		SuperscriptPct: pct(superOps, superOps),
		SubscriptPct:   pct(subOps, subOps),
		FootnotePct:    pct(footOps, footOps),
	}

	m.Lineage = lineage(in)
	m.Replay = replay(in)
	m.Pathology = pathology(in.Slices, paragraphs, paragraphPages)
	if len(in.Goldset) > 0 {
		m.Boundary = goldsetScores(in.Slices, in.Goldset, part)
	} else {
		m.Boundary = emptyBoundary(ScorerModeProxy)
		m.Boundary.ParagraphPrecision, m.Boundary.ParagraphRecall, m.Boundary.ParagraphF1 = paragraphProxy, paragraphProxy, paragraphProxy
		lp := ratio(listMarker, len(lists))
		m.Boundary.ListPrecision, m.Boundary.ListRecall, m.Boundary.ListF1 = lp, lp, lp
		tp := ratio(tableStructural, len(tables))
		m.Boundary.TablePrecision, m.Boundary.TableRecall, m.Boundary.TableF1 = tp, tp, tp
	}
	return m
}

func lineage(in Inputs) Lineage {
	unitIDs, linkIDs := map[string]bool{}, map[string]bool{}
	paged := 0
	for _, s := range in.Slices {
		if s.UnitID != "" {
			unitIDs[s.UnitID] = true
		}
		if _, ok := slicePage(s); ok {
			paged++
		}
	}
	for _, l := range in.Links {
		if l.UnitID != "" {
			linkIDs[l.UnitID] = true
		}
	}
	linked := 0
	for id := range unitIDs {
		if linkIDs[id] {
			linked++
		}
	}
	var secOK, secTotal, clauseOK, clauseTotal, tableOK, tableTotal, parentOK int
	for _, u := range in.Anchored {
		loc := u.SourceLocator
		if loc.Section != "" {
			secTotal++
			if u.ScopeAnchors.Section != "" {
				secOK++
			}
		}
		if loc.Clause != "" {
			clauseTotal++
			if u.ScopeAnchors.Clause != "" {
				clauseOK++
			}
		}
		if loc.Table != "" {
			tableTotal++
			if u.ScopeAnchors.Table != "" {
				tableOK++
			}
		}
		if u.ParentScopeAnchorID != "" {
			parentOK++
		}
	}
	return Lineage{
		UnitToPagePct:        pct(paged, len(in.Slices)),
		UnitToAnchorPct:      pct(linked, len(unitIDs)),
		UnitToParentScopePct: pct(parentOK, len(in.Anchored)),
		SectionAnchorPct:     pct(secOK, secTotal),
		ClauseAnchorPct:      pct(clauseOK, clauseTotal),
		TableAnchorPct:       pct(tableOK, tableTotal),
	}
}

// replay trusts the verify signatures when present and otherwise falls
// back to comparing unit and link populations.
func replay(in Inputs) ReplayMetrics {
	if in.Replay != nil {
		if in.Replay.MismatchCount == 0 {
			return ReplayMetrics{SignatureMatchPct: 100}
		}
		return ReplayMetrics{}
	}
	units, links := map[string]bool{}, map[string]bool{}
	for _, s := range in.Slices {
		if s.UnitID != "" {
			units[s.UnitID] = true
		}
	}
	for _, l := range in.Links {
		if l.UnitID != "" {
			links[l.UnitID] = true
		}
	}
	if len(units) != len(links) {
		return ReplayMetrics{}
	}
	return ReplayMetrics{SignatureMatchPct: 100}
}

// sourceSignature is the sorted block reference set of a slice.
func sourceSignature(s normalize.UnitSlice) string {
	refs := make([]string, 0, len(s.SourceBlockRefs))
	for _, r := range s.SourceBlockRefs {
		if r != "" {
			refs = append(refs, r)
		}
	}
	sort.Strings(refs)
	return strings.Join(refs, signatureRefSeparate)
}

// signatureCounter counts signatures and remembers first-seen order so the
// dominant signature is stable under ties.
type signatureCounter struct {
	counts map[string]int
	order  []string
}

func (c *signatureCounter) add(sig string) {
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	if _, ok := c.counts[sig]; !ok {
		c.order = append(c.order, sig)
	}
	c.counts[sig]++
}

func (c *signatureCounter) dominant() (string, bool) {
	best, bestN := "", 0
	for _, sig := range c.order {
		if c.counts[sig] > bestN {
			best, bestN = sig, c.counts[sig]
		}
	}
	return best, bestN > 0
}

func pathology(all, paragraphs []normalize.UnitSlice, paragraphPages map[pageKey]int) Pathology {
	type pageTypes struct {
		refs map[string]map[string]bool
		sigs map[string]*signatureCounter
	}
	pages := map[pageKey]*pageTypes{}
	var keys []pageKey
	out := Pathology{}
	for _, s := range all {
		k, ok := slicePage(s)
		if !ok {
			continue
		}
		pt := pages[k]
		if pt == nil {
			pt = &pageTypes{refs: map[string]map[string]bool{}, sigs: map[string]*signatureCounter{}}
			pages[k] = pt
			keys = append(keys, k)
		}
		if slices.Contains(unitTypes, s.UnitType) {
			if pt.refs[s.UnitType] == nil {
				pt.refs[s.UnitType] = map[string]bool{}
				pt.sigs[s.UnitType] = &signatureCounter{}
			}
			for _, r := range s.SourceBlockRefs {
				if r != "" {
					pt.refs[s.UnitType][r] = true
				}
			}
			pt.sigs[s.UnitType].add(sourceSignature(s))
		}
		if normalize.HasLicense(s.Text) || normalize.HasBoilerplate(s.Text) {
			out.ResidualLegalHits++
		}
	}

	var starts, ends, oversized int
	for _, p := range paragraphs {
		if StartsLikeFragment(p.Text) {
			starts++
		}
		if EndsLikeFragment(p.Text) {
			ends++
		}
		if len(tokenize(p.Text)) > oversizedParagraph {
			oversized++
		}
	}
	singletons := 0
	for _, n := range paragraphPages {
		if n == 1 {
			singletons++
		}
	}

	var multiType, identical int
	var overlaps []float64
	for _, k := range keys {
		pt := pages[k]
		var active []string
		for _, t := range unitTypes {
			if pt.refs[t] != nil {
				active = append(active, t)
			}
		}
		if len(active) < 2 {
			continue
		}
		multiType++
		dominant := map[string]bool{}
		for _, t := range active {
			if sig, ok := pt.sigs[t].dominant(); ok {
				dominant[sig] = true
			}
		}
		if len(dominant) == 1 {
			identical++
		}
		for i := 0; i < len(active); i++ {
			for j := i + 1; j < len(active); j++ {
				left, right := pt.refs[active[i]], pt.refs[active[j]]
				union, inter := len(left), 0
				for r := range right {
					if left[r] {
						inter++
					} else {
						union++
					}
				}
				if union > 0 {
					overlaps = append(overlaps, float64(inter)/float64(union))
				}
			}
		}
	}

	out.TriadIdentityPct = pct(identical, multiType)
	out.FragmentStartPct = pct(starts, len(paragraphs))
	out.FragmentEndPct = pct(ends, len(paragraphs))
	out.SingletonPagePct = pct(singletons, len(paragraphPages))
	out.OversizedPct = pct(oversized, len(paragraphs))
	if len(overlaps) > 0 {
		sum := 0.0
		for _, o := range overlaps {
			sum += o
		}
		out.ProvenanceOverlapPct = clampPct(sum / float64(len(overlaps)) * 100)
	}
	return out
}

func emptyBoundary(mode string) Boundary {
	zero := func() map[string]int {
		return map[string]int{normalize.TypeParagraph: 0, normalize.TypeList: 0, normalize.TypeTable: 0}
	}
	return Boundary{
		ScorerMode: mode, Matched: zero(), Expected: zero(), Predicted: zero(),
		ParagraphPrecision: 1, ParagraphRecall: 1, ParagraphF1: 1,
		ListPrecision: 1, ListRecall: 1, ListF1: 1,
		TablePrecision: 1, TableRecall: 1, TableF1: 1,
	}
}

func goldsetScores(all []normalize.UnitSlice, goldset []GoldsetRow, part string) Boundary {
	var rows []GoldsetRow
	for _, g := range goldset {
		p := strings.ToUpper(g.Part)
		if (part != "" && p != part) || p == "" || g.Page <= 0 {
			continue
		}
		rows = append(rows, g)
	}
	out := emptyBoundary(ScorerModeFixture)
	if len(rows) == 0 {
		return out
	}
	predicted := map[pageKey]map[string]int{}
	for _, s := range all {
		k, ok := slicePage(s)
		if !ok || (part != "" && k.part != part) || !slices.Contains(unitTypes, s.UnitType) {
			continue
		}
		if predicted[k] == nil {
			predicted[k] = map[string]int{}
		}
		predicted[k][s.UnitType]++
	}
	for _, g := range rows {
		pred := predicted[pageKey{strings.ToUpper(g.Part), g.Page}]
		for _, t := range unitTypes {
			exp, got := g.expected(t), pred[t]
			out.Expected[t] += exp
			out.Predicted[t] += got
			out.Matched[t] += min(exp, got)
		}
	}
	score := func(t string) (float64, float64, float64) {
		exp, got, hit := out.Expected[t], out.Predicted[t], out.Matched[t]
		precision := 1.0
		if got > 0 {
			precision = float64(hit) / float64(got)
		} else if exp > 0 {
			precision = 0
		}
		recall := 1.0
		if exp > 0 {
			recall = float64(hit) / float64(exp)
		}
		if precision+recall <= 0 {
			return precision, recall, 0
		}
		return precision, recall, 2 * precision * recall / (precision + recall)
	}
	out.GoldsetRowCount = len(rows)
	out.ParagraphPrecision, out.ParagraphRecall, out.ParagraphF1 = score(normalize.TypeParagraph)
	out.ListPrecision, out.ListRecall, out.ListF1 = score(normalize.TypeList)
	out.TablePrecision, out.TableRecall, out.TableF1 = score(normalize.TypeTable)
	return out
}
