package normalize

import (
	"regexp"
	"strings"

	"isomine/internal/extract"
)

// Unit types.
const (
	TypeParagraph = "paragraph"
	TypeList      = "list_bullet"
	TypeTable     = "table_cell"
)

// Candidate selection rules recorded in selection metadata.
const (
	RuleParagraph    = "paragraph_lines"
	RuleListItem     = "list_item"
	RuleTableRegion  = "table_region"
	RulePageFallback = "page_fallback"
)

var (
	alphaTokenRE = regexp.MustCompile(`\p{L}{2,}`)
	modalRE      = regexp.MustCompile(`(?i)\b(?:shall|should|may|must|can)\b`)
)

// Limits tune candidate acceptance.
type Limits struct {
	// MinParagraphAlphaTokens rejects shorter paragraphs lacking a modal verb.
	MinParagraphAlphaTokens int
	// ShortAlphaTokens is the length below which one boilerplate hit rejects
	// a candidate that has no modal verb.
	ShortAlphaTokens int
}

// DefaultLimits are the acceptance limits used by the stage.
var DefaultLimits = Limits{MinParagraphAlphaTokens: 4, ShortAlphaTokens: 12}

// Candidate is a prospective unit.
type Candidate struct {
	UnitType          string
	Text              string
	Lines             []Line
	Scope             Scope
	Rule              string
	ContinuationLines int
	Row               int
	Col               int
}

// BlockRefs lists the distinct blocks the candidate was built from, in page
// order.
func (c Candidate) BlockRefs() []string {
	refs := make([]string, 0, len(c.Lines))
	seen := map[string]bool{}
	for _, l := range c.Lines {
		if l.BlockID == "" || seen[l.BlockID] {
			continue
		}
		seen[l.BlockID] = true
		refs = append(refs, l.BlockID)
	}
	return refs
}

// AlphaTokens counts alphabetic tokens of two or more letters.
func AlphaTokens(text string) int { return len(alphaTokenRE.FindAllStringIndex(text, -1)) }

// HasModal reports a normative modal verb.
func HasModal(text string) bool { return modalRE.MatchString(text) }

// Contaminated applies the contamination filter.
func Contaminated(text string, limits Limits) bool {
	hits := BoilerplateHits(text)
	if hits >= 2 {
		return true
	}
	return hits == 1 && !HasModal(text) && AlphaTokens(text) < limits.ShortAlphaTokens
}

// PageLines turns a page's blocks into lines in ordinal order.
func PageLines(rec extract.PageRecord, blocks []extract.BlockRecord) []Line {
	lines := make([]Line, 0, len(blocks))
	prevEnd := -1
	for _, b := range blocks {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		line := Line{
			Raw:     Fold(b.Text),
			Text:    Fold(strings.Join(strings.Fields(b.Text), " ")),
			BlockID: b.BlockID,
			Ordinal: b.Ordinal,
		}
		if prevEnd >= 0 && b.Start >= prevEnd && b.Start <= len(rec.Text) {
			line.BreakBefore = strings.Count(rec.Text[prevEnd:b.Start], "\n") >= 2
		}
		prevEnd = b.End
		lines = append(lines, line)
	}
	return lines
}

// PageStats counts what segmentation discarded on one page.
type PageStats struct {
	Stripped         map[string]int
	RejectedShort    int
	RejectedBoiler   int
	DemotedTableRows int
	Fallback         bool
}

// Segmenter segments the pages of one part in page order.
type Segmenter struct {
	ctx     *Context
	tracker *Tracker
	limits  Limits
	rec     Reconstruction
}

// NewSegmenter prepares a segmenter for one part.
func NewSegmenter(repeated map[string]bool, limits Limits) *Segmenter {
	return &Segmenter{ctx: &Context{Repeated: repeated}, tracker: NewTracker(), limits: limits}
}

// Tracker exposes the part's scope counters.
func (s *Segmenter) Tracker() *Tracker { return s.tracker }

// Reconstruction returns the part's line join counters.
func (s *Segmenter) Reconstruction() Reconstruction { return s.rec }

// Page segments one page. pageBlocks is consulted only when the page needs
// a fallback paragraph and has no surviving lines.
func (s *Segmenter) Page(lines []Line, pageBlocks []string) ([]Candidate, PageStats) {
	stats := PageStats{Stripped: map[string]int{}}
	kept := make([]Line, 0, len(lines))
	for _, line := range lines {
		line.Class = Classify(line, s.ctx)
		if Stripped(line.Class) {
			stats.Stripped[line.Class]++
			continue
		}
		kept = append(kept, line)
	}
	stats.DemotedTableRows = resolveTables(kept)

	b := &pageBuilder{seg: s, stats: &stats}
	for i := 0; i < len(kept); i++ {
		line := kept[i]
		switch line.Class {
		case ClassAnnexHeading:
			b.flush(true)
			s.tracker.Annex(annexHeadingRE.FindStringSubmatch(line.Text)[1])
		case ClassHeading:
			b.flush(true)
			s.tracker.Heading(HeadingNumber(line.Text))
		case ClassTableCaption:
			b.flush(true)
			s.tracker.Caption("Table " + tableCaptionRE.FindStringSubmatch(line.Text)[1])
		case ClassListMarker:
			b.flush(true)
			b.open(TypeList, line)
		case ClassTableRow:
			b.flush(true)
			j := i
			for j < len(kept) && kept[j].Class == ClassTableRow {
				j++
			}
			b.table(kept[i:j], s.tracker.Region())
			i = j - 1
		default:
			b.body(line)
		}
	}
	b.flush(false)

	if !b.hasParagraph {
		stats.Fallback = true
		b.out = append(b.out, fallbackParagraph(kept, pageBlocks, s.tracker.Current()))
	}
	return b.out, stats
}

// resolveTables demotes table-row runs that are neither column-stable nor
// introduced by a caption, and returns how many rows were demoted.
func resolveTables(lines []Line) int {
	demoted := 0
	for i := 0; i < len(lines); {
		if lines[i].Class != ClassTableRow {
			i++
			continue
		}
		j := i + 1
		for j < len(lines) && lines[j].Class == ClassTableRow {
			j++
		}
		stable := false
		for k := i + 1; k < j; k++ {
			if ColumnsAligned(lines[k-1].Raw, lines[k].Raw) {
				stable = true
				break
			}
		}
		captioned := i > 0 && lines[i-1].Class == ClassTableCaption
		if !stable && !captioned {
			for k := i; k < j; k++ {
				lines[k].Class = ClassBody
				demoted++
			}
		}
		i = j
	}
	return demoted
}

// columnTolerance is how far, in characters, matching cells may drift
// between rows.
const columnTolerance = 2

// ColumnsAligned reports whether two layout rows have the same number of
// cells starting at roughly the same columns.
func ColumnsAligned(a, b string) bool {
	sa, sb := cellStarts(a), cellStarts(b)
	if len(sa) < 2 || len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		d := sa[i] - sb[i]
		if d < -columnTolerance || d > columnTolerance {
			return false
		}
	}
	return true
}

func cellStarts(raw string) []int {
	runes := []rune(strings.TrimRight(raw, " \t"))
	var starts []int
	gap := 2
	for i, r := range runes {
		if r == ' ' || r == '\t' {
			gap++
			continue
		}
		if gap >= 2 {
			starts = append(starts, i)
		}
		gap = 0
	}
	return starts
}

type pageBuilder struct {
	seg          *Segmenter
	stats        *PageStats
	cur          *Candidate
	out          []Candidate
	hasParagraph bool
}

func (b *pageBuilder) open(unitType string, line Line) {
	rule := RuleParagraph
	if unitType == TypeList {
		rule = RuleListItem
	}
	b.cur = &Candidate{UnitType: unitType, Lines: []Line{line}, Scope: b.seg.tracker.Current(), Rule: rule}
}

func (b *pageBuilder) body(line Line) {
	if number := HeadingNumber(line.Text); number != "" {
		b.flush(true)
		b.seg.tracker.Heading(number)
		b.open(TypeParagraph, line)
		return
	}
	if b.cur == nil {
		b.open(TypeParagraph, line)
		return
	}
	last := b.cur.Lines[len(b.cur.Lines)-1].Text
	ended := EndsSentence(last)
	switch {
	case line.BreakBefore:
		b.flush(true)
		b.open(TypeParagraph, line)
		return
	case b.cur.UnitType == TypeList && ended && !startsLower(line.Text):
		b.flush(false)
		b.open(TypeParagraph, line)
		return
	case b.cur.UnitType == TypeParagraph && ended && startsUpper(line.Text):
		b.flush(false)
		b.open(TypeParagraph, line)
		return
	}
	if !ended {
		b.seg.rec.LineWrapAttempts++
		b.seg.rec.LineWrapSuccess++
	}
	if b.cur.UnitType == TypeList {
		b.cur.ContinuationLines++
	}
	b.cur.Lines = append(b.cur.Lines, line)
}

// flush closes the open candidate. interrupted marks a close forced by a
// structural line or a blank line; a sentence left open there is a failed
// wrap repair.
func (b *pageBuilder) flush(interrupted bool) {
	if b.cur == nil {
		return
	}
	c := *b.cur
	b.cur = nil
	last := c.Lines[len(c.Lines)-1].Text
	if interrupted && c.UnitType == TypeParagraph && !EndsSentence(last) {
		b.seg.rec.LineWrapAttempts++
	}
	text := ""
	for _, l := range c.Lines {
		text = Join(text, l.Text, &b.seg.rec)
	}
	c.Text = text
	b.accept(c)
}

func (b *pageBuilder) accept(c Candidate) {
	limits := b.seg.limits
	if c.UnitType == TypeParagraph && AlphaTokens(c.Text) < limits.MinParagraphAlphaTokens && !HasModal(c.Text) {
		b.stats.RejectedShort++
		return
	}
	if Contaminated(c.Text, limits) {
		b.stats.RejectedBoiler++
		return
	}
	if c.UnitType == TypeParagraph {
		b.hasParagraph = true
	}
	b.out = append(b.out, c)
}

func (b *pageBuilder) table(rows []Line, label string) {
	scope := b.seg.tracker.Current()
	scope.Table = label
	for r, row := range rows {
		for col, cell := range SplitCells(row.Raw) {
			b.accept(Candidate{
				UnitType: TypeTable,
				Text:     strings.Join(strings.Fields(cell), " "),
				Lines:    []Line{row},
				Scope:    scope,
				Rule:     RuleTableRegion,
				Row:      r + 1,
				Col:      col + 1,
			})
		}
	}
}

func fallbackParagraph(kept []Line, pageBlocks []string, scope Scope) Candidate {
	c := Candidate{UnitType: TypeParagraph, Scope: scope, Rule: RulePageFallback}
	texts := make([]string, 0, len(kept))
	for _, l := range kept {
		texts = append(texts, l.Text)
		c.Lines = append(c.Lines, l)
	}
	if len(c.Lines) == 0 {
		for _, id := range pageBlocks {
			c.Lines = append(c.Lines, Line{BlockID: id})
		}
	}
	c.Text = strings.Join(texts, " ")
	return c
}
