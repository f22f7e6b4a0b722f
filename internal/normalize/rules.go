package normalize

import (
	"regexp"
	"strings"
)

// Line classes, named after the rule that assigns them.
const (
	ClassLicense      = "license_line"
	ClassBoilerplate  = "boilerplate_line"
	ClassPageHeader   = "page_header"
	ClassPageNumber   = "page_number"
	ClassRepeated     = "repeated_line"
	ClassHeading      = "heading"
	ClassAnnexHeading = "annex_heading"
	ClassTableCaption = "table_caption"
	ClassListMarker   = "list_marker"
	ClassTableRow     = "table_row"
	ClassBody         = "body"
)

// LicenseTokens mark licensing stamps printed on every page of a purchased copy.
var LicenseTokens = []string{
	"licensed to",
	"iso store order",
	"single user licence",
	"copyright office",
}

// BoilerplateTokens mark publisher boilerplate.
var BoilerplateTokens = []string{
	"all rights reserved",
	"copyright protected document",
	"reference number",
	"published in switzerland",
}

var (
	pageHeaderRE   = regexp.MustCompile(`(?i)^ISO\s+\d+(?:-\d+)?\s*:\s*\d{4}(?:\s*\(E\))?$`)
	copyrightRE    = regexp.MustCompile(`(?i)^©\s*ISO\s+\d{4}`)
	pageNumberRE   = regexp.MustCompile(`(?i)^(?:\d{1,4}|[ivxlc]{1,6}|page\s+\d+(?:\s+of\s+\d+)?)$`)
	headingRE      = regexp.MustCompile(`^((?:[A-Z]\.)?\d{1,2}(?:\.\d{1,3}){0,6})\s+(\p{Lu}.*)$`)
	annexHeadingRE = regexp.MustCompile(`^Annex\s+([A-Z])\b`)
	tableCaptionRE = regexp.MustCompile(`^Table\s+([A-Z]?\.?\d+(?:\.\d+)?)\b`)
	listMarkerRE   = regexp.MustCompile(`(?i)^\s*(?:[-*•]\s+|\d+[.)]\s+|[a-z][.)]\s+|[ivxlcdm]+[.)]\s+|\x{2014}\s+)`)
	columnGapRE    = regexp.MustCompile(`\S\s{2,}\S`)
	cellSplitRE    = regexp.MustCompile(`\s{2,}`)
	sentenceEndRE  = regexp.MustCompile(`[.!?;:)]["']?$`)
)

// headingMaxWords bounds a clause heading; longer numbered lines are
// normative body text that carries a clause number.
const headingMaxWords = 14

// Line is one non-empty line of a page together with its provenance.
type Line struct {
	// Raw keeps the extractor's spacing so table columns stay visible.
	Raw     string
	Text    string
	BlockID string
	Ordinal int
	// BreakBefore is set when a blank line precedes this one.
	BreakBefore bool
	Class       string
}

// Context is shared by rules evaluated over one part.
type Context struct {
	Repeated map[string]bool
}

// Rule is one named line predicate. Rules are evaluated in order and the
// first match assigns the line's class.
type Rule struct {
	Name  string
	Match func(line Line, ctx *Context) bool
}

// Rules is the classification order.
var Rules = []Rule{
	{ClassLicense, func(l Line, _ *Context) bool { return containsAny(l.Text, LicenseTokens) }},
	{ClassBoilerplate, func(l Line, _ *Context) bool {
		return containsAny(l.Text, BoilerplateTokens) || copyrightRE.MatchString(l.Text)
	}},
	{ClassPageHeader, func(l Line, _ *Context) bool { return pageHeaderRE.MatchString(l.Text) }},
	{ClassPageNumber, func(l Line, _ *Context) bool { return pageNumberRE.MatchString(l.Text) }},
	{ClassRepeated, func(l Line, ctx *Context) bool { return ctx != nil && ctx.Repeated[RepeatKey(l.Text)] }},
	{ClassAnnexHeading, func(l Line, _ *Context) bool { return annexHeadingRE.MatchString(l.Text) }},
	{ClassHeading, func(l Line, _ *Context) bool { return isHeading(l.Text) }},
	{ClassTableCaption, func(l Line, _ *Context) bool { return tableCaptionRE.MatchString(l.Text) }},
	{ClassListMarker, func(l Line, _ *Context) bool { return listMarkerRE.MatchString(l.Text) }},
	{ClassTableRow, func(l Line, _ *Context) bool { return len(SplitCells(l.Raw)) >= 2 }},
	{ClassBody, func(Line, *Context) bool { return true }},
}

// Classify returns the name of the first rule matching line.
func Classify(line Line, ctx *Context) string {
	for _, rule := range Rules {
		if rule.Match(line, ctx) {
			return rule.Name
		}
	}
	return ClassBody
}

// Stripped reports whether lines of class never reach a candidate.
func Stripped(class string) bool {
	switch class {
	case ClassLicense, ClassBoilerplate, ClassPageHeader, ClassPageNumber, ClassRepeated:
		return true
	}
	return false
}

func isHeading(text string) bool {
	m := headingRE.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	title := m[2]
	if len(strings.Fields(title)) > headingMaxWords {
		return false
	}
	return !sentenceEndRE.MatchString(title)
}

// HeadingNumber returns the clause number of a heading or numbered line.
func HeadingNumber(text string) string {
	if m := headingRE.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// SplitCells splits a layout line on runs of two or more spaces.
func SplitCells(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if !columnGapRE.MatchString(trimmed) {
		return []string{trimmed}
	}
	var cells []string
	for _, cell := range cellSplitRE.Split(trimmed, -1) {
		if cell = strings.TrimSpace(cell); cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells
}

// RepeatKey is the key under which running headers and footers repeat. Digits
// collapse so that "Page 3" and "Page 4" share a key.
func RepeatKey(text string) string {
	var b strings.Builder
	lastDigit := false
	for _, r := range strings.ToLower(strings.Join(strings.Fields(text), " ")) {
		if r >= '0' && r <= '9' {
			if !lastDigit {
				b.WriteByte('#')
			}
			lastDigit = true
			continue
		}
		lastDigit = false
		b.WriteRune(r)
	}
	return b.String()
}

func containsAny(text string, tokens []string) bool {
	return countTokens(text, tokens) > 0
}

func countTokens(text string, tokens []string) int {
	low := strings.ToLower(text)
	n := 0
	for _, tok := range tokens {
		if strings.Contains(low, tok) {
			n++
		}
	}
	return n
}

// BoilerplateHits counts license and boilerplate tokens in text.
func BoilerplateHits(text string) int {
	return countTokens(text, LicenseTokens) + countTokens(text, BoilerplateTokens)
}

// EndsSentence reports whether text ends with sentence punctuation.
func EndsSentence(text string) bool {
	return sentenceEndRE.MatchString(strings.TrimSpace(text))
}

// HasLicense reports whether text carries a licensing stamp token.
func HasLicense(text string) bool { return containsAny(text, LicenseTokens) }

// HasBoilerplate reports whether text carries a publisher boilerplate token.
func HasBoilerplate(text string) bool { return containsAny(text, BoilerplateTokens) }

// HasListMarker reports whether text opens with a list marker.
func HasListMarker(text string) bool { return listMarkerRE.MatchString(text) }
