package normalize

import (
	"fmt"
	"strings"

	"isomine/internal/canonical"
	"isomine/internal/extract"
)

// Review states.
const (
	ReviewAuto   = "auto_confirmed"
	ReviewManual = "manual_confirmed"
	ReviewNeeded = "needs_review"
)

// SourceLocator places a unit in the source document.
type SourceLocator struct {
	Edition       string   `json:"edition"`
	Part          string   `json:"part"`
	Section       string   `json:"section"`
	Clause        string   `json:"clause"`
	Table         string   `json:"table,omitempty"`
	SubclausePath []string `json:"subclause_path"`
	UnitType      string   `json:"unit_type"`
	PageStart     int      `json:"page_start"`
	PageEnd       int      `json:"page_end"`
}

// Provenance ties a unit to the extracted page it came from.
type Provenance struct {
	SourcePDFSHA256 string `json:"source_pdf_sha256"`
	ExtractMethod   string `json:"extract_method"`
	QualityBand     string `json:"quality_band,omitempty"`
	PageRecordID    string `json:"page_record_id"`
	TextSHA256      string `json:"text_sha256"`
}

// SelectionMeta records how a candidate was selected.
type SelectionMeta struct {
	Rule                  string `json:"rule"`
	LineCount             int    `json:"line_count"`
	ContinuationLineCount int    `json:"continuation_line_count"`
	RowIndex              int    `json:"row_index,omitempty"`
	ColIndex              int    `json:"col_index,omitempty"`
	AlphaTokenCount       int    `json:"alpha_token_count"`
	NormativeModal        bool   `json:"normative_modal"`
}

// Unit is one row of normalized-units.jsonl. It carries no text.
type Unit struct {
	UnitID          string        `json:"unit_id"`
	UnitType        string        `json:"unit_type"`
	Part            string        `json:"part"`
	Page            int           `json:"page"`
	SourceLocator   SourceLocator `json:"source_locator"`
	DisplayLocator  string        `json:"display_locator"`
	Fingerprint     string        `json:"fingerprint"`
	Provenance      Provenance    `json:"provenance"`
	ReviewState     string        `json:"review_state"`
	SourceBlockRefs []string      `json:"source_block_refs"`
	SelectionMeta   SelectionMeta `json:"selection_meta"`
	Status          string        `json:"status"`
}

// UnitSlice is one row of unit-slices.jsonl.
type UnitSlice struct {
	SliceID         string        `json:"slice_id"`
	UnitID          string        `json:"unit_id"`
	Part            string        `json:"part"`
	Page            int           `json:"page"`
	UnitType        string        `json:"unit_type"`
	PageRecordID    string        `json:"page_record_id"`
	SourceBlockRefs []string      `json:"source_block_refs"`
	SelectionMeta   SelectionMeta `json:"selection_meta"`
	TextSHA256      string        `json:"text_sha256"`
	Text            string        `json:"text"`
}

// UnitTextLink is one row of unit-text-links.jsonl.
type UnitTextLink struct {
	UnitID       string   `json:"unit_id"`
	SliceID      string   `json:"slice_id"`
	Part         string   `json:"part"`
	Page         int      `json:"page"`
	UnitType     string   `json:"unit_type"`
	PageRecordID string   `json:"page_record_id"`
	BlockIDs     []string `json:"block_ids"`
	TextSHA256   string   `json:"text_sha256"`
}

// QuerySourceRow is one row of query-source-rows.jsonl.
type QuerySourceRow struct {
	UnitID         string `json:"unit_id"`
	SliceID        string `json:"slice_id"`
	Part           string `json:"part"`
	Page           int    `json:"page"`
	UnitType       string `json:"unit_type"`
	Section        string `json:"section"`
	Clause         string `json:"clause"`
	Table          string `json:"table,omitempty"`
	Text           string `json:"text"`
	NormalizedText string `json:"normalized_text"`
}

// QAItem is a unit awaiting manual adjudication.
type QAItem struct {
	QAItemID          string   `json:"qa_item_id"`
	UnitID            string   `json:"unit_id"`
	Part              string   `json:"part"`
	Page              int      `json:"page"`
	UnitType          string   `json:"unit_type"`
	ExtractMethod     string   `json:"extract_method"`
	QualityBand       string   `json:"quality_band,omitempty"`
	ReasonCodes       []string `json:"reason_codes"`
	Confidence        float64  `json:"confidence"`
	RecommendedAction string   `json:"recommended_action"`
	LastDecision      string   `json:"last_decision,omitempty"`
}

// QAItemID names the QA item of a unit.
func QAItemID(unitID string) string { return "qa-" + unitID }

var kindSuffix = map[string]string{TypeParagraph: "para", TypeList: "list", TypeTable: "cell"}

// PageReviewState derives a unit's review state from its page's extraction.
func PageReviewState(method, band string) string {
	if method != extract.MethodOCRFallback {
		return ReviewAuto
	}
	if band == extract.BandPass {
		return ReviewManual
	}
	return ReviewNeeded
}

// Built bundles the records derived from one candidate.
type Built struct {
	Unit  Unit
	Slice UnitSlice
	Link  UnitTextLink
	Query QuerySourceRow
}

// Build materializes candidate c as the ordinal-th unit of its kind on rec.
func Build(edition string, rec extract.PageRecord, c Candidate, ordinal int) Built {
	unitID := canonical.UnitID(rec.Part, rec.Page, kindSuffix[c.UnitType], ordinal)
	sliceID := canonical.SliceID(unitID)
	textSHA := canonical.TextSHA256(c.Text)
	refs := c.BlockRefs()
	if c.UnitType != TypeTable {
		c.Scope.Table = ""
	}
	meta := SelectionMeta{
		Rule:                  c.Rule,
		LineCount:             len(c.Lines),
		ContinuationLineCount: c.ContinuationLines,
		RowIndex:              c.Row,
		ColIndex:              c.Col,
		AlphaTokenCount:       AlphaTokens(c.Text),
		NormativeModal:        HasModal(c.Text),
	}
	unit := Unit{
		UnitID:   unitID,
		UnitType: c.UnitType,
		Part:     rec.Part,
		Page:     rec.Page,
		SourceLocator: SourceLocator{
			Edition:       edition,
			Part:          rec.Part,
			Section:       c.Scope.Section,
			Clause:        c.Scope.Clause,
			Table:         c.Scope.Table,
			SubclausePath: c.Scope.SubclausePath(),
			UnitType:      c.UnitType,
			PageStart:     rec.Page,
			PageEnd:       rec.Page,
		},
		DisplayLocator: displayLocator(rec.Part, c, ordinal),
		Fingerprint:    canonical.TextSHA256(fmt.Sprintf("%s:%d:%s:%s", rec.Part, rec.Page, c.UnitType, textSHA))[:24],
		Provenance: Provenance{
			SourcePDFSHA256: rec.SourcePDFSHA256,
			ExtractMethod:   rec.Method,
			QualityBand:     rec.QualityBand,
			PageRecordID:    rec.PageRecordID,
			TextSHA256:      textSHA,
		},
		ReviewState:     PageReviewState(rec.Method, rec.QualityBand),
		SourceBlockRefs: refs,
		SelectionMeta:   meta,
		Status:          "mapped",
	}
	return Built{
		Unit: unit,
		Slice: UnitSlice{
			SliceID: sliceID, UnitID: unitID, Part: rec.Part, Page: rec.Page, UnitType: c.UnitType,
			PageRecordID: rec.PageRecordID, SourceBlockRefs: refs, SelectionMeta: meta,
			TextSHA256: textSHA, Text: c.Text,
		},
		Link: UnitTextLink{
			UnitID: unitID, SliceID: sliceID, Part: rec.Part, Page: rec.Page, UnitType: c.UnitType,
			PageRecordID: rec.PageRecordID, BlockIDs: refs, TextSHA256: textSHA,
		},
		Query: QuerySourceRow{
			UnitID: unitID, SliceID: sliceID, Part: rec.Part, Page: rec.Page, UnitType: c.UnitType,
			Section: c.Scope.Section, Clause: c.Scope.Clause, Table: c.Scope.Table,
			Text: c.Text, NormalizedText: canonical.NormalizeForQuery(c.Text),
		},
	}
}

func displayLocator(part string, c Candidate, ordinal int) string {
	var b strings.Builder
	b.WriteString(part)
	if c.Scope.Clause != FrontMatter {
		fmt.Fprintf(&b, " / Clause %s", c.Scope.Clause)
	}
	switch c.UnitType {
	case TypeTable:
		fmt.Fprintf(&b, " / %s / Row %d / Col %d", nonEmpty(c.Scope.Table, "Table"), c.Row, c.Col)
	case TypeList:
		fmt.Fprintf(&b, " / Item %d", ordinal)
	default:
		fmt.Fprintf(&b, " / Paragraph %d", ordinal)
	}
	return b.String()
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
