package extract

import (
	"sort"
	"strings"

	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/layout"
	"isomine/internal/services"
)

// SchemaVersion versions the verbatim page record formats.
const SchemaVersion = "verbatim_v1"

// PageRecord is one row of page-text.jsonl.
type PageRecord struct {
	PageRecordID    string `json:"page_record_id"`
	Part            string `json:"part"`
	Page            int    `json:"page"`
	Method          string `json:"method"`
	QualityBand     string `json:"quality_band,omitempty"`
	SourcePDFSHA256 string `json:"source_pdf_sha256"`
	TextSHA256      string `json:"text_sha256"`
	CharCount       int    `json:"char_count"`
	Text            string `json:"text"`
}

// BlockRecord is one row of page-blocks.jsonl.
type BlockRecord struct {
	BlockID      string `json:"block_id"`
	PageRecordID string `json:"page_record_id"`
	Part         string `json:"part"`
	Page         int    `json:"page"`
	Ordinal      int    `json:"ordinal"`
	Start        int    `json:"start"`
	End          int    `json:"end"`
	TextSHA256   string `json:"text_sha256"`
	Text         string `json:"text"`
}

// PageIndexEntry locates one page record.
type PageIndexEntry struct {
	Part         string `json:"part"`
	Page         int    `json:"page"`
	PageRecordID string `json:"page_record_id"`
	Method       string `json:"method"`
	QualityBand  string `json:"quality_band,omitempty"`
	BlockCount   int    `json:"block_count"`
	TextSHA256   string `json:"text_sha256"`
}

// PageIndex is page-index.json.
type PageIndex struct {
	RunID         string           `json:"run_id"`
	SchemaVersion string           `json:"schema_version"`
	PageCounts    map[string]int   `json:"page_counts"`
	Pages         []PageIndexEntry `json:"pages"`
}

// PageSignature is one row of page-signatures.jsonl.
type PageSignature struct {
	Part           string `json:"part"`
	Page           int    `json:"page"`
	PageRecordID   string `json:"page_record_id"`
	TextSHA256     string `json:"text_sha256"`
	BlockCount     int    `json:"block_count"`
	BlockSignature string `json:"block_signature"`
}

// NewPageRecord builds the record of one page and its blocks.
func NewPageRecord(part string, page int, method, band, pdfSHA, text string) (PageRecord, []BlockRecord) {
	textSHA := canonical.TextSHA256(text)
	rec := PageRecord{
		PageRecordID:    canonical.PageRecordID(part, page, method, textSHA),
		Part:            part,
		Page:            page,
		Method:          method,
		QualityBand:     band,
		SourcePDFSHA256: pdfSHA,
		TextSHA256:      textSHA,
		CharCount:       len([]rune(strings.Join(strings.Fields(text), ""))),
		Text:            text,
	}
	split := canonical.SplitBlocks(text)
	blocks := make([]BlockRecord, 0, len(split))
	for i, b := range split {
		sha := canonical.TextSHA256(b.Text)
		blocks = append(blocks, BlockRecord{
			BlockID:      canonical.BlockID(rec.PageRecordID, i+1, sha),
			PageRecordID: rec.PageRecordID,
			Part:         part,
			Page:         page,
			Ordinal:      i + 1,
			Start:        b.Start,
			End:          b.End,
			TextSHA256:   sha,
			Text:         b.Text,
		})
	}
	return rec, blocks
}

// SortPages orders page records by part then page.
func SortPages(pages []PageRecord) {
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Part != pages[j].Part {
			return pages[i].Part < pages[j].Part
		}
		return pages[i].Page < pages[j].Page
	})
}

// ReadDecisions loads the control-plane page decisions.
func ReadDecisions(l layout.Layout) ([]Decision, error) {
	rows, err := artifact.ReadJSONL[Decision](l.PageDecisions())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, "extract", "read decisions", l.PageDecisions(), err)
	}
	return rows, nil
}

// ReadPages loads the data-plane page records.
func ReadPages(l layout.Layout) ([]PageRecord, error) {
	rows, err := artifact.ReadJSONL[PageRecord](l.PageText())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, "extract", "read page text", l.PageText(), err)
	}
	return rows, nil
}

// ReadBlocks loads the data-plane blocks grouped by page record id.
func ReadBlocks(l layout.Layout) (map[string][]BlockRecord, error) {
	rows, err := artifact.ReadJSONL[BlockRecord](l.PageBlocks())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, "extract", "read page blocks", l.PageBlocks(), err)
	}
	out := make(map[string][]BlockRecord)
	for _, b := range rows {
		out[b.PageRecordID] = append(out[b.PageRecordID], b)
	}
	return out, nil
}
