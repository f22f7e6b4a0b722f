package extract

import (
	"regexp"
	"strings"
	"unicode"

	"isomine/internal/policy"
)

// Extraction methods.
const (
	MethodPrimary     = "primary"
	MethodOCRFallback = "ocr_fallback"
)

// Reason codes routing a page to the fallback path.
const (
	ReasonZeroTextNonBlank     = "primary_zero_text_nonblank"
	ReasonLowCharTextBearing   = "primary_low_char_count_text_bearing"
	ReasonReplacementCharRatio = "primary_replacement_char_ratio_high"
	ReasonControlCharRatio     = "primary_control_char_ratio_high"
	ReasonParserError          = "primary_parser_error"
)

// PageSignals are the primary-pass measurements of one page.
type PageSignals struct {
	InkCoverageRatio           float64 `json:"ink_coverage_ratio"`
	NonBlank                   bool    `json:"non_blank"`
	ExtractedCharCount         int     `json:"extracted_char_count"`
	PDFTextObjectCount         int     `json:"pdf_text_object_count"`
	LayoutTextRegionCount      int     `json:"layout_text_region_count"`
	ListOrTableTextMarkerCount int     `json:"list_or_table_text_marker_count"`
	ReplacementCharRatio       float64 `json:"replacement_char_ratio"`
	ControlCharRatio           float64 `json:"control_char_ratio"`
	TextBearingExpected        bool    `json:"text_bearing_expected"`
	ParserError                bool    `json:"parser_error"`
}

// Decision is one row of extract-page-decisions.jsonl.
type Decision struct {
	Part string `json:"part"`
	Page int    `json:"page"`
	PageSignals
	Method      string         `json:"method"`
	ReasonCodes []string       `json:"reason_codes"`
	OCR         *OCRAssessment `json:"ocr,omitempty"`
}

// Fallback reports whether the page left the primary path.
func (d Decision) Fallback() bool { return d.Method == MethodOCRFallback }

// Band returns the OCR quality band, or "" for primary pages.
func (d Decision) Band() string {
	if d.OCR == nil {
		return ""
	}
	return d.OCR.QualityBand
}

var markerPattern = regexp.MustCompile(`(?m)(^\s*(?:[-*]|\d+[.)]|[A-Za-z][.)]))|\|`)

// InkCoverageStandIn is the coverage assumed for a page that produced text
// when no rasterizer is available to measure it.
const InkCoverageStandIn = 0.02

// StandInInk approximates ink coverage from extracted text alone.
func StandInInk(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return InkCoverageStandIn
}

// Measure computes the primary-pass signals of text given the page's ink
// coverage ratio.
func Measure(text string, parserError bool, ink float64, th policy.Thresholds) PageSignals {
	var chars, replacement, control int
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			continue
		case r == '\ufffd':
			replacement++
		case r < 32:
			control++
		}
		chars++
	}
	s := PageSignals{ExtractedCharCount: chars, ParserError: parserError, InkCoverageRatio: ink}
	if chars > 0 {
		s.ReplacementCharRatio = float64(replacement) / float64(chars)
		s.ControlCharRatio = float64(control) / float64(chars)
		s.PDFTextObjectCount = chars/40 + 1
		s.LayoutTextRegionCount = 1
	}
	s.ListOrTableTextMarkerCount = len(markerPattern.FindAllStringIndex(text, -1))
	s.NonBlank = ink >= th.NonBlankInkCoverageRatioMin
	s.TextBearingExpected = s.PDFTextObjectCount >= 3 || s.LayoutTextRegionCount >= 1 || s.ListOrTableTextMarkerCount >= 1
	return s
}

// Reasons lists the hard-fail reason codes for s in a fixed order.
func Reasons(s PageSignals, th policy.Thresholds) []string {
	reasons := []string{}
	if s.NonBlank && s.ExtractedCharCount == 0 {
		reasons = append(reasons, ReasonZeroTextNonBlank)
	}
	if s.NonBlank && s.TextBearingExpected && s.ExtractedCharCount < th.PrimaryLowCharCountThreshold {
		reasons = append(reasons, ReasonLowCharTextBearing)
	}
	if s.ReplacementCharRatio > th.ReplacementCharRatioMax {
		reasons = append(reasons, ReasonReplacementCharRatio)
	}
	if s.ControlCharRatio > th.ControlCharRatioMax {
		reasons = append(reasons, ReasonControlCharRatio)
	}
	if s.ParserError {
		reasons = append(reasons, ReasonParserError)
	}
	return reasons
}

// Decide scores a page's primary text and picks its method.
func Decide(part string, page int, text string, parserError bool, ink float64, th policy.Thresholds) Decision {
	signals := Measure(text, parserError, ink, th)
	reasons := Reasons(signals, th)
	method := MethodPrimary
	if len(reasons) > 0 {
		method = MethodOCRFallback
	}
	return Decision{Part: part, Page: page, PageSignals: signals, Method: method, ReasonCodes: reasons}
}

// hasReason reports whether code is among reasons.
func hasReason(reasons []string, code string) bool {
	for _, r := range reasons {
		if strings.EqualFold(r, code) {
			return true
		}
	}
	return false
}
