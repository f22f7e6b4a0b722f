package extract

import (
	"unicode"

	"isomine/internal/policy"
)

// OCR quality bands.
const (
	BandPass        = "pass"
	BandNeedsReview = "needs_review"
	BandFail        = "fail"
)

// OCRAssessment grades a fallback page.
type OCRAssessment struct {
	Scorer                string   `json:"scorer"`
	QualityBand           string   `json:"quality_band"`
	CharCount             int      `json:"char_count"`
	OrientationConfidence float64  `json:"orientation_confidence"`
	ReasonCodes           []string `json:"reason_codes"`
	ParserError           bool     `json:"parser_error"`
}

// FallbackSample is what a scorer sees of a fallback page.
type FallbackSample struct {
	Part        string
	Page        int
	Text        string
	ParserError bool
	Primary     Decision
}

// QualityScorer assigns a quality band to a fallback page.
type QualityScorer interface {
	Name() string
	Score(FallbackSample) OCRAssessment
}

// CharBandScorer bands pages on non-space character count. Its orientation
// confidence is synthetic: 0.95 for pages with text, 0 otherwise.
type CharBandScorer struct {
	PassMinChars   int
	ReviewMinChars int
	OrientationMin float64
}

// NewCharBandScorer builds the default scorer from policy thresholds.
func NewCharBandScorer(th policy.Thresholds) CharBandScorer {
	return CharBandScorer{
		PassMinChars:   th.OCRPassMinChars,
		ReviewMinChars: th.OCRReviewMinChars,
		OrientationMin: th.OrientationConfidenceMin,
	}
}

func (CharBandScorer) Name() string { return "char_band_v1" }

// Score grades sample.
func (s CharBandScorer) Score(sample FallbackSample) OCRAssessment {
	chars := nonSpaceCount(sample.Text)
	orientation := 0.0
	if chars > 0 {
		orientation = 0.95
	}

	band := BandFail
	switch {
	case sample.ParserError:
	case chars >= s.PassMinChars:
		band = BandPass
	case chars >= s.ReviewMinChars:
		band = BandNeedsReview
	}
	if band == BandPass && orientation < s.OrientationMin {
		band = BandNeedsReview
	}
	// Garbled primary text is not trusted to pass unreviewed even when the
	// raw re-read is long.
	if band == BandPass && (hasReason(sample.Primary.ReasonCodes, ReasonReplacementCharRatio) ||
		hasReason(sample.Primary.ReasonCodes, ReasonControlCharRatio)) {
		band = BandNeedsReview
	}

	reasons := append([]string{}, sample.Primary.ReasonCodes...)
	return OCRAssessment{
		Scorer:                s.Name(),
		QualityBand:           band,
		CharCount:             chars,
		OrientationConfidence: orientation,
		ReasonCodes:           reasons,
		ParserError:           sample.ParserError,
	}
}

func nonSpaceCount(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
