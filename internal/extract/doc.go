// Package extract turns each resolved source part into per-page text records.
//
// Every page is read with pdftotext in layout mode and scored against the
// extraction policy. A page that is non-blank but empty, suspiciously short
// for a text-bearing page, dominated by replacement or control characters, or
// that the tool failed on is routed to the fallback path: it is re-read in raw
// mode and graded by a QualityScorer into pass, needs_review or fail. The
// fallback is a policy classifier over character statistics, not an OCR
// engine.
//
// Page text and blocks go to the data plane; decisions and summaries, which
// carry no prose, go to both planes.
package extract
