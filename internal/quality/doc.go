// Package quality scores a run's unit and anchor artifacts against a named
// threshold profile.
//
// Metrics are computed from persisted unit slices, anchor links and
// anchored units only; the source documents are never re-read. Every
// percentage is clamped to [0,100] with a defined value for empty inputs,
// so a run with no list items scores 100% on list conformance. The
// scorecard rolls per-metric threshold results into categories, and a run
// passes only when every metric, category and required part passes.
//
// The pathology signals (fragment rates, singleton pages, cross-type
// provenance overlap) are reported but not gated; they exist to make
// segmentation regressions visible between runs.
package quality
