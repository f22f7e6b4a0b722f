// Package anchor assigns deterministic anchor identifiers to normalized
// units and resolves each unit's section, clause and table scope anchors.
//
// Anchoring enforces the bijection between units, anchored records and
// anchor-text links: every unit receives exactly one anchor, no anchor is
// shared, and the three record counts agree. A violation is a determinism
// failure, never a data-quality finding.
package anchor
