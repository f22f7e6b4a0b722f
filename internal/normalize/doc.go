// Package normalize segments extracted page text into typed units.
//
// Each page's blocks are folded to a canonical Unicode form and classified
// by an ordered list of named line rules. License text, boilerplate, running
// headers, page numbers and lines repeating across a part are stripped. The
// surviving lines are regrouped into paragraph, list_bullet and table_cell
// candidates while a scope tracker follows section, clause and table
// context. Candidates that fail the contamination filter are dropped, and a
// page-fallback paragraph guarantees that every page yields at least one
// unit.
//
// Control-plane outputs carry only identifiers, hashes and counters. Unit
// text is written to the data plane.
package normalize
