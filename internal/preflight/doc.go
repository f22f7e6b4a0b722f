// Package preflight provides readiness checks for the filesystem roots,
// policy documents, run ledger and poppler binaries the pipeline depends on.
//
// The CLI doctor command runs every check and prints one row per result.
// Stage dispatch does not run them; a stage fails with its own error kind
// when the resource it needs is unusable.
package preflight
