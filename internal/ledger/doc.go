// Package ledger persists cross-run history in SQLite: run registrations,
// stage events, replay signatures and quality scorecards.
//
// Run directories are self-contained; the ledger only answers questions that
// span runs, such as which prior run shares a source input signature or which
// completed run is the quality baseline. Schema changes are added as numbered
// files under migrations/ and applied in order on Open.
package ledger
