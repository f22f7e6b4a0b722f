// Package finalize closes a run: it appends the run report section, writes
// the baseline snapshot later runs compare against, marks the run complete
// in the ledger and releases the run lock.
package finalize
