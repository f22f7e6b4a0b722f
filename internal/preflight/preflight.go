package preflight

import (
	"context"

	"isomine/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable preflight check for the given config.
// Optional documents are checked only when configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("PDF root", cfg.Paths.PDFRoot),
		CheckDirectoryAccess("Runs root", cfg.Paths.RunsRoot),
		CheckDirectoryAccess("Control dir", cfg.Paths.ControlDir),
		CheckDirectoryAccess("Corpus root", cfg.Paths.CorpusRoot),
		CheckDirectoryAccess("Index root", cfg.Paths.IndexRoot),
	}
	results = append(results, CheckPolicies(cfg)...)
	if cfg.Paths.LedgerPath != "" {
		results = append(results, CheckLedger(ctx, cfg.Paths.LedgerPath))
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
