package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"isomine/internal/config"
	"isomine/internal/deps"
	"isomine/internal/ledger"
	"isomine/internal/policy"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckPolicies loads each policy document through the same validating
// loaders the stages use.
func CheckPolicies(cfg *config.Config) []Result {
	results := []Result{
		checkDocument("Relevant policy", cfg.Policies.RelevantPolicy, func(p string) (string, error) {
			doc, err := policy.LoadRelevantPolicy(p)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d parts in scope", len(doc.Parts())), nil
		}),
		checkDocument("Source PDF set", cfg.Policies.SourcePDFSet, func(p string) (string, error) {
			doc, err := policy.LoadSourcePDFSet(p)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d parts declared", len(doc.Parts)), nil
		}),
		checkDocument("Extraction policy", cfg.Policies.ExtractionPolicy, func(p string) (string, error) {
			_, err := policy.LoadExtractionPolicy(p)
			return "valid", err
		}),
	}
	if cfg.Policies.ThresholdProfile != "" {
		results = append(results, checkDocument("Threshold profile", cfg.Policies.ThresholdProfile, func(p string) (string, error) {
			_, err := policy.LoadThresholdProfile(p)
			return "valid", err
		}))
	}
	return results
}

func checkDocument(name, path string, load func(string) (string, error)) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	detail, err := load(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, detail)}
}

// CheckLedger opens the run ledger, applying pending migrations, and counts
// recorded runs.
func CheckLedger(ctx context.Context, path string) Result {
	const name = "Run ledger"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := ledger.Open(checkCtx, path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()
	runs, err := store.ListRuns(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d runs)", path, len(runs))}
}

// CheckSystemDeps evaluates the poppler binaries the extract stage shells
// out to. pdftoppm only feeds ink measurement and is optional.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "pdftotext",
			Command:     cfg.Tools.PDFToText,
			Description: "Required for page text extraction",
		},
		{
			Name:        "pdfinfo",
			Command:     deps.ResolvePopplerTool(cfg.Tools.PDFToText, cfg.Tools.PDFInfo, "pdfinfo"),
			Description: "Required for page counts",
		},
		{
			Name:        "pdftoppm",
			Command:     deps.ResolvePopplerTool(cfg.Tools.PDFToText, cfg.Tools.PDFToPPM, "pdftoppm"),
			Description: "Enables ink coverage measurement for blank-page detection",
			Optional:    true,
		},
	}
	return deps.CheckBinaries(requirements)
}
