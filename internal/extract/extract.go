package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/ingest"
	"isomine/internal/layout"
	"isomine/internal/logging"
	"isomine/internal/policy"
	"isomine/internal/services"
	"isomine/internal/state"
)

// DefaultWorkers bounds concurrent page reads when Options.Workers is unset.
const DefaultWorkers = 4

// PageSource reads page counts and page text from a PDF.
type PageSource interface {
	PageCount(ctx context.Context, path string) (int, error)
	PageText(ctx context.Context, path string, page int, mode string) (string, error)
}

// Options drive one extraction pass.
type Options struct {
	RunID      string
	Ingest     ingest.Summary
	Thresholds policy.Thresholds
	Source     PageSource
	Scorer     QualityScorer
	// Workers bounds concurrent page reads. Zero selects DefaultWorkers.
	Workers int
	Now     time.Time
	Logger  *slog.Logger
}

// PartSummary counts page outcomes of one part.
type PartSummary struct {
	Pages                  int            `json:"pages"`
	HardFailPages          int            `json:"hard_fail_pages"`
	PrimaryPages           int            `json:"primary_pages"`
	FallbackCandidatePages int            `json:"fallback_candidate_pages"`
	Bands                  map[string]int `json:"ocr_bands"`
}

// Summary is extract-summary.json.
type Summary struct {
	RunID         string                 `json:"run_id"`
	TimestampUTC  string                 `json:"timestamp_utc"`
	PolicyID      string                 `json:"policy_id"`
	Scorer        string                 `json:"scorer"`
	SchemaVersion string                 `json:"schema_version"`
	Parts         map[string]PartSummary `json:"parts"`
	DecisionCount int                    `json:"decision_count"`
}

// Output is everything one pass produces.
type Output struct {
	Summary    Summary
	Decisions  []Decision
	Pages      []PageRecord
	Blocks     []BlockRecord
	Signatures []PageSignature
	Index      PageIndex
}

// Run extracts every page of every resolved part in sorted part order.
func Run(ctx context.Context, opts Options) (Output, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = NewCharBandScorer(opts.Thresholds)
	}
	out := Output{
		Summary: Summary{
			RunID:         opts.RunID,
			TimestampUTC:  state.Timestamp(opts.Now),
			PolicyID:      opts.Thresholds.PolicyID,
			Scorer:        scorer.Name(),
			SchemaVersion: SchemaVersion,
			Parts:         map[string]PartSummary{},
		},
		Index: PageIndex{RunID: opts.RunID, SchemaVersion: SchemaVersion, PageCounts: map[string]int{}},
	}

	for _, part := range opts.Ingest.Parts() {
		resolved := opts.Ingest.ResolvedParts[part]
		if _, err := os.Stat(resolved.ResolvedPath); err != nil {
			return Output{}, services.Wrap(services.ErrSource, "extract", "open",
				fmt.Sprintf("resolved PDF missing for %s: %s", part, resolved.ResolvedPath), err)
		}
		pages, err := opts.Source.PageCount(ctx, resolved.ResolvedPath)
		if err != nil {
			return Output{}, err
		}
		ps := PartSummary{Pages: pages, Bands: map[string]int{}}
		extracted, err := extractPages(ctx, opts, scorer, part, pages, resolved.ResolvedPath, logger)
		if err != nil {
			return Output{}, err
		}
		for i, r := range extracted {
			page, decision, text := i+1, r.decision, r.text
			if decision.Fallback() {
				ps.HardFailPages++
				ps.Bands[decision.Band()]++
			}
			rec, blocks := NewPageRecord(part, page, decision.Method, decision.Band(), resolved.SHA256, text)
			out.Decisions = append(out.Decisions, decision)
			out.Pages = append(out.Pages, rec)
			out.Blocks = append(out.Blocks, blocks...)
			sig, err := signPage(rec, blocks)
			if err != nil {
				return Output{}, err
			}
			out.Signatures = append(out.Signatures, sig)
			out.Index.Pages = append(out.Index.Pages, PageIndexEntry{
				Part: part, Page: page, PageRecordID: rec.PageRecordID, Method: rec.Method,
				QualityBand: rec.QualityBand, BlockCount: len(blocks), TextSHA256: rec.TextSHA256,
			})
		}
		ps.PrimaryPages = pages - ps.HardFailPages
		ps.FallbackCandidatePages = ps.HardFailPages
		out.Summary.Parts[part] = ps
		out.Index.PageCounts[part] = pages
		logger.Info("part extracted",
			logging.String(logging.FieldPart, part),
			logging.Int("pages", pages),
			logging.Int("fallback_pages", ps.HardFailPages),
		)
	}
	out.Summary.DecisionCount = len(out.Decisions)
	return out, nil
}

type pageResult struct {
	decision Decision
	text     string
}

// extractPages reads the pages of one part on up to opts.Workers poppler
// processes. Results are slotted by page so assembly order never depends on
// scheduling.
func extractPages(ctx context.Context, opts Options, scorer QualityScorer, part string, pages int, path string, logger *slog.Logger) ([]pageResult, error) {
	results := make([]pageResult, pages)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(opts.Workers))
	for page := 1; page <= pages; page++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			decision, text := extractPage(gctx, opts, scorer, part, page, path, logger)
			results[page-1] = pageResult{decision: decision, text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func workers(n int) int {
	if n <= 0 {
		return DefaultWorkers
	}
	return n
}

func extractPage(ctx context.Context, opts Options, scorer QualityScorer, part string, page int, path string, logger *slog.Logger) (Decision, string) {
	text, err := opts.Source.PageText(ctx, path, page, ModeLayout)
	parserError := err != nil
	if parserError {
		logger.Debug("primary extraction failed",
			logging.String(logging.FieldPart, part), logging.Int(logging.FieldPage, page), logging.Error(err))
		text = ""
	}
	decision := Decide(part, page, text, parserError, inkCoverage(ctx, opts.Source, path, page, text), opts.Thresholds)
	if !decision.Fallback() {
		return decision, text
	}

	raw, rawErr := opts.Source.PageText(ctx, path, page, ModeRaw)
	if rawErr != nil {
		raw = ""
	}
	assessment := scorer.Score(FallbackSample{
		Part: part, Page: page, Text: raw, ParserError: rawErr != nil, Primary: decision,
	})
	decision.OCR = &assessment
	logger.Debug("page routed to fallback",
		logging.String(logging.FieldPart, part),
		logging.Int(logging.FieldPage, page),
		logging.Any("reason_codes", decision.ReasonCodes),
		logging.String("quality_band", assessment.QualityBand),
	)
	return decision, raw
}

// InkMeter measures the fraction of a rendered page covered by ink.
type InkMeter interface {
	InkCoverage(ctx context.Context, path string, page int) (float64, error)
}

func inkCoverage(ctx context.Context, source PageSource, path string, page int, text string) float64 {
	if meter, ok := source.(InkMeter); ok {
		if ink, err := meter.InkCoverage(ctx, path, page); err == nil {
			return ink
		}
	}
	return StandInInk(text)
}

func signPage(rec PageRecord, blocks []BlockRecord) (PageSignature, error) {
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.BlockID
	}
	sum, err := canonical.Checksum(ids)
	if err != nil {
		return PageSignature{}, err
	}
	return PageSignature{
		Part: rec.Part, Page: rec.Page, PageRecordID: rec.PageRecordID,
		TextSHA256: rec.TextSHA256, BlockCount: len(blocks), BlockSignature: sum,
	}, nil
}

// WriteOutputs persists out and returns every written path.
func WriteOutputs(l layout.Layout, out Output) ([]string, error) {
	dataSummary := l.DataStageFile(state.Extract, "extract-summary.json")
	dataDecisions := l.DataStageFile(state.Extract, "extract-page-decisions.jsonl")
	steps := []struct {
		path  string
		write func(string) error
	}{
		{l.ExtractSummary(), func(p string) error { return artifact.WriteJSON(p, out.Summary) }},
		{dataSummary, func(p string) error { return artifact.WriteJSON(p, out.Summary) }},
		{l.PageDecisions(), func(p string) error { return artifact.WriteJSONL(p, out.Decisions) }},
		{dataDecisions, func(p string) error { return artifact.WriteJSONL(p, out.Decisions) }},
		{l.PageText(), func(p string) error { return artifact.WriteJSONL(p, out.Pages) }},
		{l.PageBlocks(), func(p string) error { return artifact.WriteJSONL(p, out.Blocks) }},
		{l.PageIndex(), func(p string) error { return artifact.WriteJSON(p, out.Index) }},
		{l.PageSignatures(), func(p string) error { return artifact.WriteJSONL(p, out.Signatures) }},
	}
	paths := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := step.write(step.path); err != nil {
			return nil, err
		}
		paths = append(paths, step.path)
	}
	return paths, nil
}
