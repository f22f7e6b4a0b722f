package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"isomine/internal/anchor"
	"isomine/internal/artifact"
	"isomine/internal/config"
	"isomine/internal/extract"
	"isomine/internal/ingest"
	"isomine/internal/layout"
	"isomine/internal/logging"
	"isomine/internal/normalize"
	"isomine/internal/policy"
	"isomine/internal/services"
	"isomine/internal/state"
	"isomine/internal/verify"
)

// Options drive one replay check.
type Options struct {
	Layout layout.Layout
	State  *state.State
	Config *config.Config
	// Source reads the PDFs. Nil selects poppler from Config.
	Source extract.PageSource
	Scorer extract.QualityScorer
	// ScratchRoot receives the re-derived streams. Empty selects a temp
	// directory that is removed afterwards.
	ScratchRoot string
	Now         time.Time
	Logger      *slog.Logger
}

// Check is replay-check.json.
type Check struct {
	RunID         string                  `json:"run_id"`
	TimestampUTC  string                  `json:"timestamp_utc"`
	Pass          bool                    `json:"pass"`
	Reference     verify.ReplaySignatures `json:"reference"`
	Replayed      verify.ReplaySignatures `json:"replayed"`
	MismatchCount int                     `json:"mismatch_count"`
	Mismatches    []string                `json:"mismatches,omitempty"`
}

// Run re-runs extract, normalize and anchor from the run's ingest summary
// and compares the result with the run's current streams. The check is
// always written; any difference is ErrDeterminism.
func Run(ctx context.Context, opts Options) (Check, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.State == nil || !opts.State.Initialized() {
		return Check{}, services.Wrap(services.ErrStopCondition, "replay", "load state", "run has no state", nil)
	}
	l := opts.Layout
	runID := opts.State.Get(state.KeyRunID)

	summary, err := ingest.ReadSummary(l)
	if err != nil {
		return Check{}, err
	}
	reference, err := verify.ComputeSignatures(l, runID, summary.SourceSignature, opts.Now)
	if err != nil {
		return Check{}, err
	}

	root := opts.ScratchRoot
	if root == "" {
		root, err = os.MkdirTemp("", "isomine-replay-*")
		if err != nil {
			return Check{}, fmt.Errorf("create scratch root: %w", err)
		}
		defer os.RemoveAll(root)
	}
	scratch := layout.Layout{
		RunID:       l.RunID,
		ControlRoot: filepath.Join(root, "control"),
		RunRoot:     filepath.Join(root, "data"),
		Edition:     l.Edition,
	}
	if err := rederive(ctx, opts, scratch, summary, runID); err != nil {
		return Check{}, err
	}
	replayed, err := verify.ComputeSignatures(scratch, runID, summary.SourceSignature, opts.Now)
	if err != nil {
		return Check{}, err
	}

	check := Check{
		RunID:        runID,
		TimestampUTC: state.Timestamp(opts.Now),
		Reference:    reference,
		Replayed:     replayed,
	}
	check.Mismatches = append(check.Mismatches, replayed.Mismatches...)
	check.Mismatches = append(check.Mismatches, verify.Compare(replayed, reference)...)
	check.MismatchCount = len(check.Mismatches)
	check.Pass = check.MismatchCount == 0
	if err := artifact.WriteJSON(l.ReplayCheck(), check); err != nil {
		return check, err
	}

	logger.Info("replay check complete",
		logging.String(logging.FieldEventType, "replay_check"),
		logging.Bool("pass", check.Pass),
		logging.Int("mismatch_count", check.MismatchCount),
		logging.Int("unit_slices", replayed.UnitSlices.Records),
	)
	if !check.Pass {
		return check, services.Wrap(services.ErrDeterminism, "replay", "compare",
			fmt.Sprintf("%d stream(s) differ, first %s", check.MismatchCount, check.Mismatches[0]), nil)
	}
	return check, nil
}

func rederive(ctx context.Context, opts Options, scratch layout.Layout, summary ingest.Summary, runID string) error {
	thresholds, err := policy.LoadExtractionPolicy(opts.State.Get(state.KeyExtractionPolicyPath))
	if err != nil {
		return err
	}
	source := opts.Source
	if source == nil {
		source = extract.PopplerFromConfig(opts.Config)
	}
	edition := opts.State.Get(state.KeyEdition)
	quiet := logging.NewNop()
	workers := 0
	if opts.Config != nil {
		workers = opts.Config.Tools.MaxWorkers
	}

	extracted, err := extract.Run(ctx, extract.Options{
		RunID:      runID,
		Ingest:     summary,
		Thresholds: thresholds,
		Source:     source,
		Scorer:     opts.Scorer,
		Workers:    workers,
		Now:        opts.Now,
		Logger:     quiet,
	})
	if err != nil {
		return err
	}
	if _, err := extract.WriteOutputs(scratch, extracted); err != nil {
		return err
	}

	blocks, err := extract.ReadBlocks(scratch)
	if err != nil {
		return err
	}
	adjudications, err := normalize.ReadAdjudications(opts.Layout)
	if err != nil {
		return err
	}
	normalized, err := normalize.Run(normalize.Options{
		RunID:         runID,
		Edition:       edition,
		Pages:         extracted.Pages,
		Blocks:        blocks,
		Decisions:     extracted.Decisions,
		PageCounts:    extracted.Index.PageCounts,
		Adjudications: adjudications,
		Limits:        normalize.DefaultLimits,
		Now:           opts.Now,
		Logger:        quiet,
	})
	if err != nil {
		return err
	}
	if _, err := normalize.WriteOutputs(scratch, normalized); err != nil {
		return err
	}

	units, err := normalize.ReadUnits(scratch)
	if err != nil {
		return err
	}
	links, err := normalize.ReadLinks(scratch)
	if err != nil {
		return err
	}
	namespace := anchor.DefaultNamespace
	if opts.Config != nil && opts.Config.Corpus.AnchorNamespace != "" {
		namespace = opts.Config.Corpus.AnchorNamespace
	}
	anchored, err := anchor.Run(anchor.Options{
		RunID:     runID,
		Namespace: namespace,
		Edition:   edition,
		Units:     units,
		Links:     links,
		Now:       opts.Now,
		Logger:    quiet,
	})
	if err != nil {
		return err
	}
	_, err = anchor.WriteOutputs(scratch, anchored)
	return err
}
