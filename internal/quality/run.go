package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"isomine/internal/anchor"
	"isomine/internal/artifact"
	"isomine/internal/baseline"
	"isomine/internal/canonical"
	"isomine/internal/layout"
	"isomine/internal/ledger"
	"isomine/internal/logging"
	"isomine/internal/normalize"
	"isomine/internal/services"
	"isomine/internal/verify"
)

// Options drive one quality evaluation.
type Options struct {
	Layout        layout.Layout
	RunID         string
	Mode          string
	RequiredParts []string
	Profile       Profile
	GoldsetPath   string
	Ledger        *ledger.Store
	// TextfilePath is an additional node-exporter textfile target.
	TextfilePath string
	Now          time.Time
	Logger       *slog.Logger
}

// Result is the evaluated scorecard and the files written for it.
type Result struct {
	Scorecard Scorecard
	Paths     []string
}

// ReadInputs loads the artifacts a run's metrics are computed from. The
// replay signatures are optional.
func ReadInputs(l layout.Layout) (Inputs, error) {
	var in Inputs
	var err error
	if in.Slices, err = normalize.ReadSlices(l); err != nil {
		return in, err
	}
	if in.Links, err = anchor.ReadLinks(l); err != nil {
		return in, err
	}
	if in.Anchored, err = anchor.ReadUnits(l); err != nil {
		return in, err
	}
	summary, err := normalize.ReadSummary(l)
	if err != nil {
		return in, err
	}
	in.Summary = &summary
	if _, statErr := os.Stat(l.ReplaySignatures()); statErr == nil {
		sigs, err := verify.ReadSignatures(l)
		if err != nil {
			return in, err
		}
		in.Replay = &sigs
	}
	return in, nil
}

// ReadGoldset loads the boundary goldset fixture.
func ReadGoldset(path string) ([]GoldsetRow, error) {
	rows, err := artifact.ReadJSONL[GoldsetRow](path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "quality", "boundary goldset", path, err)
	}
	return rows, nil
}

// Run computes the metrics, compares them with the baseline run, writes
// the scorecard and gauges and records the scorecard in the ledger. A
// failing scorecard is ErrQualityGate.
func Run(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	l := opts.Layout
	profile := opts.Profile
	if profile.Thresholds == nil {
		profile = DefaultProfile()
	}
	var res Result

	in, err := ReadInputs(l)
	if err != nil {
		return res, err
	}
	in.RequiredParts = opts.RequiredParts
	if opts.GoldsetPath != "" {
		in.GoldsetRequired = true
		if in.Goldset, err = ReadGoldset(opts.GoldsetPath); err != nil {
			return res, err
		}
	}
	report, err := Compute(in)
	if err != nil {
		return res, err
	}

	baselineRunID, baselineReport := resolveBaseline(ctx, opts, logger)
	card, err := BuildScorecard(opts.RunID, baselineRunID, opts.Mode, report, profile, opts.Now)
	if err != nil {
		return res, err
	}
	card.BaselineMetrics = baselineReport
	res.Scorecard = card

	if err := artifact.WriteJSON(l.Scorecard(), card); err != nil {
		return res, err
	}
	res.Paths = append(res.Paths, l.Scorecard())
	if card.OverallPass {
		if err := os.Remove(l.QualityAnomalies()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return res, err
		}
	} else {
		if err := artifact.WriteJSONL(l.QualityAnomalies(), card.Anomalies()); err != nil {
			return res, err
		}
		res.Paths = append(res.Paths, l.QualityAnomalies())
	}
	targets := []string{l.MetricsTextfile()}
	if opts.TextfilePath != "" {
		targets = append(targets, opts.TextfilePath)
	}
	for _, path := range targets {
		if err := WriteTextfile(path, card); err != nil {
			return res, err
		}
		res.Paths = append(res.Paths, path)
	}

	if opts.Ledger != nil {
		doc, err := canonical.Marshal(card)
		if err != nil {
			return res, err
		}
		err = opts.Ledger.RecordScorecard(ctx, ledger.Scorecard{
			RunID: opts.RunID, ProfileID: profile.ID, BaselineRunID: baselineRunID,
			InputSignature: card.InputSignature, OverallPass: card.OverallPass, JSON: string(doc), CreatedAt: opts.Now,
		})
		if err != nil {
			return res, fmt.Errorf("record scorecard: %w", err)
		}
	}

	logger.Info("quality scorecard evaluated",
		logging.String("profile_id", profile.ID),
		logging.String("baseline_run_id", baselineRunID),
		logging.Bool("overall_pass", card.OverallPass),
		logging.String("input_signature", card.InputSignature),
	)
	if !card.OverallPass {
		failing := card.Anomalies()
		first := "percent bounds"
		if len(failing) > 0 {
			first = failing[0].Scope + "/" + failing[0].Check
		}
		return res, services.Wrap(services.ErrQualityGate, "quality", "scorecard",
			fmt.Sprintf("%d failing check(s), first %s", len(failing), first), nil)
	}
	return res, nil
}

// resolveBaseline scores the latest completed run other than the current
// one from its snapshot. A missing baseline is reported, not fatal.
func resolveBaseline(ctx context.Context, opts Options, logger *slog.Logger) (string, *Report) {
	if opts.Ledger == nil {
		return "", nil
	}
	prior, err := opts.Ledger.LatestCompleted(ctx, opts.RunID)
	if err != nil {
		logger.Warn("baseline lookup failed", logging.Error(err))
		return "", nil
	}
	if prior == nil {
		return "", nil
	}
	bl := layout.Layout{RunID: prior.RunID, ControlRoot: prior.ControlRoot, RunRoot: prior.RunRoot, Edition: prior.Edition}
	snap, err := baseline.Read(bl)
	if err != nil {
		logging.WarnWithContext(logger, "baseline snapshot unavailable", "baseline_missing",
			logging.String("baseline_run_id", prior.RunID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "scorecard carries no baseline metrics"),
		)
		return prior.RunID, nil
	}
	report, err := Compute(Inputs{Slices: snap.Slices, Links: snap.Links, Anchored: snap.Units, RequiredParts: opts.RequiredParts})
	if err != nil {
		logger.Warn("baseline metrics failed", logging.Error(err))
		return prior.RunID, nil
	}
	return prior.RunID, &report
}

// WriteTextfile exports the scorecard as Prometheus gauges in the
// node-exporter textfile format.
func WriteTextfile(path string, card Scorecard) error {
	reg := prometheus.NewRegistry()
	metric := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "isomine", Subsystem: "quality", Name: "metric",
		Help: "Quality metric value by scope and dotted metric name.",
	}, []string{"run_id", "scope", "metric"})
	threshold := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "isomine", Subsystem: "quality", Name: "threshold_pass",
		Help: "1 when the threshold check passes.",
	}, []string{"run_id", "check"})
	category := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "isomine", Subsystem: "quality", Name: "category_pass",
		Help: "1 when every check of the category passes.",
	}, []string{"run_id", "category"})
	overall := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "isomine", Subsystem: "quality", Name: "overall_pass",
		Help: "1 when the scorecard passes.",
	}, []string{"run_id"})
	reg.MustRegister(metric, threshold, category, overall)

	scopes := map[string]Metrics{"overall": card.Metrics.Metrics}
	for part, m := range card.Metrics.ByPart {
		scopes[part] = m
	}
	for _, scope := range sortedKeys(scopes) {
		samples, err := Flatten(scopes[scope])
		if err != nil {
			return err
		}
		for _, s := range samples {
			metric.WithLabelValues(card.RunID, scope, s.Name).Set(s.Value)
		}
	}
	for name, ok := range card.ThresholdResults {
		threshold.WithLabelValues(card.RunID, name).Set(boolGauge(ok))
	}
	for name, c := range card.Categories {
		category.WithLabelValues(card.RunID, name).Set(boolGauge(c.Pass))
	}
	overall.WithLabelValues(card.RunID).Set(boolGauge(card.OverallPass))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}

func boolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
