package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"isomine/internal/anchor"
	"isomine/internal/artifact"
	"isomine/internal/baseline"
	"isomine/internal/fileutil"
	"isomine/internal/ingest"
	"isomine/internal/layout"
	"isomine/internal/ledger"
	"isomine/internal/logging"
	"isomine/internal/publish"
	"isomine/internal/services"
	"isomine/internal/state"
	"isomine/internal/verify"
)

// Version identifies the finalize implementation.
const Version = "finalize/v2"

// Options drive one finalize pass.
type Options struct {
	Layout        layout.Layout
	RunID         string
	Mode          string
	RequiredParts []string
	Ledger        *ledger.Store
	Now           time.Time
	Logger        *slog.Logger
}

// Report is the set of ids, hashes and counts rendered into the report
// section. It never carries unit text.
type Report struct {
	RunID               string
	TimestampUTC        string
	Mode                string
	Edition             string
	RequiredParts       []string
	MissingParts        []string
	SourceSignature     string
	AnchoredUnitCount   int
	ScopeAnchorCount    int
	PublishedRecords    int
	ShardCount          int
	PublishedParts      []string
	QueryIndexSignature string
	ProbeSignature      string
	ReplayPriorRunID    string
	SnapshotPath        string
}

// Result lists what finalize wrote.
type Result struct {
	Report Report
	Paths  []string
}

// Run gathers the stage summaries, writes the report section and the
// baseline snapshot, then marks the ledger run complete.
func Run(ctx context.Context, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	l := opts.Layout
	ts := state.Timestamp(opts.Now)

	ing, err := ingest.ReadSummary(l)
	if err != nil {
		return Result{}, err
	}
	var anchored anchor.Summary
	if err := artifact.ReadJSON(l.AnchorSummary(), &anchored); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, state.Finalize, "read anchor summary", l.AnchorSummary(), err)
	}
	var published publish.Summary
	if err := artifact.ReadJSON(l.PublishSummary(), &published); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, state.Finalize, "read publish summary", l.PublishSummary(), err)
	}
	var verified verify.Summary
	if err := artifact.ReadJSON(l.VerifySummary(), &verified); err != nil {
		return Result{}, services.Wrap(services.ErrValidation, state.Finalize, "read verify summary", l.VerifySummary(), err)
	}

	snap, err := baseline.FromRun(l, opts.RunID, ing.SourceSignature, ts)
	if err != nil {
		return Result{}, err
	}
	snapPath, err := baseline.Write(l, snap)
	if err != nil {
		return Result{}, err
	}

	report := Report{
		RunID:               opts.RunID,
		TimestampUTC:        ts,
		Mode:                opts.Mode,
		Edition:             l.Edition,
		RequiredParts:       slices.Clone(opts.RequiredParts),
		MissingParts:        slices.Clone(ing.MissingParts),
		SourceSignature:     ing.SourceSignature,
		AnchoredUnitCount:   anchored.AnchoredUnitCount,
		ScopeAnchorCount:    anchored.ScopeAnchorCount,
		PublishedRecords:    published.PublishedRecordCount,
		ShardCount:          published.ShardCount,
		PublishedParts:      slices.Clone(published.PublishedParts),
		QueryIndexSignature: verified.QueryIndexSignature,
		ProbeSignature:      verified.ProbeSignature,
		ReplayPriorRunID:    verified.ReplayPriorRunID,
		SnapshotPath:        snapPath,
	}
	if err := AppendReport(l.ReportFile(), report); err != nil {
		return Result{}, err
	}

	if opts.Ledger != nil {
		if err := opts.Ledger.MarkCompleted(ctx, opts.RunID, opts.Now); err != nil {
			return Result{}, services.Wrap(services.ErrConfiguration, state.Finalize, "ledger", "mark run completed", err)
		}
	}
	logger.Info("run finalized",
		logging.String(logging.FieldEventType, "run_finalized"),
		logging.Int("anchored_unit_count", report.AnchoredUnitCount),
		logging.Int("published_records", report.PublishedRecords),
		logging.String("snapshot", snapPath),
	)
	return Result{Report: report, Paths: []string{l.ReportFile(), snapPath}}, nil
}

func sectionMarkers(runID string) (string, string) {
	return "<!-- run:" + runID + " -->", "<!-- /run:" + runID + " -->"
}

// AppendReport adds the run section to the report file. A section already
// present for the same run is replaced in place.
func AppendReport(path string, r Report) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read report: %w", err)
	}
	section := RenderSection(r)
	begin, end := sectionMarkers(r.RunID)
	body := string(existing)
	if i := strings.Index(body, begin); i >= 0 {
		if j := strings.Index(body[i:], end); j >= 0 {
			body = body[:i] + strings.TrimSuffix(section, "\n") + body[i+j+len(end):]
			return fileutil.WriteAtomic(path, []byte(body), 0o644)
		}
	}
	if body == "" {
		body = "# Run report\n"
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return fileutil.WriteAtomic(path, []byte(body+"\n"+section), 0o644)
}

// RenderSection renders one run section.
func RenderSection(r Report) string {
	begin, end := sectionMarkers(r.RunID)
	var b strings.Builder
	b.WriteString(begin + "\n")
	fmt.Fprintf(&b, "## Run %s\n\n", r.RunID)
	row := func(key, value string) {
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(&b, "| %s | %s |\n", key, value)
	}
	b.WriteString("| key | value |\n|---|---|\n")
	row("finalized_at_utc", r.TimestampUTC)
	row("mode", r.Mode)
	row("edition", r.Edition)
	row("required_parts", strings.Join(r.RequiredParts, ","))
	row("missing_parts", strings.Join(r.MissingParts, ","))
	row("published_parts", strings.Join(r.PublishedParts, ","))
	row("source_signature", r.SourceSignature)
	row("anchored_unit_count", fmt.Sprint(r.AnchoredUnitCount))
	row("scope_anchor_count", fmt.Sprint(r.ScopeAnchorCount))
	row("published_record_count", fmt.Sprint(r.PublishedRecords))
	row("shard_count", fmt.Sprint(r.ShardCount))
	row("query_index_signature", r.QueryIndexSignature)
	row("probe_signature", r.ProbeSignature)
	row("replay_prior_run_id", r.ReplayPriorRunID)
	row("baseline_snapshot", r.SnapshotPath)
	b.WriteString(end + "\n")
	return b.String()
}
