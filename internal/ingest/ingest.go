package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/fileutil"
	"isomine/internal/layout"
	"isomine/internal/logging"
	"isomine/internal/policy"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Hash statuses.
const (
	HashLocked  = "LOCKED"
	HashPending = "PENDING"
)

// Options select the run's sources and switches.
type Options struct {
	RunID                string
	Mode                 string
	PDFRoot              string
	SourcePDFSetPath     string
	RelevantPolicyPath   string
	ExtractionPolicyPath string
	RequiredParts        []string
	LockSourceHashes     bool
	AllowPartialScope    bool
	Now                  time.Time
	Logger               *slog.Logger
}

// ResolvedPart records how one part was found.
type ResolvedPart struct {
	HashStatus   string `json:"hash_status"`
	ResolvedPath string `json:"resolved_path"`
	SHA256       string `json:"sha256"`
	MatchMode    string `json:"match_mode"`
}

// Summary is ingest-summary.json.
type Summary struct {
	RunID                     string                  `json:"run_id"`
	Mode                      string                  `json:"mode"`
	RequiredParts             []string                `json:"required_parts"`
	MissingParts              []string                `json:"missing_parts"`
	PDFRoot                   string                  `json:"pdf_root"`
	SourcePDFSetPath          string                  `json:"source_pdfset_path"`
	RelevantPolicyPath        string                  `json:"relevant_policy_path"`
	ExtractionPolicyPath      string                  `json:"extraction_policy_path"`
	ResolvedParts             map[string]ResolvedPart `json:"resolved_parts"`
	RequiredPartsCompleteness string                  `json:"required_parts_completeness"`
	PendingHashes             int                     `json:"pending_hashes"`
	SourceSignature           string                  `json:"source_signature"`
	TimestampUTC              string                  `json:"timestamp_utc"`
}

// Parts returns the resolved part names in sorted order.
func (s Summary) Parts() []string {
	out := make([]string, 0, len(s.ResolvedParts))
	for part := range s.ResolvedParts {
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}

// Evidence is source-hash-evidence.json.
type Evidence struct {
	RunID         string            `json:"run_id"`
	RequiredParts []string          `json:"required_parts"`
	Hashes        map[string]string `json:"hashes"`
	TimestampUTC  string            `json:"timestamp_utc"`
}

// Resolve performs part discovery and hash verification without writing run
// artifacts. The source set is rewritten only when PENDING hashes are locked.
func Resolve(ctx context.Context, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	relevant, err := policy.LoadRelevantPolicy(opts.RelevantPolicyPath)
	if err != nil {
		return Summary{}, err
	}
	required := opts.RequiredParts
	if len(required) == 0 {
		required = relevant.Parts()
	}
	set, err := policy.LoadSourcePDFSet(opts.SourcePDFSetPath)
	if err != nil {
		return Summary{}, err
	}
	inventory, err := Inventory(opts.PDFRoot)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		RunID:                opts.RunID,
		Mode:                 opts.Mode,
		RequiredParts:        append([]string(nil), required...),
		MissingParts:         []string{},
		PDFRoot:              opts.PDFRoot,
		SourcePDFSetPath:     opts.SourcePDFSetPath,
		RelevantPolicyPath:   opts.RelevantPolicyPath,
		ExtractionPolicyPath: opts.ExtractionPolicyPath,
		ResolvedParts:        make(map[string]ResolvedPart, len(required)),
		TimestampUTC:         state.Timestamp(opts.Now),
	}
	toLock := map[string]string{}

	for _, part := range required {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		decl, ok := set.Part(part)
		if !ok {
			return Summary{}, services.Wrap(services.ErrConfiguration, "ingest", "resolve",
				fmt.Sprintf("missing %s in %s", part, opts.SourcePDFSetPath), nil)
		}
		path, mode, err := ResolvePart(decl, opts.PDFRoot, inventory)
		if err != nil {
			var missing *ErrPartMissing
			if opts.AllowPartialScope && errors.As(err, &missing) {
				logging.WarnWithContext(logger, "required part missing", "partial_scope",
					logging.String(logging.FieldPart, part),
					logging.String(logging.FieldImpact, "part excluded from this run"),
					logging.String(logging.FieldErrorHint, "add the PDF under the pdf root and start a new run"),
				)
				summary.MissingParts = append(summary.MissingParts, part)
				continue
			}
			return Summary{}, err
		}
		observed, err := fileutil.HashFile(path)
		if err != nil {
			return Summary{}, services.Wrap(services.ErrSource, "ingest", "hash", path, err)
		}

		declared := strings.TrimSpace(decl.SHA256)
		if declared == policy.PendingHash {
			if !opts.LockSourceHashes {
				return Summary{}, services.Wrap(services.ErrSource, "ingest", "verify hash",
					fmt.Sprintf("required part %s hash is PENDING outside --lock-source-hashes flow", part), nil)
			}
			toLock[part] = observed
			declared = observed
		}
		if declared != observed {
			return Summary{}, services.Wrap(services.ErrSource, "ingest", "verify hash",
				fmt.Sprintf("hash mismatch for %s: declared=%s observed=%s path=%s", part, declared, observed, path), nil)
		}

		summary.ResolvedParts[part] = ResolvedPart{
			HashStatus:   HashLocked,
			ResolvedPath: path,
			SHA256:       observed,
			MatchMode:    mode,
		}
		logger.Info("part resolved",
			logging.String(logging.FieldPart, part),
			logging.String("match_mode", mode),
			logging.String(logging.FieldPath, path),
		)
	}

	if len(toLock) > 0 {
		if err := policy.LockSourceHashes(opts.SourcePDFSetPath, toLock); err != nil {
			return Summary{}, err
		}
		logger.Info("source hashes locked", logging.Int("parts", len(toLock)), logging.String(logging.FieldPath, opts.SourcePDFSetPath))
	}

	for _, info := range summary.ResolvedParts {
		if info.HashStatus != HashLocked {
			summary.PendingHashes++
		}
	}
	summary.RequiredPartsCompleteness = fmt.Sprintf("%d/%d", len(summary.ResolvedParts), len(required))
	sig, err := SourceSignature(summary.ResolvedParts)
	if err != nil {
		return Summary{}, err
	}
	summary.SourceSignature = sig
	return summary, nil
}

// SourceSignature hashes the sorted part:sha256 pairs of resolved parts.
func SourceSignature(parts map[string]ResolvedPart) (string, error) {
	pairs := make([]string, 0, len(parts))
	for part, info := range parts {
		pairs = append(pairs, part+":"+info.SHA256)
	}
	sort.Strings(pairs)
	return canonical.Checksum(pairs)
}

// WriteOutputs persists the summary to the control and data planes and the
// hash evidence to the control plane. It returns the written paths.
func WriteOutputs(l layout.Layout, summary Summary) ([]string, error) {
	dataSummary := l.DataStageFile(state.Ingest, "ingest-summary.json")
	for _, path := range []string{l.IngestSummary(), dataSummary} {
		if err := artifact.WriteJSON(path, summary); err != nil {
			return nil, err
		}
	}
	evidence := Evidence{
		RunID:         summary.RunID,
		RequiredParts: summary.Parts(),
		Hashes:        make(map[string]string, len(summary.ResolvedParts)),
		TimestampUTC:  summary.TimestampUTC,
	}
	for part, info := range summary.ResolvedParts {
		evidence.Hashes[part] = info.SHA256
	}
	if err := artifact.WriteJSON(l.SourceHashEvidence(), evidence); err != nil {
		return nil, err
	}
	return []string{l.IngestSummary(), dataSummary, l.SourceHashEvidence()}, nil
}

// ReadSummary loads the control-plane ingest summary of a run.
func ReadSummary(l layout.Layout) (Summary, error) {
	var summary Summary
	if err := artifact.ReadJSON(l.IngestSummary(), &summary); err != nil {
		return Summary{}, services.Wrap(services.ErrStopCondition, "ingest", "read summary", l.IngestSummary(), err)
	}
	return summary, nil
}
