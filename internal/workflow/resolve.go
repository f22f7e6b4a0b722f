package workflow

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"isomine/internal/extract"
	"isomine/internal/fileutil"
	"isomine/internal/layout"
	"isomine/internal/policy"
	"isomine/internal/query"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Request selects the run an invocation acts on.
type Request struct {
	// RunID names the run. Empty starts a new run, which only ingest may do.
	RunID string
	// ResumeRun selects an existing run by id or by control root.
	ResumeRun string
	// NoResume rejects a control root that already holds state.
	NoResume bool
	// RunRoot overrides the data-plane root.
	RunRoot string
	// Mode overrides the configured run mode (strict or partial).
	Mode  string
	Flags Flags
}

// Flags are per-invocation switches handed to the stage.
type Flags struct {
	LockSourceHashes  bool
	AllowPartialScope bool
	// FailOnQA, when nil, falls back to the configured default.
	FailOnQA *bool
}

// NewRunID names a run started at now.
func NewRunID(now time.Time) string {
	return "run-" + now.UTC().Format("20060102T150405Z")
}

// resolved is the outcome of run resolution before any state is written.
type resolved struct {
	layout   layout.Layout
	recorded map[string]string
	mode     string
}

// resolve turns a request into a layout. Explicit request values win over
// values recorded in an existing state file, which win over configuration.
func (m *Manager) resolve(req Request, stageName string) (resolved, error) {
	runID := strings.TrimSpace(req.RunID)
	controlRoot := ""
	if ref := strings.TrimSpace(req.ResumeRun); ref != "" {
		if fileutil.Exists(filepath.Join(ref, "state.env")) {
			controlRoot = ref
		} else {
			if runID != "" && runID != ref {
				return resolved{}, services.Wrap(services.ErrUsage, "workflow", "resolve run",
					fmt.Sprintf("--run-id %s conflicts with --resume-run %s", runID, ref), nil)
			}
			runID = ref
		}
	}
	if controlRoot == "" && runID != "" {
		controlRoot = m.cfg.ControlRunRoot(runID)
	}

	recorded := map[string]string{}
	if controlRoot != "" {
		values, err := state.ReadEnvFile(filepath.Join(controlRoot, "state.env"))
		if err != nil {
			return resolved{}, services.Wrap(services.ErrStopCondition, "workflow", "read state", controlRoot, err)
		}
		recorded = values
	}
	exists := recorded[state.KeyRunID] != ""

	switch {
	case req.NoResume && exists:
		return resolved{}, services.Wrap(services.ErrUsage, "workflow", "resolve run",
			"control root already has state: "+controlRoot, nil)
	case req.ResumeRun != "" && !exists:
		return resolved{}, services.Wrap(services.ErrUsage, "workflow", "resolve run",
			"no run state at "+controlRoot, nil)
	case runID == "" && controlRoot == "":
		if stageName != state.Ingest {
			return resolved{}, services.Wrap(services.ErrUsage, "workflow", "resolve run",
				stageName+" needs --run-id or --resume-run", nil)
		}
		runID = NewRunID(m.now())
		controlRoot = m.cfg.ControlRunRoot(runID)
	}
	if exists {
		runID = recorded[state.KeyRunID]
	}

	pick := func(explicit, key, fallback string) string {
		if explicit != "" {
			return explicit
		}
		if v := recorded[key]; v != "" {
			return v
		}
		return fallback
	}
	l := layout.Layout{
		RunID:       runID,
		ControlRoot: controlRoot,
		RunRoot:     pick(req.RunRoot, state.KeyRunRoot, m.cfg.DataRunRoot(runID)),
		CorpusRoot:  pick("", state.KeyCorpusRoot, m.cfg.Paths.CorpusRoot),
		IndexRoot:   pick("", state.KeyIndexRoot, m.cfg.Paths.IndexRoot),
		Edition:     pick("", state.KeyEdition, m.cfg.Corpus.Edition),
	}
	return resolved{layout: l, recorded: recorded, mode: pick(req.Mode, state.KeyMode, m.cfg.Run.Mode)}, nil
}

// contract lists the immutable keys of a run. Required parts come from the
// relevant policy on first bootstrap and from state afterwards.
func (m *Manager) contract(r resolved) (map[string]string, error) {
	parts := r.recorded[state.KeyRequiredParts]
	if parts == "" {
		doc, err := policy.LoadRelevantPolicy(m.cfg.Policies.RelevantPolicy)
		if err != nil {
			return nil, err
		}
		parts = strings.Join(doc.Parts(), ",")
	}
	l := r.layout
	return map[string]string{
		state.KeyRunID:                   l.RunID,
		state.KeyRunRoot:                 l.RunRoot,
		state.KeyPDFRoot:                 m.cfg.Paths.PDFRoot,
		state.KeyControlRunRoot:          l.ControlRoot,
		state.KeyArtifactRoot:            l.ArtifactRoot(),
		state.KeyLockFile:                l.LockFile(),
		state.KeySourcePDFSetPath:        m.cfg.Policies.SourcePDFSet,
		state.KeyRelevantPolicyPath:      m.cfg.Policies.RelevantPolicy,
		state.KeyExtractionPolicyPath:    m.cfg.Policies.ExtractionPolicy,
		state.KeyCorpusRoot:              l.CorpusRoot,
		state.KeyIndexRoot:               l.IndexRoot,
		state.KeyEdition:                 l.Edition,
		state.KeyMode:                    r.mode,
		state.KeyRequiredParts:           parts,
		state.KeyVerbatimSchemaVersion:   extract.SchemaVersion,
		state.KeyQueryIndexSchemaVersion: query.SchemaVersion,
		state.KeyQueryIndexManifestPath:  l.QueryIndexManifest(),
		state.KeyProbeManifestPath:       l.ProbeFreezeManifest(),
	}, nil
}
