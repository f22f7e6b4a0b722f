package state

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"isomine/internal/layout"
	"isomine/internal/services"
)

// Keys recorded in state.env.
const (
	KeyRunID                   = "RUN_ID"
	KeyRunRoot                 = "RUN_ROOT"
	KeyPDFRoot                 = "PDF_ROOT"
	KeyControlRunRoot          = "CONTROL_RUN_ROOT"
	KeyArtifactRoot            = "ARTIFACT_ROOT"
	KeyLockFile                = "LOCK_FILE"
	KeySourcePDFSetPath        = "SOURCE_PDFSET_PATH"
	KeyRelevantPolicyPath      = "RELEVANT_POLICY_PATH"
	KeyExtractionPolicyPath    = "EXTRACTION_POLICY_PATH"
	KeyCorpusRoot              = "CORPUS_ROOT"
	KeyIndexRoot               = "INDEX_ROOT"
	KeyEdition                 = "EDITION"
	KeyMode                    = "MODE"
	KeyRequiredParts           = "REQUIRED_PARTS"
	KeyVerbatimSchemaVersion   = "VERBATIM_SCHEMA_VERSION"
	KeyQueryIndexSchemaVersion = "QUERY_INDEX_SCHEMA_VERSION"
	KeyQueryIndexManifestPath  = "QUERY_INDEX_MANIFEST_PATH"
	KeyProbeManifestPath       = "PROBESET_FREEZE_MANIFEST_PATH"

	KeyCurrentStage            = "CURRENT_STAGE"
	KeyLastCommittedCheckpoint = "LAST_COMMITTED_CHECKPOINT"
	KeyProbeFreezeSignature    = "PROBESET_FREEZE_SIGNATURE"
	KeyStartedAt               = "STARTED_AT_UTC"
	KeyLastUpdatedAt           = "LAST_UPDATED_AT_UTC"
	KeyReportAppended          = "REPORT_APPENDED"
	KeyRunSummaryUpdated       = "RUN_SUMMARY_UPDATED"

	KeyChecklistSchemaVersion = "CHECKLIST_SCHEMA_VERSION"
)

// ImmutableKeys may be written once; a later run presenting a different
// value for any of them is contract drift.
var ImmutableKeys = []string{
	KeyRunID, KeyRunRoot, KeyPDFRoot, KeyControlRunRoot, KeyArtifactRoot, KeyLockFile,
	KeySourcePDFSetPath, KeyRelevantPolicyPath, KeyExtractionPolicyPath,
	KeyCorpusRoot, KeyIndexRoot, KeyEdition, KeyMode, KeyRequiredParts,
	KeyVerbatimSchemaVersion, KeyQueryIndexSchemaVersion, KeyQueryIndexManifestPath, KeyProbeManifestPath,
}

// Timestamp formats t the way every control-plane artifact records time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// State is the key/value run state.
type State struct{ envStore }

// Checklist holds per-stage sub-task flags.
type Checklist struct{ envStore }

// Load reads the state and checklist of a control root. Missing files load
// as empty stores.
func Load(l layout.Layout) (*State, *Checklist, error) {
	st, err := loadEnvStore(l.StateFile())
	if err != nil {
		return nil, nil, services.Wrap(services.ErrStopCondition, "state", "load", l.StateFile(), err)
	}
	cl, err := loadEnvStore(l.ChecklistFile())
	if err != nil {
		return nil, nil, services.Wrap(services.ErrStopCondition, "state", "load", l.ChecklistFile(), err)
	}
	return &State{st}, &Checklist{cl}, nil
}

// Initialized reports whether a run contract has been recorded.
func (s *State) Initialized() bool { return s.Get(KeyRunID) != "" }

// Done reports whether stage's done flag is set.
func (s *State) Done(stage string) bool { return s.Get(DoneFlag(stage)) == "1" }

// RequiredParts returns the recorded comma-separated part list.
func (s *State) RequiredParts() []string {
	raw := strings.TrimSpace(s.Get(KeyRequiredParts))
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Touch records the update time.
func (s *State) Touch(now time.Time) { s.Set(KeyLastUpdatedAt, Timestamp(now)) }

// Confirm marks a checklist item as done.
func (c *Checklist) Confirm(key string) { c.Set(key, "1") }

// Missing lists the unconfirmed items of stage.
func (c *Checklist) Missing(stage string) []string {
	var missing []string
	for _, key := range ChecklistKeys[stage] {
		if c.Get(key) != "1" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Complete reports whether every item of stage is confirmed.
func (c *Checklist) Complete(stage string) bool { return len(c.Missing(stage)) == 0 }

// Reset clears every item of stage.
func (c *Checklist) Reset(stage string) {
	for _, key := range ChecklistKeys[stage] {
		c.Set(key, "0")
	}
}

// Bootstrap records the immutable contract on first run and checks it on
// every later one. Done flags and checklist items default to "0".
func Bootstrap(l layout.Layout, contract map[string]string, now time.Time) (*State, *Checklist, error) {
	st, cl, err := Load(l)
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0, len(contract))
	for key := range contract {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		want := contract[key]
		if have := st.Get(key); have != "" && have != want {
			return nil, nil, services.Wrap(services.ErrContractDrift, "bootstrap", key,
				fmt.Sprintf("recorded %q, requested %q", have, want), nil)
		}
		st.Set(key, want)
	}

	for _, stage := range Stages {
		if !st.Has(DoneFlag(stage)) {
			st.Set(DoneFlag(stage), "0")
		}
	}
	if st.Get(KeyCurrentStage) == "" {
		st.Set(KeyCurrentStage, Ingest)
	}
	if st.Get(KeyStartedAt) == "" {
		st.Set(KeyStartedAt, Timestamp(now))
	}
	if !st.Has(KeyLastCommittedCheckpoint) {
		st.Set(KeyLastCommittedCheckpoint, "")
	}
	for _, key := range []string{KeyReportAppended, KeyRunSummaryUpdated} {
		if !st.Has(key) {
			st.Set(key, "0")
		}
	}
	st.Touch(now)

	cl.Set(KeyChecklistSchemaVersion, "1")
	cl.Set(KeyRunID, st.Get(KeyRunID))
	for _, stage := range Stages {
		for _, key := range ChecklistKeys[stage] {
			if !cl.Has(key) {
				cl.Set(key, "0")
			}
		}
	}

	if err := st.Save(); err != nil {
		return nil, nil, services.Wrap(services.ErrStopCondition, "bootstrap", "save state", l.StateFile(), err)
	}
	if err := cl.Save(); err != nil {
		return nil, nil, services.Wrap(services.ErrStopCondition, "bootstrap", "save checklist", l.ChecklistFile(), err)
	}
	return st, cl, nil
}

// ResetFrom clears the done flag and checklist of stage and every later stage.
func ResetFrom(st *State, cl *Checklist, stage string) {
	idx := StageIndex(stage)
	if idx < 0 {
		return
	}
	for _, s := range Stages[idx:] {
		st.Set(DoneFlag(s), "0")
		cl.Reset(s)
	}
	st.Set(KeyCurrentStage, stage)
}

// Save persists both stores.
func Save(st *State, cl *Checklist) error {
	if err := st.Save(); err != nil {
		return err
	}
	return cl.Save()
}
