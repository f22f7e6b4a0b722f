package state

import "strings"

// Stage names in execution order.
const (
	Ingest    = "ingest"
	Extract   = "extract"
	Normalize = "normalize"
	Anchor    = "anchor"
	Publish   = "publish"
	Verify    = "verify"
	Finalize  = "finalize"

	// Complete is recorded as CURRENT_STAGE once finalize is done.
	Complete = "complete"
)

// Stages lists every stage in order.
var Stages = []string{Ingest, Extract, Normalize, Anchor, Publish, Verify, Finalize}

// ChecklistKeys are the sub-task flags each stage must confirm before its done
// flag may be set.
var ChecklistKeys = map[string][]string{
	Ingest: {
		"CB_INGEST_SOURCE_PDFSET_VALID",
		"CB_INGEST_REQUIRED_PARTS_FOUND",
		"CB_INGEST_HASHES_VERIFIED",
		"CB_INGEST_STATE_INITIALIZED",
		"CB_INGEST_SUMMARY_WRITTEN",
	},
	Extract: {
		"CB_EXTRACT_PRIMARY_EVAL_COMPLETE",
		"CB_EXTRACT_FALLBACK_COMPLETE",
		"CB_EXTRACT_PAGE_DECISIONS_WRITTEN",
		"CB_EXTRACT_SUMMARY_WRITTEN",
	},
	Normalize: {
		"CB_NORMALIZE_UNITS_WRITTEN",
		"CB_NORMALIZE_COVERAGE_COMPUTED",
		"CB_NORMALIZE_QA_QUEUE_WRITTEN",
		"CB_NORMALIZE_SUMMARY_WRITTEN",
	},
	Anchor: {
		"CB_ANCHOR_IDS_WRITTEN",
		"CB_ANCHOR_DEDUP_CHECK_PASS",
		"CB_ANCHOR_SUMMARY_WRITTEN",
	},
	Publish: {
		"CB_PUBLISH_SHARDS_WRITTEN",
		"CB_PUBLISH_REGISTRY_WRITTEN",
		"CB_PUBLISH_QA_GATE_PASS",
		"CB_PUBLISH_TRANSACTION_COMMIT",
	},
	Verify: {
		"CB_VERIFY_SCHEMA_PASS",
		"CB_VERIFY_INTEGRITY_PASS",
		"CB_VERIFY_REQUIRED_PARTS_PASS",
		"CB_VERIFY_REPORT_CONTENT_PASS",
		"CB_VERIFY_SUMMARY_WRITTEN",
	},
	Finalize: {
		"CB_FINALIZE_REPORT_APPENDED",
		"CB_FINALIZE_STATE_FLAGS_WRITTEN",
		"CB_FINALIZE_LOCK_RELEASED",
	},
}

// DoneFlag returns the state key recording a stage's completion.
func DoneFlag(stage string) string {
	return "S_" + strings.ToUpper(stage) + "_DONE"
}

// StageIndex returns the position of stage in Stages, or -1.
func StageIndex(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// NextStage returns the stage after stage, or Complete after the last one.
func NextStage(stage string) string {
	idx := StageIndex(stage)
	if idx < 0 || idx+1 >= len(Stages) {
		return Complete
	}
	return Stages[idx+1]
}

// IsStage reports whether name is a known stage.
func IsStage(name string) bool { return StageIndex(name) >= 0 }
