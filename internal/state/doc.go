// Package state persists the control-plane run state and per-stage checklist.
//
// Both are KEY="value" env files rewritten atomically. The State value is the
// only source of truth for resumability: Bootstrap records the immutable run
// contract, ReconcileResume decides where an interrupted run picks up, and
// CompleteStage sets a done flag only after the stage's checklist and required
// artifacts are confirmed on disk.
package state
