// Package workflow is the run orchestrator behind every stage subcommand.
//
// One invocation resolves the run's control and data roots, opens the run
// log, takes the single-writer lock, bootstraps or re-checks the immutable
// run contract, reconciles the resume point and then dispatches exactly one
// stage through stageexec. Stages run strictly in pipeline order: asking for
// a stage whose predecessors are not done is a stop condition, and re-running
// a done stage resets it and every later stage first.
//
// The ledger records the run and each stage transition so replay and quality
// comparisons can find earlier completed runs.
package workflow
