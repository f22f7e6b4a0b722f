// Package services defines shared utilities consumed by the pipeline stage
// handlers and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into distinct process exit codes (usage, source, schema, determinism,
//     quality gate, lock contention, contract drift, stop condition).
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// classification, observability) stays uniform across the pipeline.
package services
