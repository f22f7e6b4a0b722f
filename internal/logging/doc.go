// Package logging assembles the slog loggers used by the isomine pipeline.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// durable run log that every control root carries. Context helpers tag records
// with the stage, run id and correlation id so a fatal error in run.log always
// names the run it came from. NewNop serves tests and wiring code that cannot
// fail.
package logging
