// Package logs reads a run's run.log: the last N records, records after a
// byte offset, and follow mode that polls for appended records.
//
// Records are the JSON lines the run log handler writes. A Filter narrows
// them by stage, event type and minimum level; lines that are not JSON are
// passed through unfiltered so a truncated or hand-edited log stays readable.
package logs
