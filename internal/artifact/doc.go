// Package artifact reads and writes the on-disk records that carry every
// cross-stage handoff: single JSON documents, newline-delimited JSON streams
// and comment-tolerant JSONC policy files. All writes are atomic and key
// sorted so artifacts are byte-reproducible.
package artifact
