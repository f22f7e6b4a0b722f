// Package baseline persists a compact snapshot of a finished run's unit
// slices and anchor links so later runs can be scored and compared against
// it after the run's data plane has been pruned.
//
// Snapshots are deterministic CBOR compressed with zstd. Encoding the same
// run twice yields byte-identical files.
package baseline
