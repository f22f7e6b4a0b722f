// Package replay re-derives a run's verbatim streams in a scratch root and
// checks that they reproduce the run's own signatures byte for byte.
package replay
