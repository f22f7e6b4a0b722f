// Package canonical owns content hashing, deterministic identifiers, and the
// key-sorted compact JSON form every signature in the pipeline is computed
// over. Two runs over the same inputs must agree byte for byte on anything
// this package produces.
package canonical
