// Package verify re-checks a published run end to end.
//
// Every gate is independently fatal: the anchor registry must validate and
// reference only anchors present in the corpus, every required part must be
// fully covered, no control-plane artifact may carry prose, the query index
// must answer a deterministic word and phrase smoke query, the frozen probe
// suite must pass, and the replay signatures must be self-consistent and
// match the most recent completed run over the same sources.
package verify
