// Package publish writes the non-verbatim corpus: per-part shards of
// anchored units, clause and part manifests, the global anchor registry and
// the corpus manifest. The whole write sits between publish.begin and
// publish.commit markers so an interrupted publish is visible on resume.
package publish
