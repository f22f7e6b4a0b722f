// Package ingest resolves every required source part to exactly one PDF under
// the pdf root and locks its content hash.
//
// Resolution tries the preferred file name first and then the part's
// fallback pattern over a recursive inventory of the root. Zero or several
// matches are fatal, as is a declared hash that differs from the observed
// one. A PENDING declaration is accepted only when hash locking is requested,
// in which case the observed hash is written back into the source set.
package ingest
