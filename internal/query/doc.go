// Package query builds and serves the run-scoped token and phrase indexes.
//
// Lookup is exact: a term matches one token, a phrase matches one indexed
// 2- or 3-token window or a unit's full normalized text, and anything else
// falls back to a substring scan. Hits are never ranked; they come back in
// posting-key order.
package query
