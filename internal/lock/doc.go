// Package lock implements the single-writer lock of a run's control directory.
//
// The lock is a JSON payload naming its holder. An OS advisory lock on a
// sibling guard file serializes the check-and-write, so two orchestrators
// racing for the same control root cannot both win. A payload whose holder
// process is dead, or that is older than the staleness window, is reclaimed.
package lock
