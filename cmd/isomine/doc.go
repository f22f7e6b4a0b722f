// Command isomine drives the standards-mining pipeline one stage per
// invocation and exposes the replay, QA, quality and query tooling that
// operates on a run's artifacts.
//
// Every failure exits with the code of its error kind, so wrapper scripts
// can tell a lock collision from a quality gate or a contract drift.
package main
