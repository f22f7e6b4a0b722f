// Package stage defines the contract between the orchestrator and the
// pipeline stages: the Handler interface, the Env a handler runs in, the
// Result it reports and the Registry selecting one handler per stage.
package stage
