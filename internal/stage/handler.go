package stage

import (
	"context"
	"log/slog"
	"time"

	"isomine/internal/config"
	"isomine/internal/layout"
	"isomine/internal/ledger"
	"isomine/internal/logging"
	"isomine/internal/state"
)

// Handler is the contract every pipeline stage implements. Execute reads
// only on-disk inputs named by the run contract and writes only on-disk
// outputs; the orchestrator owns checkpoints and done flags.
type Handler interface {
	Name() string
	Version() string
	Execute(context.Context, *Env) (Result, error)
	HealthCheck(context.Context) Health
}

// Flags carry per-invocation switches that are not part of the run contract.
type Flags struct {
	LockSourceHashes  bool
	AllowPartialScope bool
	FailOnQA          bool
}

// Env is the run context handed to a stage.
type Env struct {
	Layout    layout.Layout
	Config    *config.Config
	State     *state.State
	Checklist *state.Checklist
	Ledger    *ledger.Store
	Logger    *slog.Logger
	Flags     Flags
	Clock     func() time.Time

	// ReleaseLock lets the final stage drop the run lock before it confirms
	// its checklist. It may be nil.
	ReleaseLock func() error
}

// Now returns the env clock reading in UTC.
func (e *Env) Now() time.Time {
	if e == nil || e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock().UTC()
}

// Log returns the stage logger, or a discarding one.
func (e *Env) Log() *slog.Logger {
	if e == nil || e.Logger == nil {
		return logging.NewNop()
	}
	return e.Logger
}

// Result lists what a stage read and wrote and which checklist items it
// confirmed. Outputs must exist when Execute returns.
type Result struct {
	Inputs    []string
	Outputs   []string
	Confirmed []string
}

// Confirm appends checklist keys.
func (r *Result) Confirm(keys ...string) { r.Confirmed = append(r.Confirmed, keys...) }

// Wrote appends output paths.
func (r *Result) Wrote(paths ...string) { r.Outputs = append(r.Outputs, paths...) }

// Read appends input paths.
func (r *Result) Read(paths ...string) { r.Inputs = append(r.Inputs, paths...) }
