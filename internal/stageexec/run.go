// Package stageexec runs one stage handler and applies the completion
// protocol around it: outputs verified on disk, checklist items confirmed,
// checkpoint written, done flag set, events recorded.
package stageexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"isomine/internal/fileutil"
	"isomine/internal/ledger"
	"isomine/internal/logging"
	"isomine/internal/services"
	"isomine/internal/stage"
	"isomine/internal/state"
)

// Options controls one stage execution.
type Options struct {
	Logger  *slog.Logger
	Ledger  *ledger.Store
	Handler stage.Handler
	Env     *stage.Env
}

// Run executes the handler and, only when every reported output exists and
// every checklist item is confirmed, marks the stage done.
func Run(ctx context.Context, opts Options) (stage.Result, error) {
	if opts.Handler == nil {
		return stage.Result{}, fmt.Errorf("stage handler unavailable")
	}
	if opts.Env == nil || opts.Env.State == nil || opts.Env.Checklist == nil {
		return stage.Result{}, fmt.Errorf("stage env is incomplete")
	}
	name := opts.Handler.Name()
	env := opts.Env

	stageCtx := services.WithStage(ctx, name)
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	// The caller's logger already carries the run and request fields.
	stageLogger := logger.With(logging.String(logging.FieldStage, name))
	env.Logger = stageLogger

	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("handler_version", opts.Handler.Version()),
		logging.String("control_root", env.Layout.ControlRoot),
		logging.String("run_root", env.Layout.RunRoot),
	)
	recordEvent(stageCtx, stageLogger, opts.Ledger, env, name, "stage_start", opts.Handler.Version())
	started := time.Now()

	env.Checklist.Reset(name)
	result, err := opts.Handler.Execute(stageCtx, env)
	if err != nil {
		return result, handleFailure(stageCtx, stageLogger, opts.Ledger, env, name, err)
	}
	if err := commit(env, name, result); err != nil {
		return result, handleFailure(stageCtx, stageLogger, opts.Ledger, env, name, err)
	}

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("outputs", len(result.Outputs)),
		logging.Int("confirmed", len(result.Confirmed)),
		logging.String("next_stage", env.State.Get(state.KeyCurrentStage)),
		logging.Duration("elapsed", time.Since(started)),
	)
	recordEvent(stageCtx, stageLogger, opts.Ledger, env, name, "stage_complete", fmt.Sprintf("outputs=%d", len(result.Outputs)))
	return result, nil
}

func commit(env *stage.Env, name string, result stage.Result) error {
	var missing []string
	for _, out := range result.Outputs {
		if !fileutil.Exists(out) {
			missing = append(missing, out)
		}
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrValidation, name, "verify outputs",
			"reported outputs missing: "+strings.Join(missing, ", "), nil)
	}

	allowed := make(map[string]bool, len(state.ChecklistKeys[name]))
	for _, key := range state.ChecklistKeys[name] {
		allowed[key] = true
	}
	for _, key := range result.Confirmed {
		if !allowed[key] {
			return fmt.Errorf("stage %s confirmed foreign checklist key %s", name, key)
		}
		env.Checklist.Confirm(key)
	}

	if _, err := state.WriteCheckpoint(env.Layout, name, result.Inputs, result.Outputs, env.Now()); err != nil {
		return err
	}
	return state.CompleteStage(env.Layout, env.State, env.Checklist, name, env.Now())
}

func handleFailure(ctx context.Context, logger *slog.Logger, store *ledger.Store, env *stage.Env, name string, stageErr error) error {
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	logger.Error(
		"stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String("error_kind", details.Kind),
		logging.String("error_message", message),
		logging.Int("exit_code", services.ExitCode(stageErr)),
		logging.Error(stageErr),
	)
	// Partially confirmed items must not survive into the next attempt.
	env.Checklist.Reset(name)
	if err := state.Save(env.State, env.Checklist); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
	recordEvent(ctx, logger, store, env, name, "stage_failure", message)
	return stageErr
}

func recordEvent(ctx context.Context, logger *slog.Logger, store *ledger.Store, env *stage.Env, name, event, detail string) {
	if store == nil {
		return
	}
	err := store.RecordStageEvent(ctx, ledger.StageEvent{
		RunID:     env.Layout.RunID,
		Stage:     name,
		Event:     event,
		Detail:    detail,
		CreatedAt: env.Now(),
	})
	if err != nil {
		logger.Debug("ledger event not recorded", logging.String("event", event), logging.Error(err))
	}
}
