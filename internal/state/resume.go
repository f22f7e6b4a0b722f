package state

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/fileutil"
	"isomine/internal/layout"
	"isomine/internal/logging"
	"isomine/internal/services"
)

// RequiredArtifacts lists the files that must exist for stage to count as done.
func RequiredArtifacts(l layout.Layout, stage string) []string {
	switch stage {
	case Ingest:
		return []string{l.IngestSummary()}
	case Extract:
		return []string{l.PageDecisions(), l.PageText(), l.PageBlocks(), l.PageIndex(), l.PageSignatures()}
	case Normalize:
		return []string{l.NormalizeSummary(), l.UnitSlices(), l.UnitTextLinks(), l.QuerySourceRows()}
	case Anchor:
		return []string{l.AnchorSummary(), l.AnchorTextLinks(), l.AnchorLinkIndex()}
	case Publish:
		return []string{l.PublishSummary(), l.PublishCommit()}
	case Verify:
		return []string{l.VerifySummary()}
	case Finalize:
		return []string{l.Checkpoint(Finalize)}
	default:
		return nil
	}
}

func missingArtifacts(paths []string) []string {
	var missing []string
	for _, p := range paths {
		if !fileutil.Exists(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// ReconcileResume decides which stage an interrupted run resumes at. The first
// stage whose done flag is unset, whose checkpoint is missing, whose checklist
// is incomplete or whose required artifacts are gone becomes the resume point;
// it and every later stage are reset. Cross-stage inconsistencies that a
// re-run cannot repair are stop conditions.
func ReconcileResume(l layout.Layout, st *State, cl *Checklist, logger *slog.Logger, now time.Time) (string, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := checkStopConditions(l, st); err != nil {
		return "", err
	}

	resume := Complete
	for _, stage := range Stages {
		if !st.Done(stage) {
			resume = stage
			break
		}
		var reasons []string
		if !fileutil.Exists(l.Checkpoint(stage)) {
			reasons = append(reasons, "checkpoint missing")
		}
		if missing := cl.Missing(stage); len(missing) > 0 {
			reasons = append(reasons, "checklist incomplete: "+strings.Join(missing, ","))
		}
		if missing := missingArtifacts(RequiredArtifacts(l, stage)); len(missing) > 0 {
			reasons = append(reasons, "artifacts missing: "+strings.Join(missing, ","))
		}
		if len(reasons) > 0 {
			logging.WarnWithContext(logger, "done stage failed reconciliation", "resume_reset",
				logging.String(logging.FieldStage, stage),
				logging.String("reasons", strings.Join(reasons, "; ")),
				logging.String(logging.FieldImpact, "stage and later stages will re-run"))
			resume = stage
			break
		}
	}

	if resume != Complete {
		ResetFrom(st, cl, resume)
	}
	st.Set(KeyCurrentStage, resume)
	st.Touch(now)
	if err := Save(st, cl); err != nil {
		return "", services.Wrap(services.ErrStopCondition, "resume", "save", l.ControlRoot, err)
	}
	logger.Info("resume point reconciled",
		logging.String(logging.FieldEventType, "resume_reconciled"),
		logging.String("resume_stage", resume))
	return resume, nil
}

func checkStopConditions(l layout.Layout, st *State) error {
	if cp := st.Get(KeyLastCommittedCheckpoint); cp != "" && !fileutil.Exists(cp) {
		return services.Wrap(services.ErrStopCondition, "resume", "checkpoint",
			"last committed checkpoint missing: "+cp, nil)
	}

	if st.Done(Anchor) {
		units, err := artifact.CountJSONL(l.UnitTextLinks())
		if err != nil && !fileutil.IsNotExist(err) {
			return services.Wrap(services.ErrStopCondition, "resume", "count unit links", l.UnitTextLinks(), err)
		}
		anchors, err := artifact.CountJSONL(l.AnchorTextLinks())
		if err != nil && !fileutil.IsNotExist(err) {
			return services.Wrap(services.ErrStopCondition, "resume", "count anchor links", l.AnchorTextLinks(), err)
		}
		if units != anchors {
			return services.Wrap(services.ErrStopCondition, "resume", "bijection",
				fmt.Sprintf("unit-text-links=%d anchor-text-links=%d", units, anchors), nil)
		}
	}

	if st.Done(Publish) && fileutil.Exists(l.PublishBegin()) && !fileutil.Exists(l.PublishCommit()) {
		return services.Wrap(services.ErrStopCondition, "resume", "publish transaction",
			"publish.begin without publish.commit at "+l.StageDir(Publish), nil)
	}

	if st.Done(Verify) {
		manifest := st.Get(KeyQueryIndexManifestPath)
		if manifest == "" {
			manifest = l.QueryIndexManifest()
		}
		if !fileutil.Exists(manifest) {
			return services.Wrap(services.ErrStopCondition, "resume", "query index", "manifest missing: "+manifest, nil)
		}
		if want := st.Get(KeyProbeFreezeSignature); want != "" {
			var frozen struct {
				Signature string `json:"signature"`
			}
			if err := artifact.ReadJSON(l.ProbeFreezeManifest(), &frozen); err != nil {
				return services.Wrap(services.ErrStopCondition, "resume", "probe freeze", l.ProbeFreezeManifest(), err)
			}
			if frozen.Signature != want {
				return services.Wrap(services.ErrStopCondition, "resume", "probe freeze",
					fmt.Sprintf("signature %s does not match recorded %s", frozen.Signature, want), nil)
			}
		}
	}
	return nil
}

// CompleteStage sets the done flag of stage once its checklist is complete and
// every required artifact exists, then advances CURRENT_STAGE.
func CompleteStage(l layout.Layout, st *State, cl *Checklist, stage string, now time.Time) error {
	if missing := cl.Missing(stage); len(missing) > 0 {
		return services.Wrap(services.ErrValidation, stage, "complete",
			"checklist incomplete: "+strings.Join(missing, ","), nil)
	}
	if missing := missingArtifacts(RequiredArtifacts(l, stage)); len(missing) > 0 {
		return services.Wrap(services.ErrValidation, stage, "complete",
			"required artifacts missing: "+strings.Join(missing, ","), nil)
	}
	st.Set(DoneFlag(stage), "1")
	st.Set(KeyCurrentStage, NextStage(stage))
	if cp := l.Checkpoint(stage); fileutil.Exists(cp) {
		st.Set(KeyLastCommittedCheckpoint, cp)
	}
	st.Touch(now)
	if err := Save(st, cl); err != nil {
		return services.Wrap(services.ErrStopCondition, stage, "save state", l.StateFile(), err)
	}
	return nil
}
