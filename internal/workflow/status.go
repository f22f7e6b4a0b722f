package workflow

import (
	"isomine/internal/fileutil"
	"isomine/internal/lock"
	"isomine/internal/services"
	"isomine/internal/state"
)

// StageStatus is the progress of one stage.
type StageStatus struct {
	Stage      string
	Done       bool
	Confirmed  int
	Total      int
	Checkpoint bool
}

// RunStatus summarizes a run without taking its lock.
type RunStatus struct {
	RunID        string
	ControlRoot  string
	RunRoot      string
	Mode         string
	CurrentStage string
	StartedAt    string
	UpdatedAt    string
	Stages       []StageStatus
	// Holder is the current lock payload, nil when the run is idle.
	Holder *lock.Payload
}

// Status reads the state and checklist of an existing run.
func (m *Manager) Status(req Request) (RunStatus, error) {
	r, err := m.resolve(req, "status")
	if err != nil {
		return RunStatus{}, err
	}
	l := r.layout
	if r.recorded[state.KeyRunID] == "" {
		return RunStatus{}, services.Wrap(services.ErrNotFound, "status", "load state", "no run state at "+l.ControlRoot, nil)
	}
	st, cl, err := state.Load(l)
	if err != nil {
		return RunStatus{}, err
	}
	out := RunStatus{
		RunID:        st.Get(state.KeyRunID),
		ControlRoot:  l.ControlRoot,
		RunRoot:      l.RunRoot,
		Mode:         st.Get(state.KeyMode),
		CurrentStage: st.Get(state.KeyCurrentStage),
		StartedAt:    st.Get(state.KeyStartedAt),
		UpdatedAt:    st.Get(state.KeyLastUpdatedAt),
	}
	for _, name := range state.Stages {
		keys := state.ChecklistKeys[name]
		out.Stages = append(out.Stages, StageStatus{
			Stage:      name,
			Done:       st.Done(name),
			Confirmed:  len(keys) - len(cl.Missing(name)),
			Total:      len(keys),
			Checkpoint: fileutil.Exists(l.Checkpoint(name)),
		})
	}
	if payload, _, err := lock.ReadPayload(l.LockFile()); err == nil {
		out.Holder = &payload
	}
	return out, nil
}
