package state

import (
	"sort"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/fileutil"
	"isomine/internal/layout"
)

// InputHash pairs an input path with its content hash.
type InputHash struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Checkpoint is the done-marker written after a stage's outputs exist.
type Checkpoint struct {
	RunID             string      `json:"run_id"`
	Stage             string      `json:"stage"`
	Phase             string      `json:"phase"`
	InputHashes       []InputHash `json:"input_hashes"`
	Outputs           []string    `json:"outputs"`
	TimestampUTC      string      `json:"timestamp_utc"`
	CanonicalChecksum string      `json:"canonical_checksum"`
}

type checkpointPayload struct {
	RunID       string      `json:"run_id"`
	Stage       string      `json:"stage"`
	Phase       string      `json:"phase"`
	InputHashes []InputHash `json:"input_hashes"`
	Outputs     []string    `json:"outputs"`
}

// WriteCheckpoint hashes inputs and records the stage checkpoint. The
// checksum covers everything except the timestamp, so re-running a stage over
// identical inputs reproduces it.
func WriteCheckpoint(l layout.Layout, stage string, inputs, outputs []string, now time.Time) (Checkpoint, error) {
	hashes := make([]InputHash, 0, len(inputs))
	seen := map[string]bool{}
	for _, path := range inputs {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		sum, err := fileutil.HashFile(path)
		if err != nil {
			if fileutil.IsNotExist(err) {
				continue
			}
			return Checkpoint{}, err
		}
		hashes = append(hashes, InputHash{Path: path, SHA256: sum})
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Path < hashes[j].Path })

	outs := append([]string(nil), outputs...)
	sort.Strings(outs)

	payload := checkpointPayload{RunID: l.RunID, Stage: stage, Phase: "done", InputHashes: hashes, Outputs: outs}
	sum, err := canonical.Checksum(payload)
	if err != nil {
		return Checkpoint{}, err
	}
	cp := Checkpoint{
		RunID:             payload.RunID,
		Stage:             stage,
		Phase:             payload.Phase,
		InputHashes:       hashes,
		Outputs:           outs,
		TimestampUTC:      Timestamp(now),
		CanonicalChecksum: sum,
	}
	if err := artifact.WriteJSON(l.Checkpoint(stage), cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// ReadCheckpoint loads a stage checkpoint.
func ReadCheckpoint(l layout.Layout, stage string) (Checkpoint, error) {
	var cp Checkpoint
	err := artifact.ReadJSON(l.Checkpoint(stage), &cp)
	return cp, err
}
