package verify

import (
	"encoding/json"
	"fmt"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/layout"
	"isomine/internal/ledger"
	"isomine/internal/services"
	"isomine/internal/state"
)

// SetSignature is the canonical signature of one record stream.
type SetSignature struct {
	Records   int    `json:"records"`
	Signature string `json:"signature"`
}

// ReplaySignatures is verbatim-replay-signatures.json.
type ReplaySignatures struct {
	RunID           string       `json:"run_id"`
	TimestampUTC    string       `json:"timestamp_utc"`
	SourceSignature string       `json:"source_signature"`
	PageText        SetSignature `json:"page_text"`
	UnitSlices      SetSignature `json:"unit_slices"`
	AnchorTextLinks SetSignature `json:"anchor_text_links"`
	MismatchCount   int          `json:"mismatch_count"`
	PriorRunID      string       `json:"prior_run_id,omitempty"`
	Mismatches      []string     `json:"mismatches,omitempty"`
}

// StreamSignature hashes the canonical form of every record of a JSONL
// stream, joined by newlines.
func StreamSignature(path string) (SetSignature, error) {
	rows, err := artifact.ReadJSONL[json.RawMessage](path)
	if err != nil {
		return SetSignature{}, err
	}
	sum, err := canonical.LinesChecksum(rows)
	if err != nil {
		return SetSignature{}, err
	}
	return SetSignature{Records: len(rows), Signature: sum}, nil
}

// ComputeSignatures signs the page text, unit slice and anchor link streams
// of a run. A unit/anchor count mismatch is recorded, not returned.
func ComputeSignatures(l layout.Layout, runID, sourceSignature string, now time.Time) (ReplaySignatures, error) {
	out := ReplaySignatures{RunID: runID, TimestampUTC: state.Timestamp(now), SourceSignature: sourceSignature}
	for _, s := range []struct {
		path string
		into *SetSignature
	}{
		{l.PageText(), &out.PageText},
		{l.UnitSlices(), &out.UnitSlices},
		{l.AnchorTextLinks(), &out.AnchorTextLinks},
	} {
		sig, err := StreamSignature(s.path)
		if err != nil {
			return out, services.Wrap(services.ErrStopCondition, state.Verify, "replay signature", s.path, err)
		}
		*s.into = sig
	}
	if out.UnitSlices.Records != out.AnchorTextLinks.Records {
		out.Mismatches = append(out.Mismatches,
			fmt.Sprintf("unit_slices=%d anchor_text_links=%d", out.UnitSlices.Records, out.AnchorTextLinks.Records))
	}
	out.MismatchCount = len(out.Mismatches)
	return out, nil
}

// Compare lists the streams whose signatures differ between two runs.
// Record counts are compared only where want carries one.
func Compare(got, want ReplaySignatures) []string {
	var diffs []string
	pairs := []struct {
		name string
		a, b SetSignature
	}{
		{"page_text", got.PageText, want.PageText},
		{"unit_slices", got.UnitSlices, want.UnitSlices},
		{"anchor_text_links", got.AnchorTextLinks, want.AnchorTextLinks},
	}
	for _, p := range pairs {
		if p.a.Signature != p.b.Signature || (p.b.Records > 0 && p.a.Records != p.b.Records) {
			diffs = append(diffs, fmt.Sprintf("%s: %d/%s vs %d/%s", p.name, p.a.Records, short(p.a.Signature), p.b.Records, short(p.b.Signature)))
		}
	}
	return diffs
}

func short(sig string) string {
	if len(sig) > 12 {
		return sig[:12]
	}
	return sig
}

// FromLedger converts stored signatures back into the artifact form.
func FromLedger(sig ledger.Signatures) ReplaySignatures {
	return ReplaySignatures{
		RunID:           sig.RunID,
		SourceSignature: sig.SourceSignature,
		PageText:        SetSignature{Signature: sig.PageText},
		UnitSlices:      SetSignature{Records: sig.UnitCount, Signature: sig.UnitSlices},
		AnchorTextLinks: SetSignature{Records: sig.AnchorLinkCount, Signature: sig.AnchorTextLinks},
	}
}

// ToLedger converts signatures into the ledger row.
func (r ReplaySignatures) ToLedger(now time.Time) ledger.Signatures {
	return ledger.Signatures{
		RunID:           r.RunID,
		SourceSignature: r.SourceSignature,
		PageText:        r.PageText.Signature,
		UnitSlices:      r.UnitSlices.Signature,
		AnchorTextLinks: r.AnchorTextLinks.Signature,
		UnitCount:       r.UnitSlices.Records,
		AnchorLinkCount: r.AnchorTextLinks.Records,
		RecordedAt:      now,
	}
}

// ReadSignatures loads the replay signatures artifact of a run.
func ReadSignatures(l layout.Layout) (ReplaySignatures, error) {
	var out ReplaySignatures
	if err := artifact.ReadJSON(l.ReplaySignatures(), &out); err != nil {
		return ReplaySignatures{}, services.Wrap(services.ErrStopCondition, state.Verify, "read replay signatures", l.ReplaySignatures(), err)
	}
	return out, nil
}
