package publish

import (
	"fmt"

	"isomine/internal/extract"
	"isomine/internal/normalize"
	"isomine/internal/services"
	"isomine/internal/state"
)

// GateInput is what the publish gates look at.
type GateInput struct {
	Summary   normalize.Summary
	Decisions []extract.Decision
	Units     []normalize.Unit
	// SkipQA downgrades the QA gate. Only partial-mode runs with
	// fail_on_qa disabled set it.
	SkipQA bool
}

// CheckGates returns a quality-gate error for the first failing gate:
// outstanding QA items, sub-100% coverage, then a fallback page whose OCR
// band did not pass and was not fully confirmed by adjudication.
func CheckGates(in GateInput) error {
	if in.Summary.QAUnresolvedCount > 0 && !in.SkipQA {
		return services.Wrap(services.ErrQualityGate, state.Publish, "qa gate",
			fmt.Sprintf("required-part QA queue is not empty (%d items)", in.Summary.QAUnresolvedCount), nil)
	}
	for _, part := range sortedKeys(in.Summary.Coverage) {
		if cov := in.Summary.Coverage[part]; cov.CoverageRatio < 1 {
			return services.Wrap(services.ErrQualityGate, state.Publish, "coverage gate",
				"required-part coverage below 100% for "+part, nil)
		}
	}

	confirmed := confirmedPages(in.Units)
	for _, d := range in.Decisions {
		if !d.Fallback() {
			continue
		}
		band := d.Band()
		if band == extract.BandPass {
			continue
		}
		if confirmed[pageKey(d.Part, d.Page)] {
			continue
		}
		if band == "" {
			band = extract.BandFail
		}
		return services.Wrap(services.ErrQualityGate, state.Publish, "ocr gate",
			fmt.Sprintf("publish blocked by unresolved OCR quality %s for %s page %d", band, d.Part, d.Page), nil)
	}
	return nil
}

// confirmedPages lists pages whose every unit was confirmed by a reviewer.
func confirmedPages(units []normalize.Unit) map[string]bool {
	all := map[string]bool{}
	for _, u := range units {
		key := pageKey(u.Part, u.Page)
		ok, seen := all[key]
		if !seen {
			ok = true
		}
		all[key] = ok && u.ReviewState == normalize.ReviewManual
	}
	return all
}

func pageKey(part string, page int) string { return fmt.Sprintf("%s/%d", part, page) }
