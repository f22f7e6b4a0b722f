package query

import (
	"sort"

	"isomine/internal/anchor"
	"isomine/internal/layout"
	"isomine/internal/normalize"
	"isomine/internal/services"
)

// Lineage traces an anchor back through its link record to its slices.
type Lineage struct {
	AnchorID     string                `json:"anchor_id"`
	UnitID       string                `json:"unit_id"`
	Part         string                `json:"part"`
	Page         int                   `json:"page"`
	UnitType     string                `json:"unit_type"`
	Locator      Locator               `json:"source_locator"`
	PageRecordID string                `json:"page_record_id"`
	BlockIDs     []string              `json:"block_ids"`
	SliceIDs     []string              `json:"slice_ids"`
	TextSHA256   []string              `json:"text_sha256_set"`
	Slices       []normalize.UnitSlice `json:"slices"`
}

// Explanation is the explain result. Lineage is nil when nothing matched.
type Explanation struct {
	Found   bool     `json:"found"`
	Lineage *Lineage `json:"lineage,omitempty"`
}

// Explain resolves exactly one of anchorID or unitID.
func Explain(l layout.Layout, anchorID, unitID string) (Explanation, error) {
	if (anchorID == "") == (unitID == "") {
		return Explanation{}, services.Wrap(services.ErrUsage, "query", "explain", "exactly one of anchor id or unit id is required", nil)
	}
	links, err := anchor.ReadLinks(l)
	if err != nil {
		return Explanation{}, err
	}
	var target *anchor.TextLink
	for i := range links {
		if (anchorID != "" && links[i].AnchorID == anchorID) || (unitID != "" && links[i].UnitID == unitID) {
			target = &links[i]
			break
		}
	}
	if target == nil {
		return Explanation{Found: false}, nil
	}

	slices, err := normalize.ReadSlices(l)
	if err != nil {
		return Explanation{}, err
	}
	lin := &Lineage{
		AnchorID: target.AnchorID, UnitID: target.UnitID, Part: target.Part, Page: target.Page,
		UnitType: target.UnitType, PageRecordID: target.PageRecordID, BlockIDs: target.BlockIDs,
		Locator: Locator{Section: target.Section, Clause: target.Clause, Table: target.Table},
	}
	hashes := map[string]bool{}
	for _, s := range slices {
		if s.UnitID != target.UnitID {
			continue
		}
		lin.Slices = append(lin.Slices, s)
		lin.SliceIDs = append(lin.SliceIDs, s.SliceID)
		hashes[s.TextSHA256] = true
	}
	sort.Slice(lin.Slices, func(i, j int) bool { return lin.Slices[i].SliceID < lin.Slices[j].SliceID })
	sort.Strings(lin.SliceIDs)
	for h := range hashes {
		lin.TextSHA256 = append(lin.TextSHA256, h)
	}
	sort.Strings(lin.TextSHA256)
	return Explanation{Found: true, Lineage: lin}, nil
}
