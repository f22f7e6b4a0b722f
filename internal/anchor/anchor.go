package anchor

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/layout"
	"isomine/internal/logging"
	"isomine/internal/normalize"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Scope types.
const (
	ScopePart    = "part"
	ScopeSection = "section"
	ScopeClause  = "clause"
	ScopeTable   = "table"
)

// ScopeRefs are the scope anchors a unit belongs to.
type ScopeRefs struct {
	Section string `json:"section"`
	Clause  string `json:"clause"`
	Table   string `json:"table,omitempty"`
}

// AnchoredUnit is one row of anchored-units.jsonl.
type AnchoredUnit struct {
	normalize.Unit
	AnchorID            string    `json:"anchor_id"`
	ScopeAnchors        ScopeRefs `json:"scope_anchors"`
	ParentScopeAnchorID string    `json:"parent_scope_anchor_id"`
}

// ScopeAnchor is one row of scope-anchors.jsonl.
type ScopeAnchor struct {
	ScopeAnchorID string `json:"scope_anchor_id"`
	ScopeType     string `json:"scope_type"`
	Part          string `json:"part"`
	Value         string `json:"value"`
	UnitCount     int    `json:"unit_count"`
}

// TextLink is one row of anchor-text-links.jsonl.
type TextLink struct {
	AnchorID     string   `json:"anchor_id"`
	UnitID       string   `json:"unit_id"`
	SliceID      string   `json:"slice_id"`
	Part         string   `json:"part"`
	Page         int      `json:"page"`
	UnitType     string   `json:"unit_type"`
	Section      string   `json:"section"`
	Clause       string   `json:"clause"`
	Table        string   `json:"table,omitempty"`
	PageRecordID string   `json:"page_record_id"`
	BlockIDs     []string `json:"block_ids"`
	TextSHA256   string   `json:"text_sha256"`
}

// LinkIndex is anchor-link-index.json.
type LinkIndex struct {
	RunID         string         `json:"run_id"`
	AnchorCount   int            `json:"anchor_count"`
	ByPart        map[string]int `json:"by_part"`
	LinksChecksum string         `json:"links_checksum"`
}

// Summary is anchor-summary.json.
type Summary struct {
	RunID                string         `json:"run_id"`
	TimestampUTC         string         `json:"timestamp_utc"`
	Namespace            string         `json:"namespace"`
	Edition              string         `json:"edition"`
	UnitCount            int            `json:"unit_count"`
	AnchoredUnitCount    int            `json:"anchored_unit_count"`
	UniqueAnchorCount    int            `json:"unique_anchor_count"`
	DuplicateAnchorCount int            `json:"duplicate_anchor_count"`
	UnitLinkCount        int            `json:"unit_link_count"`
	AnchorLinkCount      int            `json:"anchor_link_count"`
	ScopeAnchorCount     int            `json:"scope_anchor_count"`
	Parts                map[string]int `json:"parts"`
}

// Options drive one anchor pass.
type Options struct {
	RunID     string
	Namespace string
	Edition   string
	Units     []normalize.Unit
	Links     []normalize.UnitTextLink
	Now       time.Time
	Logger    *slog.Logger
}

// Output is everything one pass produces.
type Output struct {
	Summary Summary
	Units   []AnchoredUnit
	Scopes  []ScopeAnchor
	Links   []TextLink
	Index   LinkIndex
}

// Run anchors every unit and checks the bijection.
func Run(opts Options) (Output, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(opts.Units) == 0 {
		return Output{}, services.Wrap(services.ErrStopCondition, state.Anchor, "units", "normalized unit set is empty", nil)
	}
	linkByUnit := make(map[string]normalize.UnitTextLink, len(opts.Links))
	for _, link := range opts.Links {
		if _, dup := linkByUnit[link.UnitID]; dup {
			return Output{}, services.Wrap(services.ErrDeterminism, state.Anchor, "bijection",
				"duplicate unit-text link for "+link.UnitID, nil)
		}
		linkByUnit[link.UnitID] = link
	}

	units := append([]normalize.Unit(nil), opts.Units...)
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Part != b.Part {
			return a.Part < b.Part
		}
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		return a.UnitID < b.UnitID
	})

	out := Output{
		Summary: Summary{
			RunID:        opts.RunID,
			TimestampUTC: state.Timestamp(opts.Now),
			Namespace:    opts.Namespace,
			Edition:      opts.Edition,
			UnitCount:    len(units),
			Parts:        map[string]int{},
		},
		Index: LinkIndex{RunID: opts.RunID, ByPart: map[string]int{}},
	}
	scopes := map[string]*ScopeAnchor{}
	seen := map[string]string{}
	for _, u := range units {
		id := canonical.AnchorID(opts.Namespace, opts.Edition, u.Part, u.Page, u.UnitType, u.UnitID)
		if prev, dup := seen[id]; dup {
			out.Summary.DuplicateAnchorCount++
			return Output{}, services.Wrap(services.ErrDeterminism, state.Anchor, "bijection",
				fmt.Sprintf("duplicate anchor_id %s for units %s and %s", id, prev, u.UnitID), nil)
		}
		seen[id] = u.UnitID

		link, ok := linkByUnit[u.UnitID]
		if !ok {
			return Output{}, services.Wrap(services.ErrDeterminism, state.Anchor, "bijection",
				"unit without unit-text link: "+u.UnitID, nil)
		}

		loc := u.SourceLocator
		refs := ScopeRefs{
			Section: register(scopes, opts.Namespace, ScopeSection, u.Part, loc.Section),
			Clause:  register(scopes, opts.Namespace, ScopeClause, u.Part, loc.Clause),
			Table:   register(scopes, opts.Namespace, ScopeTable, u.Part, loc.Table),
		}
		parent := firstNonEmpty(refs.Table, refs.Clause, refs.Section)
		if parent == "" {
			parent = register(scopes, opts.Namespace, ScopePart, u.Part, u.Part)
		}

		out.Units = append(out.Units, AnchoredUnit{Unit: u, AnchorID: id, ScopeAnchors: refs, ParentScopeAnchorID: parent})
		out.Links = append(out.Links, TextLink{
			AnchorID: id, UnitID: u.UnitID, SliceID: link.SliceID, Part: u.Part, Page: u.Page,
			UnitType: u.UnitType, Section: loc.Section, Clause: loc.Clause, Table: loc.Table,
			PageRecordID: link.PageRecordID, BlockIDs: link.BlockIDs, TextSHA256: link.TextSHA256,
		})
		out.Summary.Parts[u.Part]++
		out.Index.ByPart[u.Part]++
	}

	for _, s := range scopes {
		out.Scopes = append(out.Scopes, *s)
	}
	sort.Slice(out.Scopes, func(i, j int) bool { return out.Scopes[i].ScopeAnchorID < out.Scopes[j].ScopeAnchorID })

	if err := CheckBijection(len(units), len(out.Units), len(out.Links), len(opts.Links)); err != nil {
		return Output{}, err
	}
	checksum, err := canonical.LinesChecksum(out.Links)
	if err != nil {
		return Output{}, err
	}
	out.Index.AnchorCount = len(out.Links)
	out.Index.LinksChecksum = checksum
	out.Summary.AnchoredUnitCount = len(out.Units)
	out.Summary.UniqueAnchorCount = len(seen)
	out.Summary.UnitLinkCount = len(opts.Links)
	out.Summary.AnchorLinkCount = len(out.Links)
	out.Summary.ScopeAnchorCount = len(out.Scopes)

	logger.Info("units anchored",
		logging.Int("anchored_unit_count", len(out.Units)),
		logging.Int("scope_anchor_count", len(out.Scopes)),
	)
	return out, nil
}

// CheckBijection fails unless units, anchored records and both link sets
// count identically.
func CheckBijection(units, anchored, anchorLinks, unitLinks int) error {
	if units == anchored && anchored == anchorLinks && anchorLinks == unitLinks {
		return nil
	}
	return services.Wrap(services.ErrDeterminism, state.Anchor, "bijection",
		fmt.Sprintf("units=%d anchored=%d anchor_links=%d unit_links=%d", units, anchored, anchorLinks, unitLinks), nil)
}

func register(scopes map[string]*ScopeAnchor, namespace, scopeType, part, value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	id := canonical.ScopeAnchorID(namespace, scopeType, part, value)
	s, ok := scopes[id]
	if !ok {
		s = &ScopeAnchor{ScopeAnchorID: id, ScopeType: scopeType, Part: part, Value: value}
		scopes[id] = s
	}
	s.UnitCount++
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// WriteOutputs persists out and returns every written path.
func WriteOutputs(l layout.Layout, out Output) ([]string, error) {
	steps := []struct {
		path  string
		write func(string) error
	}{
		{l.AnchoredUnits(), func(p string) error { return artifact.WriteJSONL(p, out.Units) }},
		{l.ScopeAnchors(), func(p string) error { return artifact.WriteJSONL(p, out.Scopes) }},
		{l.AnchorTextLinks(), func(p string) error { return artifact.WriteJSONL(p, out.Links) }},
		{l.AnchorLinkIndex(), func(p string) error { return artifact.WriteJSON(p, out.Index) }},
		{l.AnchorSummary(), func(p string) error { return artifact.WriteJSON(p, out.Summary) }},
	}
	paths := make([]string, 0, len(steps))
	for _, step := range steps {
		if err := step.write(step.path); err != nil {
			return nil, err
		}
		paths = append(paths, step.path)
	}
	return paths, nil
}

// ReadUnits loads anchored-units.jsonl.
func ReadUnits(l layout.Layout) ([]AnchoredUnit, error) {
	rows, err := artifact.ReadJSONL[AnchoredUnit](l.AnchoredUnits())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, state.Anchor, "read anchored units", l.AnchoredUnits(), err)
	}
	return rows, nil
}

// ReadLinks loads anchor-text-links.jsonl.
func ReadLinks(l layout.Layout) ([]TextLink, error) {
	rows, err := artifact.ReadJSONL[TextLink](l.AnchorTextLinks())
	if err != nil {
		return nil, services.Wrap(services.ErrStopCondition, state.Anchor, "read anchor links", l.AnchorTextLinks(), err)
	}
	return rows, nil
}
