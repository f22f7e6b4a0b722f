package query

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"isomine/internal/layout"
	"isomine/internal/publish"
	"isomine/internal/services"
)

// DefaultMaxHits bounds a search when the request leaves MaxHits unset.
const DefaultMaxHits = 20

// Request is one search.
type Request struct {
	Term     string
	Phrase   string
	Part     string
	UnitType string
	Page     int
	AnchorID string
	Clause   string
	MaxHits  int

	Quote         bool
	MaxQuoteBytes int
}

// CacheRefs point back into the run's data plane.
type CacheRefs struct {
	SliceID  string `json:"slice_id"`
	RecordID string `json:"record_id"`
}

// Pointers locate a hit in the published corpus. Paths are relative to
// the corpus or index root they name.
type Pointers struct {
	AnchorRegistryPath string `json:"anchor_registry_path"`
	CorpusManifestPath string `json:"corpus_manifest_path"`
	PartManifestPath   string `json:"part_manifest_path"`
	PartShardPath      string `json:"part_shard_path"`
	JSONLRowHint       int    `json:"jsonl_row_hint"`
}

// Hit is one search result.
type Hit struct {
	Rank           int       `json:"rank"`
	AnchorID       string    `json:"anchor_id"`
	UnitID         string    `json:"unit_id"`
	Part           string    `json:"part"`
	Page           int       `json:"page"`
	UnitType       string    `json:"unit_type"`
	SourceLocator  Locator   `json:"source_locator"`
	CacheRefs      CacheRefs `json:"cache_refs"`
	LookupPointers Pointers  `json:"lookup_pointers"`
	Quote          *string   `json:"quote,omitempty"`
}

// QueryEcho restates the normalized query.
type QueryEcho struct {
	Mode     string `json:"mode"`
	Value    string `json:"value"`
	Fallback bool   `json:"substring_fallback"`
	Quote    bool   `json:"quote_mode"`
}

// Response is the full search result.
type Response struct {
	Query    QueryEcho `json:"query"`
	HitCount int       `json:"hit_count"`
	Hits     []Hit     `json:"hits"`
}

// Searcher answers requests against one loaded index.
type Searcher struct {
	layout   layout.Layout
	index    Index
	pointers map[string]Pointers
	loaded   map[string]bool
}

// NewSearcher wraps a loaded index. l locates the published corpus for
// lookup pointers.
func NewSearcher(l layout.Layout, idx Index) *Searcher {
	return &Searcher{layout: l, index: idx, pointers: map[string]Pointers{}, loaded: map[string]bool{}}
}

// Open loads the run's index and wraps it.
func Open(l layout.Layout) (*Searcher, error) {
	idx, _, err := Load(l)
	if err != nil {
		return nil, err
	}
	return NewSearcher(l, idx), nil
}

// Search runs req. Exactly one of Term and Phrase must be set.
func (s *Searcher) Search(req Request) (Response, error) {
	term := Normalize(req.Term)
	phrase := Normalize(req.Phrase)
	if (term == "") == (phrase == "") {
		return Response{}, services.Wrap(services.ErrUsage, "query", "search", "exactly one of term or phrase is required", nil)
	}

	var candidates []Posting
	echo := QueryEcho{Quote: req.Quote}
	if term != "" {
		echo.Mode, echo.Value = "term", term
		candidates = s.index.Tokens[term]
	} else {
		echo.Mode, echo.Value = "phrase", phrase
		candidates = s.index.Phrases[phrase]
		if len(candidates) == 0 {
			echo.Fallback = true
			for _, row := range s.index.Rows {
				if strings.Contains(row.NormalizedText, phrase) {
					candidates = append(candidates, row)
				}
			}
		}
	}

	filtered := make([]Posting, 0, len(candidates))
	for _, p := range candidates {
		if req.matches(p) {
			filtered = append(filtered, p)
		}
	}
	sortPostings(filtered)

	maxHits := req.MaxHits
	if maxHits <= 0 {
		maxHits = DefaultMaxHits
	}
	type key struct{ anchor, unit, slice string }
	seen := map[key]bool{}
	resp := Response{Query: echo, Hits: []Hit{}}
	for _, p := range filtered {
		k := key{p.AnchorID, p.UnitID, p.SliceID}
		if seen[k] {
			continue
		}
		seen[k] = true
		if len(resp.Hits) == maxHits {
			break
		}
		hit := Hit{
			Rank: len(resp.Hits) + 1, AnchorID: p.AnchorID, UnitID: p.UnitID, Part: p.Part, Page: p.Page,
			UnitType: p.UnitType, SourceLocator: p.SourceLocator,
			CacheRefs:      CacheRefs{SliceID: p.SliceID, RecordID: p.Part + ":" + strconv.Itoa(p.Page)},
			LookupPointers: s.pointer(p),
		}
		if req.Quote {
			q := GuardedQuote(p.Text, req.MaxQuoteBytes)
			hit.Quote = &q
		}
		resp.Hits = append(resp.Hits, hit)
	}
	resp.HitCount = len(resp.Hits)
	return resp, nil
}

func (r Request) matches(p Posting) bool {
	switch {
	case r.Part != "" && p.Part != r.Part:
		return false
	case r.UnitType != "" && p.UnitType != r.UnitType:
		return false
	case r.Page > 0 && p.Page != r.Page:
		return false
	case r.AnchorID != "" && p.AnchorID != r.AnchorID:
		return false
	case r.Clause != "" && p.SourceLocator.Clause != r.Clause:
		return false
	}
	return true
}

// pointer resolves a posting to its shard and 1-based row. Parts are read
// from the published corpus once and cached; an unpublished part falls
// back to the first shard of the unit type with row hint 0.
func (s *Searcher) pointer(p Posting) Pointers {
	if ptr, ok := s.pointers[p.AnchorID]; ok {
		return ptr
	}
	s.loadPart(p.Part)
	if ptr, ok := s.pointers[p.AnchorID]; ok {
		return ptr
	}
	dir := strings.ToLower(p.Part)
	ptr := s.base(dir)
	ptr.PartShardPath = filepath.ToSlash(filepath.Join(s.layout.Edition, dir, p.UnitType+"-0001.jsonl"))
	return ptr
}

func (s *Searcher) base(dir string) Pointers {
	return Pointers{
		AnchorRegistryPath: filepath.Base(s.layout.AnchorRegistry()),
		CorpusManifestPath: filepath.Base(s.layout.CorpusManifest()),
		PartManifestPath:   filepath.ToSlash(filepath.Join(s.layout.Edition, dir, filepath.Base(s.layout.PartManifest(dir)))),
	}
}

func (s *Searcher) loadPart(part string) {
	if s.loaded[part] {
		return
	}
	s.loaded[part] = true
	m, err := publish.ReadPartManifest(s.layout, part)
	if err != nil {
		return
	}
	dir := strings.ToLower(part)
	for _, shard := range m.Shards {
		rows, err := publish.ReadShards(s.layout, publish.PartManifest{Part: m.Part, Shards: []string{shard}})
		if err != nil {
			continue
		}
		for i, r := range rows {
			ptr := s.base(dir)
			ptr.PartShardPath = filepath.ToSlash(filepath.Join(s.layout.Edition, dir, shard))
			ptr.JSONLRowHint = i + 1
			s.pointers[r.AnchorID] = ptr
		}
	}
}

// GuardedQuote returns the first two non-blank lines of text, cut to at
// most maxBytes on a rune boundary.
func GuardedQuote(text string, maxBytes int) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
			if len(lines) == 2 {
				break
			}
		}
	}
	quote := strings.Join(lines, "\n")
	if maxBytes <= 0 || len(quote) <= maxBytes {
		return quote
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(quote[cut]) {
		cut--
	}
	return quote[:cut]
}
