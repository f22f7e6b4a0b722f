package query

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"isomine/internal/anchor"
	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/layout"
	"isomine/internal/normalize"
	"isomine/internal/services"
)

// SchemaVersion is recorded in run state as QUERY_INDEX_SCHEMA_VERSION.
const SchemaVersion = "1"

const (
	phraseTokenLimit = 40
	shardRows        = 5000
)

var tokenRE = regexp.MustCompile(`[a-z0-9_]+`)

// postingDomain keys the BLAKE3 checksums so they never collide with
// hashes computed for another purpose over the same bytes.
var postingDomain = blake3.Sum256([]byte("isomine query posting list v1"))

// Locator is the scope of a posting.
type Locator struct {
	Section string `json:"section"`
	Clause  string `json:"clause"`
	Table   string `json:"table,omitempty"`
}

// Posting is one indexed unit slice.
type Posting struct {
	AnchorID       string  `json:"anchor_id"`
	UnitID         string  `json:"unit_id"`
	SliceID        string  `json:"slice_id"`
	Part           string  `json:"part"`
	Page           int     `json:"page"`
	UnitType       string  `json:"unit_type"`
	SourceLocator  Locator `json:"source_locator"`
	NormalizedText string  `json:"normalized_text"`
	Text           string  `json:"text"`
}

// Less orders postings by (part, page, unit_type, anchor_id, unit_id,
// slice_id, clause).
func Less(a, b Posting) bool {
	switch {
	case a.Part != b.Part:
		return a.Part < b.Part
	case a.Page != b.Page:
		return a.Page < b.Page
	case a.UnitType != b.UnitType:
		return a.UnitType < b.UnitType
	case a.AnchorID != b.AnchorID:
		return a.AnchorID < b.AnchorID
	case a.UnitID != b.UnitID:
		return a.UnitID < b.UnitID
	case a.SliceID != b.SliceID:
		return a.SliceID < b.SliceID
	}
	return a.SourceLocator.Clause < b.SourceLocator.Clause
}

func sortPostings(p []Posting) {
	sort.SliceStable(p, func(i, j int) bool { return Less(p[i], p[j]) })
}

// Entry is one row of a token or phrase shard.
type Entry struct {
	Key          string    `json:"key"`
	PostingCount int       `json:"posting_count"`
	Checksum     string    `json:"checksum"`
	Postings     []Posting `json:"postings"`
}

// Manifest is query/index-manifest.json.
type Manifest struct {
	SchemaVersion  string   `json:"schema_version"`
	RunID          string   `json:"run_id"`
	RowCount       int      `json:"row_count"`
	TokenCount     int      `json:"token_count"`
	PhraseCount    int      `json:"phrase_count"`
	InvertedShards []string `json:"inverted_shards"`
	PhraseShards   []string `json:"phrase_shards"`
	Signature      string   `json:"signature"`
}

// Index is the in-memory form of both indexes.
type Index struct {
	Rows    []Posting
	Tokens  map[string][]Posting
	Phrases map[string][]Posting
}

// Normalize collapses whitespace and lowercases.
func Normalize(text string) string { return canonical.NormalizeForQuery(text) }

// Tokens splits normalized text into index tokens.
func Tokens(normalized string) []string { return tokenRE.FindAllString(normalized, -1) }

// JoinRows pairs each query source row with its anchor. Rows without an
// anchor were never published and are left out.
func JoinRows(rows []normalize.QuerySourceRow, links []anchor.TextLink) []Posting {
	anchors := make(map[string]string, len(links))
	for _, link := range links {
		anchors[link.UnitID] = link.AnchorID
	}
	out := make([]Posting, 0, len(rows))
	for _, r := range rows {
		id, ok := anchors[r.UnitID]
		if !ok {
			continue
		}
		normalized := r.NormalizedText
		if normalized == "" {
			normalized = Normalize(r.Text)
		}
		out = append(out, Posting{
			AnchorID: id, UnitID: r.UnitID, SliceID: r.SliceID, Part: r.Part, Page: r.Page, UnitType: r.UnitType,
			SourceLocator:  Locator{Section: r.Section, Clause: r.Clause, Table: r.Table},
			NormalizedText: normalized, Text: r.Text,
		})
	}
	sortPostings(out)
	return out
}

// Build indexes rows: every distinct token, every distinct 2- and 3-token
// window over the first 40 tokens, and each row's full normalized text.
func Build(rows []Posting) Index {
	idx := Index{Rows: rows, Tokens: map[string][]Posting{}, Phrases: map[string][]Posting{}}
	for _, p := range rows {
		tokens := Tokens(p.NormalizedText)
		seen := map[string]bool{}
		for _, tok := range tokens {
			if !seen[tok] {
				seen[tok] = true
				idx.Tokens[tok] = append(idx.Tokens[tok], p)
			}
		}
		limit := min(len(tokens), phraseTokenLimit)
		phrases := map[string]bool{}
		for _, n := range []int{2, 3} {
			for i := 0; i+n <= limit; i++ {
				phrase := strings.Join(tokens[i:i+n], " ")
				if !phrases[phrase] {
					phrases[phrase] = true
					idx.Phrases[phrase] = append(idx.Phrases[phrase], p)
				}
			}
		}
		if p.NormalizedText != "" && !phrases[p.NormalizedText] {
			idx.Phrases[p.NormalizedText] = append(idx.Phrases[p.NormalizedText], p)
		}
	}
	for _, m := range []map[string][]Posting{idx.Tokens, idx.Phrases} {
		for key := range m {
			sortPostings(m[key])
		}
	}
	return idx
}

// PostingChecksum is the keyed BLAKE3 digest of a canonical posting list.
func PostingChecksum(postings []Posting) (string, error) {
	data, err := canonical.Marshal(postings)
	if err != nil {
		return "", err
	}
	h, err := blake3.NewKeyed(postingDomain[:])
	if err != nil {
		return "", err
	}
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func entries(m map[string][]Posting) ([]Entry, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		sum, err := PostingChecksum(m[k])
		if err != nil {
			return nil, fmt.Errorf("checksum %q: %w", k, err)
		}
		out = append(out, Entry{Key: k, PostingCount: len(m[k]), Checksum: sum, Postings: m[k]})
	}
	return out, nil
}

// Write persists idx under the run's query directory and returns the
// manifest. Shard paths in the manifest are relative to the run root.
func Write(l layout.Layout, runID string, idx Index) (Manifest, error) {
	tokens, err := entries(idx.Tokens)
	if err != nil {
		return Manifest{}, err
	}
	phrases, err := entries(idx.Phrases)
	if err != nil {
		return Manifest{}, err
	}
	m := Manifest{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		RowCount:      len(idx.Rows),
		TokenCount:    len(tokens),
		PhraseCount:   len(phrases),
	}
	if m.InvertedShards, err = writeShards(l, l.InvertedIndexDir(), "tokens", tokens); err != nil {
		return Manifest{}, err
	}
	if m.PhraseShards, err = writeShards(l, l.PhraseIndexDir(), "phrases", phrases); err != nil {
		return Manifest{}, err
	}
	sig, err := manifestSignature(m)
	if err != nil {
		return Manifest{}, err
	}
	m.Signature = sig
	if err := artifact.WriteJSON(l.QueryIndexManifest(), m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func manifestSignature(m Manifest) (string, error) {
	m.Signature = ""
	m.RunID = ""
	return canonical.Checksum(m)
}

func writeShards(l layout.Layout, dir, prefix string, rows []Entry) ([]string, error) {
	var names []string
	for offset, n := 0, 1; offset < len(rows) || n == 1; offset, n = offset+shardRows, n+1 {
		end := min(offset+shardRows, len(rows))
		path := filepath.Join(dir, fmt.Sprintf("%s-%04d.jsonl", prefix, n))
		if err := artifact.WriteJSONL(path, rows[offset:end]); err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(l.RunRoot, path)
		if err != nil {
			return nil, err
		}
		names = append(names, filepath.ToSlash(rel))
		if end == len(rows) {
			break
		}
	}
	return names, nil
}

// BuildFromRun joins the run's query source rows with its anchor links,
// builds both indexes and writes them.
func BuildFromRun(l layout.Layout, runID string) (Manifest, error) {
	rows, err := normalize.ReadQueryRows(l)
	if err != nil {
		return Manifest{}, err
	}
	links, err := anchor.ReadLinks(l)
	if err != nil {
		return Manifest{}, err
	}
	postings := JoinRows(rows, links)
	if len(postings) == 0 {
		return Manifest{}, services.Wrap(services.ErrStopCondition, "query", "index", "no anchored query rows to index", nil)
	}
	return Write(l, runID, Build(postings))
}

// ReadManifest loads query/index-manifest.json.
func ReadManifest(l layout.Layout) (Manifest, error) {
	var m Manifest
	if err := artifact.ReadJSON(l.QueryIndexManifest(), &m); err != nil {
		return Manifest{}, services.Wrap(services.ErrNotFound, "query", "read manifest", l.QueryIndexManifest(), err)
	}
	return m, nil
}

// Load reads the indexes named by the run's manifest back into memory.
func Load(l layout.Layout) (Index, Manifest, error) {
	m, err := ReadManifest(l)
	if err != nil {
		return Index{}, Manifest{}, err
	}
	idx := Index{Tokens: map[string][]Posting{}, Phrases: map[string][]Posting{}}
	for _, set := range []struct {
		shards []string
		into   map[string][]Posting
	}{{m.InvertedShards, idx.Tokens}, {m.PhraseShards, idx.Phrases}} {
		for _, rel := range set.shards {
			loaded, err := artifact.ReadJSONL[Entry](filepath.Join(l.RunRoot, filepath.FromSlash(rel)))
			if err != nil {
				return Index{}, Manifest{}, fmt.Errorf("load shard %s: %w", rel, err)
			}
			for _, e := range loaded {
				set.into[e.Key] = e.Postings
			}
		}
	}
	rows, err := normalize.ReadQueryRows(l)
	if err != nil {
		return Index{}, Manifest{}, err
	}
	links, err := anchor.ReadLinks(l)
	if err != nil {
		return Index{}, Manifest{}, err
	}
	idx.Rows = JoinRows(rows, links)
	return idx, m, nil
}
