package verify

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"isomine/internal/artifact"
	"isomine/internal/canonical"
	"isomine/internal/layout"
	"isomine/internal/query"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Probe kinds, in suite order.
const (
	ProbeTables   = "tables"
	ProbeText     = "text"
	ProbeSrc      = "src"
	ProbeNegative = "negative"
)

// ProbeKinds lists the suites in the order they run.
var ProbeKinds = []string{ProbeTables, ProbeText, ProbeSrc, ProbeNegative}

// Query modes.
const (
	ModeWord   = "word"
	ModePhrase = "phrase"
)

const (
	probeAlgorithmVersion = 1
	probeMaxHits          = 5
	wordsPerSuite         = 3
	negativeWord          = "zzzz_nohit_probe_token"
	negativePhrase        = "qqqq nohit probe phrase"
)

// Probe is one deterministic query of a suite.
type Probe struct {
	ProbeID   string `json:"probe_id"`
	Kind      string `json:"probe_kind"`
	Mode      string `json:"query_mode"`
	QueryText string `json:"query_text"`
	ExpectHit bool   `json:"expect_hit"`
}

// FreezeManifest pins the probe selection of a run.
type FreezeManifest struct {
	RunID            string   `json:"run_id"`
	AlgorithmVersion int      `json:"algorithm_version"`
	Seed             string   `json:"seed"`
	SelectedProbeIDs []string `json:"selected_probe_ids"`
	ProbesChecksum   string   `json:"probes_checksum"`
	Signature        string   `json:"signature"`
	TimestampUTC     string   `json:"timestamp_utc"`
}

// ProbeOutcome is one probe's result. The query text stays in the data
// plane; control artifacts carry only ids and counts.
type ProbeOutcome struct {
	ProbeID  string `json:"probe_id"`
	Kind     string `json:"probe_kind"`
	Mode     string `json:"query_mode"`
	HitCount int    `json:"hit_count"`
	Pass     bool   `json:"pass"`
}

// SuiteOutcome is the verdict of one suite. Suites are listed rather than
// keyed by kind: a kind is a value, and "text" may never be a control key.
type SuiteOutcome struct {
	Kind string `json:"probe_kind"`
	Pass bool   `json:"pass"`
}

// SuiteOutcomes are kept in ProbeKinds order.
type SuiteOutcomes []SuiteOutcome

// Passed reports the verdict of kind. An unknown kind has not passed.
func (s SuiteOutcomes) Passed(kind string) bool {
	for _, o := range s {
		if o.Kind == kind {
			return o.Pass
		}
	}
	return false
}

// ProbeResults is probe-results.json.
type ProbeResults struct {
	GeneratedAtUTC string         `json:"generated_at_utc"`
	Results        []ProbeOutcome `json:"results"`
	Suites         SuiteOutcomes  `json:"suites"`
}

// Pass reports whether every suite passed.
func (r ProbeResults) Pass() bool {
	for _, o := range r.Suites {
		if !o.Pass {
			return false
		}
	}
	return len(r.Suites) > 0
}

// BuildProbes selects the probe suites from indexed rows: the sorted set of
// first tokens feeds three word probes per positive suite and the sorted
// set of leading token pairs feeds one phrase probe each.
func BuildProbes(rows []query.Posting) (map[string][]Probe, error) {
	wordSet, phraseSet := map[string]bool{}, map[string]bool{}
	for _, r := range rows {
		tokens := query.Tokens(r.NormalizedText)
		if len(tokens) > 0 {
			wordSet[tokens[0]] = true
		}
		if len(tokens) >= 2 {
			phraseSet[tokens[0]+" "+tokens[1]] = true
		}
	}
	words, phrases := sortedSet(wordSet), sortedSet(phraseSet)
	need := wordsPerSuite * 3
	if len(words) < need || len(phrases) < 3 {
		return nil, services.Wrap(services.ErrQualityGate, state.Verify, "probe selection",
			fmt.Sprintf("insufficient deterministic probe candidates: %d words, %d phrases", len(words), len(phrases)), nil)
	}

	probes := map[string][]Probe{}
	for i, kind := range []string{ProbeTables, ProbeText, ProbeSrc} {
		for j, w := range words[i*wordsPerSuite : (i+1)*wordsPerSuite] {
			probes[kind] = append(probes[kind], Probe{
				ProbeID: fmt.Sprintf("%s-%03d", kind, j+1), Kind: kind, Mode: ModeWord, QueryText: w, ExpectHit: true,
			})
		}
		probes[kind] = append(probes[kind], Probe{
			ProbeID: kind + "-100", Kind: kind, Mode: ModePhrase, QueryText: phrases[i], ExpectHit: true,
		})
	}
	probes[ProbeNegative] = []Probe{
		{ProbeID: "negative-001", Kind: ProbeNegative, Mode: ModeWord, QueryText: negativeWord},
		{ProbeID: "negative-002", Kind: ProbeNegative, Mode: ModePhrase, QueryText: negativePhrase},
	}
	return probes, nil
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Freeze computes the freeze manifest of probes. The signature covers the
// selection and the probe content, not the timestamp.
func Freeze(runID string, probes map[string][]Probe, now time.Time) (FreezeManifest, error) {
	var ids []string
	var all []Probe
	for _, kind := range ProbeKinds {
		for _, p := range probes[kind] {
			ids = append(ids, p.ProbeID)
			all = append(all, p)
		}
	}
	sort.Strings(ids)
	sum, err := canonical.LinesChecksum(all)
	if err != nil {
		return FreezeManifest{}, err
	}
	m := FreezeManifest{
		RunID: runID, AlgorithmVersion: probeAlgorithmVersion, Seed: "prewarm-" + runID,
		SelectedProbeIDs: ids, ProbesChecksum: sum,
	}
	sig, err := canonical.Checksum(m)
	if err != nil {
		return FreezeManifest{}, err
	}
	m.Signature = sig
	m.TimestampUTC = state.Timestamp(now)
	return m, nil
}

// WriteProbes writes each suite to the data plane and the freeze manifest
// to the control plane.
func WriteProbes(l layout.Layout, probes map[string][]Probe, m FreezeManifest) ([]string, error) {
	var paths []string
	for _, kind := range ProbeKinds {
		path := filepath.Join(l.ProbeSetDir(), kind+".jsonl")
		if err := artifact.WriteJSONL(path, probes[kind]); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if err := artifact.WriteJSON(l.ProbeFreezeManifest(), m); err != nil {
		return nil, err
	}
	return append(paths, l.ProbeFreezeManifest()), nil
}

func search(s *query.Searcher, mode, text string) (int, error) {
	req := query.Request{MaxHits: probeMaxHits}
	if mode == ModeWord {
		req.Term = text
	} else {
		req.Phrase = text
	}
	resp, err := s.Search(req)
	if err != nil {
		return 0, err
	}
	return resp.HitCount, nil
}

// RunProbes executes every suite. Positive probes need at least one hit,
// negative probes none.
func RunProbes(s *query.Searcher, probes map[string][]Probe, now time.Time) (ProbeResults, error) {
	res := ProbeResults{GeneratedAtUTC: state.Timestamp(now)}
	for _, kind := range ProbeKinds {
		suite := SuiteOutcome{Kind: kind, Pass: true}
		for _, p := range probes[kind] {
			hits, err := search(s, p.Mode, p.QueryText)
			if err != nil {
				return res, err
			}
			pass := hits == 0
			if p.ExpectHit {
				pass = hits > 0
			}
			res.Results = append(res.Results, ProbeOutcome{ProbeID: p.ProbeID, Kind: kind, Mode: p.Mode, HitCount: hits, Pass: pass})
			if !pass {
				suite.Pass = false
			}
		}
		res.Suites = append(res.Suites, suite)
	}
	return res, nil
}

// Smoke is the deterministic word and phrase smoke query outcome. Terms
// are recorded by hash.
type Smoke struct {
	WordTermSHA256   string `json:"word_term_sha256"`
	PhraseTermSHA256 string `json:"phrase_term_sha256"`
	WordHitCount     int    `json:"word_hit_count"`
	PhraseHitCount   int    `json:"phrase_hit_count"`
	WordPass         bool   `json:"word_query_smoke"`
	PhrasePass       bool   `json:"phrase_query_smoke"`
}

// RunSmoke queries the first token and the first token pair of the first
// indexed row that has two tokens.
func RunSmoke(s *query.Searcher, rows []query.Posting) (Smoke, error) {
	var word, phrase string
	for _, r := range rows {
		tokens := query.Tokens(r.NormalizedText)
		if len(tokens) >= 2 {
			word, phrase = tokens[0], strings.Join(tokens[:2], " ")
			break
		}
	}
	if word == "" {
		return Smoke{}, services.Wrap(services.ErrQualityGate, state.Verify, "query smoke", "no indexed row carries a phrase candidate", nil)
	}
	var out Smoke
	var err error
	out.WordTermSHA256 = canonical.TextSHA256(word)
	out.PhraseTermSHA256 = canonical.TextSHA256(phrase)
	if out.WordHitCount, err = search(s, ModeWord, word); err != nil {
		return out, err
	}
	if out.PhraseHitCount, err = search(s, ModePhrase, phrase); err != nil {
		return out, err
	}
	out.WordPass = out.WordHitCount > 0
	out.PhrasePass = out.PhraseHitCount > 0
	return out, nil
}
