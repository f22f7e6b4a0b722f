package publish

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"isomine/internal/anchor"
	"isomine/internal/artifact"
	"isomine/internal/layout"
	"isomine/internal/logging"
	"isomine/internal/services"
	"isomine/internal/state"
)

// Registry entry status for a published unit.
const StatusMapped = "mapped"

const registryNote = "auto-published non-verbatim corpus entry"

// MaxShardSize caps records per shard. It is also the default.
const MaxShardSize = 250

// ClauseCount is one row of a clause manifest.
type ClauseCount struct {
	Clause    string `json:"clause"`
	UnitCount int    `json:"unit_count"`
}

// ClauseManifest is <part>/clause-manifest.jsonc.
type ClauseManifest struct {
	Part    string        `json:"part"`
	Edition string        `json:"edition"`
	Clauses []ClauseCount `json:"clauses"`
}

// PartManifest is <part>/part-manifest.jsonc.
type PartManifest struct {
	Part           string   `json:"part"`
	Edition        string   `json:"edition"`
	UnitCount      int      `json:"unit_count"`
	Shards         []string `json:"shards"`
	ClauseManifest string   `json:"clause_manifest"`
}

// RegistryAnchor is one entry of the anchor registry.
type RegistryAnchor struct {
	AnchorID string `json:"anchor_id" validate:"required"`
	Part     string `json:"part" validate:"required"`
	Unit     string `json:"unit" validate:"required"`
	Status   string `json:"status" validate:"required,oneof=mapped retired"`
	Notes    string `json:"notes"`
}

// Registry is index_root/anchor-registry.jsonc.
type Registry struct {
	SchemaVersion int              `json:"schema_version" validate:"eq=1"`
	Anchors       []RegistryAnchor `json:"anchors" validate:"required,min=1,dive"`
}

// PartRef points at one part manifest, relative to the corpus root.
type PartRef struct {
	Part     string `json:"part"`
	Manifest string `json:"manifest"`
}

// CorpusManifest is index_root/corpus-manifest.jsonc.
type CorpusManifest struct {
	SchemaVersion  int       `json:"schema_version"`
	Edition        string    `json:"edition"`
	Parts          []PartRef `json:"parts"`
	RecordCount    int       `json:"record_count"`
	GeneratedAtUTC string    `json:"generated_at_utc"`
}

// Summary is publish-summary.json.
type Summary struct {
	RunID                string   `json:"run_id"`
	TimestampUTC         string   `json:"timestamp_utc"`
	PublishedRecordCount int      `json:"published_record_count"`
	PublishedParts       []string `json:"published_parts"`
	ShardCount           int      `json:"shard_count"`
	AnchorRegistry       string   `json:"anchor_registry"`
	CorpusManifest       string   `json:"corpus_manifest"`
}

// Options drive one publish transaction.
type Options struct {
	RunID  string
	Layout layout.Layout
	Units  []anchor.AnchoredUnit
	// ShardSize outside 1..MaxShardSize selects MaxShardSize.
	ShardSize int
	Now       time.Time
	Logger    *slog.Logger
}

// Result lists the published paths and the summary.
type Result struct {
	Summary Summary
	Paths   []string
}

// Marker renders the begin and commit marker text.
func Marker(runID string, now time.Time) string {
	return fmt.Sprintf("run_id=%s\ntimestamp_utc=%s\n", runID, state.Timestamp(now))
}

// Run publishes opts.Units. The begin marker is written first and the
// commit marker last.
func Run(opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if len(opts.Units) == 0 {
		return Result{}, services.Wrap(services.ErrStopCondition, state.Publish, "units", "anchored unit set is empty", nil)
	}
	shardSize := opts.ShardSize
	if shardSize <= 0 || shardSize > MaxShardSize {
		shardSize = MaxShardSize
	}
	seen := make(map[string]string, len(opts.Units))
	for _, u := range opts.Units {
		if prev, ok := seen[u.AnchorID]; ok {
			return Result{}, services.Wrap(services.ErrStopCondition, state.Publish, "units",
				fmt.Sprintf("anchor %s is shared by units %s and %s", u.AnchorID, prev, u.UnitID), nil)
		}
		seen[u.AnchorID] = u.UnitID
	}
	l := opts.Layout
	var res Result

	if err := os.Remove(l.PublishCommit()); err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("clear commit marker: %w", err)
	}
	if err := artifact.WriteText(l.PublishBegin(), Marker(opts.RunID, opts.Now)); err != nil {
		return res, err
	}
	res.Paths = append(res.Paths, l.PublishBegin())

	byPart := map[string][]anchor.AnchoredUnit{}
	for _, u := range opts.Units {
		byPart[u.Part] = append(byPart[u.Part], u)
	}
	parts := make([]string, 0, len(byPart))
	for part := range byPart {
		parts = append(parts, part)
	}
	sort.Strings(parts)

	var registry Registry
	registry.SchemaVersion = 1
	var refs []PartRef
	for _, part := range parts {
		records := byPart[part]
		dir := strings.ToLower(part)
		if err := os.RemoveAll(l.PartCorpusDir(dir)); err != nil {
			return res, fmt.Errorf("clear part corpus %s: %w", part, err)
		}
		shards, paths, err := writeShards(l, dir, records, shardSize)
		if err != nil {
			return res, err
		}
		res.Paths = append(res.Paths, paths...)
		res.Summary.ShardCount += len(shards)

		clauseManifest := ClauseManifest{Part: part, Edition: l.Edition, Clauses: clauseCounts(records)}
		if err := artifact.WriteJSON(l.ClauseManifest(dir), clauseManifest); err != nil {
			return res, err
		}
		partManifest := PartManifest{
			Part: part, Edition: l.Edition, UnitCount: len(records),
			Shards: shards, ClauseManifest: filepath.Base(l.ClauseManifest(dir)),
		}
		if err := artifact.WriteJSON(l.PartManifest(dir), partManifest); err != nil {
			return res, err
		}
		res.Paths = append(res.Paths, l.ClauseManifest(dir), l.PartManifest(dir))
		refs = append(refs, PartRef{Part: part, Manifest: filepath.ToSlash(filepath.Join(l.Edition, dir, filepath.Base(l.PartManifest(dir))))})

		for _, r := range records {
			registry.Anchors = append(registry.Anchors, RegistryAnchor{
				AnchorID: r.AnchorID, Part: part, Unit: r.UnitID, Status: StatusMapped, Notes: registryNote,
			})
		}
	}
	sort.Slice(registry.Anchors, func(i, j int) bool { return registry.Anchors[i].AnchorID < registry.Anchors[j].AnchorID })

	if err := artifact.WriteJSON(l.AnchorRegistry(), registry); err != nil {
		return res, err
	}
	manifest := CorpusManifest{
		SchemaVersion: 1, Edition: l.Edition, Parts: refs,
		RecordCount: len(opts.Units), GeneratedAtUTC: state.Timestamp(opts.Now),
	}
	if err := artifact.WriteJSON(l.CorpusManifest(), manifest); err != nil {
		return res, err
	}
	res.Paths = append(res.Paths, l.AnchorRegistry(), l.CorpusManifest())

	res.Summary.RunID = opts.RunID
	res.Summary.TimestampUTC = state.Timestamp(opts.Now)
	res.Summary.PublishedRecordCount = len(opts.Units)
	res.Summary.PublishedParts = parts
	res.Summary.AnchorRegistry = l.AnchorRegistry()
	res.Summary.CorpusManifest = l.CorpusManifest()
	if err := artifact.WriteJSON(l.PublishSummary(), res.Summary); err != nil {
		return res, err
	}
	if err := artifact.WriteText(l.PublishCommit(), Marker(opts.RunID, opts.Now)); err != nil {
		return res, err
	}
	res.Paths = append(res.Paths, l.PublishSummary(), l.PublishCommit())

	logger.Info("corpus published",
		logging.Int("published_record_count", len(opts.Units)),
		logging.Int("shard_count", res.Summary.ShardCount),
		logging.String("parts", strings.Join(parts, ",")),
	)
	return res, nil
}

// writeShards groups records by unit type, orders each group by
// (page_start, anchor_id) and writes shardSize-record files.
func writeShards(l layout.Layout, dir string, records []anchor.AnchoredUnit, shardSize int) ([]string, []string, error) {
	byType := map[string][]anchor.AnchoredUnit{}
	for _, r := range records {
		byType[r.UnitType] = append(byType[r.UnitType], r)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var names, paths []string
	for _, unitType := range types {
		rows := byType[unitType]
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i].SourceLocator.PageStart, rows[j].SourceLocator.PageStart
			if a != b {
				return a < b
			}
			return rows[i].AnchorID < rows[j].AnchorID
		})
		for offset := 0; offset < len(rows); offset += shardSize {
			end := min(offset+shardSize, len(rows))
			name := fmt.Sprintf("%s-%04d.jsonl", unitType, offset/shardSize+1)
			path := filepath.Join(l.PartCorpusDir(dir), name)
			if err := artifact.WriteJSONL(path, rows[offset:end]); err != nil {
				return nil, nil, err
			}
			names = append(names, name)
			paths = append(paths, path)
		}
	}
	return names, paths, nil
}

func clauseCounts(records []anchor.AnchoredUnit) []ClauseCount {
	counts := map[string]int{}
	for _, r := range records {
		clause := r.SourceLocator.Clause
		if clause == "" {
			clause = "unknown"
		}
		counts[clause]++
	}
	out := make([]ClauseCount, 0, len(counts))
	for _, clause := range sortedKeys(counts) {
		out = append(out, ClauseCount{Clause: clause, UnitCount: counts[clause]})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReadRegistry loads the anchor registry, tolerating comments.
func ReadRegistry(l layout.Layout) (Registry, error) {
	var r Registry
	if err := artifact.ReadJSONC(l.AnchorRegistry(), &r); err != nil {
		return Registry{}, err
	}
	return r, nil
}

// ReadCorpusManifest loads the corpus manifest, tolerating comments.
func ReadCorpusManifest(l layout.Layout) (CorpusManifest, error) {
	var m CorpusManifest
	if err := artifact.ReadJSONC(l.CorpusManifest(), &m); err != nil {
		return CorpusManifest{}, err
	}
	return m, nil
}

// ReadPartManifest loads one part manifest.
func ReadPartManifest(l layout.Layout, part string) (PartManifest, error) {
	var m PartManifest
	if err := artifact.ReadJSONC(l.PartManifest(strings.ToLower(part)), &m); err != nil {
		return PartManifest{}, err
	}
	return m, nil
}

// ReadShards loads every shard named by a part manifest.
func ReadShards(l layout.Layout, m PartManifest) ([]anchor.AnchoredUnit, error) {
	var out []anchor.AnchoredUnit
	dir := strings.ToLower(m.Part)
	for _, name := range m.Shards {
		rows, err := artifact.ReadJSONL[anchor.AnchoredUnit](filepath.Join(l.PartCorpusDir(dir), name))
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}
