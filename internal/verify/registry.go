package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"isomine/internal/artifact"
	"isomine/internal/layout"
	"isomine/internal/policy"
	"isomine/internal/publish"
	"isomine/internal/services"
	"isomine/internal/state"
)

// RegistryCheck reports the registry and corpus anchor counts.
type RegistryCheck struct {
	RegistryAnchors int      `json:"anchor_registry_count"`
	CorpusAnchors   int      `json:"corpus_anchor_count"`
	Unknown         []string `json:"-"`
}

// CheckRegistry validates the anchor registry against its schema and
// requires every registry anchor to appear in a corpus shard.
func CheckRegistry(l layout.Layout) (RegistryCheck, error) {
	var out RegistryCheck
	reg, err := publish.ReadRegistry(l)
	if err != nil {
		return out, services.Wrap(services.ErrSchema, state.Verify, "read registry", l.AnchorRegistry(), err)
	}
	if err := policy.Check("anchor registry", reg); err != nil {
		return out, services.Wrap(services.ErrSchema, state.Verify, "registry schema", err.Error(), nil)
	}
	corpus, err := CorpusAnchors(filepath.Join(l.CorpusRoot, l.Edition))
	if err != nil {
		return out, err
	}
	out.RegistryAnchors = len(reg.Anchors)
	out.CorpusAnchors = len(corpus)
	for _, a := range reg.Anchors {
		if !corpus[a.AnchorID] {
			out.Unknown = append(out.Unknown, a.AnchorID)
		}
	}
	if len(out.Unknown) > 0 {
		return out, services.Wrap(services.ErrSchema, state.Verify, "registry integrity",
			fmt.Sprintf("unknown anchor references in registry: %d (first %s)", len(out.Unknown), out.Unknown[0]), nil)
	}
	return out, nil
}

// CorpusAnchors collects the anchor_id of every row of every shard below
// root.
func CorpusAnchors(root string) (map[string]bool, error) {
	matches, err := doublestar.Glob(os.DirFS(root), "**/*.jsonl", doublestar.WithFilesOnly())
	if err != nil {
		return nil, services.Wrap(services.ErrSchema, state.Verify, "corpus glob", root, err)
	}
	sort.Strings(matches)
	anchors := map[string]bool{}
	for _, rel := range matches {
		path := filepath.Join(root, filepath.FromSlash(rel))
		err := artifact.ScanJSONL(path, func(line []byte) error {
			var row struct {
				AnchorID string `json:"anchor_id"`
			}
			if err := json.Unmarshal(line, &row); err != nil {
				return err
			}
			if row.AnchorID != "" {
				anchors[row.AnchorID] = true
			}
			return nil
		})
		if err != nil {
			return nil, services.Wrap(services.ErrSchema, state.Verify, "read shard", path, err)
		}
	}
	return anchors, nil
}
