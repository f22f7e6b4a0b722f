package verify

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/jsonc"

	"isomine/internal/artifact"
	"isomine/internal/services"
	"isomine/internal/state"
)

// ForbiddenKeys may never appear in a control-plane document.
var ForbiddenKeys = []string{
	"raw_text", "payload_text", "unit_text", "verbatim_text", "text_excerpt",
	"paragraph_text", "cell_text", "excerpt", "text", "normalized_text",
}

// Violation is one forbidden key found in a control-plane file.
type Violation struct {
	Path    string
	Key     string
	Pointer string
}

func (v Violation) String() string { return fmt.Sprintf("%s: %q at %s", v.Path, v.Key, v.Pointer) }

// ScanControlPlane walks every JSON, JSONC and JSONL file below root and
// reports each forbidden key at any depth.
func ScanControlPlane(root string) ([]Violation, error) {
	forbidden := map[string]bool{}
	for _, k := range ForbiddenKeys {
		forbidden[k] = true
	}
	matches, err := doublestar.Glob(os.DirFS(root), "**/*.{json,jsonc,jsonl}", doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob control plane: %w", err)
	}
	sort.Strings(matches)

	var out []Violation
	for _, rel := range matches {
		path := filepath.Join(root, filepath.FromSlash(rel))
		visit := func(doc any, prefix string) {
			walkKeys(doc, prefix, func(key, pointer string) {
				if forbidden[key] {
					out = append(out, Violation{Path: rel, Key: key, Pointer: pointer})
				}
			})
		}
		if strings.HasSuffix(rel, ".jsonl") {
			n := 0
			err = artifact.ScanJSONL(path, func(line []byte) error {
				n++
				var doc any
				if err := json.Unmarshal(line, &doc); err != nil {
					return err
				}
				visit(doc, fmt.Sprintf("line %d ", n))
				return nil
			})
		} else {
			var data []byte
			if data, err = fs.ReadFile(os.DirFS(root), rel); err == nil {
				var doc any
				if err = json.Unmarshal(jsonc.ToJSON(data), &doc); err == nil {
					visit(doc, "")
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", path, err)
		}
	}
	return out, nil
}

func walkKeys(v any, pointer string, fn func(key, pointer string)) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := pointer + "/" + k
			fn(k, p)
			walkKeys(child, p, fn)
		}
	case []any:
		for i, child := range t {
			walkKeys(child, fmt.Sprintf("%s/%d", pointer, i), fn)
		}
	}
}

// CheckReportContent fails on the first forbidden key under root.
func CheckReportContent(root string) error {
	violations, err := ScanControlPlane(root)
	if err != nil {
		return services.Wrap(services.ErrSchema, state.Verify, "report content", root, err)
	}
	if len(violations) > 0 {
		sort.Slice(violations, func(i, j int) bool { return violations[i].String() < violations[j].String() })
		return services.Wrap(services.ErrSchema, state.Verify, "report content",
			fmt.Sprintf("disallowed raw-text key in control artifact: %s (%d total)", violations[0], len(violations)), nil)
	}
	return nil
}
