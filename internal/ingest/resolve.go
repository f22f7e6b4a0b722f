package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"isomine/internal/policy"
	"isomine/internal/services"
)

// Match modes recorded per resolved part.
const (
	MatchPreferred = "preferred_exact"
	MatchFallback  = "fallback_regex"
)

// Inventory lists every regular *.pdf file below root, sorted.
func Inventory(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, services.Wrap(services.ErrSource, "ingest", "inventory", "pdf root unavailable: "+root, err)
	}
	if !info.IsDir() {
		return nil, services.Wrap(services.ErrSource, "ingest", "inventory", "pdf root is not a directory: "+root, nil)
	}
	matches, err := doublestar.Glob(os.DirFS(root), "**/*.pdf", doublestar.WithFilesOnly())
	if err != nil {
		return nil, services.Wrap(services.ErrSource, "ingest", "inventory", root, err)
	}
	out := make([]string, 0, len(matches))
	for _, rel := range matches {
		out = append(out, filepath.Join(root, filepath.FromSlash(rel)))
	}
	sort.Strings(out)
	return out, nil
}

// ErrPartMissing reports that no file matched a part.
type ErrPartMissing struct {
	Part     string
	Root     string
	Expected string
	Pattern  string
}

func (e *ErrPartMissing) Error() string {
	return fmt.Sprintf("missing required part %s under %s; expected %s or %s", e.Part, e.Root, e.Expected, e.Pattern)
}

// ResolvePart picks the single file for part.
func ResolvePart(part policy.SourcePart, root string, inventory []string) (string, string, error) {
	preferred := filepath.Join(root, part.PreferredName())
	if info, err := os.Stat(preferred); err == nil && info.Mode().IsRegular() {
		return preferred, MatchPreferred, nil
	}

	pattern, err := regexp.Compile(part.Pattern())
	if err != nil {
		return "", "", services.Wrap(services.ErrConfiguration, "ingest", "resolve",
			fmt.Sprintf("invalid fallback pattern for %s", part.Part), err)
	}
	var candidates []string
	for _, path := range inventory {
		if pattern.MatchString(filepath.Base(path)) {
			candidates = append(candidates, path)
		}
	}
	switch len(candidates) {
	case 1:
		return candidates[0], MatchFallback, nil
	case 0:
		return "", "", services.Wrap(services.ErrSource, "ingest", "resolve", "", &ErrPartMissing{
			Part: part.Part, Root: root, Expected: part.PreferredName(), Pattern: part.Pattern(),
		})
	default:
		return "", "", services.Wrap(services.ErrSource, "ingest", "resolve",
			fmt.Sprintf("ambiguous required part %s under %s; candidates=%s", part.Part, root, strings.Join(candidates, ",")), nil)
	}
}
