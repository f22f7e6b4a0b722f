package testsupport

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"isomine/internal/config"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// SHA256 returns the hex digest of content.
func SHA256(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SourcePDF writes a fake PDF for part under the pdf root using the
// preferred file name and returns its hash.
func SourcePDF(t testing.TB, cfg *config.Config, part string) string {
	t.Helper()
	content := "%PDF-1.7 fixture " + part
	num := strings.TrimLeft(strings.TrimPrefix(part, "P"), "0")
	WriteFile(t, filepath.Join(cfg.Paths.PDFRoot, fmt.Sprintf("ISO 26262-%s;2018 ed.2 (en).pdf", num)), content)
	return SHA256(content)
}

// Policies writes the relevant, source and extraction policies for parts.
// hashes maps part to declared sha256; parts without an entry are PENDING.
func Policies(t testing.TB, cfg *config.Config, parts []string, hashes map[string]string) {
	t.Helper()
	quoted := make([]string, len(parts))
	rows := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = fmt.Sprintf("%q", part)
		sum := hashes[part]
		if sum == "" {
			sum = "PENDING"
		}
		rows[i] = fmt.Sprintf(`    {"part": %q, "sha256": %q}`, part, sum)
	}
	WriteFile(t, cfg.Policies.RelevantPolicy, fmt.Sprintf(`{
  // parts mined by this run
  "policy_id": "relevant_v1",
  "in_scope_parts": [%s]
}
`, strings.Join(quoted, ", ")))
	WriteFile(t, cfg.Policies.SourcePDFSet, fmt.Sprintf(`{
  "pdfset_id": "fixture",
  "edition": "2018",
  "parts": [
%s
  ]
}
`, strings.Join(rows, ",\n")))
	WriteFile(t, cfg.Policies.ExtractionPolicy, `{
  // primary extraction thresholds
  "policy_id": "extraction_policy_v1",
  "non_blank_ink_coverage_ratio_min": 0.01,
  "primary_low_char_count_threshold": 40,
  "replacement_char_ratio_max": 0.05,
  "control_char_ratio_max": 0.02,
}
`)
}
