package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizePolicies(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeCorpus()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.RepoRoot, err = expandPath(strings.TrimSpace(c.Paths.RepoRoot)); err != nil {
		return fmt.Errorf("paths.repo_root: %w", err)
	}
	if c.Paths.RepoRoot == "" {
		if c.Paths.RepoRoot, err = expandPath(defaultRepoRoot); err != nil {
			return fmt.Errorf("paths.repo_root: %w", err)
		}
	}
	if c.Paths.PDFRoot == "" {
		if value, ok := os.LookupEnv("ISOMINE_PDF_ROOT"); ok {
			c.Paths.PDFRoot = value
		}
	}
	fields := []struct {
		key    string
		target *string
		rel    string
	}{
		{"paths.pdf_root", &c.Paths.PDFRoot, relPDFRoot},
		{"paths.runs_root", &c.Paths.RunsRoot, relRunsRoot},
		{"paths.control_dir", &c.Paths.ControlDir, relControlDir},
		{"paths.corpus_root", &c.Paths.CorpusRoot, relCorpusRoot},
		{"paths.index_root", &c.Paths.IndexRoot, relIndexRoot},
		{"paths.ledger_path", &c.Paths.LedgerPath, relLedgerPath},
		{"paths.log_dir", &c.Paths.LogDir, relLogDir},
	}
	for _, field := range fields {
		if err := c.resolveRepoPath(field.target, field.rel); err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
	}
	return nil
}

func (c *Config) normalizePolicies() error {
	fields := []struct {
		key    string
		target *string
		rel    string
	}{
		{"policies.source_pdfset", &c.Policies.SourcePDFSet, relSourcePDFSet},
		{"policies.relevant_policy", &c.Policies.RelevantPolicy, relRelevantPolicy},
		{"policies.extraction_policy", &c.Policies.ExtractionPolicy, relExtractionPolicy},
		{"policies.threshold_profile", &c.Policies.ThresholdProfile, ""},
		{"policies.boundary_goldset", &c.Policies.BoundaryGoldset, ""},
	}
	for _, field := range fields {
		if err := c.resolveRepoPath(field.target, field.rel); err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
	}
	return nil
}

// resolveRepoPath fills an empty value with rel (when non-empty) and anchors
// relative values at the repository root.
func (c *Config) resolveRepoPath(target *string, rel string) error {
	value := strings.TrimSpace(*target)
	if value == "" {
		if rel == "" {
			*target = ""
			return nil
		}
		value = rel
	}
	if !strings.HasPrefix(value, "~") && !filepath.IsAbs(value) {
		value = filepath.Join(c.Paths.RepoRoot, value)
	}
	expanded, err := expandPath(value)
	if err != nil {
		return err
	}
	*target = expanded
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.PDFToText = strings.TrimSpace(c.Tools.PDFToText)
	if c.Tools.PDFToText == "" {
		c.Tools.PDFToText = defaultPDFToText
	}
	c.Tools.PDFToPPM = strings.TrimSpace(c.Tools.PDFToPPM)
	c.Tools.PDFInfo = strings.TrimSpace(c.Tools.PDFInfo)
	if c.Tools.PDFInfo == "" {
		c.Tools.PDFInfo = defaultPDFInfo
	}
}

func (c *Config) normalizeCorpus() {
	c.Corpus.Edition = strings.TrimSpace(c.Corpus.Edition)
	c.Corpus.AnchorNamespace = strings.ToLower(strings.TrimSpace(c.Corpus.AnchorNamespace))
	c.Run.Mode = strings.ToLower(strings.TrimSpace(c.Run.Mode))
	if c.Run.Mode == "" {
		c.Run.Mode = defaultMode
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
