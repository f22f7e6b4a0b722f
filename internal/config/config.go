package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths locates the repository, the source PDFs and every output root.
type Paths struct {
	RepoRoot   string `toml:"repo_root"`
	PDFRoot    string `toml:"pdf_root"`
	RunsRoot   string `toml:"runs_root"`
	ControlDir string `toml:"control_dir"`
	CorpusRoot string `toml:"corpus_root"`
	IndexRoot  string `toml:"index_root"`
	LedgerPath string `toml:"ledger_path"`
	LogDir     string `toml:"log_dir"`
}

// Policies points at the comment-tolerant JSON policy documents.
type Policies struct {
	SourcePDFSet     string `toml:"source_pdfset"`
	RelevantPolicy   string `toml:"relevant_policy"`
	ExtractionPolicy string `toml:"extraction_policy"`
	ThresholdProfile string `toml:"threshold_profile"`
	BoundaryGoldset  string `toml:"boundary_goldset"`
}

// Tools configures the external poppler binaries.
type Tools struct {
	PDFToText      string `toml:"pdftotext"`
	PDFInfo        string `toml:"pdfinfo"`
	PDFToPPM       string `toml:"pdftoppm"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxWorkers     int    `toml:"max_workers"`
}

// Corpus controls anchor identity and published shard layout.
type Corpus struct {
	Edition         string `toml:"edition"`
	AnchorNamespace string `toml:"anchor_namespace"`
	ShardSize       int    `toml:"shard_size"`
}

// Run holds per-run pipeline behaviour.
type Run struct {
	Mode             string `toml:"mode"`
	LockStaleMinutes int    `toml:"lock_stale_minutes"`
	FailOnQA         bool   `toml:"fail_on_qa"`
}

// Query bounds search output.
type Query struct {
	MaxHits       int `toml:"max_hits"`
	MaxQuoteBytes int `toml:"max_quote_bytes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics configures the Prometheus textfile export of quality gauges.
type Metrics struct {
	Textfile string `toml:"textfile"`
}

// Config encapsulates all configuration values for isomine.
//
// Sections:
//   - Paths: repository, source and output roots
//   - Policies: JSONC policy documents
//   - Tools: poppler binaries and timeout
//   - Corpus: edition, anchor namespace and shard size
//   - Run: mode, lock staleness and QA gating
//   - Query: hit and quote limits
//   - Logging: log format and level
//   - Metrics: quality gauge export
type Config struct {
	Paths    Paths    `toml:"paths"`
	Policies Policies `toml:"policies"`
	Tools    Tools    `toml:"tools"`
	Corpus   Corpus   `toml:"corpus"`
	Run      Run      `toml:"run"`
	Query    Query    `toml:"query"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the output roots a pipeline run writes into. The
// PDF root is input and is never created.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RunsRoot, c.Paths.ControlDir, c.Paths.CorpusRoot, c.Paths.IndexRoot, c.Paths.LogDir, filepath.Dir(c.Paths.LedgerPath)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ControlRunRoot returns the control-plane directory for a run.
func (c *Config) ControlRunRoot(runID string) string {
	return filepath.Join(c.Paths.ControlDir, "runs", runID)
}

// DataRunRoot returns the data-plane directory for a run.
func (c *Config) DataRunRoot(runID string) string {
	return filepath.Join(c.Paths.RunsRoot, runID)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Resolve normalizes and validates a config built in code rather than
// loaded from a file.
func (c *Config) Resolve() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}
