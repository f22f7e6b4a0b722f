// Package testsupport builds isolated configurations and fixture sources for
// package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"isomine/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a resolved config rooted in a fresh temp directory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.RepoRoot = base
	cfgVal.Paths.PDFRoot = filepath.Join(base, "sources", "pdf")
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.Resolve(); err != nil {
		t.Fatalf("resolve test config: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if err := os.MkdirAll(builder.cfg.Paths.PDFRoot, 0o755); err != nil {
		t.Fatalf("mkdir pdf root: %v", err)
	}
	return builder.cfg
}

// WithMode overrides the run mode.
func WithMode(mode string) ConfigOption {
	return func(b *configBuilder) { b.cfg.Run.Mode = mode }
}

// WithShardSize overrides the published shard size.
func WithShardSize(n int) ConfigOption {
	return func(b *configBuilder) { b.cfg.Corpus.ShardSize = n }
}

// WithStubbedBinaries writes no-op executables for names and prepends their
// directory to PATH. With no names the poppler tools are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"pdftotext", "pdfinfo"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		if tt, ok := b.t.(interface{ Setenv(string, string) }); ok {
			tt.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
		}
	}
}

// BaseDir returns the temp directory backing cfg.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.RepoRoot
}
