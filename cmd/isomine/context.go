package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"isomine/internal/anchor"
	"isomine/internal/config"
	"isomine/internal/extract"
	"isomine/internal/finalize"
	"isomine/internal/ingest"
	"isomine/internal/logging"
	"isomine/internal/normalize"
	"isomine/internal/publish"
	"isomine/internal/services"
	"isomine/internal/stage"
	"isomine/internal/verify"
	"isomine/internal/workflow"
)

// globalFlags override configuration values for one invocation.
type globalFlags struct {
	configPath       string
	logLevel         string
	pdfRoot          string
	corpusRoot       string
	indexRoot        string
	sourcePDFSet     string
	relevantPolicy   string
	extractionPolicy string
}

func (f *globalFlags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Configuration file path")
	pf.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&f.pdfRoot, "pdf-root", "", "Directory holding the source PDFs")
	pf.StringVar(&f.corpusRoot, "corpus-root", "", "Published corpus root")
	pf.StringVar(&f.indexRoot, "index-root", "", "Anchor registry and corpus manifest root")
	pf.StringVar(&f.sourcePDFSet, "source-pdfset", "", "Source PDF set policy path")
	pf.StringVar(&f.relevantPolicy, "relevant-policy", "", "Required-part policy path")
	pf.StringVar(&f.extractionPolicy, "extraction-policy", "", "Extraction threshold policy path")
}

func (f *globalFlags) apply(cfg *config.Config) {
	set := func(target *string, value string) {
		if v := strings.TrimSpace(value); v != "" {
			*target = v
		}
	}
	set(&cfg.Paths.PDFRoot, f.pdfRoot)
	set(&cfg.Paths.CorpusRoot, f.corpusRoot)
	set(&cfg.Paths.IndexRoot, f.indexRoot)
	set(&cfg.Policies.SourcePDFSet, f.sourcePDFSet)
	set(&cfg.Policies.RelevantPolicy, f.relevantPolicy)
	set(&cfg.Policies.ExtractionPolicy, f.extractionPolicy)
	set(&cfg.Logging.Level, f.logLevel)
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error

	managerOnce sync.Once
	manager     *workflow.Manager
	logger      *slog.Logger
	managerErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.configPath))
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "cli", "load config", "", err)
			return
		}
		c.flags.apply(cfg)
		if err := cfg.Resolve(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "cli", "resolve config", "", err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "cli", "ensure directories", "", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// ensureManager builds the logger, the stage registry and the workflow
// manager on first use.
func (c *commandContext) ensureManager() (*workflow.Manager, error) {
	c.managerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.managerErr = err
			return
		}
		logger, err := logging.New(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
		if err != nil {
			c.managerErr = services.Wrap(services.ErrConfiguration, "cli", "logger", "", err)
			return
		}
		registry, err := newRegistry(cfg)
		if err != nil {
			c.managerErr = err
			return
		}
		c.logger = logger
		c.manager = workflow.NewManager(cfg, registry, logger)
	})
	return c.manager, c.managerErr
}

func newRegistry(cfg *config.Config) (*stage.Registry, error) {
	return stage.NewRegistry(
		ingest.NewHandler(),
		extract.NewHandler(extract.PopplerFromConfig(cfg), nil),
		normalize.NewHandler(),
		anchor.NewHandler(),
		publish.NewHandler(),
		verify.NewHandler(),
		finalize.NewHandler(),
	)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
