package config

const (
	defaultConfigPath        = "~/.config/isomine/config.toml"
	projectConfigName        = "isomine.toml"
	defaultRepoRoot          = "."
	defaultPDFToText         = "pdftotext"
	defaultPDFInfo           = "pdfinfo"
	defaultToolTimeout       = 120
	defaultToolWorkers       = 4
	defaultEdition           = "2018"
	defaultAnchorNamespace   = "iso26262"
	defaultShardSize         = 250
	maxShardSize             = 250
	defaultMode              = "strict"
	defaultLockStaleMinutes  = 120
	defaultQueryMaxHits      = 20
	defaultQueryMaxQuoteSize = 240
	defaultLogFormat         = "auto"
	defaultLogLevel          = "info"
)

// Relative locations resolved against paths.repo_root when left empty.
const (
	relPDFRoot          = "sources/pdf"
	relRunsRoot         = "data/runs"
	relControlDir       = "control"
	relCorpusRoot       = "corpus"
	relIndexRoot        = "index"
	relLedgerPath       = "control/ledger.db"
	relLogDir           = "control/logs"
	relSourcePDFSet     = "policy/source-pdfset.jsonc"
	relRelevantPolicy   = "policy/relevant-policy.jsonc"
	relExtractionPolicy = "policy/extraction-policy.jsonc"
)

// Default returns a Config populated with repository defaults. Path fields
// stay empty and are derived from repo_root during normalization.
func Default() Config {
	return Config{
		Paths: Paths{RepoRoot: defaultRepoRoot},
		Tools: Tools{
			PDFToText:      defaultPDFToText,
			PDFInfo:        defaultPDFInfo,
			TimeoutSeconds: defaultToolTimeout,
			MaxWorkers:     defaultToolWorkers,
		},
		Corpus: Corpus{
			Edition:         defaultEdition,
			AnchorNamespace: defaultAnchorNamespace,
			ShardSize:       defaultShardSize,
		},
		Run: Run{
			Mode:             defaultMode,
			LockStaleMinutes: defaultLockStaleMinutes,
			FailOnQA:         true,
		},
		Query: Query{
			MaxHits:       defaultQueryMaxHits,
			MaxQuoteBytes: defaultQueryMaxQuoteSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
