package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTools(); err != nil {
		return err
	}
	if err := c.validateCorpus(); err != nil {
		return err
	}
	if err := c.validateRun(); err != nil {
		return err
	}
	if err := c.validateQuery(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateTools() error {
	if c.Tools.TimeoutSeconds <= 0 {
		return errors.New("tools.timeout_seconds must be positive")
	}
	if c.Tools.MaxWorkers <= 0 {
		return errors.New("tools.max_workers must be positive")
	}
	return nil
}

func (c *Config) validateCorpus() error {
	if c.Corpus.Edition == "" {
		return errors.New("corpus.edition must be set")
	}
	if c.Corpus.AnchorNamespace == "" {
		return errors.New("corpus.anchor_namespace must be set")
	}
	if strings.ContainsAny(c.Corpus.AnchorNamespace, ": /") {
		return fmt.Errorf("corpus.anchor_namespace %q must not contain ':', '/' or spaces", c.Corpus.AnchorNamespace)
	}
	if c.Corpus.ShardSize <= 0 || c.Corpus.ShardSize > maxShardSize {
		return fmt.Errorf("corpus.shard_size must be between 1 and %d, got %d", maxShardSize, c.Corpus.ShardSize)
	}
	return nil
}

func (c *Config) validateRun() error {
	switch c.Run.Mode {
	case "strict", "partial":
	default:
		return fmt.Errorf("run.mode must be strict or partial, got %q", c.Run.Mode)
	}
	if c.Run.LockStaleMinutes <= 0 {
		return errors.New("run.lock_stale_minutes must be positive")
	}
	return nil
}

func (c *Config) validateQuery() error {
	if c.Query.MaxHits <= 0 {
		return errors.New("query.max_hits must be positive")
	}
	if c.Query.MaxQuoteBytes <= 0 {
		return errors.New("query.max_quote_bytes must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
