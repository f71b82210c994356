package main

import (
	"fmt"
	"sieve/internal/capsule"
	"sieve/internal/config"
	"sieve/internal/index"
	"sieve/internal/llm"
	"sieve/internal/logging"
	"sieve/internal/processor"
	"sieve/internal/store"
	"time"
)

// newTransformer builds the LLM-backed capsule transformer
func newTransformer(cfg *config.Config, logger *logging.Logger) (*llm.Transformer, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	provider, err := llm.NewProvider(cfg.LLM, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	logger.Info("LLM provider: %s (model: %s)", cfg.LLM.Provider, cfg.LLM.Model)

	baseDelay := time.Duration(cfg.LLM.RetryBaseDelayMS) * time.Millisecond
	return llm.NewTransformer(provider, cfg.LLM.MaxAttempts, baseDelay, logger.Named("llm")), nil
}

// newIndexer builds the INDEX.md generator for the configured vault
func newIndexer(cfg *config.Config, logger *logging.Logger) *index.Indexer {
	return index.New(capsule.LayoutFor(cfg), cfg.IndexPath(), logger.Named("index"))
}

// newProcessor wires a standalone processor for one-shot commands
func newProcessor(cfg *config.Config, t processor.Transformer, logger *logging.Logger) *processor.Processor {
	layout := capsule.LayoutFor(cfg)
	writer := capsule.NewWriter(layout, logger.Named("writer"))
	return processor.New(cfg, t, writer, newIndexer(cfg, logger), logger.Named("processor"))
}

// openRelayStore opens the relay database at dbPath, or the configured path when empty
func openRelayStore(cfg *config.Config, dbPath string) (*store.Store, error) {
	if dbPath == "" {
		dbPath = cfg.RelayDBPath()
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open relay database %s: %w", dbPath, err)
	}
	return st, nil
}
