package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/mapping"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
)

// Index is an index opened on the configured backend together with the
// document mapping built from the same field configuration.
type Index struct {
	*index.Index
	Mapping *mapping.Mapping
	backend *Opened
}

// OpenIndex opens the backend and the index on top of it.
func OpenIndex(ctx context.Context, cfg *config.Config) (*Index, error) {
	m, err := mapping.New(cfg.Indexer.Fields, cfg.Indexer.DefaultAnalyzer)
	if err != nil {
		return nil, fmt.Errorf("building mapping: %w", err)
	}
	opened, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	idx, err := index.Open(opened.Store, IndexOptions(cfg))
	if err != nil {
		opened.Store.Close()
		opened.Close()
		return nil, fmt.Errorf("opening index: %w", err)
	}
	return &Index{Index: idx, Mapping: m, backend: opened}, nil
}

// IndexOptions derives index options from the indexer and search settings.
func IndexOptions(cfg *config.Config) index.Options {
	fieldAnalyzers := make(map[string]string)
	for name, f := range cfg.Indexer.Fields {
		if f.Analyzer != "" {
			fieldAnalyzers[name] = f.Analyzer
		}
	}
	return index.Options{
		DefaultAnalyzer: cfg.Indexer.DefaultAnalyzer,
		FieldAnalyzers:  fieldAnalyzers,
		AnalysisWorkers: cfg.Indexer.AnalysisWorkers,
		PositionGap:     cfg.Indexer.PositionGap,
		DocCacheSize:    cfg.Search.DocCacheSize,
		Logger:          logger.WithComponent("index"),
	}
}

// Pinger returns the backend's network dependency, or nil for local
// backends.
func (i *Index) Pinger() health.Pinger {
	return i.backend.Ping
}

// Close closes the index, which closes its store, then the resources
// behind the store.
func (i *Index) Close() error {
	return errors.Join(i.Index.Close(), i.backend.Close())
}
