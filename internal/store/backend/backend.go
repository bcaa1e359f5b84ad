// Package backend opens the key-value store named by the storage
// configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/boltstore"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/pgstore"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/postgres"
)

// Opened is a store together with the resources behind it.
type Opened struct {
	Store store.KVStore
	// Ping is non-nil for backends with a network dependency.
	Ping health.Pinger
	// Close releases resources the store does not own, after the index has
	// closed the store itself.
	Close func() error
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg *config.Config) (*Opened, error) {
	noop := func() error { return nil }
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return &Opened{Store: memstore.New(), Close: noop}, nil
	case config.BackendBolt:
		s, err := boltstore.Open(cfg.Storage.BoltPath, boltstore.Options{Timeout: cfg.Storage.BoltTimeout})
		if err != nil {
			return nil, err
		}
		return &Opened{Store: s, Close: noop}, nil
	case config.BackendPostgres:
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		s, err := pgstore.New(ctx, client, cfg.Storage.PostgresTable, cfg.Storage.PostgresPageSize)
		if err != nil {
			client.Close()
			return nil, err
		}
		return &Opened{Store: s, Ping: client, Close: client.Close}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
