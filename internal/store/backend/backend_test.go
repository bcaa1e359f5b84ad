package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
)

func TestOpenLocalBackends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Storage.Backend = backend
			cfg.Storage.BoltPath = filepath.Join(t.TempDir(), "index.db")

			opened, err := Open(context.Background(), cfg)
			require.NoError(t, err)
			assert.Nil(t, opened.Ping)

			b := store.NewBatch()
			b.Put([]byte("k"), []byte("v"))
			require.NoError(t, opened.Store.Apply(context.Background(), b))
			v, err := opened.Store.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), v)

			require.NoError(t, opened.Store.Close())
			require.NoError(t, opened.Close())
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "tape"
	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenIndex(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Indexer.Fields = map[string]config.FieldConfig{
		"title": {Type: "text", Analyzer: "english"},
	}

	idx, err := OpenIndex(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, idx.Pinger())
	assert.Equal(t, "english", idx.AnalyzerName("title"))

	doc, err := idx.Mapping.Document("d1", []byte(`{"title":"Running searches"}`))
	require.NoError(t, err)
	b := index.NewBatch()
	b.Index(doc)
	require.NoError(t, idx.Batch(context.Background(), b))
	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	require.NoError(t, idx.Close())
}

func TestIndexOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Indexer.Fields = map[string]config.FieldConfig{
		"tag":  {Type: "keyword"},
		"body": {Type: "text", Analyzer: "simple"},
	}
	opts := IndexOptions(cfg)
	assert.Equal(t, map[string]string{"body": "simple"}, opts.FieldAnalyzers)
	assert.Equal(t, cfg.Indexer.PositionGap, opts.PositionGap)
	assert.Equal(t, cfg.Search.DocCacheSize, opts.DocCacheSize)
}
