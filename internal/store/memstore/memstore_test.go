package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.KVStore {
		return New()
	})
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	b := store.NewBatch()
	b.Put([]byte("k"), []byte("v"))
	assert.ErrorIs(t, s.Apply(context.Background(), b), store.ErrClosed)
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestApplyHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := store.NewBatch()
	b.Put([]byte("k"), []byte("v"))
	require.Error(t, s.Apply(ctx, b))
	assert.Equal(t, 0, s.Len())
}
