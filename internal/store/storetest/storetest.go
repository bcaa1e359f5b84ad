// Package storetest holds a conformance suite run against every
// store.KVStore implementation.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.KVStore

// Run exercises the adapter contract: point lookups, ordered restartable
// range iteration, all-or-nothing batches and snapshot isolation.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		v, err := s.Get([]byte("absent"))
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("BatchPutDelete", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		b := store.NewBatch()
		b.Put([]byte("a"), []byte("1"))
		b.Put([]byte("b"), []byte("2"))
		b.Put([]byte("c"), []byte("3"))
		require.NoError(t, s.Apply(ctx, b))

		b = store.NewBatch()
		b.Delete([]byte("b"))
		b.Put([]byte("c"), []byte("33"))
		require.NoError(t, s.Apply(ctx, b))

		v, err := s.Get([]byte("b"))
		require.NoError(t, err)
		assert.Nil(t, v)
		v, err = s.Get([]byte("c"))
		require.NoError(t, err)
		assert.Equal(t, []byte("33"), v)
	})

	t.Run("LastWriteWinsWithinBatch", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		b := store.NewBatch()
		b.Put([]byte("k"), []byte("old"))
		b.Delete([]byte("k"))
		b.Put([]byte("k"), []byte("new"))
		require.NoError(t, s.Apply(context.Background(), b))
		v, err := s.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), v)
	})

	t.Run("RangeOrderAndSeek", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		b := store.NewBatch()
		for i := 9; i >= 0; i-- {
			b.Put([]byte(fmt.Sprintf("key-%02d", i)), []byte{byte(i)})
		}
		b.Put([]byte("other"), []byte("x"))
		require.NoError(t, s.Apply(context.Background(), b))

		snap, err := s.Snapshot()
		require.NoError(t, err)
		defer snap.Close()

		it := snap.RangeIterator([]byte("key-"), store.PrefixEnd([]byte("key-")))
		var got []string
		for ; it.Valid(); it.Next() {
			k, _, ok := it.Current()
			require.True(t, ok)
			got = append(got, string(k))
		}
		require.NoError(t, it.Err())
		require.Len(t, got, 10)
		assert.Equal(t, "key-00", got[0])
		assert.Equal(t, "key-09", got[9])

		it.Seek([]byte("key-05"))
		k, v, ok := it.Current()
		require.True(t, ok)
		assert.Equal(t, "key-05", string(k))
		assert.Equal(t, []byte{5}, v)

		it.Seek([]byte("a"))
		k, _, ok = it.Current()
		require.True(t, ok)
		assert.Equal(t, "key-00", string(k), "seek before range start clamps to start")
		require.NoError(t, it.Close())
	})

	t.Run("SnapshotIsolation", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()
		b := store.NewBatch()
		b.Put([]byte("doc"), []byte("v1"))
		require.NoError(t, s.Apply(ctx, b))

		snap, err := s.Snapshot()
		require.NoError(t, err)

		b = store.NewBatch()
		b.Put([]byte("doc"), []byte("v2"))
		b.Put([]byte("new"), []byte("x"))
		require.NoError(t, s.Apply(ctx, b))

		v, err := snap.Get([]byte("doc"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), v)
		v, err = snap.Get([]byte("new"))
		require.NoError(t, err)
		assert.Nil(t, v)
		require.NoError(t, snap.Close())

		v, err = s.Get([]byte("doc"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
	})
}
