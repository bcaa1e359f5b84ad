// Package memstore is an in-memory store.KVStore. Every committed batch
// produces a new immutable sorted generation; snapshots hold a pointer to the
// generation that was current when they were opened, so readers never wait on
// writers and writers never disturb readers already in flight.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
)

type entry struct {
	key   []byte
	value []byte
}

type generation struct {
	entries []entry
}

// Store keeps the latest generation behind an atomic pointer; mu serializes
// Apply so each batch merges against the generation it read.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[generation]
	closed  atomic.Bool
}

var _ store.KVStore = (*Store)(nil)

func New() *Store {
	s := &Store{}
	s.current.Store(&generation{})
	return s
}

func (s *Store) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	return s.current.Load().get(key), nil
}

func (s *Store) RangeIterator(start, end []byte) store.Iterator {
	if s.closed.Load() {
		return &iterator{err: store.ErrClosed}
	}
	return s.current.Load().iterator(start, end)
}

// Apply merges the collapsed batch into a fresh generation and publishes it.
func (s *Store) Apply(ctx context.Context, batch *store.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}
	ops := batch.Collapsed()
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.current.Load()
	merged := make([]entry, 0, len(old.entries)+len(ops))
	i, j := 0, 0
	for i < len(old.entries) || j < len(ops) {
		switch {
		case j >= len(ops):
			merged = append(merged, old.entries[i])
			i++
		case i >= len(old.entries):
			if ops[j].Kind == store.OpPut {
				merged = append(merged, entry{key: ops[j].Key, value: ops[j].Value})
			}
			j++
		default:
			cmp := bytes.Compare(old.entries[i].key, ops[j].Key)
			switch {
			case cmp < 0:
				merged = append(merged, old.entries[i])
				i++
			case cmp > 0:
				if ops[j].Kind == store.OpPut {
					merged = append(merged, entry{key: ops[j].Key, value: ops[j].Value})
				}
				j++
			default:
				if ops[j].Kind == store.OpPut {
					merged = append(merged, entry{key: ops[j].Key, value: ops[j].Value})
				}
				i++
				j++
			}
		}
	}
	s.current.Store(&generation{entries: merged})
	return nil
}

func (s *Store) Snapshot() (store.Snapshot, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	return &snapshot{gen: s.current.Load()}, nil
}

// Len returns the number of keys in the current generation.
func (s *Store) Len() int {
	return len(s.current.Load().entries)
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

type snapshot struct {
	gen    *generation
	closed atomic.Bool
}

func (sn *snapshot) Get(key []byte) ([]byte, error) {
	if sn.closed.Load() {
		return nil, store.ErrClosed
	}
	return sn.gen.get(key), nil
}

func (sn *snapshot) RangeIterator(start, end []byte) store.Iterator {
	if sn.closed.Load() {
		return &iterator{err: store.ErrClosed}
	}
	return sn.gen.iterator(start, end)
}

func (sn *snapshot) Close() error {
	sn.closed.Store(true)
	return nil
}

func (g *generation) search(key []byte) int {
	return sort.Search(len(g.entries), func(i int) bool {
		return bytes.Compare(g.entries[i].key, key) >= 0
	})
}

func (g *generation) get(key []byte) []byte {
	i := g.search(key)
	if i < len(g.entries) && bytes.Equal(g.entries[i].key, key) {
		return g.entries[i].value
	}
	return nil
}

func (g *generation) iterator(start, end []byte) *iterator {
	it := &iterator{gen: g, start: start, end: end}
	it.Seek(start)
	return it
}

type iterator struct {
	gen   *generation
	start []byte
	end   []byte
	pos   int
	err   error
}

func (it *iterator) Seek(key []byte) {
	if it.gen == nil {
		return
	}
	if it.start != nil && bytes.Compare(key, it.start) < 0 {
		key = it.start
	}
	it.pos = it.gen.search(key)
}

func (it *iterator) Next() {
	if it.gen != nil {
		it.pos++
	}
}

func (it *iterator) Valid() bool {
	if it.gen == nil || it.pos >= len(it.gen.entries) {
		return false
	}
	return store.InRange(it.gen.entries[it.pos].key, it.start, it.end)
}

func (it *iterator) Current() ([]byte, []byte, bool) {
	if !it.Valid() {
		return nil, nil, false
	}
	e := it.gen.entries[it.pos]
	return e.key, e.value, true
}

func (it *iterator) Err() error {
	return it.err
}

func (it *iterator) Close() error {
	it.gen = nil
	return nil
}
