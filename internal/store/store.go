// Package store defines the ordered key-value adapter the index engine is
// built on. Concrete engines live in sub-packages (memstore, boltstore,
// pgstore); the index only ever talks to the interfaces declared here.
package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
)

// ErrClosed is returned by operations on a closed store or snapshot.
var ErrClosed = errors.New("store closed")

// Reader is the read side shared by a live store and its snapshots.
type Reader interface {
	// Get returns the value stored under key, or nil when the key is absent.
	Get(key []byte) ([]byte, error)
	// RangeIterator iterates keys in [start, end) in ascending order. A nil
	// end means "to the end of the keyspace".
	RangeIterator(start, end []byte) Iterator
}

// KVStore is an ordered byte-range store with atomic batch writes.
type KVStore interface {
	Reader
	// Apply commits every operation in the batch or none of them.
	Apply(ctx context.Context, batch *Batch) error
	// Snapshot opens a read-only view pinned to the current generation.
	Snapshot() (Snapshot, error)
	Close() error
}

// Snapshot is a point-in-time Reader. It must be closed to release the
// underlying generation.
type Snapshot interface {
	Reader
	Close() error
}

// Iterator walks a key range. Keys and values returned by Current are only
// valid until the next call to Next, Seek or Close.
type Iterator interface {
	// Seek positions the iterator at the first key >= key within its range.
	Seek(key []byte)
	Next()
	Current() (key, value []byte, ok bool)
	Valid() bool
	Err() error
	Close() error
}

// OpKind distinguishes the two mutation kinds in a Batch.
type OpKind uint8

const (
	OpPut OpKind = iota
	OpDelete
)

// Op is one mutation within a Batch.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Batch is an ordered list of mutations applied atomically. When the same key
// appears more than once, the last operation wins.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	v := clone(value)
	if v == nil {
		v = []byte{}
	}
	b.ops = append(b.ops, Op{Kind: OpPut, Key: clone(key), Value: v})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Key: clone(key)})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
}

// Ops returns the mutations in insertion order.
func (b *Batch) Ops() []Op {
	return b.ops
}

// Collapsed returns one operation per key, last write wins, sorted by key.
func (b *Batch) Collapsed() []Op {
	latest := make(map[string]int, len(b.ops))
	for i, op := range b.ops {
		latest[string(op.Key)] = i
	}
	out := make([]Op, 0, len(latest))
	for i, op := range b.ops {
		if latest[string(op.Key)] == i {
			out = append(out, op)
		}
	}
	sortOps(out)
	return out
}

func sortOps(ops []Op) {
	sort.Slice(ops, func(i, j int) bool {
		return bytes.Compare(ops[i].Key, ops[j].Key) < 0
	})
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// InRange reports whether key lies within [start, end).
func InRange(key, start, end []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}
