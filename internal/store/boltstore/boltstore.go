// Package boltstore implements store.KVStore on top of bbolt. All rows live in
// a single bucket; bbolt keeps keys sorted bytewise, a read-only transaction
// is a consistent snapshot, and an update transaction is an atomic batch.
package boltstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
)

var bucketName = []byte("index")

// Options tune how the bolt file is opened.
type Options struct {
	Timeout time.Duration
	NoSync  bool
	// InitialMmapSize pre-sizes the memory map. A commit that must grow the
	// map waits for open read transactions, so a generous initial size keeps
	// writers from stalling behind long-lived snapshots.
	InitialMmapSize int
}

const defaultInitialMmapSize = 64 << 20

type Store struct {
	db     *bolt.DB
	path   string
	logger *slog.Logger
}

var _ store.KVStore = (*Store)(nil)

// Open creates or opens the bolt file at path.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating bolt directory: %w", err)
	}
	if opts.InitialMmapSize <= 0 {
		opts.InitialMmapSize = defaultInitialMmapSize
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:         opts.Timeout,
		InitialMmapSize: opts.InitialMmapSize,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bolt file %s: %w", path, err)
	}
	db.NoSync = opts.NoSync
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	s := &Store{
		db:     db,
		path:   path,
		logger: slog.Default().With("component", "boltstore"),
	}
	s.logger.Info("bolt store opened", "path", path)
	return s, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get(key); v != nil {
			out = append([]byte{}, v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt get: %w", err)
	}
	return out, nil
}

// RangeIterator on the live store pins its own read transaction until the
// iterator is closed.
func (s *Store) RangeIterator(start, end []byte) store.Iterator {
	snap, err := s.Snapshot()
	if err != nil {
		return &iterator{err: err}
	}
	it := snap.RangeIterator(start, end).(*iterator)
	it.owner = snap.(*snapshot)
	return it
}

func (s *Store) Apply(ctx context.Context, batch *store.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, op := range batch.Ops() {
			switch op.Kind {
			case store.OpPut:
				if err := b.Put(op.Key, op.Value); err != nil {
					return fmt.Errorf("put %q: %w", op.Key, err)
				}
			case store.OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return fmt.Errorf("delete %q: %w", op.Key, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt batch of %d ops: %w", batch.Len(), err)
	}
	return nil
}

func (s *Store) Snapshot() (store.Snapshot, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("beginning bolt read tx: %w", err)
	}
	return &snapshot{tx: tx, bucket: tx.Bucket(bucketName)}, nil
}

func (s *Store) Close() error {
	s.logger.Info("bolt store closing", "path", s.path)
	return s.db.Close()
}

// snapshot wraps a read-only transaction. bbolt transactions are not safe
// for concurrent use, so every access goes through mu.
type snapshot struct {
	mu     sync.Mutex
	tx     *bolt.Tx
	bucket *bolt.Bucket
	closed bool
}

func (sn *snapshot) Get(key []byte) ([]byte, error) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return nil, store.ErrClosed
	}
	v := sn.bucket.Get(key)
	if v == nil {
		return nil, nil
	}
	return append([]byte{}, v...), nil
}

func (sn *snapshot) RangeIterator(start, end []byte) store.Iterator {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return &iterator{err: store.ErrClosed}
	}
	it := &iterator{
		snap:   sn,
		cursor: sn.bucket.Cursor(),
		start:  start,
		end:    end,
	}
	it.seekLocked(start)
	return it
}

func (sn *snapshot) Close() error {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return nil
	}
	sn.closed = true
	return sn.tx.Rollback()
}

type iterator struct {
	snap   *snapshot
	owner  *snapshot
	cursor *bolt.Cursor
	start  []byte
	end    []byte
	key    []byte
	value  []byte
	err    error
}

func (it *iterator) Seek(key []byte) {
	if it.snap == nil {
		return
	}
	it.snap.mu.Lock()
	defer it.snap.mu.Unlock()
	it.seekLocked(key)
}

func (it *iterator) seekLocked(key []byte) {
	if it.snap.closed {
		it.err = store.ErrClosed
		it.key, it.value = nil, nil
		return
	}
	if it.start != nil && (key == nil || bytes.Compare(key, it.start) < 0) {
		key = it.start
	}
	if key == nil {
		it.key, it.value = it.cursor.First()
	} else {
		it.key, it.value = it.cursor.Seek(key)
	}
}

func (it *iterator) Next() {
	if it.snap == nil || it.key == nil {
		return
	}
	it.snap.mu.Lock()
	defer it.snap.mu.Unlock()
	if it.snap.closed {
		it.err = store.ErrClosed
		it.key, it.value = nil, nil
		return
	}
	it.key, it.value = it.cursor.Next()
}

func (it *iterator) Valid() bool {
	return it.err == nil && it.key != nil && store.InRange(it.key, it.start, it.end)
}

func (it *iterator) Current() ([]byte, []byte, bool) {
	if !it.Valid() {
		return nil, nil, false
	}
	return it.key, it.value, true
}

func (it *iterator) Err() error {
	return it.err
}

func (it *iterator) Close() error {
	it.key, it.value = nil, nil
	if it.owner != nil {
		err := it.owner.Close()
		it.owner = nil
		return err
	}
	return nil
}
