// Package pgstore implements store.KVStore on a PostgreSQL table of BYTEA
// key/value pairs. BYTEA compares bytewise, so ORDER BY k yields the same
// ordering as the other adapters. Snapshots are read-only REPEATABLE READ
// transactions; batches run inside a single read-write transaction.
package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/postgres"
)

const defaultPageSize = 512

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	client   *postgres.Client
	table    string
	pageSize int
	logger   *slog.Logger

	getSQL       string
	rangeSQL     string
	rangeOpenSQL string
	upsertSQL    string
	deleteSQL    string
}

var _ store.KVStore = (*Store)(nil)

// New prepares the key-value table and returns a Store over it.
func New(ctx context.Context, client *postgres.Client, table string, pageSize int) (*Store, error) {
	if table == "" {
		return nil, errors.New("pgstore: table name is required")
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	t := pq.QuoteIdentifier(table)
	s := &Store{
		client:       client,
		table:        table,
		pageSize:     pageSize,
		logger:       slog.Default().With("component", "pgstore", "table", table),
		getSQL:       fmt.Sprintf(`SELECT v FROM %s WHERE k = $1`, t),
		rangeSQL:     fmt.Sprintf(`SELECT k, v FROM %s WHERE k >= $1 AND k < $2 ORDER BY k LIMIT $3`, t),
		rangeOpenSQL: fmt.Sprintf(`SELECT k, v FROM %s WHERE k >= $1 ORDER BY k LIMIT $2`, t),
		upsertSQL:    fmt.Sprintf(`INSERT INTO %s (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`, t),
		deleteSQL:    fmt.Sprintf(`DELETE FROM %s WHERE k = $1`, t),
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k BYTEA PRIMARY KEY, v BYTEA NOT NULL)`, t)
	if _, err := client.DB.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}
	s.logger.Info("postgres store ready", "page_size", pageSize)
	return s, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	return s.get(context.Background(), s.client.DB, key)
}

func (s *Store) get(ctx context.Context, q querier, key []byte) ([]byte, error) {
	var v []byte
	err := q.QueryRowContext(ctx, s.getSQL, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

// RangeIterator on the live store pages through the table outside any
// transaction; pages may observe different commits. The index reads through
// snapshots, which do not have this property.
func (s *Store) RangeIterator(start, end []byte) store.Iterator {
	return newIterator(s, s.client.DB, nil, start, end)
}

func (s *Store) Apply(ctx context.Context, batch *store.Batch) error {
	ops := batch.Collapsed()
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		upsert, err := tx.PrepareContext(ctx, s.upsertSQL)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer upsert.Close()
		del, err := tx.PrepareContext(ctx, s.deleteSQL)
		if err != nil {
			return fmt.Errorf("preparing delete: %w", err)
		}
		defer del.Close()
		for _, op := range ops {
			switch op.Kind {
			case store.OpPut:
				if _, err := upsert.ExecContext(ctx, op.Key, op.Value); err != nil {
					return fmt.Errorf("upserting key: %w", err)
				}
			case store.OpDelete:
				if _, err := del.ExecContext(ctx, op.Key); err != nil {
					return fmt.Errorf("deleting key: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres batch of %d ops: %w", len(ops), err)
	}
	return nil
}

func (s *Store) Snapshot() (store.Snapshot, error) {
	tx, err := s.client.BeginSnapshot(context.Background())
	if err != nil {
		return nil, err
	}
	return &snapshot{store: s, tx: tx}, nil
}

// Close leaves the shared postgres client open; its owner closes it.
func (s *Store) Close() error {
	s.logger.Info("postgres store closed")
	return nil
}

// snapshot serializes access to its transaction: a pq connection cannot
// interleave result sets.
type snapshot struct {
	mu     sync.Mutex
	store  *Store
	tx     *sql.Tx
	closed bool
}

func (sn *snapshot) Get(key []byte) ([]byte, error) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return nil, store.ErrClosed
	}
	return sn.store.get(context.Background(), sn.tx, key)
}

func (sn *snapshot) RangeIterator(start, end []byte) store.Iterator {
	return newIterator(sn.store, sn.tx, &sn.mu, start, end)
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

type row struct {
	k []byte
	v []byte
}

// iterator fetches pageSize rows at a time, fully draining each result set
// before returning so the connection is free for other statements.
type iterator struct {
	store *Store
	q     querier
	mu    *sync.Mutex
	start []byte
	end   []byte
	page  []row
	pos   int
	done  bool
	err   error
}

func newIterator(s *Store, q querier, mu *sync.Mutex, start, end []byte) *iterator {
	it := &iterator{store: s, q: q, mu: mu, start: start, end: end}
	it.Seek(start)
	return it
}

func (it *iterator) Seek(key []byte) {
	if key == nil || (it.start != nil && bytes.Compare(key, it.start) < 0) {
		key = it.start
	}
	if key == nil {
		key = []byte{}
	}
	it.page, it.pos, it.done = nil, 0, false
	it.fetch(key, true)
}

func (it *iterator) fetch(from []byte, inclusive bool) {
	if it.mu != nil {
		it.mu.Lock()
		defer it.mu.Unlock()
	}
	ctx := context.Background()
	var (
		rows *sql.Rows
		err  error
	)
	lower := from
	if !inclusive {
		lower = append(append([]byte{}, from...), 0)
	}
	if it.end != nil {
		rows, err = it.q.QueryContext(ctx, it.store.rangeSQL, lower, it.end, it.store.pageSize)
	} else {
		rows, err = it.q.QueryContext(ctx, it.store.rangeOpenSQL, lower, it.store.pageSize)
	}
	if err != nil {
		it.err = fmt.Errorf("postgres range scan: %w", err)
		it.done = true
		return
	}
	defer rows.Close()
	page := make([]row, 0, it.store.pageSize)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.k, &r.v); err != nil {
			it.err = fmt.Errorf("scanning row: %w", err)
			it.done = true
			return
		}
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		it.err = fmt.Errorf("iterating rows: %w", err)
		it.done = true
		return
	}
	it.page = page
	it.pos = 0
	if len(page) < it.store.pageSize {
		it.done = true
	}
}

func (it *iterator) Next() {
	if it.err != nil || it.pos >= len(it.page) {
		return
	}
	it.pos++
	if it.pos >= len(it.page) && !it.done {
		last := it.page[len(it.page)-1].k
		it.fetch(last, false)
	}
}

func (it *iterator) Valid() bool {
	return it.err == nil && it.pos < len(it.page)
}

func (it *iterator) Current() ([]byte, []byte, bool) {
	if !it.Valid() {
		return nil, nil, false
	}
	r := it.page[it.pos]
	return r.k, r.v, true
}

func (it *iterator) Err() error {
	return it.err
}

func (it *iterator) Close() error {
	it.page = nil
	return nil
}
