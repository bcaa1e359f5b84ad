package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
)

// FieldStats aggregates one field over every document that has it.
type FieldStats struct {
	DocCount    uint64
	TotalLength uint64
}

// AvgLength is the mean token count of the field.
func (f FieldStats) AvgLength() float64 {
	if f.DocCount == 0 {
		return 0
	}
	return float64(f.TotalLength) / float64(f.DocCount)
}

// Stats describes the index as of one generation.
type Stats struct {
	DocCount   uint64                `json:"doc_count"`
	Generation uint64                `json:"generation"`
	Fields     map[string]FieldStats `json:"fields"`
}

// Snapshot is an immutable view of one index generation. It is safe for
// concurrent use; iterators it returns are not.
type Snapshot struct {
	index *Index
	kv    store.Snapshot
	stats Stats

	closeOnce sync.Once
	closeErr  error
}

func (s *Snapshot) loadStats() error {
	docs, err := readCounter(s.kv, keyDocCount)
	if err != nil {
		return err
	}
	gen, err := readCounter(s.kv, keyGeneration)
	if err != nil {
		return err
	}
	s.stats = Stats{DocCount: docs, Generation: gen, Fields: make(map[string]FieldStats)}
	it := s.kv.RangeIterator(keyFieldStats, store.PrefixEnd(keyFieldStats))
	defer it.Close()
	for ; it.Valid(); it.Next() {
		k, v, _ := it.Current()
		fs, err := decodeFieldStats(v)
		if err != nil {
			return fmt.Errorf("field stats %q: %w", k, err)
		}
		s.stats.Fields[string(k[len(keyFieldStats):])] = fs
	}
	return it.Err()
}

// Stats returns the document count, per-field statistics and generation
// this snapshot is bound to.
func (s *Snapshot) Stats() Stats {
	return s.stats
}

func (s *Snapshot) Generation() uint64 {
	return s.stats.Generation
}

func (s *Snapshot) DocCount() uint64 {
	return s.stats.DocCount
}

// FieldNames lists every indexed field, sorted.
func (s *Snapshot) FieldNames() []string {
	names := make([]string, 0, len(s.stats.Fields))
	for n := range s.stats.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Index returns the index this snapshot was opened from.
func (s *Snapshot) Index() *Index {
	return s.index
}

// DocFreq returns the number of documents containing term in field.
func (s *Snapshot) DocFreq(field, term string) (uint64, error) {
	return readCounter(s.kv, dictKey(field, term))
}

// TermPostings returns a lazy iterator over the postings of one term in
// document ID order.
func (s *Snapshot) TermPostings(field, term string) *PostingsIterator {
	prefix := postingPrefix(field, term)
	return &PostingsIterator{
		it:     s.kv.RangeIterator(prefix, store.PrefixEnd(prefix)),
		prefix: len(prefix),
	}
}

// Terms iterates the dictionary of field over [start, end). An empty end
// runs to the last term of the field.
func (s *Snapshot) Terms(field, start, end string) *TermIterator {
	prefix := dictPrefix(field)
	lo := append(append([]byte{}, prefix...), start...)
	var hi []byte
	if end == "" {
		hi = store.PrefixEnd(prefix)
	} else {
		hi = append(append([]byte{}, prefix...), end...)
	}
	return &TermIterator{it: s.kv.RangeIterator(lo, hi), prefix: prefix}
}

// PrefixTerms iterates every term of field that starts with prefix.
func (s *Snapshot) PrefixTerms(field, prefix string) *TermIterator {
	fp := dictPrefix(field)
	lo := append(append([]byte{}, fp...), prefix...)
	return &TermIterator{it: s.kv.RangeIterator(lo, store.PrefixEnd(lo)), prefix: fp}
}

type docCacheKey struct {
	generation uint64
	id         string
}

// DocumentTerms returns the back-index row of a document, or nil when the
// document does not exist in this generation.
func (s *Snapshot) DocumentTerms(id string) (*DocTerms, error) {
	key := docCacheKey{generation: s.stats.Generation, id: id}
	if v, ok := s.index.docCache.Get(key); ok {
		return v.(*DocTerms), nil
	}
	raw, err := s.kv.Get(backKey(id))
	if err != nil {
		return nil, fmt.Errorf("reading back index for %q: %w", id, err)
	}
	if raw == nil {
		return nil, nil
	}
	dt, err := decodeDocTerms(id, raw)
	if err != nil {
		return nil, err
	}
	s.index.docCache.Add(key, dt)
	return dt, nil
}

// Exists reports whether the document is present in this generation.
func (s *Snapshot) Exists(id string) (bool, error) {
	dt, err := s.DocumentTerms(id)
	return dt != nil, err
}

// StoredValue is one stored value of a field with its position among all
// values of the field, stored or not.
type StoredValue struct {
	ArrayPos int
	Value    any
}

// StoredFields returns the stored values of a document keyed by field name,
// values in array order. A nil fields list returns every stored field.
func (s *Snapshot) StoredFields(id string, fields []string) (map[string][]any, error) {
	values, err := s.StoredValues(id, fields)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]any, len(values))
	for name, vs := range values {
		for _, v := range vs {
			out[name] = append(out[name], v.Value)
		}
	}
	return out, nil
}

// StoredValues is StoredFields keeping each value's array position.
func (s *Snapshot) StoredValues(id string, fields []string) (map[string][]StoredValue, error) {
	out := make(map[string][]StoredValue)
	read := func(prefix []byte, skip int) error {
		it := s.kv.RangeIterator(prefix, store.PrefixEnd(prefix))
		defer it.Close()
		for ; it.Valid(); it.Next() {
			k, v, _ := it.Current()
			rest := k[skip:]
			sep := bytes.IndexByte(rest, keySep)
			if sep < 0 || len(rest)-sep-1 != 4 {
				return fmt.Errorf("stored key %q: %w", k, errCorrupt)
			}
			val, err := decodeStored(v)
			if err != nil {
				return fmt.Errorf("stored value %q: %w", k, err)
			}
			name := string(rest[:sep])
			pos := int(binary.BigEndian.Uint32(rest[sep+1:]))
			out[name] = append(out[name], StoredValue{ArrayPos: pos, Value: val})
		}
		return it.Err()
	}
	if fields == nil {
		p := storedDocPrefix(id)
		if err := read(p, len(p)); err != nil {
			return nil, err
		}
		return out, nil
	}
	docPrefix := len(storedDocPrefix(id))
	for _, f := range fields {
		if err := read(storedFieldPrefix(id, f), docPrefix); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Close releases the snapshot. It is idempotent.
func (s *Snapshot) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.kv.Close()
		s.index.release()
	})
	return s.closeErr
}

// PostingsIterator walks one term's postings in document ID order.
type PostingsIterator struct {
	it     store.Iterator
	prefix int
	err    error
}

// Next returns the current posting and advances, or nil at the end.
func (p *PostingsIterator) Next() (*Posting, error) {
	if p.err != nil {
		return nil, p.err
	}
	if !p.it.Valid() {
		return nil, p.it.Err()
	}
	k, v, _ := p.it.Current()
	posting, err := decodePosting(string(k[p.prefix:]), v)
	if err != nil {
		p.err = err
		return nil, err
	}
	p.it.Next()
	return posting, nil
}

// Advance skips to the first posting with DocID >= id and returns it as
// Next would.
func (p *PostingsIterator) Advance(id string) (*Posting, error) {
	if p.err != nil {
		return nil, p.err
	}
	if k, _, ok := p.it.Current(); ok && string(k[p.prefix:]) >= id {
		return p.Next()
	}
	k, _, ok := p.it.Current()
	if !ok {
		return nil, p.it.Err()
	}
	target := append(append([]byte{}, k[:p.prefix]...), id...)
	p.it.Seek(target)
	return p.Next()
}

func (p *PostingsIterator) Close() error {
	return p.it.Close()
}

// TermIterator walks dictionary rows of one field in term order.
type TermIterator struct {
	it     store.Iterator
	prefix []byte
}

func (t *TermIterator) Valid() bool {
	return t.it.Valid()
}

// Term returns the current term.
func (t *TermIterator) Term() string {
	k, _, ok := t.it.Current()
	if !ok {
		return ""
	}
	return string(k[len(t.prefix):])
}

// DocFreq returns the current term's document frequency.
func (t *TermIterator) DocFreq() uint64 {
	_, v, ok := t.it.Current()
	if !ok {
		return 0
	}
	n, _ := decodeUvarint(v)
	return n
}

func (t *TermIterator) Next() {
	t.it.Next()
}

// Seek moves to the first term >= term within the iterator's range.
func (t *TermIterator) Seek(term string) {
	t.it.Seek(append(append([]byte{}, t.prefix...), term...))
}

func (t *TermIterator) Err() error {
	return t.it.Err()
}

func (t *TermIterator) Close() error {
	return t.it.Close()
}

// Documents iterates every document ID of the snapshot in ascending order.
func (s *Snapshot) Documents() *DocIterator {
	prefix := []byte{rowBack}
	return &DocIterator{it: s.kv.RangeIterator(prefix, store.PrefixEnd(prefix))}
}

// DocIterator walks back-index rows in document ID order.
type DocIterator struct {
	it store.Iterator
}

func (d *DocIterator) Valid() bool {
	return d.it.Valid()
}

// ID returns the current document ID.
func (d *DocIterator) ID() string {
	k, _, ok := d.it.Current()
	if !ok {
		return ""
	}
	return string(k[1:])
}

func (d *DocIterator) Next() {
	d.it.Next()
}

// Seek moves to the first document with ID >= id.
func (d *DocIterator) Seek(id string) {
	d.it.Seek(backKey(id))
}

func (d *DocIterator) Err() error {
	return d.it.Err()
}

func (d *DocIterator) Close() error {
	return d.it.Close()
}
