package index

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
)

type opKind uint8

const (
	opIndex opKind = iota
	opDelete
)

type batchOp struct {
	kind opKind
	id   string
	doc  *document.Document
}

// Batch is an ordered list of index and delete operations committed
// atomically. Later operations on the same ID win.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

// Index schedules doc to be indexed, replacing any prior version.
func (b *Batch) Index(doc *document.Document) {
	b.ops = append(b.ops, batchOp{kind: opIndex, id: doc.ID, doc: doc})
}

// Delete schedules removal of the document with the given ID.
func (b *Batch) Delete(id string) {
	b.ops = append(b.ops, batchOp{kind: opDelete, id: id})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
}

// Index indexes one document.
func (i *Index) Index(ctx context.Context, doc *document.Document) error {
	b := NewBatch()
	b.Index(doc)
	return i.Batch(ctx, b)
}

// Delete removes one document. Deleting an unknown ID is not an error.
func (i *Index) Delete(ctx context.Context, id string) error {
	b := NewBatch()
	b.Delete(id)
	return i.Batch(ctx, b)
}

// Batch analyzes every document in b, then commits all of b's operations as
// one store batch. Either every operation becomes visible or none does.
func (i *Index) Batch(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if i.isClosed() {
		return apperrors.ErrIndexClosed
	}
	for _, op := range b.ops {
		if op.kind == opIndex {
			if op.doc == nil {
				return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "nil document in batch")
			}
			if err := op.doc.Validate(); err != nil {
				return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, err.Error())
			}
		} else if op.id == "" || strings.IndexByte(op.id, keySep) >= 0 {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid document id %q", op.id)
		}
	}

	start := time.Now()
	analyzed, err := i.analyzeAll(ctx, b.ops)
	if err != nil {
		return err
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	if i.isClosed() {
		return apperrors.ErrIndexClosed
	}

	kv, err := i.buildCommit(b.ops, analyzed)
	if err != nil {
		return err
	}
	if err := i.store.Apply(ctx, kv); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("committing batch: %w", ctx.Err())
		}
		i.logger.Error("batch commit failed", "ops", b.Len(), "error", err)
		return apperrors.Write(err)
	}
	i.logger.Info("batch committed",
		"ops", b.Len(),
		"rows", kv.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// analyzedField is everything the writer persists for one field of one
// document, all values of a multi-valued field merged.
type analyzedField struct {
	name          string
	kind          document.Kind
	length        int
	values        int
	withLocations bool
	norm          float32
	normLength    int
	terms         map[string]*termOccurrences
	stored        map[int][]byte
}

type termOccurrences struct {
	freq      int
	locations []Location
}

type analyzedDoc struct {
	id     string
	fields []*analyzedField
}

// analyzeAll runs analysis for every index operation with bounded
// parallelism. The first failure cancels the rest and fails the batch.
func (i *Index) analyzeAll(ctx context.Context, ops []batchOp) ([]*analyzedDoc, error) {
	out := make([]*analyzedDoc, len(ops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.opts.AnalysisWorkers)
	for n, op := range ops {
		if op.kind != opIndex {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ad, err := i.analyze(op.doc)
			if err != nil {
				return err
			}
			out[n] = ad
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (i *Index) analyze(doc *document.Document) (*analyzedDoc, error) {
	byName := make(map[string]*analyzedField)
	var order []*analyzedField
	nextPos := make(map[string]int)

	for _, f := range doc.Fields {
		af, ok := byName[f.Name]
		if !ok {
			af = &analyzedField{
				name:          f.Name,
				kind:          f.Kind,
				withLocations: f.Options.IncludeLocations,
				terms:         make(map[string]*termOccurrences),
				stored:        make(map[int][]byte),
			}
			byName[f.Name] = af
			order = append(order, af)
		} else if af.kind != f.Kind {
			return nil, apperrors.Analysis(doc.ID, f.Name, fmt.Errorf("mixed kinds %s and %s", af.kind, f.Kind))
		}
		arrayPos := af.values
		af.values++
		if f.Options.Store {
			af.stored[arrayPos] = encodeStored(f)
		}

		tokens, err := i.tokens(f)
		if err != nil {
			return nil, apperrors.Analysis(doc.ID, f.Name, err)
		}
		base := nextPos[f.Name]
		maxPos := -1
		for _, tok := range tokens {
			if tok.Term == "" {
				continue
			}
			if strings.IndexByte(tok.Term, keySep) >= 0 {
				return nil, apperrors.Analysis(doc.ID, f.Name, fmt.Errorf("term %q contains a reserved byte", tok.Term))
			}
			occ, ok := af.terms[tok.Term]
			if !ok {
				occ = &termOccurrences{}
				af.terms[tok.Term] = occ
			}
			occ.freq++
			af.length++
			if af.withLocations {
				occ.locations = append(occ.locations, Location{
					Pos:      base + tok.Position,
					Start:    tok.Start,
					End:      tok.End,
					ArrayPos: arrayPos,
				})
			}
			if tok.Position > maxPos {
				maxPos = tok.Position
			}
		}
		nextPos[f.Name] = base + maxPos + 1 + i.opts.PositionGap
	}

	for _, af := range order {
		switch af.kind {
		case document.Numeric, document.DateTime:
			af.norm = 1
		default:
			af.norm = i.opts.Norm(af.length)
			af.normLength = af.length
		}
		for _, occ := range af.terms {
			sort.SliceStable(occ.locations, func(a, b int) bool {
				return occ.locations[a].Pos < occ.locations[b].Pos
			})
		}
	}
	sort.Slice(order, func(a, b int) bool { return order[a].name < order[b].name })
	return &analyzedDoc{id: doc.ID, fields: order}, nil
}

// tokens returns the token stream of one field value. Numeric and datetime
// values produce a single sortable term.
func (i *Index) tokens(f *document.Field) ([]analysis.Token, error) {
	switch f.Kind {
	case document.Numeric:
		return []analysis.Token{{Term: NumericTerm(f.Number)}}, nil
	case document.DateTime:
		return []analysis.Token{{Term: DateTerm(f.Time)}}, nil
	}
	if f.Tokens != nil {
		return f.Tokens, nil
	}
	name := f.Analyzer
	if name == "" {
		if f.Kind == document.KeywordKind {
			name = analysis.Keyword
		} else {
			name = i.AnalyzerName(f.Name)
		}
	}
	a, err := i.opts.Analyzers.Get(name)
	if err != nil {
		return nil, err
	}
	return a.Analyze(f.Text)
}

type fieldDelta struct {
	docs   int64
	length int64
}

// commitState accumulates one batch's mutations. Back-index rows written
// earlier in the same batch shadow the store so repeated IDs see their own
// prior operations.
type commitState struct {
	idx     *Index
	kv      *store.Batch
	overlay map[string]*DocTerms
	dict    map[string]int64
	fields  map[string]*fieldDelta
	docs    int64
}

func (i *Index) buildCommit(ops []batchOp, analyzed []*analyzedDoc) (*store.Batch, error) {
	st := &commitState{
		idx:     i,
		kv:      store.NewBatch(),
		overlay: make(map[string]*DocTerms),
		dict:    make(map[string]int64),
		fields:  make(map[string]*fieldDelta),
	}
	for n, op := range ops {
		prev, err := st.current(op.id)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			st.remove(prev)
		}
		if op.kind == opDelete {
			st.kv.Delete(backKey(op.id))
			st.overlay[op.id] = nil
			continue
		}
		st.add(analyzed[n])
	}
	if err := st.finish(); err != nil {
		return nil, err
	}
	return st.kv, nil
}

func (st *commitState) current(id string) (*DocTerms, error) {
	if dt, ok := st.overlay[id]; ok {
		return dt, nil
	}
	raw, err := st.idx.store.Get(backKey(id))
	if err != nil {
		return nil, apperrors.Write(fmt.Errorf("reading back index for %q: %w", id, err))
	}
	if raw == nil {
		return nil, nil
	}
	dt, err := decodeDocTerms(id, raw)
	if err != nil {
		return nil, apperrors.Write(err)
	}
	return dt, nil
}

func (st *commitState) field(name string) *fieldDelta {
	fd, ok := st.fields[name]
	if !ok {
		fd = &fieldDelta{}
		st.fields[name] = fd
	}
	return fd
}

func (st *commitState) remove(dt *DocTerms) {
	for _, f := range dt.Fields {
		for _, term := range f.Terms {
			st.kv.Delete(postingKey(f.Name, term, dt.ID))
			st.dict[string(dictKey(f.Name, term))]--
		}
		for k := 0; k < f.Values; k++ {
			st.kv.Delete(storedKey(dt.ID, f.Name, k))
		}
		fd := st.field(f.Name)
		fd.docs--
		fd.length -= int64(f.Length)
	}
	st.docs--
}

func (st *commitState) add(ad *analyzedDoc) {
	dt := &DocTerms{ID: ad.id, Fields: make([]FieldTerms, 0, len(ad.fields))}
	for _, af := range ad.fields {
		terms := make([]string, 0, len(af.terms))
		for term, occ := range af.terms {
			terms = append(terms, term)
			st.kv.Put(postingKey(af.name, term, ad.id), encodePosting(occ.freq, af.norm, af.normLength, occ.locations, af.withLocations))
			st.dict[string(dictKey(af.name, term))]++
		}
		sort.Strings(terms)
		for k, v := range af.stored {
			st.kv.Put(storedKey(ad.id, af.name, k), v)
		}
		fd := st.field(af.name)
		fd.docs++
		fd.length += int64(af.length)
		dt.Fields = append(dt.Fields, FieldTerms{
			Name:   af.name,
			Kind:   af.kind,
			Length: af.length,
			Terms:  terms,
			Values: af.values,
		})
	}
	st.kv.Put(backKey(ad.id), encodeDocTerms(dt))
	st.overlay[ad.id] = dt
	st.docs++
}

// finish folds the net dictionary and stats deltas into the batch and bumps
// the generation.
func (st *commitState) finish() error {
	s := st.idx.store
	keys := make([]string, 0, len(st.dict))
	for k, d := range st.dict {
		if d != 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		cur, err := readCounter(s, []byte(k))
		if err != nil {
			return err
		}
		n := int64(cur) + st.dict[k]
		if n <= 0 {
			st.kv.Delete([]byte(k))
		} else {
			st.kv.Put([]byte(k), encodeUvarint(uint64(n)))
		}
	}

	for name, fd := range st.fields {
		if fd.docs == 0 && fd.length == 0 {
			continue
		}
		key := fieldStatsKey(name)
		raw, err := s.Get(key)
		if err != nil {
			return apperrors.Write(err)
		}
		var cur FieldStats
		if raw != nil {
			if cur, err = decodeFieldStats(raw); err != nil {
				return apperrors.Write(err)
			}
		}
		docs := int64(cur.DocCount) + fd.docs
		length := int64(cur.TotalLength) + fd.length
		if docs <= 0 {
			st.kv.Delete(key)
			continue
		}
		if length < 0 {
			length = 0
		}
		st.kv.Put(key, encodeFieldStats(uint64(docs), uint64(length)))
	}

	if st.docs != 0 {
		cur, err := readCounter(s, keyDocCount)
		if err != nil {
			return err
		}
		n := int64(cur) + st.docs
		if n < 0 {
			n = 0
		}
		st.kv.Put(keyDocCount, encodeUvarint(uint64(n)))
	}

	gen, err := readCounter(s, keyGeneration)
	if err != nil {
		return err
	}
	st.kv.Put(keyGeneration, encodeUvarint(gen+1))
	return nil
}

func readCounter(r store.Reader, key []byte) (uint64, error) {
	raw, err := r.Get(key)
	if err != nil {
		return 0, apperrors.Write(fmt.Errorf("reading %q: %w", key, err))
	}
	if raw == nil {
		return 0, nil
	}
	n, err := decodeUvarint(raw)
	if err != nil {
		return 0, apperrors.Write(fmt.Errorf("decoding %q: %w", key, err))
	}
	return n, nil
}
