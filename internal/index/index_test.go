package index

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/memstore"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
)

func newTestIndex(t *testing.T) (*Index, *memstore.Store) {
	t.Helper()
	kv := memstore.New()
	idx, err := Open(kv, Options{Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx, kv
}

func snapshot(t *testing.T, idx *Index) *Snapshot {
	t.Helper()
	snap, err := idx.Snapshot()
	require.NoError(t, err)
	t.Cleanup(func() { snap.Close() })
	return snap
}

func postingIDs(t *testing.T, snap *Snapshot, field, term string) []string {
	t.Helper()
	it := snap.TermPostings(field, term)
	defer it.Close()
	var ids []string
	for {
		p, err := it.Next()
		require.NoError(t, err)
		if p == nil {
			return ids
		}
		ids = append(ids, p.DocID)
	}
}

func countRows(kv store.Reader, row byte) int {
	it := kv.RangeIterator([]byte{row}, []byte{row + 1})
	defer it.Close()
	n := 0
	for ; it.Valid(); it.Next() {
		n++
	}
	return n
}

func TestIndexAndRead(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, document.New("a").AddText("body", "quick brown fox", "")))
	require.NoError(t, idx.Index(ctx, document.New("b").AddText("body", "quick red fox jumps", "").AddNumeric("price", 12)))

	snap := snapshot(t, idx)
	assert.Equal(t, uint64(2), snap.DocCount())
	assert.Equal(t, uint64(2), snap.Generation())
	assert.Equal(t, []string{"a", "b"}, postingIDs(t, snap, "body", "quick"))
	assert.Equal(t, []string{"b"}, postingIDs(t, snap, "body", "jumps"))

	df, err := snap.DocFreq("body", "fox")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), df)

	fs := snap.Stats().Fields["body"]
	assert.Equal(t, uint64(2), fs.DocCount)
	assert.InDelta(t, 3.5, fs.AvgLength(), 1e-9)

	it := snap.TermPostings("body", "red")
	p, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Freq)
	assert.InDelta(t, 0.5, p.Norm, 1e-6)
	assert.Equal(t, 4, p.Length)
	require.Len(t, p.Locations, 1)
	assert.Equal(t, Location{Pos: 1, Start: 6, End: 9}, p.Locations[0])
	it.Close()

	stored, err := snap.StoredFields("b", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"quick red fox jumps"}, stored["body"])
	assert.Equal(t, []any{12.0}, stored["price"])
	assert.Equal(t, []string{"body", "price"}, snap.FieldNames())
}

func TestDeleteVisibility(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, document.New("a").AddText("body", "search engine", "")))

	before := snapshot(t, idx)
	require.NoError(t, idx.Delete(ctx, "a"))
	after := snapshot(t, idx)

	assert.Equal(t, []string{"a"}, postingIDs(t, before, "body", "search"))
	assert.Empty(t, postingIDs(t, after, "body", "search"))

	dt, err := after.DocumentTerms("a")
	require.NoError(t, err)
	assert.Nil(t, dt)
	stored, err := after.StoredFields("a", nil)
	require.NoError(t, err)
	assert.Empty(t, stored)

	require.NoError(t, idx.Delete(ctx, "missing"))
}

func TestUpdateLeavesSingleVersion(t *testing.T) {
	idx, _ := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Index(ctx, document.New("a").AddText("body", "old words here", "")))
	require.NoError(t, idx.Index(ctx, document.New("a").AddText("body", "new words", "")))

	snap := snapshot(t, idx)
	assert.Equal(t, uint64(1), snap.DocCount())
	assert.Empty(t, postingIDs(t, snap, "body", "old"))
	assert.Equal(t, []string{"a"}, postingIDs(t, snap, "body", "new"))
	assert.Equal(t, []string{"a"}, postingIDs(t, snap, "body", "words"))

	df, err := snap.DocFreq("body", "words")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), df)
	df, err = snap.DocFreq("body", "old")
	require.NoError(t, err)
	assert.Zero(t, df)
	assert.Equal(t, uint64(2), snap.Stats().Fields["body"].TotalLength)
}

func TestBatchSeesItsOwnOperations(t *testing.T) {
	idx, _ := newTestIndex(t)
	b := NewBatch()
	b.Index(document.New("a").AddText("body", "first", ""))
	b.Index(document.New("a").AddText("body", "second", ""))
	b.Index(document.New("b").AddText("body", "second", ""))
	b.Delete("b")
	require.NoError(t, idx.Batch(context.Background(), b))

	snap := snapshot(t, idx)
	assert.Equal(t, uint64(1), snap.DocCount())
	assert.Empty(t, postingIDs(t, snap, "body", "first"))
	assert.Equal(t, []string{"a"}, postingIDs(t, snap, "body", "second"))
	df, _ := snap.DocFreq("body", "second")
	assert.Equal(t, uint64(1), df)
}

func TestRoundTripLeavesEmptyIndex(t *testing.T) {
	idx, kv := newTestIndex(t)
	ctx := context.Background()
	b := NewBatch()
	for i := 0; i < 50; i++ {
		b.Index(document.New(fmt.Sprintf("doc-%02d", i)).
			AddText("body", fmt.Sprintf("document number %d about search", i), "").
			AddKeyword("tag", fmt.Sprintf("t%d", i%5)).
			AddNumeric("n", float64(i)))
	}
	require.NoError(t, idx.Batch(ctx, b))

	b = NewBatch()
	for i := 0; i < 50; i++ {
		b.Delete(fmt.Sprintf("doc-%02d", i))
	}
	require.NoError(t, idx.Batch(ctx, b))

	snap := snapshot(t, idx)
	assert.Zero(t, snap.DocCount())
	assert.Empty(t, snap.FieldNames())
	terms := snap.Terms("body", "", "")
	assert.False(t, terms.Valid())
	terms.Close()

	assert.Zero(t, countRows(kv, rowPosting))
	assert.Zero(t, countRows(kv, rowDict))
	assert.Zero(t, countRows(kv, rowBack))
	assert.Zero(t, countRows(kv, rowStored))
}

func TestMultiValuedPositionGap(t *testing.T) {
	idx, _ := newTestIndex(t)
	doc := document.New("a").
		AddText("tags", "alpha beta", "").
		AddText("tags", "gamma", "")
	require.NoError(t, idx.Index(context.Background(), doc))

	snap := snapshot(t, idx)
	it := snap.TermPostings("tags", "gamma")
	defer it.Close()
	p, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 2+DefaultPositionGap, p.Locations[0].Pos)
	assert.Equal(t, 1, p.Locations[0].ArrayPos)
	assert.Equal(t, 0, p.Locations[0].Start)

	stored, err := snap.StoredFields("a", []string{"tags"})
	require.NoError(t, err)
	assert.Equal(t, []any{"alpha beta", "gamma"}, stored["tags"])
}

func TestAnalysisFailureRejectsWholeBatch(t *testing.T) {
	reg := analysis.NewRegistry()
	reg.Register("broken", analysis.AnalyzerFunc(func(string) ([]analysis.Token, error) {
		return nil, errors.New("boom")
	}))
	idx, err := Open(memstore.New(), Options{Analyzers: reg, Logger: logger.Discard()})
	require.NoError(t, err)
	defer idx.Close()

	b := NewBatch()
	b.Index(document.New("good").AddText("body", "fine text", ""))
	b.Index(document.New("bad").AddText("body", "anything", "broken"))
	err = idx.Batch(context.Background(), b)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAnalysis)

	snap := snapshot(t, idx)
	assert.Zero(t, snap.DocCount())
	assert.Zero(t, snap.Generation())
}

func TestLocationsCanBeOmitted(t *testing.T) {
	idx, _ := newTestIndex(t)
	f := &document.Field{Name: "body", Kind: document.Text, Text: "one two", Options: document.Options{Store: false}}
	require.NoError(t, idx.Index(context.Background(), document.New("a").AddField(f)))

	snap := snapshot(t, idx)
	it := snap.TermPostings("body", "two")
	defer it.Close()
	p, err := it.Next()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Freq)
	assert.Nil(t, p.Locations)

	stored, err := snap.StoredFields("a", nil)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

type failingStore struct {
	*memstore.Store
}

func (f failingStore) Apply(context.Context, *store.Batch) error {
	return errors.New("disk full")
}

func TestStorageFailureIsWriteError(t *testing.T) {
	idx, err := Open(failingStore{memstore.New()}, Options{Logger: logger.Discard()})
	require.NoError(t, err)
	defer idx.Close()
	err = idx.Index(context.Background(), document.New("a").AddText("body", "x", ""))
	assert.ErrorIs(t, err, apperrors.ErrWrite)
}

func TestInvalidDocumentRejected(t *testing.T) {
	idx, _ := newTestIndex(t)
	err := idx.Index(context.Background(), document.New(""))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	err = idx.Delete(context.Background(), "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCloseDefersToOpenSnapshots(t *testing.T) {
	kv := memstore.New()
	idx, err := Open(kv, Options{Logger: logger.Discard()})
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), document.New("a").AddText("body", "still here", "")))

	snap, err := idx.Snapshot()
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = idx.Snapshot()
	assert.ErrorIs(t, err, apperrors.ErrIndexClosed)
	err = idx.Index(context.Background(), document.New("b"))
	assert.ErrorIs(t, err, apperrors.ErrIndexClosed)

	assert.Equal(t, []string{"a"}, postingIDs(t, snap, "body", "still"))
	_, err = kv.Get([]byte("x"))
	require.NoError(t, err, "store stays open while a snapshot is alive")

	require.NoError(t, snap.Close())
	require.NoError(t, snap.Close())
	_, err = kv.Get([]byte("x"))
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.Zero(t, idx.OpenSnapshots())
}

func TestPostingsAdvance(t *testing.T) {
	idx, _ := newTestIndex(t)
	b := NewBatch()
	for _, id := range []string{"a", "c", "e", "g"} {
		b.Index(document.New(id).AddKeyword("k", "v"))
	}
	require.NoError(t, idx.Batch(context.Background(), b))
	snap := snapshot(t, idx)

	it := snap.TermPostings("k", "v")
	defer it.Close()
	p, err := it.Advance("b")
	require.NoError(t, err)
	assert.Equal(t, "c", p.DocID)
	p, err = it.Advance("c")
	require.NoError(t, err)
	assert.Equal(t, "e", p.DocID)
	p, err = it.Advance("z")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestTermsAndPrefixTerms(t *testing.T) {
	idx, _ := newTestIndex(t)
	require.NoError(t, idx.Index(context.Background(),
		document.New("a").AddText("body", "search searching seal apple", "")))
	snap := snapshot(t, idx)

	collect := func(it *TermIterator) []string {
		defer it.Close()
		var out []string
		for ; it.Valid(); it.Next() {
			out = append(out, it.Term())
			assert.Equal(t, uint64(1), it.DocFreq())
		}
		return out
	}
	assert.Equal(t, []string{"search", "searching"}, collect(snap.PrefixTerms("body", "sear")))
	assert.Equal(t, []string{"apple", "seal"}, collect(snap.Terms("body", "", "sear")))

	it := snap.Terms("body", "", "")
	it.Seek("seam")
	require.True(t, it.Valid())
	assert.Equal(t, "search", it.Term())
	it.Seek("seb")
	assert.False(t, it.Valid())
	it.Close()
}

func TestDocumentTermsCached(t *testing.T) {
	idx, _ := newTestIndex(t)
	require.NoError(t, idx.Index(context.Background(), document.New("a").AddKeyword("tag", "go")))
	snap := snapshot(t, idx)
	dt, err := snap.DocumentTerms("a")
	require.NoError(t, err)
	require.NotNil(t, dt.Field("tag"))
	assert.Equal(t, []string{"go"}, dt.Field("tag").Terms)
	assert.Equal(t, 1, idx.docCache.Len())

	again, err := snap.DocumentTerms("a")
	require.NoError(t, err)
	assert.Same(t, dt, again)
}

func TestDocumentsIterator(t *testing.T) {
	idx, _ := newTestIndex(t)
	b := NewBatch()
	for _, id := range []string{"c", "a", "b"} {
		b.Index(document.New(id).AddKeyword("k", id))
	}
	require.NoError(t, idx.Batch(context.Background(), b))
	snap := snapshot(t, idx)

	it := snap.Documents()
	defer it.Close()
	var ids []string
	for ; it.Valid(); it.Next() {
		ids = append(ids, it.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	it.Seek("b")
	assert.Equal(t, "b", it.ID())
}
