package search

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search/facet"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
)

var benchBodies = []string{
	"search engine with inverted index and query processing",
	"ranking documents by term frequency and inverse document frequency",
	"phrase queries walk positions of every matching term",
	"facets count the terms of every matching document",
	"highlighting marks query terms inside stored text",
}

func benchSnapshot(b *testing.B, docs int) *index.Snapshot {
	b.Helper()
	idx, err := index.Open(memstore.New(), index.Options{Logger: logger.Discard()})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { idx.Close() })
	batch := index.NewBatch()
	for i := 0; i < docs; i++ {
		batch.Index(document.New(fmt.Sprintf("doc-%d", i)).
			AddText("body", benchBodies[i%len(benchBodies)], "").
			AddNumeric("rank", float64(i%100)))
	}
	if err := idx.Batch(context.Background(), batch); err != nil {
		b.Fatal(err)
	}
	snap, err := idx.Snapshot()
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { snap.Close() })
	return snap
}

func benchSearch(b *testing.B, s *Searcher, snap *index.Snapshot, req *Request) {
	b.Helper()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(context.Background(), snap, req); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkQueryStringParse measures query-string parsing for queries of
// varying complexity.
func BenchmarkQueryStringParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "inverted index"},
		{"required", "+search +ranking"},
		{"excluded", "search -phrase"},
		{"phrase", `"term frequency" ranking`},
		{"mixed", `+body:search "inverse document" rank:>10 highlight~1 fac*`},
	}
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := query.ParseQueryString(q.query, "body"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkTermSearch measures a scored single-term search as the matching
// set grows.
func BenchmarkTermSearch(b *testing.B) {
	s := New(Options{Logger: logger.Discard()})
	for _, docs := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("docs_%d", docs), func(b *testing.B) {
			snap := benchSnapshot(b, docs)
			benchSearch(b, s, snap, &Request{Query: &query.TermQuery{Field: "body", Term: "frequency"}})
		})
	}
}

// BenchmarkMatchTerms measures disjunctions over an increasing number of
// query terms.
func BenchmarkMatchTerms(b *testing.B) {
	s := New(Options{Logger: logger.Discard()})
	snap := benchSnapshot(b, 5000)
	texts := []string{
		"search",
		"search ranking phrase",
		"search ranking phrase facets highlighting",
	}
	for _, text := range texts {
		b.Run(fmt.Sprintf("terms_%d", len(strings.Fields(text))), func(b *testing.B) {
			benchSearch(b, s, snap, &Request{Query: &query.MatchQuery{Field: "body", Text: text}})
		})
	}
}

// BenchmarkPhrase measures positional phrase matching.
func BenchmarkPhrase(b *testing.B) {
	s := New(Options{Logger: logger.Discard()})
	snap := benchSnapshot(b, 5000)
	benchSearch(b, s, snap, &Request{Query: &query.MatchPhraseQuery{Field: "body", Text: "inverse document frequency"}})
}

// BenchmarkFacetsAndSort measures a match-all search that facets and sorts
// on every document.
func BenchmarkFacetsAndSort(b *testing.B) {
	s := New(Options{Logger: logger.Discard()})
	snap := benchSnapshot(b, 5000)
	benchSearch(b, s, snap, &Request{
		Query:  &query.MatchAllQuery{},
		SortBy: []string{"-rank"},
		Facets: map[string]facet.Request{"words": {Field: "body", Size: 5}},
	})
}

// BenchmarkParallelism compares leaf compilation with different bounds.
func BenchmarkParallelism(b *testing.B) {
	snap := benchSnapshot(b, 5000)
	q := &query.MatchQuery{Field: "body", Text: "search ranking phrase facets highlighting query"}
	for _, p := range []int{1, 4, 8} {
		b.Run(fmt.Sprintf("parallelism_%d", p), func(b *testing.B) {
			s := New(Options{Parallelism: p, Logger: logger.Discard()})
			benchSearch(b, s, snap, &Request{Query: q})
		})
	}
}

// BenchmarkSearchParallel measures concurrent searches sharing a snapshot.
func BenchmarkSearchParallel(b *testing.B) {
	s := New(Options{Logger: logger.Discard()})
	snap := benchSnapshot(b, 5000)
	req := &Request{Query: &query.MatchQuery{Field: "body", Text: "inverted index"}}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.Search(context.Background(), snap, req); err != nil {
				b.Fatal(err)
			}
		}
	})
}
