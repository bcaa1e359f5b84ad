package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/mapping"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/tracing"
)

type fixture struct {
	mux     *http.ServeMux
	engine  *indexer.Engine
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := index.Open(memstore.New(), index.Options{Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	m, err := mapping.New(nil, analysis.Standard)
	require.NoError(t, err)
	engine := indexer.NewEngine(idx, m, nil, nil)

	_, err = engine.Apply(context.Background(), []indexer.MutationEvent{
		{Op: indexer.OpIndex, ID: "a", Fields: json.RawMessage(`{"body":"quality search results","year":2019}`)},
		{Op: indexer.OpIndex, ID: "b", Fields: json.RawMessage(`{"body":"search engines in go","year":2021}`)},
		{Op: indexer.OpIndex, ID: "c", Fields: json.RawMessage(`{"body":"rust and go","year":2023}`)},
	})
	require.NoError(t, err)

	mt := metrics.New(prometheus.NewRegistry())
	h := New(idx, search.New(search.Options{Logger: logger.Discard()}), nil,
		tracing.NewTracer(true, 1, logger.Discard()), mt,
		Options{DefaultField: "body", Timeout: time.Second, MaxConcurrent: 4})
	mux := http.NewServeMux()
	h.Register(mux)
	return &fixture{mux: mux, engine: engine, metrics: mt}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

type searchResponse struct {
	Total      uint64 `json:"total"`
	Generation uint64 `json:"generation"`
	Cache      string `json:"cache"`
	Hits       []struct {
		ID        string              `json:"id"`
		Score     float64             `json:"score"`
		Fields    map[string][]any    `json:"fields"`
		Fragments map[string][]struct {
			Text  string `json:"text"`
			Spans []struct {
				Start int `json:"start"`
				End   int `json:"end"`
			} `json:"spans"`
		} `json:"fragments"`
	} `json:"hits"`
	Facets map[string]struct {
		Terms []struct {
			Term  string `json:"term"`
			Count int    `json:"count"`
		} `json:"terms"`
	} `json:"facets"`
}

func decodeSearch(t *testing.T, rec *httptest.ResponseRecorder) searchResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out searchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestStructuredSearch(t *testing.T) {
	f := newFixture(t)
	out := decodeSearch(t, f.do(http.MethodPost, "/api/v1/search", `{
		"query": {"match": {"field": "body", "text": "search"}},
		"fields": ["*"],
		"highlight": {"style": "plain"},
		"sort": ["_id"]
	}`))
	assert.Equal(t, uint64(2), out.Total)
	assert.Equal(t, "disabled", out.Cache)
	require.Len(t, out.Hits, 2)
	assert.Equal(t, "a", out.Hits[0].ID)
	assert.Equal(t, "b", out.Hits[1].ID)
	assert.Equal(t, []any{"quality search results"}, out.Hits[0].Fields["body"])
	frags := out.Hits[0].Fragments["body"]
	require.Len(t, frags, 1)
	require.Len(t, frags[0].Spans, 1)
	sp := frags[0].Spans[0]
	assert.Equal(t, "search", frags[0].Text[sp.Start:sp.End])
}

func TestSearchWithoutQueryMatchesAll(t *testing.T) {
	f := newFixture(t)
	out := decodeSearch(t, f.do(http.MethodPost, "/api/v1/search", `{"size": 2, "facets": {"words": {"field": "body", "size": 1}}}`))
	assert.Equal(t, uint64(3), out.Total)
	assert.Len(t, out.Hits, 2)
	require.Contains(t, out.Facets, "words")
	require.Len(t, out.Facets["words"].Terms, 1)
	assert.Equal(t, "go", out.Facets["words"].Terms[0].Term)
	assert.Equal(t, 2, out.Facets["words"].Terms[0].Count)
}

func TestQueryStringSearch(t *testing.T) {
	f := newFixture(t)
	out := decodeSearch(t, f.do(http.MethodGet, "/api/v1/search?q=go+-rust&size=5", ""))
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "b", out.Hits[0].ID)
	assert.Equal(t, uint64(1), out.Generation)

	var m dto.Metric
	require.NoError(t, f.metrics.SearchQueriesTotal.WithLabelValues("hit").Write(&m))
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestSearchRejections(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name, method, target, body string
	}{
		{"missing q", http.MethodGet, "/api/v1/search", ""},
		{"bad size param", http.MethodGet, "/api/v1/search?q=go&size=ten", ""},
		{"bad json", http.MethodPost, "/api/v1/search", `{"query":`},
		{"unknown field", http.MethodPost, "/api/v1/search", `{"limit": 3}`},
		{"unknown query kind", http.MethodPost, "/api/v1/search", `{"query": {"regexp": {}}}`},
		{"negative from", http.MethodPost, "/api/v1/search", `{"from": -1}`},
		{"bad sort", http.MethodPost, "/api/v1/search", `{"sort": [""]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"kind":"malformed query"`)
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats index.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, uint64(3), stats.DocCount)
	assert.Contains(t, stats.Fields, "body")
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "disabled")

	rec = f.do(http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchSeesCommittedGeneration(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(context.Background(), []indexer.MutationEvent{{Op: indexer.OpDelete, ID: "b"}})
	require.NoError(t, err)

	out := decodeSearch(t, f.do(http.MethodGet, "/api/v1/search?q=search", ""))
	assert.Equal(t, uint64(2), out.Generation)
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "a", out.Hits[0].ID)
}

func TestDecodeFingerprintIgnoresKeyOrder(t *testing.T) {
	h := New(nil, nil, nil, nil, nil, Options{DefaultField: "body"})
	_, fp1, err := h.decode([]byte(`{"size": 5, "query": {"term": {"field": "body", "term": "go"}}}`))
	require.NoError(t, err)
	_, fp2, err := h.decode([]byte(`{"query": {"term": {"term": "go", "field": "body"}}, "size": 5}`))
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)

	_, fp3, err := h.decode([]byte(`{"query": {"term": {"term": "go", "field": "body"}}, "size": 6}`))
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}
