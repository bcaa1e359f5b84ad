package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/mapping"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/store/memstore"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
)

type recordingFeed struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (f *recordingFeed) Publish(ctx context.Context, e kafka.Event) error {
	return f.PublishBatch(ctx, []kafka.Event{e})
}

func (f *recordingFeed) PublishBatch(_ context.Context, es []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, es...)
	return nil
}

func newServer(t *testing.T, feed kafka.Publisher) (*http.ServeMux, *index.Index) {
	t.Helper()
	idx, err := index.Open(memstore.New(), index.Options{Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	m, err := mapping.New(nil, analysis.Standard)
	require.NoError(t, err)
	mux := http.NewServeMux()
	New(indexer.NewEngine(idx, m, nil, nil), feed, 3).Register(mux)
	return mux, idx
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestPutGetDelete(t *testing.T) {
	mux, idx := newServer(t, nil)

	rec := do(mux, http.MethodPut, "/api/v1/docs/d1", `{"title":"hello search","views":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ce indexer.CommitEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ce))
	assert.Equal(t, 1, ce.Indexed)
	assert.Equal(t, uint64(1), ce.Generation)

	rec = do(mux, http.MethodGet, "/api/v1/docs/d1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		ID     string           `json:"id"`
		Fields map[string][]any `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, []any{"hello search"}, got.Fields["title"])
	assert.Equal(t, []any{3.0}, got.Fields["views"])

	rec = do(mux, http.MethodDelete, "/api/v1/docs/d1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = do(mux, http.MethodGet, "/api/v1/docs/d1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBulk(t *testing.T) {
	mux, idx := newServer(t, nil)
	rec := do(mux, http.MethodPost, "/api/v1/bulk", `{"ops":[
		{"op":"index","id":"a","fields":{"body":"one"}},
		{"op":"index","id":"b","fields":{"body":"two"}},
		{"op":"delete","id":"a"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestBulkRejections(t *testing.T) {
	mux, idx := newServer(t, nil)
	tests := map[string]string{
		"empty":         `{"ops":[]}`,
		"unknown op":    `{"ops":[{"op":"upsert","id":"a"}]}`,
		"missing id":    `{"ops":[{"op":"delete"}]}`,
		"too many":      `{"ops":[{"op":"delete","id":"a"},{"op":"delete","id":"b"},{"op":"delete","id":"c"},{"op":"delete","id":"d"}]}`,
		"unknown field": `{"ops":[],"extra":1}`,
		"bad fields":    `{"ops":[{"op":"index","id":"a","fields":[1]}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(mux, http.MethodPost, "/api/v1/bulk", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"kind":"invalid input"`)
		})
	}
	gen, err := idx.Generation()
	require.NoError(t, err)
	assert.Zero(t, gen, "rejected requests commit nothing")
}

func TestAsyncModePublishes(t *testing.T) {
	feed := &recordingFeed{}
	mux, idx := newServer(t, feed)

	rec := do(mux, http.MethodPut, "/api/v1/docs/x", `{"body":"queued"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(mux, http.MethodDelete, "/api/v1/docs/y", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, feed.events, 2)
	assert.Equal(t, "x", feed.events[0].Key)
	ev := feed.events[1].Value.(indexer.MutationEvent)
	assert.Equal(t, indexer.OpDelete, ev.Op)

	n, err := idx.DocCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPutRejectsInvalidJSON(t *testing.T) {
	mux, _ := newServer(t, nil)
	rec := do(mux, http.MethodPut, "/api/v1/docs/x", `{"body":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
