// Package handler serves the search API: structured and query-string
// searches, index statistics, and query cache administration.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/query"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/search/facet"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Source opens snapshots of the index; *index.Index implements it.
type Source interface {
	Snapshot() (*index.Snapshot, error)
	Stats() (index.Stats, error)
}

// Options tune request handling. Zero values disable the limit they name.
type Options struct {
	DefaultField  string
	Timeout       time.Duration
	MaxConcurrent int
}

type Handler struct {
	source       Source
	searcher     *search.Searcher
	cache        *cache.QueryCache
	tracer       *tracing.Tracer
	metrics      *metrics.Metrics
	sem          *semaphore.Weighted
	defaultField string
	timeout      time.Duration
	logger       *slog.Logger
}

// New wires a handler. queryCache, tracer and mt may be nil.
func New(source Source, searcher *search.Searcher, queryCache *cache.QueryCache, tracer *tracing.Tracer, mt *metrics.Metrics, opts Options) *Handler {
	h := &Handler{
		source:       source,
		searcher:     searcher,
		cache:        queryCache,
		tracer:       tracer,
		metrics:      mt,
		defaultField: opts.DefaultField,
		timeout:      opts.Timeout,
		logger:       slog.Default().With("component", "search-handler"),
	}
	if opts.MaxConcurrent > 0 {
		h.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return h
}

// Register mounts the search routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/search", h.SearchQueryString)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// searchBody is the wire form of a search request. Query is a JSON query
// tree as accepted by query.ParseJSON; an absent query matches everything.
type searchBody struct {
	Query     json.RawMessage          `json:"query"`
	Size      int                      `json:"size"`
	From      int                      `json:"from"`
	Fields    []string                 `json:"fields,omitempty"`
	Highlight *search.HighlightRequest `json:"highlight,omitempty"`
	Facets    map[string]facet.Request `json:"facets,omitempty"`
	Sort      []string                 `json:"sort,omitempty"`
	Explain   bool                     `json:"explain,omitempty"`
}

// response adds the cache outcome to a search result.
type response struct {
	*search.Result
	Cache cache.Status `json:"cache"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, apperrors.Invalid("reading body: %v", err))
		return
	}
	h.serve(w, r, body)
}

// SearchQueryString serves GET /api/v1/search?q=...&size=&from=&explain=
// by translating the parameters into the structured request form.
func (h *Handler) SearchQueryString(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := params.Get("q")
	if q == "" {
		h.writeError(w, r, apperrors.Malformed("query parameter 'q' is required"))
		return
	}
	body := map[string]any{"query": map[string]string{"query_string": q}}
	for _, name := range []string{"size", "from"} {
		v := params.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, r, apperrors.Malformed("%s must be an integer", name))
			return
		}
		body[name] = n
	}
	if v := params.Get("explain"); v != "" {
		explain, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, apperrors.Malformed("explain must be a boolean"))
			return
		}
		body["explain"] = explain
	}
	if fields := params["fields"]; len(fields) > 0 {
		body["fields"] = fields
	}
	data, err := json.Marshal(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serve(w, r, data)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, body []byte) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.sem != nil {
		if err := h.sem.Acquire(ctx, 1); err != nil {
			h.writeError(w, r, fmt.Errorf("waiting for a search slot: %w", err))
			return
		}
		defer h.sem.Release(1)
	}

	ctx, span := h.tracer.Start(ctx, "search.request", logger.RequestID(ctx))
	defer h.tracer.Finish(span)

	req, fingerprint, err := h.decode(body)
	if err != nil {
		h.count("malformed")
		h.writeError(w, r, err)
		return
	}

	snap, err := h.source.Snapshot()
	if err != nil {
		h.count("error")
		h.writeError(w, r, err)
		return
	}
	l := newLease(snap)
	defer l.release()
	span.SetAttr("generation", snap.Generation())

	compute := func(ctx context.Context) (*search.Result, error) {
		s := snap
		if l.acquire() {
			defer l.release()
		} else {
			// The request that started this computation already returned.
			fresh, err := h.source.Snapshot()
			if err != nil {
				return nil, err
			}
			defer fresh.Close()
			s = fresh
		}
		var result *search.Result
		err := resilience.WithTimeout(ctx, h.timeout, "search", func(ctx context.Context) error {
			var err error
			result, err = h.searcher.Search(ctx, s, req)
			return err
		})
		return result, err
	}

	var (
		result *search.Result
		status = cache.Disabled
	)
	if h.cache != nil {
		result, status, err = h.cache.GetOrCompute(ctx, snap.Generation(), fingerprint, compute)
	} else {
		result, err = compute(ctx)
	}
	span.SetAttr("cache", string(status))
	if err != nil {
		if errors.Is(err, apperrors.ErrMalformedQuery) {
			h.count("malformed")
		} else {
			h.count("error")
		}
		log.Error("search failed", "error", err, "cache", status)
		h.writeError(w, r, err)
		return
	}

	elapsed := time.Since(start)
	outcome := "hit"
	if result.Total == 0 {
		outcome = "zero_result"
	}
	h.count(outcome)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(string(status)).Observe(elapsed.Seconds())
		h.metrics.SearchResultsCount.Observe(float64(result.Total))
	}
	span.SetAttr("total", result.Total)
	log.Info("search completed",
		"total_hits", result.Total,
		"returned", len(result.Hits),
		"generation", result.Generation,
		"cache", status,
		"latency_ms", elapsed.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, response{Result: result, Cache: status})
}

// decode parses body into a search request. The fingerprint is the body
// re-encoded with sorted keys, so equivalent requests share cache entries.
func (h *Handler) decode(body []byte) (*search.Request, []byte, error) {
	var sb searchBody
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sb); err != nil {
		return nil, nil, apperrors.Malformed("decoding search request: %v", err)
	}

	var q query.Query = &query.MatchAllQuery{}
	if len(sb.Query) > 0 && !bytes.Equal(bytes.TrimSpace(sb.Query), []byte("null")) {
		parsed, err := query.ParseJSON(sb.Query, h.defaultField)
		if err != nil {
			return nil, nil, err
		}
		q = parsed
	}

	var canonical any
	cdec := json.NewDecoder(bytes.NewReader(body))
	cdec.UseNumber()
	if err := cdec.Decode(&canonical); err != nil {
		return nil, nil, apperrors.Malformed("decoding search request: %v", err)
	}
	fingerprint, err := json.Marshal(canonical)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding request fingerprint: %w", err)
	}

	return &search.Request{
		Query:     q,
		Size:      sb.Size,
		From:      sb.From,
		Fields:    sb.Fields,
		Highlight: sb.Highlight,
		Facets:    sb.Facets,
		SortBy:    sb.Sort,
		Explain:   sb.Explain,
	}, fingerprint, nil
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.source.Stats()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  h.cache.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout && !errors.As(err, &appErr) {
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{
		"error":      message,
		"kind":       apperrors.Kind(err).Error(),
		"request_id": logger.RequestID(r.Context()),
	})
}
