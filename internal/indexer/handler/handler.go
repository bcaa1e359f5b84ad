// Package handler serves the document endpoints: index, delete and fetch
// single documents, and bulk mutation batches.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/logger"
)

const maxBodyBytes = 32 << 20

// Applier commits mutations; *indexer.Engine implements it.
type Applier interface {
	Apply(ctx context.Context, events []indexer.MutationEvent) (*indexer.CommitEvent, error)
	Document(ctx context.Context, id string) (map[string][]any, error)
}

// Handler serves document requests. With a feed set, mutations are
// published to the mutation topic and acknowledged with 202 instead of
// being committed in-process.
type Handler struct {
	engine     Applier
	feed       kafka.Publisher
	maxBulkOps int
	logger     *slog.Logger
}

func New(engine Applier, feed kafka.Publisher, maxBulkOps int) *Handler {
	if maxBulkOps <= 0 {
		maxBulkOps = 10000
	}
	return &Handler{
		engine:     engine,
		feed:       feed,
		maxBulkOps: maxBulkOps,
		logger:     slog.Default().With("component", "document-handler"),
	}
}

// Register mounts the document routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/docs/{id}", h.Put)
	mux.HandleFunc("DELETE /api/v1/docs/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/docs/{id}", h.Get)
	mux.HandleFunc("POST /api/v1/bulk", h.Bulk)
}

func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, apperrors.Invalid("reading body: %v", err))
		return
	}
	if !json.Valid(body) {
		h.writeError(w, r, apperrors.Invalid("document %q is not valid JSON", id))
		return
	}
	h.submit(w, r, []indexer.MutationEvent{{Op: indexer.OpIndex, ID: id, Fields: body}})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, []indexer.MutationEvent{{Op: indexer.OpDelete, ID: r.PathValue("id")}})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	fields, err := h.engine.Document(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": id, "fields": fields})
}

type bulkRequest struct {
	Ops []indexer.MutationEvent `json:"ops"`
}

func (h *Handler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, apperrors.Invalid("decoding bulk request: %v", err))
		return
	}
	if len(req.Ops) == 0 {
		h.writeError(w, r, apperrors.Invalid("bulk request has no ops"))
		return
	}
	if len(req.Ops) > h.maxBulkOps {
		h.writeError(w, r, apperrors.Invalid("bulk request has %d ops, limit is %d", len(req.Ops), h.maxBulkOps))
		return
	}
	h.submit(w, r, req.Ops)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, events []indexer.MutationEvent) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	if h.feed != nil {
		batch := make([]kafka.Event, len(events))
		for i, ev := range events {
			batch[i] = kafka.Event{Key: ev.ID, Value: ev}
		}
		if err := h.feed.PublishBatch(ctx, batch); err != nil {
			log.Error("publishing mutations", "count", len(events), "error", err)
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(events)})
		return
	}

	ce, err := h.engine.Apply(ctx, events)
	if err != nil {
		log.Error("applying mutations", "count", len(events), "error", err)
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ce)
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
	if status >= http.StatusInternalServerError && !errors.As(err, &appErr) {
		message = "internal error"
	}
	h.writeJSON(w, status, map[string]string{
		"error":      message,
		"kind":       apperrors.Kind(err).Error(),
		"request_id": logger.RequestID(r.Context()),
	})
}
