// Package indexer applies document mutations to the index: directly from
// the HTTP document endpoints, or from the Kafka mutation feed. Every
// applied batch is announced on the cache-invalidation topic.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/mapping"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/metrics"
)

// Op is the kind of a mutation.
type Op string

const (
	OpIndex  Op = "index"
	OpDelete Op = "delete"
)

// MutationEvent is one index or delete operation, as carried on the
// mutation topic and accepted by the bulk endpoint. Fields is the JSON
// object of the document for OpIndex.
type MutationEvent struct {
	Op     Op              `json:"op"`
	ID     string          `json:"id"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// Validate checks the event shape without mapping its fields.
func (e MutationEvent) Validate() error {
	if e.ID == "" {
		return apperrors.Invalid("mutation without an id")
	}
	switch e.Op {
	case OpIndex:
		if len(e.Fields) == 0 {
			return apperrors.Invalid("index mutation %q has no fields", e.ID)
		}
	case OpDelete:
	default:
		return apperrors.Invalid("mutation %q has unknown op %q", e.ID, e.Op)
	}
	return nil
}

// CommitEvent announces a committed generation so searchers can drop cached
// results computed against older ones.
type CommitEvent struct {
	Generation uint64 `json:"generation"`
	Indexed    int    `json:"indexed"`
	Deleted    int    `json:"deleted"`
}

// Engine maps and commits mutations.
type Engine struct {
	idx        *index.Index
	mapping    *mapping.Mapping
	metrics    *metrics.Metrics
	invalidate kafka.Publisher
	logger     *slog.Logger
}

// NewEngine wires an engine. metrics and invalidate may be nil.
func NewEngine(idx *index.Index, m *mapping.Mapping, mt *metrics.Metrics, invalidate kafka.Publisher) *Engine {
	return &Engine{
		idx:        idx,
		mapping:    m,
		metrics:    mt,
		invalidate: invalidate,
		logger:     slog.Default().With("component", "indexer"),
	}
}

// Index returns the engine's index.
func (e *Engine) Index() *index.Index {
	return e.idx
}

// Apply commits events as one atomic batch: all of them become visible
// together or none do. Later events for the same id win.
func (e *Engine) Apply(ctx context.Context, events []MutationEvent) (*CommitEvent, error) {
	b := index.NewBatch()
	ce := &CommitEvent{}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		switch ev.Op {
		case OpIndex:
			doc, err := e.mapping.Document(ev.ID, ev.Fields)
			if err != nil {
				return nil, err
			}
			b.Index(doc)
			ce.Indexed++
		case OpDelete:
			b.Delete(ev.ID)
			ce.Deleted++
		}
	}
	if b.Len() == 0 {
		return ce, nil
	}

	if err := e.idx.Batch(ctx, b); err != nil {
		e.count("error", 0, 0)
		return nil, fmt.Errorf("committing batch of %d mutations: %w", len(events), err)
	}
	e.count("ok", ce.Indexed, ce.Deleted)

	gen, err := e.idx.Generation()
	if err != nil {
		e.logger.Warn("reading generation after commit", "error", err)
	}
	ce.Generation = gen
	e.logger.Info("batch committed",
		"generation", gen,
		"indexed", ce.Indexed,
		"deleted", ce.Deleted,
	)
	e.announce(ctx, ce)
	return ce, nil
}

func (e *Engine) count(status string, indexed, deleted int) {
	if e.metrics == nil {
		return
	}
	e.metrics.BatchCommitsTotal.WithLabelValues(status).Inc()
	e.metrics.DocsIndexedTotal.Add(float64(indexed))
	e.metrics.DocsDeletedTotal.Add(float64(deleted))
}

// announce is best effort: cached entries carry their generation, so a lost
// event only delays eviction, never serves a stale generation as current.
func (e *Engine) announce(ctx context.Context, ce *CommitEvent) {
	if e.invalidate == nil {
		return
	}
	if err := e.invalidate.Publish(ctx, kafka.Event{Key: "commit", Value: ce}); err != nil {
		e.logger.Warn("publishing commit event", "generation", ce.Generation, "error", err)
	}
}

// Document returns the stored fields of id.
func (e *Engine) Document(ctx context.Context, id string) (map[string][]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := e.idx.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()
	ok, err := snap.Exists(id)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", id, err)
	}
	if !ok {
		return nil, apperrors.NotFound(id)
	}
	return snap.StoredFields(id, nil)
}

// Permanent reports whether err will fail again on retry: the mutation
// itself is bad, not the storage under it.
func Permanent(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrAnalysis) ||
		errors.Is(err, apperrors.ErrIndexClosed)
}
