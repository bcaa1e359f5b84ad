// Package consumer reads mutation events from the Kafka mutation topic and
// applies them through the indexer engine, retrying transient failures.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/textsearch/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/textsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/resilience"
)

// Applier commits a batch of mutations; *indexer.Engine implements it.
type Applier interface {
	Apply(ctx context.Context, events []indexer.MutationEvent) (*indexer.CommitEvent, error)
}

// Runner is the consume loop; *kafka.Consumer implements it.
type Runner interface {
	Start(ctx context.Context) error
	Close() error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer Runner
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer Runner) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled
// or a message cannot be handled nor parked.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

func (ic *IndexConsumer) Close() error {
	return ic.consumer.Close()
}

// HandleMessage returns a Kafka MessageHandler that applies one
// MutationEvent per message. Storage failures are retried with backoff;
// undecodable or invalid events fail at once so the consumer can park them.
// mt may be nil.
func HandleMessage(engine Applier, retry resilience.RetryConfig, mt *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	retry.Retryable = func(err error) bool { return !indexer.Permanent(err) }
	count := func(op indexer.Op, status string) {
		if mt == nil {
			return
		}
		if op == "" {
			op = "unknown"
		}
		mt.MutationEventsTotal.WithLabelValues(string(op), status).Inc()
	}

	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.MutationEvent](value)
		if err != nil {
			logger.Error("failed to decode mutation event", "error", err, "key", string(key))
			count("", "rejected")
			return apperrors.Invalid("%v", err)
		}
		if err := event.Validate(); err != nil {
			count(event.Op, "rejected")
			return err
		}

		var ce *indexer.CommitEvent
		err = resilience.Retry(ctx, "apply-mutation", retry, func() error {
			var applyErr error
			ce, applyErr = engine.Apply(ctx, []indexer.MutationEvent{event})
			return applyErr
		})
		if err != nil {
			status := "failed"
			if indexer.Permanent(err) {
				status = "rejected"
			}
			count(event.Op, status)
			return fmt.Errorf("applying %s of %q: %w", event.Op, event.ID, err)
		}
		count(event.Op, "applied")
		logger.Debug("mutation applied", "op", event.Op, "doc_id", event.ID, "generation", ce.Generation)
		return nil
	}
}
