package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
)

// Event is one record for a feed topic: a document mutation keyed by its
// ID, a commit announcement, or a dead letter. Value is encoded as JSON.
type Event struct {
	Key   string
	Value any
}

// Producer writes events to one topic. The key hash picks the partition,
// so every mutation of a document is consumed in the order it was sent.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

var _ Publisher = (*Producer)(nil)

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
			RequiredAcks: kafka.RequireAll,
		},
		topic:  topic,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes a single event and waits for every in-sync replica.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch writes events in one call. Either the whole batch is
// acknowledged or an error is returned; a caller that gets an error must
// not report the mutations as accepted.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, len(events))
	bytes := 0
	for i, event := range events {
		value, err := json.Marshal(event.Value)
		if err != nil {
			return fmt.Errorf("encoding event %q for %s: %w", event.Key, p.topic, err)
		}
		messages[i] = kafka.Message{Key: []byte(event.Key), Value: value}
		bytes += len(value)
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("feed write failed",
			"events", len(messages),
			"first_key", events[0].Key,
			"error", err,
		)
		return fmt.Errorf("writing %d events to %s: %w", len(messages), p.topic, err)
	}
	p.logger.Debug("feed write acknowledged", "events", len(messages), "bytes", bytes)
	return nil
}

// Close flushes buffered writes.
func (p *Producer) Close() error {
	return p.writer.Close()
}
