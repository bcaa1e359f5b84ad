// Package kafka carries the index mutation feed and cache invalidation
// events over segmentio/kafka-go. Producers serialise events as JSON;
// consumers hand raw messages to a MessageHandler and commit offsets only
// once a message is handled or parked on the dead-letter topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/textsearch/pkg/config"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Publisher is the producer side used by handlers and the dead-letter path.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	PublishBatch(ctx context.Context, events []Event) error
}

// DeadLetter is the envelope written for a message whose handler failed.
type DeadLetter struct {
	Topic     string          `json:"topic"`
	Partition int             `json:"partition"`
	Offset    int64           `json:"offset"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Error     string          `json:"error"`
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader     *kafka.Reader
	topic      string
	logger     *slog.Logger
	handler    MessageHandler
	deadLetter Publisher
}

// ConsumerOption customises a Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter parks messages whose handler fails on p and commits them,
// so a poison message does not stall the partition.
func WithDeadLetter(p Publisher) ConsumerOption {
	return func(c *Consumer) { c.deadLetter = p }
}

// NewConsumer creates a Consumer for topic in the given consumer group. An
// empty groupID falls back to the configured consumer group.
func NewConsumer(cfg config.KafkaConfig, topic, groupID string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	if groupID == "" {
		groupID = cfg.ConsumerGroup
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	c := &Consumer{
		reader:  r,
		topic:   topic,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", groupID),
		handler: handler,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. A message whose handler fails without a dead-letter topic is
// left uncommitted and the loop stops, so it is redelivered on restart.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to process message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			if c.deadLetter == nil {
				return fmt.Errorf("handling offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
			}
			if err := c.park(ctx, msg, err); err != nil {
				return err
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

func (c *Consumer) park(ctx context.Context, msg kafka.Message, cause error) error {
	value := json.RawMessage(msg.Value)
	if !json.Valid(msg.Value) {
		value, _ = json.Marshal(string(msg.Value))
	}
	dl := DeadLetter{
		Topic:     c.topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     value,
		Error:     cause.Error(),
	}
	if err := c.deadLetter.Publish(ctx, Event{Key: string(msg.Key), Value: dl}); err != nil {
		return fmt.Errorf("parking offset %d on dead-letter topic: %w", msg.Offset, err)
	}
	c.logger.Warn("message parked on dead-letter topic", "partition", msg.Partition, "offset", msg.Offset)
	return nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
