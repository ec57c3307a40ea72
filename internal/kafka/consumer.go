package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"klaxon/internal/logger"
	"klaxon/internal/metrics"
	"klaxon/internal/models"
	"klaxon/internal/worker"
)

// Sink is where decoded events go; the worker pool implements it
type Sink interface {
	Submit(event *models.Event) error
}

// Consumer reads events off the events topic and feeds them to the
// evaluation pool. Malformed payloads are logged and skipped, not
// redelivered; a full queue drops the event and relies on the producer
// to resend.
type Consumer struct {
	reader *kafka.Reader
	sink   Sink
	log    zerolog.Logger
}

// NewConsumer creates a consumer in the given group
func NewConsumer(brokers []string, topic, group string, sink Sink) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10 * 1024 * 1024,
	})

	return &Consumer{
		reader: reader,
		sink:   sink,
		log:    logger.WithComponent("kafka_consumer"),
	}
}

// Run consumes until ctx is cancelled or the reader is closed
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("topic", c.reader.Config().Topic).
		Str("group", c.reader.Config().GroupID).
		Msg("consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.log.Info().Msg("consumer stopped")
				return nil
			}
			return err
		}

		if err := c.handleMessage(msg); err != nil {
			return err
		}
	}
}

// handleMessage decodes one payload and submits it to the sink. A
// payload that cannot be decoded or find queue space is dropped; only
// a fatal sink error stops the consumer.
func (c *Consumer) handleMessage(msg kafka.Message) error {
	var event models.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		metrics.ConsumerEventsTotal.WithLabelValues("decode_error").Inc()
		c.log.Warn().Err(err).
			Int64("offset", msg.Offset).
			Int("partition", msg.Partition).
			Msg("dropping undecodable event payload")
		return nil
	}

	if err := c.sink.Submit(&event); err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			metrics.ConsumerEventsTotal.WithLabelValues("queue_full").Inc()
			c.log.Warn().
				Str("event_id", event.ID).
				Msg("event queue full, dropping consumed event")
			return nil
		}
		return err
	}
	metrics.ConsumerEventsTotal.WithLabelValues("submitted").Inc()
	return nil
}

// Close shuts the reader down, unblocking a pending ReadMessage
func (c *Consumer) Close() error {
	return c.reader.Close()
}
