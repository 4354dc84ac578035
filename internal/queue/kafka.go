package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// Producer publishes accepted notification events for the dispatcher
// workers. Keying by event id keeps redeliveries of the same event on
// one partition so per-event ordering holds.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// Consumer reads notification events for a dispatcher worker group.
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		Async:        false, // Synchronous for reliability
	}

	return &Producer{writer: writer, logger: logger}
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg config.KafkaConfig, groupID string, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     groupID,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		StartOffset: kafka.LastOffset,
	})

	return &Consumer{reader: reader, logger: logger}
}

// PublishEvent publishes a notification event to the dispatch topic.
func (p *Producer) PublishEvent(ctx context.Context, event notification.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
			{Key: "recipient", Value: []byte(event.RecipientID)},
		},
		Time: time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write event to Kafka: %w", err)
	}

	p.logger.Debug("event published", zap.String("event_id", event.ID))
	return nil
}

// ConsumeEvents reads events until ctx is cancelled, handing each to
// the handler. Handler failures are logged and the offset committed
// anyway; the dispatcher's own retry and offline machinery owns
// redelivery, not Kafka.
func (c *Consumer) ConsumeEvents(ctx context.Context, handler func(notification.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("failed to read message from Kafka", zap.Error(err))
				continue
			}

			var event notification.Event
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				c.logger.Error("failed to unmarshal event", zap.Error(err))
				continue
			}

			if err := handler(event); err != nil {
				c.logger.Error("failed to process event",
					zap.String("event_id", event.ID), zap.Error(err))
				continue
			}
		}
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
