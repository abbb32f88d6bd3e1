package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const headerRunID = "run_id"

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes synchronized rows to a Kafka topic.
type KafkaPublisher struct {
	writer MessageWriter
	runID  string
	logger *zap.Logger
}

// NewKafkaPublisher creates an asynchronous publisher writing to topic on
// brokers. Messages are keyed so that one row time always lands on one
// partition. Delivery failures are reported through onError, which may be nil.
func NewKafkaPublisher(brokers []string, topic, runID string, onError func(error), logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err == nil {
				return
			}
			logger.Warn("kafka delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
			if onError != nil {
				onError(err)
			}
		},
	}
	return NewKafkaPublisherWithWriter(w, runID, logger)
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, runID string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, runID: runID, logger: logger}
}

// Publish writes one message tagged with the run id.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerRunID, Value: []byte(p.runID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("failed to publish row", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
