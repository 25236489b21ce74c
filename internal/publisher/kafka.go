package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tinytelemetry/logfeed/internal/model"
)

// KafkaConfig holds writer parameters for the Kafka producer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaProducer sends messages through a synchronous kafka-go writer.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer builds a writer that waits for the partition leader's
// acknowledgment on every write. Keys are hashed to pick the partition.
func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka: topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = model.DefaultPublishTimeout
	}

	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchSize:    1,
			WriteTimeout: cfg.WriteTimeout,
		},
	}, nil
}

// Send writes one message and waits for the acknowledgment.
func (p *KafkaProducer) Send(ctx context.Context, msg model.Message) error {
	km := kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Value,
		Time:  time.Now(),
	}
	for _, h := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: h.Key, Value: h.Value})
	}
	if err := p.writer.WriteMessages(ctx, km); err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Key, err)
	}
	return nil
}

// Flush has nothing to deliver: writes are synchronous, so nothing is pending
// once every Send has returned. Close is where the writer actually drains.
func (p *KafkaProducer) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close flushes any buffered writes and releases broker connections.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
