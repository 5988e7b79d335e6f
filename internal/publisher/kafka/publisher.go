// Package kafka publishes run events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config lists the brokers and delivery settings.
type Config struct {
	Brokers     []string
	MaxAttempts int
	// WriteTimeout bounds a single produce request.
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Keyed payloads choose their own partition key.
type Keyed interface {
	EventKey() string
}

// Publisher writes one JSON message per call.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

// New creates a synchronous writer that waits for all in-sync replicas.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events.brokers is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newWithWriter(w), nil
}

func newWithWriter(w messageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// Publish writes payload to topic. The returned ID is topic/key.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var key string
	if k, ok := payload.(Keyed); ok {
		key = k.EventKey()
	}
	msg := kafka.Message{
		Topic: topic,
		Value: data,
		Headers: []kafka.Header{
			{Key: "content_type", Value: []byte("application/json")},
			{Key: "timestamp", Value: []byte(p.now().UTC().Format(time.RFC3339))},
		},
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write kafka message: %w", err)
	}
	return topic + "/" + key, nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
