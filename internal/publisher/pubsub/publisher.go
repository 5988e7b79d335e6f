// Package pubsub publishes run events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type topicSender interface {
	send(ctx context.Context, topic string, msg *pubsub.Message) (string, error)
	stop()
}

type clientSender struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func (s *clientSender) send(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
	s.mu.Lock()
	t, ok := s.topics[topic]
	if !ok {
		t = s.client.Topic(topic)
		s.topics[topic] = t
	}
	s.mu.Unlock()
	id, err := t.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (s *clientSender) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.topics {
		t.Stop()
	}
}

// Publisher sends JSON payloads with trace context in the attributes.
type Publisher struct {
	sender topicSender
}

// New creates a Publisher over an existing client. The client stays owned by the caller.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{sender: &clientSender{client: client, topics: make(map[string]*pubsub.Topic)}}, nil
}

// Publish marshals the payload to JSON and publishes it to topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"content_type": "application/json"}}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Attributes))
	return p.sender.send(ctx, topic, msg)
}

// Close flushes pending messages on every topic used so far.
func (p *Publisher) Close() error {
	p.sender.stop()
	return nil
}
