// Package stream publishes commerce analytics events to Kafka. Publishing is
// asynchronous and best effort, distinct from the in-process order bus.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cartforge/commerce/internal/services"
)

// Publisher writes commerce events to a Kafka topic. It implements
// services.CommerceEventPublisher.
type Publisher struct {
	writer *kafka.Writer
	topic  string
}

// NewPublisher builds a writer against the broker list.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("stream: at least one broker is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("stream: topic is required")
	}
	return &Publisher{
		topic: topic,
		writer: &kafka.Writer{
			Addr:  kafka.TCP(brokers...),
			Topic: topic,
			// Key-hashed so all events for one order stay on one partition.
			Balancer:               &kafka.Hash{},
			Compression:            kafka.Snappy,
			AllowAutoTopicCreation: true,
			BatchTimeout:           100 * time.Millisecond,
		},
	}, nil
}

// Publish serialises the event as JSON keyed by order id (falling back to
// variant id) so events for one order land on one partition in order.
func (p *Publisher) Publish(ctx context.Context, event services.CommerceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("stream: marshal event: %w", err)
	}

	key := event.OrderID
	if key == "" {
		key = event.VariantID
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("stream: write %s: %w", event.Kind, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
