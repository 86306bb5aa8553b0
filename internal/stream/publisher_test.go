package stream

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestNewPublisher_Validation(t *testing.T) {
	if _, err := NewPublisher(nil, "commerce.events"); err == nil {
		t.Fatal("expected error for empty broker list")
	}
	if _, err := NewPublisher([]string{"localhost:9092"}, "  "); err == nil {
		t.Fatal("expected error for blank topic")
	}
}

func TestNewPublisher_PartitionsByKey(t *testing.T) {
	publisher, err := NewPublisher([]string{"localhost:9092"}, "commerce.events")
	if err != nil {
		t.Fatalf("NewPublisher error: %v", err)
	}
	defer publisher.Close()

	// Messages are keyed by order id; a key-hashed balancer is what keeps
	// one order's events on one partition, in order.
	if _, ok := publisher.writer.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("expected key-hashed balancer, got %T", publisher.writer.Balancer)
	}
	if publisher.writer.Compression != kafka.Snappy {
		t.Fatalf("expected snappy compression, got %v", publisher.writer.Compression)
	}
}
