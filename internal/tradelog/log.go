// Package tradelog provides the durable log that decouples the ingestor
// from the analyzer. Two implementations exist: Redis Streams for
// deployment and an in-memory log for tests and local development.
//
// Delivery is at-least-once: a message stays pending until acknowledged and
// is redelivered if its consumer dies. Messages produced to one topic are
// delivered in produce order, which preserves per-symbol trade order.
package tradelog

import (
	"context"
	"time"
)

// Message is one entry read from a topic.
type Message struct {
	Topic string
	Key   string
	Value []byte

	// id is the delivery tag used by Ack.
	id string
}

// Producer appends messages to topics.
type Producer interface {
	// Produce appends value under key. Key is the partition key: entries
	// with the same key keep their relative order.
	Produce(ctx context.Context, topic, key string, value []byte) error
	// Flush blocks until previously produced messages are durable.
	Flush(ctx context.Context) error
	Close() error
}

// Consumer reads one topic on behalf of a group.
type Consumer interface {
	// Poll returns the next message, or (nil, nil) if none arrived within
	// timeout. Returned messages must be Acked once processed.
	Poll(ctx context.Context, timeout time.Duration) (*Message, error)
	// Ack marks a message as processed, removing it from redelivery.
	Ack(ctx context.Context, msg *Message) error
	Close() error
}

// Log is a handle to the underlying transport.
type Log interface {
	Producer() Producer
	// Subscribe joins group on topic. Each group sees every message once
	// (modulo redelivery).
	Subscribe(topic, group string) (Consumer, error)
	Close() error
}
