package tradelog

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryLog is an in-process Log with the same delivery semantics as the
// Redis implementation. Used by tests and the memory driver.
type MemoryLog struct {
	mu     sync.Mutex
	topics map[string]*memTopic

	// RedeliverAfter is how long an unacked message stays invisible before
	// it is offered again.
	RedeliverAfter time.Duration
}

type memEntry struct {
	key   string
	value []byte
}

type memTopic struct {
	entries []memEntry
	groups  map[string]*memGroup
	notify  chan struct{}
}

type memGroup struct {
	next    int
	pending map[int]time.Time
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		topics:         make(map[string]*memTopic),
		RedeliverAfter: 30 * time.Second,
	}
}

func (l *MemoryLog) topic(name string) *memTopic {
	t, ok := l.topics[name]
	if !ok {
		t = &memTopic{
			groups: make(map[string]*memGroup),
			notify: make(chan struct{}),
		}
		l.topics[name] = t
	}
	return t
}

// Producer returns a producer backed by this log.
func (l *MemoryLog) Producer() Producer {
	return &memProducer{log: l}
}

// Subscribe joins group on topic. Like the Redis transport, a new group
// starts at the end of the stream and sees only subsequent messages.
func (l *MemoryLog) Subscribe(topic, group string) (Consumer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.topic(topic)
	g, ok := t.groups[group]
	if !ok {
		g = &memGroup{next: len(t.entries), pending: make(map[int]time.Time)}
		t.groups[group] = g
	}
	return &memConsumer{log: l, name: topic, topic: t, group: g}, nil
}

func (l *MemoryLog) Close() error { return nil }

type memProducer struct {
	log *MemoryLog
}

func (p *memProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	p.log.mu.Lock()
	t := p.log.topic(topic)
	t.entries = append(t.entries, memEntry{key: key, value: v})
	close(t.notify)
	t.notify = make(chan struct{})
	p.log.mu.Unlock()
	return nil
}

func (p *memProducer) Flush(ctx context.Context) error { return nil }
func (p *memProducer) Close() error                    { return nil }

type memConsumer struct {
	log   *MemoryLog
	name  string
	topic *memTopic
	group *memGroup
}

func (c *memConsumer) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.log.mu.Lock()
		msg := c.takeLocked()
		notify := c.topic.notify
		c.log.mu.Unlock()

		if msg != nil {
			return msg, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		case <-time.After(wait):
			return nil, nil
		}
	}
}

// takeLocked returns the next deliverable message: first any pending entry
// past its redelivery deadline, otherwise the next unread entry.
func (c *memConsumer) takeLocked() *Message {
	now := time.Now()

	redeliverAt := int(-1)
	for idx, deliveredAt := range c.group.pending {
		if now.Sub(deliveredAt) >= c.log.RedeliverAfter {
			if redeliverAt == -1 || idx < redeliverAt {
				redeliverAt = idx
			}
		}
	}
	if redeliverAt >= 0 {
		c.group.pending[redeliverAt] = now
		return c.message(redeliverAt)
	}

	if c.group.next < len(c.topic.entries) {
		idx := c.group.next
		c.group.next++
		c.group.pending[idx] = now
		return c.message(idx)
	}
	return nil
}

func (c *memConsumer) message(idx int) *Message {
	entry := c.topic.entries[idx]
	return &Message{
		Topic: c.name,
		Key:   entry.key,
		Value: entry.value,
		id:    strconv.Itoa(idx),
	}
}

func (c *memConsumer) Ack(ctx context.Context, msg *Message) error {
	if msg == nil || msg.id == "" {
		return nil
	}
	idx, err := strconv.Atoi(msg.id)
	if err != nil {
		return nil
	}
	c.log.mu.Lock()
	delete(c.group.pending, idx)
	c.log.mu.Unlock()
	return nil
}

func (c *memConsumer) Close() error { return nil }
