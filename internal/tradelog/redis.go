package tradelog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pulsetrade/internal/logging"
)

// claimIdle is how long a pending message may sit with a dead consumer
// before another consumer claims it.
const claimIdle = 30 * time.Second

// RedisLog implements Log on Redis Streams. Each topic is one stream;
// consumer groups provide at-least-once delivery.
type RedisLog struct {
	client *redis.Client
	maxLen int64
	logger *logging.Logger
}

// RedisConfig holds connection settings for the log transport.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	MaxLen   int64 // approximate per-stream cap, 0 means unbounded
}

// NewRedisLog connects and verifies the transport.
func NewRedisLog(ctx context.Context, cfg RedisConfig) (*RedisLog, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("tradelog redis ping: %w", err)
	}

	return &RedisLog{
		client: client,
		maxLen: cfg.MaxLen,
		logger: logging.WithComponent("tradelog"),
	}, nil
}

// Producer returns a producer backed by this connection.
func (l *RedisLog) Producer() Producer {
	return &redisProducer{log: l}
}

// Subscribe creates the consumer group if needed and returns a consumer
// with a unique name inside the group.
func (l *RedisLog) Subscribe(topic, group string) (Consumer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := l.client.XGroupCreateMkStream(ctx, topic, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create group %s on %s: %w", group, topic, err)
	}

	name := fmt.Sprintf("%s-%s", group, uuid.New().String())
	l.logger.Info("Subscribed to topic", "topic", topic, "group", group, "consumer", name)

	return &redisConsumer{
		log:      l,
		topic:    topic,
		group:    group,
		consumer: name,
	}, nil
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}

type redisProducer struct {
	log *RedisLog
}

func (p *redisProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"key": key, "value": value},
	}
	if p.log.maxLen > 0 {
		args.MaxLen = p.log.maxLen
		args.Approx = true
	}
	if err := p.log.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Flush is a no-op: XADD is acknowledged by the server before returning.
func (p *redisProducer) Flush(ctx context.Context) error { return nil }

func (p *redisProducer) Close() error { return nil }

type redisConsumer struct {
	log      *RedisLog
	topic    string
	group    string
	consumer string
}

// Poll reads the next new message, blocking up to timeout. When nothing new
// arrives it tries to claim messages stranded in dead consumers' pending
// lists, so restarts do not lose in-flight work.
func (c *redisConsumer) Poll(ctx context.Context, timeout time.Duration) (*Message, error) {
	streams, err := c.log.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.topic, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()

	if err == redis.Nil {
		return c.claimStale(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", c.topic, err)
	}

	for _, stream := range streams {
		for _, entry := range stream.Messages {
			return decodeEntry(c.topic, entry), nil
		}
	}
	return nil, nil
}

// claimStale transfers one message that has been pending longer than
// claimIdle from any consumer in the group.
func (c *redisConsumer) claimStale(ctx context.Context) (*Message, error) {
	entries, _, err := c.log.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.topic,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("claim on %s: %w", c.topic, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	c.log.logger.Warn("Claimed stale pending message", "topic", c.topic, "id", entries[0].ID)
	return decodeEntry(c.topic, entries[0]), nil
}

func (c *redisConsumer) Ack(ctx context.Context, msg *Message) error {
	if msg == nil || msg.id == "" {
		return nil
	}
	if err := c.log.client.XAck(ctx, c.topic, c.group, msg.id).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", msg.id, c.topic, err)
	}
	return nil
}

func (c *redisConsumer) Close() error { return nil }

func decodeEntry(topic string, entry redis.XMessage) *Message {
	msg := &Message{Topic: topic, id: entry.ID}
	if k, ok := entry.Values["key"].(string); ok {
		msg.Key = k
	}
	switch v := entry.Values["value"].(type) {
	case string:
		msg.Value = []byte(v)
	case []byte:
		msg.Value = v
	}
	return msg
}
