package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lemline/lemline/common/config"
	"github.com/lemline/lemline/common/logger"
	"github.com/redis/go-redis/v9"
)

// messageField is the stream entry field carrying the message body
const messageField = "body"

// RedisBroker is a Redis Streams broker driver. Inbound consumption uses a
// consumer group so multiple runners share one logical channel; entries are
// acknowledged after the handler returns, failed ones after DLQ routing.
type RedisBroker struct {
	redis    *redis.Client
	stream   string
	dlq      string
	group    string
	consumer string
	log      *logger.Logger
}

// NewRedisBroker creates a broker over the configured Redis streams
func NewRedisBroker(cfg *config.Config, log *logger.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Broker.Addr,
		Password: cfg.Broker.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisBroker{
		redis:    client,
		stream:   cfg.Broker.Stream,
		dlq:      cfg.Broker.DLQ,
		group:    cfg.Broker.Group,
		consumer: fmt.Sprintf("runner-%s", uuid.NewString()[:8]),
		log:      log,
	}, nil
}

// Publish appends the message to the outbound stream
func (b *RedisBroker) Publish(ctx context.Context, body string) error {
	err := b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{messageField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("XADD to %s: %w", b.stream, err)
	}
	return nil
}

// PublishDLQ appends the message to the dead-letter stream
func (b *RedisBroker) PublishDLQ(ctx context.Context, body string) error {
	err := b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: b.dlq,
		Values: map[string]interface{}{messageField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("XADD to %s: %w", b.dlq, err)
	}
	return nil
}

// Subscribe starts the consumer-group read loop
func (b *RedisBroker) Subscribe(ctx context.Context, handler Handler) error {
	// Create consumer group if it doesn't exist
	err := b.redis.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}

	b.log.Info("redis broker subscribed",
		"stream", b.stream,
		"group", b.group,
		"consumer", b.consumer)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.log.Info("redis broker subscription cancelled")
				return
			default:
				if err := b.readBatch(ctx, handler); err != nil && ctx.Err() == nil {
					b.log.Error("stream read failed", "error", err)
					time.Sleep(1 * time.Second) // Back off on error
				}
			}
		}
	}()

	return nil
}

// readBatch reads and processes one batch of stream entries
func (b *RedisBroker) readBatch(ctx context.Context, handler Handler) error {
	streams, err := b.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{b.stream, ">"},
		Count:    16,
		Block:    5 * time.Second,
	}).Result()

	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("XREADGROUP: %w", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			body, ok := message.Values[messageField].(string)
			if !ok {
				b.log.Warn("stream entry missing body field", "message_id", message.ID)
			} else if err := handler(ctx, body); err != nil {
				b.log.Error("message handler failed, routing to DLQ",
					"message_id", message.ID, "error", err)
				if dlqErr := b.PublishDLQ(ctx, body); dlqErr != nil {
					b.log.Error("DLQ publish failed", "message_id", message.ID, "error", dlqErr)
					continue // keep the entry pending for redelivery
				}
			}

			if err := b.redis.XAck(ctx, b.stream, b.group, message.ID).Err(); err != nil {
				b.log.Error("failed to ACK message", "message_id", message.ID, "error", err)
			}
		}
	}

	return nil
}

// Health pings the underlying Redis connection
func (b *RedisBroker) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return b.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (b *RedisBroker) Close() error {
	return b.redis.Close()
}
