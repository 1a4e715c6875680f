package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultBlockTimeout = 5 * time.Second
	defaultBatchSize    = 10
	defaultClaimMinIdle = 5 * time.Minute
	maxPendingCheck     = 100
)

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Prefix        string        // Stream key prefix
	ConsumerGroup string        // Consumer group name
	ConsumerID    string        // Unique consumer identifier
	BlockTimeout  time.Duration // Block timeout for reads (0 = default)
	BatchSize     int64         // Number of messages per read (0 = default)
	ClaimMinIdle  time.Duration // Min idle time before claiming (0 = default)
}

// Delivery is one stream entry handed to a consumer. Err is set when the entry
// could not be decoded; such deliveries should be acknowledged and dropped.
type Delivery struct {
	MessageID string
	Event     Event
	// Attempt counts deliveries of this entry, starting at 1.
	Attempt int64
	Err     error
}

// Consumer reads events from a Redis stream through a consumer group. Entries
// stay pending until acknowledged and are reclaimed by any consumer once idle
// for ClaimMinIdle, so delivery is at-least-once.
type Consumer struct {
	client       *redis.Client
	stream       string
	group        string
	consumerID   string
	blockTimeout time.Duration
	batchSize    int64
	claimMinIdle time.Duration
	logger       *zap.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(client *redis.Client, cfg ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, errors.New("consumer group is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	claimMinIdle := cfg.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = defaultClaimMinIdle
	}

	return &Consumer{
		client:       client,
		stream:       StreamName(cfg.Prefix),
		group:        cfg.ConsumerGroup,
		consumerID:   cfg.ConsumerID,
		blockTimeout: blockTimeout,
		batchSize:    batchSize,
		claimMinIdle: claimMinIdle,
		logger:       logger,
	}, nil
}

// Initialize creates the stream and consumer group if they do not exist.
func (c *Consumer) Initialize(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Read returns idle pending entries first and otherwise blocks for new ones.
// An empty result with a nil error means nothing arrived within the block
// timeout.
func (c *Consumer) Read(ctx context.Context) ([]Delivery, error) {
	if reclaimed := c.reclaimPending(ctx); len(reclaimed) > 0 {
		return reclaimed, nil
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read from stream %s: %w", c.stream, err)
	}

	var deliveries []Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			deliveries = append(deliveries, parseMessage(msg, 1))
		}
	}
	return deliveries, nil
}

// Ack acknowledges processed entries.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.client.XAck(ctx, c.stream, c.group, ids...).Err()
}

// reclaimPending claims entries other consumers left idle past the threshold.
func (c *Consumer) reclaimPending(ctx context.Context) []Delivery {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  maxPendingCheck,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("failed to list pending events", zap.String("stream", c.stream), zap.Error(err))
		}
		return nil
	}

	attempts := make(map[string]int64)
	var ids []string
	for _, entry := range pending {
		if entry.Idle >= c.claimMinIdle {
			ids = append(ids, entry.ID)
			attempts[entry.ID] = entry.RetryCount + 1
		}
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.claimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		c.logger.Warn("failed to claim pending events", zap.String("stream", c.stream), zap.Error(err))
		return nil
	}

	deliveries := make([]Delivery, 0, len(claimed))
	for _, msg := range claimed {
		deliveries = append(deliveries, parseMessage(msg, attempts[msg.ID]))
	}
	return deliveries
}

func parseMessage(msg redis.XMessage, attempt int64) Delivery {
	d := Delivery{MessageID: msg.ID, Attempt: attempt}
	data, ok := msg.Values[EventDataField].(string)
	if !ok {
		d.Err = errors.New("missing or invalid event data")
		return d
	}
	event, err := UnmarshalEvent([]byte(data))
	if err != nil {
		d.Err = err
		return d
	}
	d.Event = event
	return d
}
