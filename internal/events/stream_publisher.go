package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// EventDataField holds the JSON-encoded event in each stream entry.
	EventDataField = "event"
	// PublishedAtField holds the RFC3339 publish time.
	PublishedAtField = "published_at"
)

// StreamName returns the stream key events are appended to.
func StreamName(prefix string) string {
	if prefix == "" {
		prefix = "triage"
	}
	return prefix + ":events"
}

// StreamPublisher appends events to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a publisher writing to StreamName(prefix).
func NewStreamPublisher(client *redis.Client, prefix string) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: StreamName(prefix),
		maxLen: 100000,
	}
}

// Publish appends the event. Delivery happens asynchronously via a Consumer.
func (p *StreamPublisher) Publish(ctx context.Context, event Event) error {
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			EventDataField:   string(data),
			PublishedAtField: time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append to stream %s: %w", p.stream, err)
	}
	return nil
}
