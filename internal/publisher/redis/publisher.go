// Package redis appends catalog events to a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config selects the Redis server and stream.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen approximately caps the stream length when positive.
	MaxLen int64
}

// Publisher writes one stream entry per event with topic and payload fields.
type Publisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
	closer func() error
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	p := NewWithClient(client, cfg.Stream, cfg.MaxLen)
	p.closer = client.Close
	return p, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.Cmdable, stream string, maxLen int64) *Publisher {
	if stream == "" {
		stream = "catalog:events"
	}
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends the JSON payload and returns the stream entry ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"topic": topic, "payload": string(data)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}

// Close releases the client when the publisher created it.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
