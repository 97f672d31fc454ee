// Package pubsub publishes catalog events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Config selects the project and topic.
type Config struct {
	ProjectID string
	TopicID   string
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  topic
}

// New connects to Pub/Sub and binds the configured topic.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: topicAdapter{client.Topic(cfg.TopicID)}}, nil
}

// Publish marshals the payload to JSON and waits for the server-assigned ID.
// The logical topic travels as the "topic" attribute.
func (p *Publisher) Publish(ctx context.Context, topicName string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"topic": topicName},
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes outstanding messages and closes the client.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

type topicAdapter struct {
	t *pubsub.Topic
}

func (a topicAdapter) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return a.t.Publish(ctx, msg)
}

func (a topicAdapter) Stop() {
	a.t.Stop()
}
