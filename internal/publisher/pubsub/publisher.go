// Package pubsub publishes JSON payloads to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Config names the project and topic.
type Config struct {
	ProjectID string
	Topic     string
}

// Publisher wraps a Pub/Sub topic and the client that owns it.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects with application default credentials.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: client.Topic(cfg.Topic)}, nil
}

// Publish marshals the payload to JSON and publishes it with attrs. It blocks
// until the server acknowledges the message.
func (p *Publisher) Publish(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
