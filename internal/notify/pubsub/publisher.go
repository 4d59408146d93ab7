// Package pubsub publishes price alerts to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

const eventPriceAlert = "price_alert"

// Config names the destination topic.
type Config struct {
	ProjectID string
	TopicID   string
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New creates a client for cfg.ProjectID and binds it to cfg.TopicID.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("notify.pubsub.project_id and notify.pubsub.topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: client.Topic(cfg.TopicID)}, nil
}

// NewFromTopic wraps an existing topic. The caller keeps ownership of its client.
func NewFromTopic(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Notify marshals the alert to JSON and waits for the server to acknowledge it.
func (p *Publisher) Notify(ctx context.Context, alert tracker.Alert) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":   eventPriceAlert,
			"item_id": alert.ItemID,
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client if it was created by New.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
