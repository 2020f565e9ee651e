// Package pubsub publishes report notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Attributer lets payloads contribute message attributes for subscription filters.
type Attributer interface {
	Attributes() map[string]string
}

// Publisher publishes JSON payloads, keeping one topic publisher per topic.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// New creates a Publisher. defaultTopic is used when Publish gets an empty topic.
func New(client *pubsub.Client, defaultTopic string) *Publisher {
	return &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		publishers:   make(map[string]*pubsub.Publisher),
	}
}

// Open dials Pub/Sub for projectID.
func Open(ctx context.Context, projectID, defaultTopic string) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client, defaultTopic), nil
}

// Publish marshals the payload to JSON and waits for the server message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	if a, ok := payload.(Attributer); ok {
		msg.Attributes = a.Attributes()
	}
	result := p.publisherFor(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) publisherFor(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.publishers[topic] = pub
	}
	return pub
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.mu.Lock()
	for topic, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, topic)
	}
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
