// Package memory keeps published notifications in memory for tests and
// single-process runs without Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher records every publish in order.
type Publisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	failNext error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailNext makes the next Publish return err without recording anything.
func (p *Publisher) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// Publish records payload under topic and returns a sequential message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failNext; err != nil {
		p.failNext = nil
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	id := fmt.Sprintf("%s-%d", topic, len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// Notifications returns the report notifications published to topic.
func (p *Publisher) Notifications(topic string) []crawler.ReportNotification {
	var out []crawler.ReportNotification
	for _, msg := range p.Messages() {
		if n, ok := msg.Payload.(crawler.ReportNotification); ok && msg.Topic == topic {
			out = append(out, n)
		}
	}
	return out
}
