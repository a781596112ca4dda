// Package memory contains an in-memory publisher for tests and for running
// without Pub/Sub configured.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call for later inspection.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher records job completion events instead of sending them anywhere.
type Publisher struct {
	mu        sync.RWMutex
	published []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequence-numbered pseudo id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.published)), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.published))
	copy(out, p.published)
	return out
}
