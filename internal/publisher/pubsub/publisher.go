// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Publisher publishes JSON payloads, keeping one batching topic handle per
// topic ID.
type Publisher struct {
	client     *pubsub.Client
	attributes map[string]string

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher on client. Attributes are attached to every
// message.
func New(client *pubsub.Client, attributes map[string]string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{
		client:     client,
		attributes: attributes,
		topics:     make(map[string]*pubsub.Topic),
	}, nil
}

// Publish marshals the payload to JSON and publishes it to topic, waiting
// for the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data}
	if len(p.attributes) > 0 {
		msg.Attributes = make(map[string]string, len(p.attributes))
		for k, v := range p.attributes {
			msg.Attributes[k] = v
		}
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[id]; ok {
		return t
	}
	t := p.client.Topic(id)
	p.topics[id] = t
	return t
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
