// Package events defines the fire-and-forget domain-event boundary. The
// engine publishes JSON payloads to topics like "auth.login.succeeded";
// delivery is best-effort and a publish failure never affects the use case
// that emitted it.
package events

import "context"

// Publisher is the outbound message-bus boundary.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// NoOpPublisher discards every event.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(context.Context, string, []byte) error { return nil }

// Message is one captured event, used by ChannelPublisher.
type Message struct {
	Topic   string
	Payload []byte
}

// ChannelPublisher buffers events on a channel for tests and in-process
// pipelines.
type ChannelPublisher struct {
	messages chan Message
}

func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelPublisher{messages: make(chan Message, buffer)}
}

func (p *ChannelPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := Message{Topic: topic, Payload: payload}
	select {
	case p.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ChannelPublisher) Messages() <-chan Message {
	return p.messages
}
