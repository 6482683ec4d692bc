package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// Publisher delivers serialized messages to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, msg Message) error
	Close() error
}

// Message is the envelope every relayed domain event travels in.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}
