package domain

import (
	"context"
)

// EventBus carries the engine's domain events to alerting and paging
// collaborators. Publishing is fire-and-forget from the engine's point
// of view: a bus failure never fails an evaluation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topics published and consumed by the engine.
const (
	// TopicTransactionIngested feeds the async evaluation worker.
	TopicTransactionIngested = "kestrel.transaction.ingested"

	// TopicTransactionAnalyzed fires after every completed evaluation.
	TopicTransactionAnalyzed = "kestrel.transaction.analyzed"

	// TopicFraudDetected fires only for blocked transactions.
	TopicFraudDetected = "kestrel.fraud.detected"
)
