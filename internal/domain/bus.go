package domain

import "context"

// Topics published on the event bus.
const (
	// TopicCacheInvalidated fires after a namespace eviction so the
	// refresher can rebuild sweep snapshots.
	TopicCacheInvalidated = "cache.invalidated"

	// TopicReportDegraded fires whenever a tiered report was served
	// from a non-primary tier.
	TopicReportDegraded = "report.degraded"
)

// Message is an event bus message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// MessageHandler processes a message from a subscription.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription is a handle to an active topic subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBus decouples the API layer from the background refresher.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel bus settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}
