package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
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
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
	NATSQueue         string
}

// Topics of the detection pipeline.
const (
	TopicBatchSubmitted     = "billguard.batch.submitted"
	TopicDetectionCompleted = "billguard.detection.completed"
	TopicHighRiskAlert      = "billguard.alert.high_risk"
)

// BatchRequest is a batch submitted for asynchronous detection.
// Without Historical the detector's current baselines are used.
type BatchRequest struct {
	BatchID    string          `json:"batchId"`
	Records    []BillingRecord `json:"records"`
	Historical []BillingRecord `json:"historical,omitempty"`
	Threshold  *float64        `json:"threshold,omitempty"`
}

// HighRiskAlert is published once per high-risk record of a finished run.
type HighRiskAlert struct {
	RunID        string       `json:"runId"`
	BatchID      string       `json:"batchId,omitempty"`
	BillID       string       `json:"billId"`
	OperatorID   string       `json:"operatorId"`
	BusinessType BusinessType `json:"businessType"`
	Score        float64      `json:"score"`
}
