// Package bus provides the internal pub/sub channel between the ingestion
// pipeline and the active broadcast back-end.
//
// Two implementations share the EventBus surface: an in-memory bus for
// single-process deployments and a NATS bus so multiple processes can share
// one live stream.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the ingestion pipeline.
const (
	SubjectEventNew           = "hiveboard.event.new"
	SubjectAgentStatusChanged = "hiveboard.agent.status_changed"
	SubjectAgentStuck         = "hiveboard.agent.stuck"
	SubjectAgentStuckCleared  = "hiveboard.agent.stuck_cleared"

	// SubjectAll matches every HiveBoard subject.
	SubjectAll = "hiveboard.>"
)

// Message is an envelope on the event bus.
type Message struct {
	ID        string          `json:"id"`
	Subject   string          `json:"subject"`
	TenantID  string          `json:"tenant_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewMessage creates a bus message with a fresh ID, marshaling data to JSON.
func NewMessage(subject, tenantID string, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        uuid.New().String(),
		Subject:   subject,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Handler is a function that handles a bus message.
type Handler func(ctx context.Context, msg *Message) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the pub/sub surface shared by the memory and NATS back-ends.
type EventBus interface {
	// Publish sends a message to a subject.
	Publish(ctx context.Context, subject string, msg *Message) error

	// Subscribe creates a subscription to a subject pattern. NATS wildcard
	// syntax applies: "*" matches one token, ">" matches the rest.
	Subscribe(subject string, handler Handler) (Subscription, error)

	// Close closes the connection.
	Close()

	// IsConnected returns connection status.
	IsConnected() bool
}
