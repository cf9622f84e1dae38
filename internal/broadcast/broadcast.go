// Package broadcast fans accepted events and agent transitions out to live
// dashboard subscribers. Messages travel over the event bus so the native
// WebSocket hub and the HTTP bridge consume one stream, and a NATS-backed bus
// lets another process serve the connections.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
	"github.com/hiveboard/hiveboard/internal/events"
	"github.com/hiveboard/hiveboard/internal/events/bus"
	apiv1 "github.com/hiveboard/hiveboard/pkg/api/v1"
)

// Subscription is one dashboard's interest set on a streaming connection.
type Subscription struct {
	Channels map[string]bool
	Filters  apiv1.SubscriptionFilters
}

// NewSubscription builds a subscription from a client subscribe message.
func NewSubscription(channels []string, filters apiv1.SubscriptionFilters) *Subscription {
	m := make(map[string]bool, len(channels))
	for _, c := range channels {
		m[c] = true
	}
	return &Subscription{Channels: m, Filters: filters}
}

// WantsEvents reports whether the events channel is on.
func (s *Subscription) WantsEvents() bool { return s != nil && s.Channels[apiv1.ChannelEvents] }

// WantsAgents reports whether the agents channel is on.
func (s *Subscription) WantsAgents() bool { return s != nil && s.Channels[apiv1.ChannelAgents] }

// MatchesEvent reports whether an event passes every filter of the
// subscription. Unset filters match everything.
func (s *Subscription) MatchesEvent(e *events.Event) bool {
	if !s.WantsEvents() {
		return false
	}
	f := s.Filters
	if f.AgentID != "" && f.AgentID != e.AgentID {
		return false
	}
	if f.Environment != "" {
		if e.Environment == nil || *e.Environment != f.Environment {
			return false
		}
	}
	if f.PayloadKind != "" && f.PayloadKind != e.PayloadKind() {
		return false
	}
	if f.MinSeverity != "" {
		min, ok := events.SeverityRank(events.Severity(f.MinSeverity))
		if ok {
			rank, known := events.SeverityRank(e.Severity)
			if !known || rank < min {
				return false
			}
		}
	}
	return true
}

// Broadcaster is the publisher side of the bus. Ingestion and the derivation
// engine call it; failures are logged and never propagate, broadcast must not
// fail ingestion.
type Broadcaster struct {
	bus bus.EventBus
	log *logger.Logger
}

// NewBroadcaster creates the publisher side of the broadcast bus.
func NewBroadcaster(b bus.EventBus, log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		bus: b,
		log: log.WithFields(zap.String("component", "broadcast")),
	}
}

// BroadcastEvents publishes each accepted event in batch order.
func (b *Broadcaster) BroadcastEvents(ctx context.Context, tenantID string, evs []*events.Event) {
	for _, e := range evs {
		b.publish(ctx, bus.SubjectEventNew, tenantID, e)
	}
}

// BroadcastAgentStatusChange publishes an agent.status_changed transition.
func (b *Broadcaster) BroadcastAgentStatusChange(ctx context.Context, tenantID string, change apiv1.AgentStatusChange) {
	b.publish(ctx, bus.SubjectAgentStatusChanged, tenantID, change)
}

// AgentStuck implements the derivation engine's stuck notifier.
func (b *Broadcaster) AgentStuck(tenantID, agentID string, lastHeartbeat time.Time, threshold time.Duration) {
	b.publish(context.Background(), bus.SubjectAgentStuck, tenantID, apiv1.AgentStuck{
		AgentID:               agentID,
		LastHeartbeat:         lastHeartbeat.UTC().Format(time.RFC3339),
		StuckThresholdSeconds: int(threshold.Seconds()),
	})
}

// AgentStuckCleared implements the derivation engine's stuck notifier.
func (b *Broadcaster) AgentStuckCleared(tenantID, agentID string) {
	b.publish(context.Background(), bus.SubjectAgentStuckCleared, tenantID, apiv1.AgentStuckCleared{AgentID: agentID})
}

func (b *Broadcaster) publish(ctx context.Context, subject, tenantID string, payload any) {
	msg, err := bus.NewMessage(subject, tenantID, payload)
	if err != nil {
		b.log.Error("Failed to marshal broadcast payload", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := b.bus.Publish(ctx, subject, msg); err != nil {
		b.log.Error("Failed to publish broadcast message", zap.String("subject", subject), zap.Error(err))
	}
}

// Backend delivers decoded stream messages to live subscribers. The native
// hub and the HTTP bridge are contract-identical implementations.
type Backend interface {
	DeliverEvent(tenantID string, e *events.Event)
	DeliverAgentMessage(tenantID string, msg apiv1.StreamMessage)
}

// Dispatcher consumes the bus and routes messages to a backend.
type Dispatcher struct {
	bus     bus.EventBus
	backend Backend
	log     *logger.Logger
	sub     bus.Subscription
}

// NewDispatcher wires a backend to the broadcast stream.
func NewDispatcher(b bus.EventBus, backend Backend, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		bus:     b,
		backend: backend,
		log:     log.WithFields(zap.String("component", "broadcast_dispatcher")),
	}
}

// Start subscribes to all broadcast subjects.
func (d *Dispatcher) Start() error {
	sub, err := d.bus.Subscribe(bus.SubjectAll, d.handle)
	if err != nil {
		return err
	}
	d.sub = sub
	return nil
}

// Stop drops the bus subscription.
func (d *Dispatcher) Stop() {
	if d.sub != nil {
		if err := d.sub.Unsubscribe(); err != nil {
			d.log.Warn("Failed to unsubscribe", zap.Error(err))
		}
		d.sub = nil
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *bus.Message) error {
	switch msg.Subject {
	case bus.SubjectEventNew:
		var e events.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			d.log.Error("Failed to decode event message", zap.Error(err))
			return nil
		}
		d.backend.DeliverEvent(msg.TenantID, &e)
	case bus.SubjectAgentStatusChanged:
		d.deliverAgent(msg, apiv1.StreamTypeAgentStatusChanged)
	case bus.SubjectAgentStuck:
		d.deliverAgent(msg, apiv1.StreamTypeAgentStuck)
	case bus.SubjectAgentStuckCleared:
		d.deliverAgent(msg, apiv1.StreamTypeAgentStuckCleared)
	}
	return nil
}

func (d *Dispatcher) deliverAgent(msg *bus.Message, streamType string) {
	var data any
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		d.log.Error("Failed to decode agent message", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	d.backend.DeliverAgentMessage(msg.TenantID, apiv1.StreamMessage{Type: streamType, Data: data})
}
