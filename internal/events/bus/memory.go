package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hiveboard/hiveboard/internal/common/logger"
)

// MemoryEventBus implements EventBus in-process. Handlers run on their own
// goroutines so a slow subscriber cannot stall ingestion.
type MemoryEventBus struct {
	subscriptions map[string][]*memorySubscription
	mu            sync.RWMutex
	logger        *logger.Logger
	closed        bool
}

// memorySubscription represents an in-memory subscription.
type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	pattern *regexp.Regexp // For wildcard matching
	handler Handler
	active  bool
	mu      sync.Mutex
}

// Unsubscribe removes the subscription.
func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if subs, ok := s.bus.subscriptions[s.subject]; ok {
		for i, sub := range subs {
			if sub == s {
				s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return nil
}

// IsValid returns whether the subscription is still active.
func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// NewMemoryEventBus creates a new in-memory event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		subscriptions: make(map[string][]*memorySubscription),
		logger:        log,
	}
}

// Publish sends a message to all matching subscribers.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, msg *Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	msg.Subject = subject

	for pattern, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			active := sub.active
			sub.mu.Unlock()

			if !active || !b.matches(subject, pattern, sub.pattern) {
				continue
			}

			go func(s *memorySubscription, m *Message) {
				if err := s.handler(ctx, m); err != nil {
					b.logger.Error("Bus handler error",
						zap.String("subject", subject),
						zap.Error(err))
				}
			}(sub, msg)
		}
	}

	b.logger.Debug("Published bus message",
		zap.String("subject", subject),
		zap.String("message_id", msg.ID))
	return nil
}

// Subscribe creates a subscription to a subject pattern.
func (b *MemoryEventBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		pattern: compilePattern(subject),
		handler: handler,
		active:  true,
	}
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)

	b.logger.Debug("Subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// Close shuts down the bus; further publishes fail.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscriptions = make(map[string][]*memorySubscription)
}

// IsConnected returns whether the bus accepts messages.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// matches checks whether a concrete subject matches a subscription pattern.
func (b *MemoryEventBus) matches(subject, pattern string, compiled *regexp.Regexp) bool {
	if subject == pattern {
		return true
	}
	if compiled != nil {
		return compiled.MatchString(subject)
	}
	return false
}

// compilePattern translates NATS wildcard syntax ("*" one token, ">" tail)
// into a regexp. Returns nil for literal subjects.
func compilePattern(subject string) *regexp.Regexp {
	if !strings.ContainsAny(subject, "*>") {
		return nil
	}
	parts := strings.Split(subject, ".")
	escaped := make([]string, len(parts))
	for i, part := range parts {
		switch part {
		case "*":
			escaped[i] = `[^.]+`
		case ">":
			escaped[i] = `.+`
		default:
			escaped[i] = regexp.QuoteMeta(part)
		}
	}
	re, err := regexp.Compile("^" + strings.Join(escaped, `\.`) + "$")
	if err != nil {
		return nil
	}
	return re
}
