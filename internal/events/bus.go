// Package events provides the in-process domain event bus. Stores publish
// change notifications through it and front-ends subscribe to refresh their
// views; delivery is synchronous and best-effort.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Topic names a domain event stream.
type Topic string

const (
	TopicProvidersChanged  Topic = "providers-changed"
	TopicToolsChanged      Topic = "tools-changed"
	TopicRulesChanged      Topic = "rules-changed"
	TopicReferencesChanged Topic = "references-changed"
	TopicSettingsChanged   Topic = "settings-changed"
	TopicWorkspaceSwitched Topic = "workspace:switched"
)

// Event is one published notification.
type Event struct {
	Topic   Topic
	Payload any
	Time    time.Time
}

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribers. The zero value is not usable; call
// NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[Topic]map[int64]Handler
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[Topic]map[int64]Handler),
		logger: slog.Default().With("component", "events"),
	}
}

// Subscribe registers fn for a topic and returns the unsubscribe handle.
// Unsubscribing twice is harmless.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int64]Handler)
	}
	b.subs[topic][id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers an event to every current subscriber of the topic.
// Handlers registered during delivery see only later events.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	evt := Event{Topic: topic, Payload: payload, Time: time.Now()}
	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "topic", string(topic), "panic", r)
				}
			}()
			fn(evt)
		}()
	}
}

// SubscriberCount returns the number of active subscribers for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
