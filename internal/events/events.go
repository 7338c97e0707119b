package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/models"
)

// Hook actions as they appear in WooCommerce webhook topics.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionDeleted  = "deleted"
	ActionRestored = "restored"
)

var hookActions = []string{ActionCreated, ActionUpdated, ActionDeleted, ActionRestored}

// HookPayload is the platform event that something happened to a local entity.
type HookPayload struct {
	ObjectType string    `json:"object_type"`
	ObjectID   int64     `json:"object_id"`
	Action     string    `json:"action"`
	Source     string    `json:"source,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Topic builds an event type such as "order.created".
func Topic(objectType, action string) string {
	return objectType + "." + action
}

// ParseTopic splits a topic into object type and action. Unknown object types and
// actions are rejected.
func ParseTopic(topic string) (objectType, action string, ok bool) {
	objectType, action, found := strings.Cut(strings.ToLower(strings.TrimSpace(topic)), ".")
	if !found || !models.IsValidObjectType(objectType) {
		return "", "", false
	}
	for _, a := range hookActions {
		if a == action {
			return objectType, action, true
		}
	}
	return "", "", false
}

// HookTopics lists every topic a platform hook can produce.
func HookTopics() []string {
	topics := make([]string, 0, len(models.ObjectTypes)*len(hookActions))
	for _, objectType := range models.ObjectTypes {
		for _, action := range hookActions {
			topics = append(topics, Topic(objectType, action))
		}
	}
	return topics
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(ctx context.Context, event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for each of the given event types.
func (b *EventBus) Subscribe(handler EventHandler, eventTypes ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range eventTypes {
		b.subscribers[t] = append(b.subscribers[t], handler)
	}
}

// HasSubscribers reports whether anything listens to the event type.
func (b *EventBus) HasSubscribers(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType]) > 0
}

// Publish runs the subscribers of the event type in registration order and returns
// their errors joined. Every handler runs even when an earlier one fails.
func (b *EventBus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(ctx context.Context, eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, &event)
}

func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
