package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventReconcileStarted  EventType = "RECONCILE_STARTED"
	EventReconcileFinished EventType = "RECONCILE_FINISHED"
	EventLadderReplaced    EventType = "LADDER_REPLACED"
	EventProtectionCleared EventType = "PROTECTION_CLEARED"
	EventPositionUpdate    EventType = "POSITION_UPDATE"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Delivery is asynchronous so a
// slow subscriber never blocks the reconciliation path.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishReconcileFinished publishes the outcome of one reconciliation pass.
func (eb *EventBus) PublishReconcileFinished(symbol, side, outcome string, errorCount int) {
	eb.Publish(Event{
		Type: EventReconcileFinished,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"side":        side,
			"outcome":     outcome,
			"error_count": errorCount,
		},
	})
}

// PublishLadderReplaced publishes a ladder order supersession.
func (eb *EventBus) PublishLadderReplaced(symbol, side, level, clientOrderID string) {
	eb.Publish(Event{
		Type: EventLadderReplaced,
		Data: map[string]interface{}{
			"symbol":          symbol,
			"side":            side,
			"level":           level,
			"client_order_id": clientOrderID,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"source":  source,
			"message": message,
		},
	})
}
