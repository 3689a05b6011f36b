package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventLicenseIssued   EventType = "LICENSE_ISSUED"
	EventLicenseDecoded  EventType = "LICENSE_DECODED"
	EventLicenseRejected EventType = "LICENSE_REJECTED"
	EventError           EventType = "ERROR"
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
	wg          sync.WaitGroup
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

// Publish sends an event to all subscribers. Each subscriber runs in its own goroutine.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers[event.Type] {
		eb.dispatch(sub, event)
	}
	for _, sub := range eb.allSubs {
		eb.dispatch(sub, event)
	}
}

func (eb *EventBus) dispatch(sub Subscriber, event Event) {
	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		sub(event)
	}()
}

// Wait blocks until every subscriber started so far has returned
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

// PublishLicenseIssued publishes a license issued event
func (eb *EventBus) PublishLicenseIssued(id, systemSerial, contractType, issuedBy string) {
	eb.Publish(Event{
		Type: EventLicenseIssued,
		Data: map[string]interface{}{
			"id":            id,
			"system_serial": systemSerial,
			"contract_type": contractType,
			"issued_by":     issuedBy,
		},
	})
}

// PublishLicenseDecoded publishes a successful decode
func (eb *EventBus) PublishLicenseDecoded(systemSerial, contractType string, expired bool) {
	eb.Publish(Event{
		Type: EventLicenseDecoded,
		Data: map[string]interface{}{
			"system_serial": systemSerial,
			"contract_type": contractType,
			"expired":       expired,
		},
	})
}

// PublishLicenseRejected publishes a failed decode or encode
func (eb *EventBus) PublishLicenseRejected(operation, code string, err error) {
	data := map[string]interface{}{
		"operation": operation,
		"code":      code,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventLicenseRejected,
		Data: data,
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
