// Package events carries the queue's domain events. Count deltas
// detected by the poller become typed events on an in-process bus; any
// subscriber (sound alert, toast, log, webhook fan-out) can consume
// them without coupling to the queue internals.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the polling controller.
const (
	TypeConsultationStarted = "queue.consultation.started"
	TypeTreatmentCompleted  = "queue.treatment.completed"
)

// Event is one domain occurrence. Payload is free-form JSON so
// subscribers stay decoupled from queue types.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// New builds an event with a fresh ID and timestamp.
func New(eventType string, payload interface{}) Event {
	evt := Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			evt.Payload = raw
		}
	}
	return evt
}

// Subscriber consumes events. Handlers must not block; slow consumers
// should hand off to their own goroutine.
type Subscriber func(Event)

// Bus is a minimal synchronous fan-out of events to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a consumer for all subsequent events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish delivers the event to every subscriber in registration order.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s(evt)
	}
}
