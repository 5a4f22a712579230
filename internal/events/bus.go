package events

import (
	"sync"
	"time"
)

// EventType identifies the kinds of events flowing through the bus.
type EventType string

const (
	EventEntry            EventType = "ENTRY"
	EventDCA              EventType = "DCA"
	EventExit             EventType = "EXIT"
	EventSignalUpdate     EventType = "SIGNAL_UPDATE"
	EventPredictionUpdate EventType = "PREDICTION_UPDATE"
	EventEngineReady      EventType = "ENGINE_READY"
	EventError            EventType = "ERROR"
)

// Event is a system event. Trade events (ENTRY/DCA/EXIT) carry coin,
// price, qty and ts in Data for the audit stream.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber handles events. Invoked on its own goroutine per event so a
// slow subscriber cannot stall the trading loop.
type Subscriber func(Event)

// Bus is a minimal publish/subscribe hub.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(t EventType, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[t] = append(b.subscribers[t], s)
}

// SubscribeAll registers a subscriber for every event.
func (b *Bus) SubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, s)
}

// Publish fans the event out to subscribers.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subscribers[event.Type] {
		go s(event)
	}
	for _, s := range b.allSubs {
		go s(event)
	}
}

// PublishTrade publishes an ENTRY, DCA or EXIT audit event.
func (b *Bus) PublishTrade(t EventType, coin string, price, qty float64) {
	b.Publish(Event{
		Type: t,
		Data: map[string]interface{}{
			"coin":  coin,
			"price": price,
			"qty":   qty,
			"ts":    time.Now().UTC(),
		},
	})
}

// PublishError publishes a non-fatal error event.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
