// Package events provides the internal lifecycle event bus. Dispatch is
// synchronous and in subscription order: emitters call Emit after mutating
// state and before returning, so consumers (and tests) observe a
// deterministic event sequence.
package events

import (
	"sync"
	"time"
)

// Lifecycle event types emitted by the orchestration engine.
const (
	ChannelsInitialized      = "channels_initialized"
	JourneyCreated           = "journey_created"
	JourneyExecutionStarted  = "journey_execution_started"
	JourneyCompleted         = "journey_completed"
	MessageSent              = "message_sent"
	StepSkipped              = "step_skipped"
	StepDeferred             = "step_deferred"
	StepExecutionError       = "step_execution_error"
	AttributionRecorded      = "attribution_recorded"
	AttributionCalculated    = "attribution_calculated"
	RealTimePersonalization  = "real_time_personalization_generated"
)

// Event is a single lifecycle event with a free-form payload.
type Event struct {
	Type    string         `json:"type"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Handler receives events. Handlers run on the emitting goroutine and must
// not block.
type Handler func(Event)

// Bus is a typed observer registry. The zero value is not usable; call NewBus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler
	now      func() time.Time
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		now:      time.Now,
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers a handler for every event type. Used by logging and
// monitoring collaborators.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Emit dispatches an event synchronously to type-specific handlers first,
// then to subscribe-all handlers, each in registration order.
func (b *Bus) Emit(eventType string, payload map[string]any) {
	b.mu.RLock()
	typed := b.handlers[eventType]
	all := b.all
	b.mu.RUnlock()

	ev := Event{Type: eventType, At: b.now(), Payload: payload}
	for _, h := range typed {
		h(ev)
	}
	for _, h := range all {
		h(ev)
	}
}
