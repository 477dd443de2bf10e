// Package events implements the engine's observer channel. Emitters never
// block on consumers: every handler invocation runs on its own goroutine and
// handler panics are contained.
package events

import (
	"log"
	"sync"
)

// Event names emitted by the engine.
const (
	BehaviorApplied     = "behavior-applied"
	DependencyMissing   = "dependency-missing"
	DependenciesChecked = "dependencies-checked"
	SchedulerStarted    = "scheduler-started"
	SchedulerStopped    = "scheduler-stopped"
	SchedulerWarning    = "scheduler-warning"
	NoActiveTargets     = "no-active-targets"
	SweepStarted        = "sweep-started"
	SweepCompleted      = "sweep-completed"
	Completed           = "completed"
	TargetAdded         = "target-added"
	TargetRemoved       = "target-removed"
	TargetUpdated       = "target-updated"
	TargetError         = "target-error"
	Alert               = "alert"
	RateLimitDelay      = "rate-limit-delay"
)

// Handler receives an event name and its structured payload.
type Handler func(name string, payload map[string]interface{})

// Bus is a minimal fan-out event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Emit delivers an event to all handlers without blocking the caller.
func (b *Bus) Emit(name string, payload map[string]interface{}) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] Handler panic on %s: %v", name, r)
				}
			}()
			h(name, payload)
		}()
	}
}
