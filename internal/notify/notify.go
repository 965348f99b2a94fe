package notify

import (
	"context"
	"sync"

	"github.com/oshokin/alarm-central/internal/domain/alarm"
	"github.com/oshokin/alarm-central/internal/logger"
)

// Hook is invoked when an event occurs. Hooks run synchronously on the
// dispatching goroutine; a host integration that needs asynchrony wraps
// the hook in its own task.
type Hook func(ctx context.Context, clientID string, event alarm.Event)

// Registry holds hooks keyed by event type plus catch-all hooks.
type Registry struct {
	// mu guards the hook maps; registration is rare, dispatch is hot.
	mu sync.RWMutex
	// byType holds hooks fired only for one event type.
	byType map[alarm.EventType][]Hook
	// all holds hooks fired for every event.
	all []Hook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[alarm.EventType][]Hook),
	}
}

// On registers a hook for one event type.
func (r *Registry) On(eventType alarm.EventType, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byType[eventType] = append(r.byType[eventType], hook)
}

// OnAll registers a hook fired for every event.
func (r *Registry) OnAll(hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.all = append(r.all, hook)
}

// Dispatch invokes the catch-all hooks and then the type-specific ones.
func (r *Registry) Dispatch(ctx context.Context, clientID string, event alarm.Event) {
	r.mu.RLock()
	hooks := make([]Hook, 0, len(r.all)+len(r.byType[event.Type]))
	hooks = append(hooks, r.all...)
	hooks = append(hooks, r.byType[event.Type]...)
	r.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, clientID, event)
	}
}

// LogHook returns a hook that records every event in the structured log.
func LogHook() Hook {
	return func(ctx context.Context, clientID string, event alarm.Event) {
		logger.InfoKV(ctx, "Alarm event",
			"client_id", clientID,
			"type", event.Type.String(),
			"sequence", event.Sequence,
			"sensor_id", event.SensorID,
			"payload", event.Payload,
			"inferred", event.Type.Inferred(),
		)
	}
}
