// ABOUTME: Synchronous typed event emitter with per-listener panic isolation
// ABOUTME: Listener lists are mutex-protected so timers and transports can emit concurrently

package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Listener receives events of the kind it was registered for.
type Listener func(Event)

// ListenerID identifies a registration for Off.
type ListenerID string

type registration struct {
	id ListenerID
	fn Listener
}

// Emitter fans events out to registered listeners.
type Emitter struct {
	mu        sync.Mutex
	listeners map[Kind][]registration
	logger    *slog.Logger
}

// NewEmitter creates an emitter. Pass nil logger for default.
func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		listeners: make(map[Kind][]registration),
		logger:    logger.With("component", "emitter"),
	}
}

// On registers fn for kind and returns an id for Off.
func (e *Emitter) On(kind Kind, fn Listener) ListenerID {
	id := ListenerID(uuid.New().String())

	e.mu.Lock()
	e.listeners[kind] = append(e.listeners[kind], registration{id: id, fn: fn})
	e.mu.Unlock()

	return id
}

// Off removes a registration. Unknown ids are ignored.
func (e *Emitter) Off(kind Kind, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.listeners[kind]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		// Copy so an Emit already iterating the old slice is unaffected
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, kind)
		} else {
			e.listeners[kind] = next
		}
		return
	}
}

// Emit delivers ev to every listener of ev.Kind in registration order.
// Listeners are called without the lock held.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	regs := e.listeners[ev.Kind]
	e.mu.Unlock()

	for _, r := range regs {
		e.call(r, ev)
	}
}

func (e *Emitter) call(r registration, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("listener panicked",
				"event", ev.Kind.String(),
				"listener_id", r.id,
				"panic", fmt.Sprint(rec))
		}
	}()
	r.fn(ev)
}

// Clear drops every registration of every kind.
func (e *Emitter) Clear() {
	e.mu.Lock()
	e.listeners = make(map[Kind][]registration)
	e.mu.Unlock()
}

// Count returns the number of listeners registered for kind.
func (e *Emitter) Count(kind Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[kind])
}
