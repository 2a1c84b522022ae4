package controller

import (
	"sync"
	"sync/atomic"
)

// Events emitted by the default CRUD handlers.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Listener receives an event payload.
type Listener func(payload interface{})

// ListenerID identifies a registration for RemoveListener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// Emitter is a synchronous event emitter safe for concurrent use.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	seq       atomic.Uint64
}

// On registers fn for event.
func (e *Emitter) On(event string, fn Listener) ListenerID {
	id := ListenerID(e.seq.Add(1))
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[string][]listenerEntry)
	}
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: id, fn: fn})
	return id
}

// RemoveListener unregisters id. It reports whether a listener was removed.
func (e *Emitter) RemoveListener(event string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[event]
	for i, l := range entries {
		if l.id == id {
			e.listeners[event] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every listener of event in registration order and returns how many ran.
func (e *Emitter) Emit(event string, payload interface{}) int {
	e.mu.RLock()
	entries := append([]listenerEntry(nil), e.listeners[event]...)
	e.mu.RUnlock()
	for _, l := range entries {
		l.fn(payload)
	}
	return len(entries)
}

// ListenerCount returns the number of listeners for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}
