package forgeframe

import "sync"

// Listener is the uniform callback shape for both lifecycle-event
// subscribers (event.on/once/off) and lifecycle callback props
// (onRendered, onClose, ...). A single `any` argument keeps dispatch
// simple rather than reflecting over arbitrary closures.
type Listener func(data any)

type listenerEntry struct {
	id   uint64
	fn   Listener
	once bool
}

// Emitter is the small typed pub-sub backing the event.{on,once,off,emit,
// removeAllListeners} API. It is not a generic package because each
// Emitter only ever serves one Consumer or Host instance.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]listenerEntry
}

// NewEmitter returns an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]listenerEntry)}
}

// subscribe is shared by On/Once.
func (e *Emitter) subscribe(event string, fn Listener, once bool) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], listenerEntry{id: id, fn: fn, once: once})
	e.mu.Unlock()

	return func() { e.removeByID(event, id) }
}

// On registers fn for every future emission of event.
func (e *Emitter) On(event string, fn Listener) (unsubscribe func()) {
	return e.subscribe(event, fn, false)
}

// Once registers fn to run at most once.
func (e *Emitter) Once(event string, fn Listener) (unsubscribe func()) {
	return e.subscribe(event, fn, true)
}

func (e *Emitter) removeByID(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[event]
	for i, entry := range entries {
		if entry.id == id {
			e.listeners[event] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Off removes every listener registered for event; fn's identity is not
// tracked (Go func values aren't comparable), so callers that need to
// remove a single listener should retain and invoke the unsubscribe
// function On/Once returns instead.
func (e *Emitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, event)
}

// Emit invokes every listener registered for event with data, removing
// any that were registered via Once. A panicking listener is recovered so
// it never prevents sibling listeners from running.
func (e *Emitter) Emit(event string, data any) {
	e.mu.Lock()
	entries := append([]listenerEntry(nil), e.listeners[event]...)
	var remaining []listenerEntry
	for _, entry := range e.listeners[event] {
		if !entry.once {
			remaining = append(remaining, entry)
		}
	}
	e.listeners[event] = remaining
	e.mu.Unlock()

	for _, entry := range entries {
		invokeListener(entry.fn, data)
	}
}

func invokeListener(fn Listener, data any) {
	defer func() { recover() }()
	fn(data)
}

// RemoveAllListeners clears every event's listeners.
func (e *Emitter) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]listenerEntry)
}
