package voice

import "sync"

// EventKind enumerates everything a session can notify about. The set is
// fixed; consumers subscribe per kind.
type EventKind string

const (
	EventConversationStart EventKind = "conversation-start"
	EventConversationEnd   EventKind = "conversation-end"
	EventListeningStart    EventKind = "listening-start"
	EventListeningEnd      EventKind = "listening-end"
	EventSpeechStart       EventKind = "speech-start"
	EventSpeechEnd         EventKind = "speech-end"
	EventMessage           EventKind = "message"
	EventProcessingStart   EventKind = "processing-start"
	EventProcessingEnd     EventKind = "processing-end"
	EventError             EventKind = "error"
)

// AllEventKinds lists every kind, for consumers that mirror the whole
// stream somewhere else.
var AllEventKinds = []EventKind{
	EventConversationStart,
	EventConversationEnd,
	EventListeningStart,
	EventListeningEnd,
	EventSpeechStart,
	EventSpeechEnd,
	EventMessage,
	EventProcessingStart,
	EventProcessingEnd,
	EventError,
}

// Event carries one notification. Payload is the message for EventMessage
// and the error for EventError; nil otherwise.
type Event struct {
	Kind    EventKind
	Payload any
}

// Listener receives events. Listeners are invoked synchronously relative to
// the emitting call, in subscription order, so event ordering within a
// session is strict.
type Listener func(Event)

// Subscription identifies a registered listener for removal.
type Subscription int

// Emitter is a minimal subscribe/emit hub over the fixed event kinds.
type Emitter struct {
	mu        sync.Mutex
	nextID    Subscription
	listeners map[EventKind]map[Subscription]Listener
}

func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[EventKind]map[Subscription]Listener),
	}
}

// On registers a listener for one event kind.
func (e *Emitter) On(kind EventKind, fn Listener) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	if e.listeners[kind] == nil {
		e.listeners[kind] = make(map[Subscription]Listener)
	}
	e.listeners[kind][id] = fn
	return id
}

// Off removes a previously registered listener.
func (e *Emitter) Off(kind EventKind, id Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners[kind], id)
}

// Emit delivers an event to every listener of its kind, synchronously.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	fns := make([]Listener, 0, len(e.listeners[ev.Kind]))
	// Stable order keeps delivery deterministic for a fixed subscription set.
	ids := make([]Subscription, 0, len(e.listeners[ev.Kind]))
	for id := range e.listeners[ev.Kind] {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	for _, id := range ids {
		fns = append(fns, e.listeners[ev.Kind][id])
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
