package registry

import "reflect"

// EventType classifies a registry mutation.
type EventType int

const (
	// EventAdded fires when a registration is created.
	EventAdded EventType = iota
	// EventRemoved fires when a registration is destroyed.
	EventRemoved
	// EventUpdated fires when a registration snapshot is replaced.
	EventUpdated
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// Event describes one registry mutation. Events are delivered synchronously
// and in mutation order, before the mutating call returns.
type Event struct {
	Type         EventType
	Contract     reflect.Type
	Registration *Registration
}

// Handler receives registry change events. Handlers run on the mutating
// goroutine and must not call mutating registry operations; panics are
// recovered and dropped so a misbehaving subscriber cannot corrupt
// registry state.
type Handler func(Event)

type subscriber struct {
	id      uint64
	handler Handler
}

func (r *Registry) publish(ev Event) {
	r.subMu.RLock()
	subs := make([]subscriber, len(r.subs))
	copy(subs, r.subs)
	r.subMu.RUnlock()

	for _, s := range subs {
		deliver(s.handler, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		_ = recover()
	}()
	h(ev)
}

// Subscribe registers a change handler and returns a function that removes
// it. Handlers added during delivery see only subsequent events.
func (r *Registry) Subscribe(h Handler) func() {
	if h == nil {
		return func() {}
	}
	r.subMu.Lock()
	r.subSeq++
	id := r.subSeq
	r.subs = append(r.subs, subscriber{id: id, handler: h})
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}
