package host

import "github.com/google/uuid"

// EventType classifies a lifecycle transition.
type EventType int

const (
	// EventLoaded fires when a plugin's modules are loaded.
	EventLoaded EventType = iota
	// EventActivated fires when a plugin's providers are registered.
	EventActivated
	// EventDeactivated fires when a plugin's providers are unregistered.
	EventDeactivated
	// EventQuiescing fires when a swap supersedes a handle.
	EventQuiescing
	// EventSwapped fires when a swap's replacement handle takes over.
	EventSwapped
	// EventUnloaded fires when a handle's loader is released.
	EventUnloaded
	// EventFailed fires when a lifecycle step fails.
	EventFailed
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventLoaded:
		return "loaded"
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	case EventQuiescing:
		return "quiescing"
	case EventSwapped:
		return "swapped"
	case EventUnloaded:
		return "unloaded"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event describes one lifecycle transition. Events are delivered
// synchronously and in occurrence order, before the transitioning call
// returns.
type Event struct {
	ID     string
	Type   EventType
	Plugin string
	State  State
	// Err is set on EventFailed.
	Err error
}

// Handler receives lifecycle events. Handlers run on the transitioning
// goroutine and must not call mutating host operations; panics are
// recovered and dropped so a misbehaving subscriber cannot corrupt host
// state.
type Handler func(Event)

type subscriber struct {
	id      uint64
	handler Handler
}

func (h *Host) publish(ev Event) {
	ev.ID = uuid.NewString()

	h.subMu.RLock()
	subs := make([]subscriber, len(h.subs))
	copy(subs, h.subs)
	h.subMu.RUnlock()

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

// Subscribe registers a lifecycle handler and returns a function that
// removes it. Handlers added during delivery see only subsequent events.
func (h *Host) Subscribe(fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	h.subMu.Lock()
	h.subSeq++
	id := h.subSeq
	h.subs = append(h.subs, subscriber{id: id, handler: fn})
	h.subMu.Unlock()

	return func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		for i, s := range h.subs {
			if s.id == id {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				return
			}
		}
	}
}
