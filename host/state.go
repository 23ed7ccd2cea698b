package host

// State is a plugin handle's lifecycle state.
type State int

const (
	// StateLoaded means the plugin's modules are loaded but nothing is
	// registered yet.
	StateLoaded State = iota
	// StateActive means the entry point is built and its providers are
	// registered.
	StateActive
	// StateQuiescing means the handle was superseded by a swap and is
	// draining until its grace period elapses.
	StateQuiescing
	// StateDeactivated means the providers were unregistered but the
	// modules remain loaded.
	StateDeactivated
	// StateUnloaded means the loader was released. Terminal.
	StateUnloaded
	// StateFailed means a lifecycle step failed; the error is recorded on
	// the handle.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateActive:
		return "active"
	case StateQuiescing:
		return "quiescing"
	case StateDeactivated:
		return "deactivated"
	case StateUnloaded:
		return "unloaded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
