package registry

import (
	"reflect"

	"github.com/kbukum/plugkit/capability"
)

// Registration is an immutable snapshot of one provider registered for one
// contract. The registry is its sole owner: registrations are created by
// Register, replaced (never edited) by SetActive, and destroyed by
// Unregister. A registration holds no reference back to the registry.
type Registration struct {
	id       string
	contract reflect.Type
	provider any
	caps     capability.Capabilities
	active   bool
}

// ID returns the registration-unique id.
func (r *Registration) ID() string { return r.id }

// Contract returns the contract interface type this provider serves.
func (r *Registration) Contract() reflect.Type { return r.contract }

// Provider returns the registered provider instance.
func (r *Registration) Provider() any { return r.provider }

// Capabilities returns the provider's capability metadata.
func (r *Registration) Capabilities() capability.Capabilities { return r.caps }

// Active reports whether the registration participates in selection.
func (r *Registration) Active() bool { return r.active }

// ProviderID is shorthand for Capabilities().ProviderID().
func (r *Registration) ProviderID() string { return r.caps.ProviderID() }

func (r *Registration) withActive(active bool) *Registration {
	clone := *r
	clone.active = active
	return &clone
}
