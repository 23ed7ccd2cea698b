package registry

import (
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/kbukum/plugkit/capability"
	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/logger"
)

// Registry is a concurrent store of provider registrations keyed by
// contract type. It is safe for unsynchronized multi-caller use; mutations
// are serialized so change events fire in occurrence order.
type Registry struct {
	// pubMu serializes mutations end to end: map edit, then event
	// delivery. A successful mutation has always published (and therefore
	// cleared subscribed caches) before its call returns.
	pubMu sync.Mutex

	mu     sync.RWMutex
	byType map[reflect.Type][]*Registration
	byID   map[string]*Registration

	subMu  sync.RWMutex
	subs   []subscriber
	subSeq uint64

	log *logger.Logger
}

// New creates an empty registry. A nil logger defaults to the no-op logger.
func New(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		byType: make(map[reflect.Type][]*Registration),
		byID:   make(map[string]*Registration),
		log:    log.WithComponent("registry"),
	}
}

// Register validates and stores a provider for a contract type and returns
// the owned registration. The contract must be a non-nil interface type and
// the provider's concrete type must implement it; violations fail fast with
// argument errors and nothing is stored.
func (r *Registry) Register(contractType reflect.Type, provider any, caps capability.Capabilities) (*Registration, error) {
	if contractType == nil {
		return nil, errors.MissingArgument("contractType")
	}
	if contractType.Kind() != reflect.Interface {
		return nil, errors.InvalidArgument("contractType", "must be an interface type")
	}
	if provider == nil {
		return nil, errors.MissingArgument("provider")
	}
	if caps.ProviderID() == "" {
		return nil, errors.MissingArgument("capabilities.providerID")
	}
	if !reflect.TypeOf(provider).Implements(contractType) {
		return nil, errors.InvalidArgument("provider",
			"type "+reflect.TypeOf(provider).String()+" does not implement "+contractType.String())
	}

	reg := &Registration{
		id:       uuid.NewString(),
		contract: contractType,
		provider: provider,
		caps:     caps,
		active:   true,
	}

	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	r.byType[contractType] = append(r.byType[contractType], reg)
	r.byID[reg.id] = reg
	r.mu.Unlock()

	r.log.Debug("provider registered", logger.Fields(
		logger.FieldContract, contractType.String(),
		logger.FieldProvider, caps.ProviderID(),
	))
	r.publish(Event{Type: EventAdded, Contract: contractType, Registration: reg})
	return reg, nil
}

// Unregister destroys a registration. It returns false when the
// registration is nil or no longer present.
func (r *Registry) Unregister(reg *Registration) bool {
	if reg == nil {
		return false
	}
	return r.removeByID(reg.id)
}

// UnregisterID destroys a registration by its id.
func (r *Registry) UnregisterID(id string) bool {
	return r.removeByID(id)
}

func (r *Registry) removeByID(id string) bool {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	current, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, id)
	r.detachLocked(current)
	r.mu.Unlock()

	r.log.Debug("provider unregistered", logger.Fields(
		logger.FieldContract, current.contract.String(),
		logger.FieldProvider, current.ProviderID(),
	))
	r.publish(Event{Type: EventRemoved, Contract: current.contract, Registration: current})
	return true
}

// detachLocked removes reg from its per-type slot and deletes the slot when
// it empties. Caller holds mu.
func (r *Registry) detachLocked(reg *Registration) {
	slot := r.byType[reg.contract]
	for i, candidate := range slot {
		if candidate.id == reg.id {
			slot = append(slot[:i], slot[i+1:]...)
			break
		}
	}
	if len(slot) == 0 {
		delete(r.byType, reg.contract)
		return
	}
	r.byType[reg.contract] = slot
}

// SetActive replaces the registration snapshot with one whose active flag
// is set as given and emits an Updated event. Inactive registrations are
// retained but excluded from selection. Returns false for unknown ids.
func (r *Registry) SetActive(id string, active bool) bool {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	current, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if current.active == active {
		r.mu.Unlock()
		return true
	}
	next := current.withActive(active)
	r.byID[id] = next
	slot := r.byType[current.contract]
	for i, candidate := range slot {
		if candidate.id == id {
			slot[i] = next
			break
		}
	}
	r.mu.Unlock()

	r.publish(Event{Type: EventUpdated, Contract: next.contract, Registration: next})
	return true
}

// GetRegistrations returns the active registrations for a contract type in
// registration order. The returned slice is a copy.
func (r *Registry) GetRegistrations(contractType reflect.Type) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot := r.byType[contractType]
	out := make([]*Registration, 0, len(slot))
	for _, reg := range slot {
		if reg.active {
			out = append(out, reg)
		}
	}
	return out
}

// HasRegistrations reports whether any active registration exists for the
// contract type.
func (r *Registry) HasRegistrations(contractType reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.byType[contractType] {
		if reg.active {
			return true
		}
	}
	return false
}

// ClearRegistrations destroys every registration for a contract type and
// returns how many were removed. One Removed event fires per registration,
// in registration order.
func (r *Registry) ClearRegistrations(contractType reflect.Type) int {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	slot := r.byType[contractType]
	removed := make([]*Registration, len(slot))
	copy(removed, slot)
	for _, reg := range removed {
		delete(r.byID, reg.id)
	}
	delete(r.byType, contractType)
	r.mu.Unlock()

	for _, reg := range removed {
		r.publish(Event{Type: EventRemoved, Contract: contractType, Registration: reg})
	}
	return len(removed)
}

// Contracts returns the contract types that currently hold registrations.
func (r *Registry) Contracts() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]reflect.Type, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}

// Register stores a provider under the interface type parameter.
func Register[T any](r *Registry, provider T, caps capability.Capabilities) (*Registration, error) {
	return r.Register(contract.TypeOf[T](), provider, caps)
}

// Registrations returns the active registrations for the interface type
// parameter.
func Registrations[T any](r *Registry) []*Registration {
	return r.GetRegistrations(contract.TypeOf[T]())
}
