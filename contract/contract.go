package contract

import (
	"context"
	"reflect"

	"github.com/kbukum/plugkit/capability"
)

// Service is the canonical invokable contract. It is the one interface
// guaranteed to cross a process boundary: subprocess plugins expose their
// providers as Service proxies, so only marshalable calls travel over the
// wire. In-process plugins are free to expose richer Go interfaces.
type Service interface {
	// Invoke dispatches a named method with an opaque payload.
	Invoke(ctx context.Context, method string, payload []byte) ([]byte, error)
}

// ProviderSpec is the triple a plugin exposes for each of its providers:
// the contract interface type, the implementing instance, and the
// capability metadata it should be registered under.
type ProviderSpec struct {
	Contract     reflect.Type
	Provider     any
	Capabilities capability.Capabilities
}

// EntryPoint is the declared entry object of a plugin. On activation the
// host asks it for the providers to register.
type EntryPoint interface {
	Providers() []ProviderSpec
}

// EntryFactory constructs an entry point from instantiation arguments.
// Plugins register one factory per declared entry type; the host resolves
// the factory by the manifest's entryType name instead of scanning loaded
// types.
type EntryFactory func(args map[string]any) (EntryPoint, error)

// TypeOf returns the reflect.Type of the interface type parameter. It is
// the canonical way to name a contract:
//
//	registry.Register(contract.TypeOf[cache.Store](), impl, caps)
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
