package loader

import (
	"context"

	"github.com/kbukum/plugkit/manifest"
)

// Module identifies one loaded code unit.
type Module struct {
	// Name is the module's self-reported or file-derived name.
	Name string
	// Path is the file the module was loaded from.
	Path string
}

// Type is a named instantiable type inside a loaded module.
type Type struct {
	Name   string
	Module *Module
}

// Loader loads a plugin's modules and instantiates its entry types. One
// loader serves one plugin; hosts obtain them from a Factory and call
// Release when the plugin is unloaded.
//
// Whether Release actually frees the loaded code depends on the
// implementation: process-backed modules are reclaimed by the operating
// system, shared objects stay resident for the life of the host.
type Loader interface {
	// Load makes the module at path available. Loading an already-loaded
	// path returns the existing module.
	Load(ctx context.Context, path string) (*Module, error)

	// ModuleFor returns the module that owns a loadable type.
	ModuleFor(typeName string) (*Module, bool)

	// ResolveType resolves a type name declared by a loaded module.
	ResolveType(name string) (Type, bool)

	// NewInstance constructs an instance of a loaded type. Entry types
	// yield values implementing contract.EntryPoint.
	NewInstance(ctx context.Context, t Type, args map[string]any) (any, error)

	// Release ends the loader's lifetime. Idempotent.
	Release(ctx context.Context) error

	// Alive reports whether the loaded code is still serviceable.
	Alive() bool
}

// Factory builds a loader for a plugin described by its manifest.
type Factory func(d *manifest.Descriptor) (Loader, error)
