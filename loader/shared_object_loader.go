package loader

import (
	"context"
	"fmt"
	"plugin"
	"strings"
	"sync"

	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/logger"
)

// Symbols is the symbol table of an opened shared object.
type Symbols interface {
	Lookup(name string) (any, error)
}

// OpenFunc opens a shared object and exposes its symbols. The default
// wraps the runtime plugin package; tests inject fakes.
type OpenFunc func(path string) (Symbols, error)

func defaultOpen(path string) (Symbols, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginSymbols{p: p}, nil
}

type pluginSymbols struct{ p *plugin.Plugin }

func (s pluginSymbols) Lookup(name string) (any, error) { return s.p.Lookup(name) }

// SharedObjectConfig configures a SharedObjectLoader.
type SharedObjectConfig struct {
	// ContractVersion, when set, must match a non-empty version declared
	// in a module's exports. Mismatches fail at load, before any entry is
	// constructed.
	ContractVersion string
	// Open replaces the runtime shared-object opener.
	Open OpenFunc
}

// SharedObjectLoader loads Go shared objects in-process via the runtime
// plugin mechanism. Modules export an Exports symbol naming their entry
// factories; instances are direct in-process values, no proxying.
// Shared contracts must carry the namespace's type identity: a module
// compiled against its own copy of a contract package announces the same
// name with a different reflect.Type, and such providers are rejected at
// construction. Interfaces from ordinary packages are the module's own
// business and pass unchecked.
//
// The Go runtime never unloads a shared object. Release is bookkeeping:
// the loader stops serving, but the mapped code stays resident, and
// loading the same logical plugin repeatedly accumulates memory for the
// life of the host.
type SharedObjectLoader struct {
	ns     *contract.Namespace
	config SharedObjectConfig
	log    *logger.Logger

	mu       sync.RWMutex
	modules  map[string]*Module
	entries  map[string]entryBinding
	released bool
}

type entryBinding struct {
	t       Type
	factory contract.EntryFactory
}

// NewSharedObjectLoader creates a loader for Go shared objects. A nil
// namespace gets a fresh one; a nil logger defaults to the no-op logger.
func NewSharedObjectLoader(ns *contract.Namespace, config SharedObjectConfig, log *logger.Logger) *SharedObjectLoader {
	if ns == nil {
		ns = contract.NewNamespace()
	}
	if log == nil {
		log = logger.Nop()
	}
	if config.Open == nil {
		config.Open = defaultOpen
	}
	return &SharedObjectLoader{
		ns:      ns,
		config:  config,
		log:     log.WithComponent("loader.sharedobject"),
		modules: make(map[string]*Module),
		entries: make(map[string]entryBinding),
	}
}

// Load opens the shared object at path and indexes its exported entry
// factories.
func (l *SharedObjectLoader) Load(ctx context.Context, path string) (*Module, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.MissingArgument("path")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled("module load")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil, errors.InvalidState("loader", "released", "load")
	}
	if m, ok := l.modules[path]; ok {
		return m, nil
	}

	syms, err := l.config.Open(path)
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("opening %s: %w", path, err))
	}
	sym, err := syms.Lookup(contract.ExportsSymbol)
	if err != nil {
		return nil, errors.New(errors.ErrCodeCompatibility,
			"module "+path+" does not export "+contract.ExportsSymbol)
	}

	var exports contract.Exports
	switch v := sym.(type) {
	case *contract.Exports:
		exports = *v
	case contract.Exports:
		exports = v
	default:
		return nil, errors.New(errors.ErrCodeCompatibility,
			fmt.Sprintf("module %s exports %T, want contract.Exports", path, sym))
	}

	if l.config.ContractVersion != "" && exports.ContractVersion != "" &&
		exports.ContractVersion != l.config.ContractVersion {
		return nil, errors.Incompatible(exports.ContractVersion, l.config.ContractVersion)
	}

	// Stage the entry index so a duplicate leaves nothing half-registered.
	m := &Module{Name: moduleName(path), Path: path}
	staged := make(map[string]entryBinding, len(exports.Entries))
	for name, factory := range exports.Entries {
		if factory == nil {
			continue
		}
		if _, ok := l.entries[name]; ok {
			return nil, errors.Duplicate("entry type", name)
		}
		staged[name] = entryBinding{
			t:       Type{Name: name, Module: m},
			factory: factory,
		}
	}
	for name, binding := range staged {
		l.entries[name] = binding
	}
	l.modules[path] = m
	l.log.Info("shared object loaded", logger.Fields(
		logger.FieldModule, m.Name,
		"entries", len(exports.Entries),
	))
	return m, nil
}

// ModuleFor returns the module that exported a type.
func (l *SharedObjectLoader) ModuleFor(typeName string) (*Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.entries[typeName]
	if !ok {
		return nil, false
	}
	return b.t.Module, true
}

// ResolveType resolves an exported entry type.
func (l *SharedObjectLoader) ResolveType(name string) (Type, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.entries[name]
	return b.t, ok
}

// NewInstance runs the exported entry factory in-process.
func (l *SharedObjectLoader) NewInstance(ctx context.Context, t Type, args map[string]any) (any, error) {
	if t.Name == "" {
		return nil, errors.MissingArgument("type")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled("new instance")
	}

	l.mu.RLock()
	released := l.released
	b, ok := l.entries[t.Name]
	l.mu.RUnlock()
	if released {
		return nil, errors.InvalidState("loader", "released", "new instance")
	}
	if !ok {
		return nil, errors.NotFound("entry type", t.Name)
	}

	inst, err := b.factory(args)
	if err != nil {
		return nil, err
	}
	if entry, ok := inst.(contract.EntryPoint); ok {
		if err := l.checkShared(entry); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// checkShared rejects provider contracts that break namespace identity.
// A name the namespace knows must carry the host's reflect.Type: anything
// else is a module compiled against its own copy of the contract package.
// Shared-package types the namespace has never seen are rejected too, since
// registrations under a foreign identity are unreachable from host code.
// Interfaces from ordinary packages pass through; in-process plugins may
// expose contracts of their own.
func (l *SharedObjectLoader) checkShared(entry contract.EntryPoint) error {
	for _, spec := range entry.Providers() {
		if spec.Contract == nil {
			continue
		}
		name := spec.Contract.String()
		if host, ok := l.ns.Resolve(name); ok {
			if host != spec.Contract {
				return errors.TypeIdentity(name)
			}
			continue
		}
		if contract.Shared(spec.Contract) {
			return errors.TypeIdentity(name)
		}
	}
	return nil
}

// Release stops serving. The shared objects stay resident; only the
// loader's bookkeeping is dropped. Idempotent.
func (l *SharedObjectLoader) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	if len(l.modules) > 0 {
		l.log.Debug("released, shared objects remain resident", logger.Fields(
			"modules", len(l.modules),
		))
	}
	return nil
}

// Alive reports whether the loader holds loaded modules and has not been
// released.
func (l *SharedObjectLoader) Alive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.released && len(l.modules) > 0
}
