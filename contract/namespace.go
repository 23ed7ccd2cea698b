package contract

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/kbukum/plugkit/errors"
)

// sharedMarkers are the import-path segments that mark a package as part of
// the shared namespace.
var sharedMarkers = map[string]bool{
	"contracts":    true,
	"models":       true,
	"abstractions": true,
}

// selfPkgPath is the import path of this package, which is always shared.
const selfPkgPath = "github.com/kbukum/plugkit/contract"

// Shared reports whether a type belongs to the shared namespace: it is
// declared in this package, or in a package whose import path carries a
// shared-namespace marker segment.
func Shared(t reflect.Type) bool {
	if t == nil {
		return false
	}
	pkg := t.PkgPath()
	if pkg == "" {
		return false
	}
	if pkg == selfPkgPath {
		return true
	}
	for _, segment := range strings.Split(pkg, "/") {
		if sharedMarkers[strings.ToLower(segment)] {
			return true
		}
	}
	return false
}

// Namespace maps contract type names to the host's own type identities.
// Loaders resolve contract names received from modules through a namespace
// so every participant sees one identity per shared type, regardless of how
// the module was loaded.
//
// Names are resolved in two forms: the short form reflect produces
// ("cache.Store") and the fully qualified "<import path>.<name>" form. The
// short form is what crosses a process boundary.
type Namespace struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewNamespace creates a namespace pre-seeded with the Service contract.
func NewNamespace() *Namespace {
	n := &Namespace{types: make(map[string]reflect.Type)}
	_ = n.Register(TypeOf[Service]())
	return n
}

// Register adds an interface type to the namespace under both its short and
// qualified names. Registering the same type again is a no-op; a different
// type under an already-taken name is a duplicate error, since two
// identities for one name is exactly what the namespace exists to prevent.
//
// Types from marker packages are the convention, but the convention is not
// enforced here: embedded hosts and tests register contracts from ordinary
// packages too.
func (n *Namespace) Register(t reflect.Type) error {
	if t == nil {
		return errors.MissingArgument("type")
	}
	if t.Kind() != reflect.Interface {
		return errors.InvalidArgument("type", t.String()+" is not an interface type")
	}
	if t.Name() == "" {
		return errors.InvalidArgument("type", "anonymous interface types cannot be shared")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, name := range []string{t.String(), t.PkgPath() + "." + t.Name()} {
		if existing, ok := n.types[name]; ok && existing != t {
			return errors.Duplicate("contract name", name)
		}
	}
	n.types[t.String()] = t
	n.types[t.PkgPath()+"."+t.Name()] = t
	return nil
}

// Resolve returns the host identity registered under a contract name.
func (n *Namespace) Resolve(name string) (reflect.Type, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.types[name]
	return t, ok
}

// Types returns the distinct registered types sorted by name.
func (n *Namespace) Types() []reflect.Type {
	n.mu.RLock()
	defer n.mu.RUnlock()
	seen := make(map[reflect.Type]bool, len(n.types))
	out := make([]reflect.Type, 0, len(n.types))
	for _, t := range n.types {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// RegisterShared registers the interface type parameter in the namespace.
//
//	contract.RegisterShared[cache.Store](ns)
func RegisterShared[T any](n *Namespace) error {
	return n.Register(TypeOf[T]())
}
