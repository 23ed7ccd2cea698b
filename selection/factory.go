package selection

import (
	"reflect"
	"sync"
)

// Factory resolves the strategy for a contract. Resolution order: a binding
// for the contract itself, then the binding for the contract's category,
// then the default strategy.
type Factory struct {
	mu         sync.RWMutex
	byContract map[reflect.Type]Strategy
	byCategory map[string]Strategy
	categories map[reflect.Type]string
	fallback   Strategy
}

// NewFactory creates a factory defaulting to pick-one selection.
func NewFactory() *Factory {
	return &Factory{
		byContract: make(map[reflect.Type]Strategy),
		byCategory: make(map[string]Strategy),
		categories: make(map[reflect.Type]string),
		fallback:   NewPickOne(),
	}
}

// Build constructs a strategy of the given kind. shardMap is only used for
// sharded strategies.
func (f *Factory) Build(kind Kind, shardMap map[string]string) Strategy {
	switch kind {
	case KindFanOut:
		return NewFanOut()
	case KindSharded:
		return NewSharded(shardMap, nil)
	default:
		return NewPickOne()
	}
}

// BindContract binds a strategy to a contract type. A nil strategy removes
// the binding.
func (f *Factory) BindContract(contract reflect.Type, s Strategy) {
	if contract == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s == nil {
		delete(f.byContract, contract)
		return
	}
	f.byContract[contract] = s
}

// BindCategory binds a strategy to a category name. A nil strategy removes
// the binding.
func (f *Factory) BindCategory(category string, s Strategy) {
	if category == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s == nil {
		delete(f.byCategory, category)
		return
	}
	f.byCategory[category] = s
}

// AssignCategory places a contract in a category. An empty category removes
// the assignment.
func (f *Factory) AssignCategory(contract reflect.Type, category string) {
	if contract == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if category == "" {
		delete(f.categories, contract)
		return
	}
	f.categories[contract] = category
}

// SetDefault replaces the fallback strategy. Nil is ignored.
func (f *Factory) SetDefault(s Strategy) {
	if s == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = s
}

// StrategyFor returns the strategy governing a contract.
func (f *Factory) StrategyFor(contract reflect.Type) Strategy {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.byContract[contract]; ok {
		return s
	}
	if cat, ok := f.categories[contract]; ok {
		if s, bound := f.byCategory[cat]; bound {
			return s
		}
	}
	return f.fallback
}
