// Package policy is the external selection configuration surface: which
// strategy kind serves which contract or category, explicit shard routes,
// selection cache lifetimes, and the default drain grace for plugins that
// do not declare one.
//
// A policy binds onto a selection.Factory, which then answers StrategyFor
// during invocation. Contracts are named the way the shared namespace names
// them ("cache.Store", or the fully qualified import-path form).
package policy

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/selection"
	"github.com/kbukum/plugkit/validation"
)

// Policy configures provider selection. The zero value is valid and keeps
// every built-in default.
type Policy struct {
	// Default names the strategy kind used when neither a contract nor a
	// category binding applies. Empty keeps pick_one.
	Default string `yaml:"default" mapstructure:"default" validate:"omitempty,oneof=pick_one fan_out sharded"`

	// Categories maps a category name to the strategy kind its assigned
	// contracts share. Names are lowercased when the policy is applied.
	Categories map[string]string `yaml:"categories" mapstructure:"categories" validate:"omitempty,dive,oneof=pick_one fan_out sharded"`

	// Contracts carries per-contract overrides keyed by shared contract
	// name, matched case-insensitively.
	Contracts map[string]ContractPolicy `yaml:"contracts" mapstructure:"contracts" validate:"omitempty,dive"`

	// Cache bounds how long selection results are served before being
	// re-resolved.
	Cache CachePolicy `yaml:"cache" mapstructure:"cache"`

	// QuiesceSeconds is the drain grace granted to plugins that do not
	// declare their own. Zero keeps the built-in default.
	QuiesceSeconds int `yaml:"quiesce_seconds" mapstructure:"quiesce_seconds" validate:"gte=0"`
}

// ContractPolicy overrides selection for a single contract.
type ContractPolicy struct {
	// Strategy names the strategy kind bound directly to the contract. It
	// wins over the category binding when both are set.
	Strategy string `yaml:"strategy" mapstructure:"strategy" validate:"omitempty,oneof=pick_one fan_out sharded"`

	// Category assigns the contract to a category binding.
	Category string `yaml:"category" mapstructure:"category"`

	// ShardMap pins shard keys to provider ids. A non-empty shard map
	// implies the sharded strategy when Strategy is empty. Keys read from
	// a config file arrive lowercased.
	ShardMap map[string]string `yaml:"shard_map" mapstructure:"shard_map"`
}

// CachePolicy configures the selection result cache.
type CachePolicy struct {
	// TTLSeconds is how long a cached selection stays valid. Zero keeps
	// the cache default.
	TTLSeconds int `yaml:"ttl_seconds" mapstructure:"ttl_seconds" validate:"gte=0"`

	// SweepSeconds is how often expired entries are evicted. Zero keeps
	// the cache default.
	SweepSeconds int `yaml:"sweep_seconds" mapstructure:"sweep_seconds" validate:"gte=0"`
}

// Validate checks strategy kinds and value ranges.
func (p *Policy) Validate() error {
	if err := validation.Validate(p); err != nil {
		return err
	}
	v := validation.New()
	for name, cp := range p.Contracts {
		v.Custom(len(cp.ShardMap) == 0 || cp.Strategy == "" || cp.Strategy == selection.KindSharded.String(),
			fmt.Sprintf("contracts.%s.shard_map", name),
			"shard maps require the sharded strategy")
	}
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CacheConfig returns the selection cache settings. Zero fields mean the
// cache package defaults apply.
func (p *Policy) CacheConfig() selection.CacheConfig {
	return selection.CacheConfig{
		TTL:           time.Duration(p.Cache.TTLSeconds) * time.Second,
		SweepInterval: time.Duration(p.Cache.SweepSeconds) * time.Second,
	}
}

// Grace returns the default drain grace, zero meaning the built-in default.
func (p *Policy) Grace() time.Duration {
	return time.Duration(p.QuiesceSeconds) * time.Second
}

// Apply binds the policy onto a selection factory. Contract names resolve
// through the shared namespace; a name the namespace does not know is a
// type-identity error, so a typo surfaces at startup instead of silently
// keeping the default strategy.
//
// Category names are lowercased on both the binding and the assignment
// side, since config file keys arrive lowercased while values keep their
// case.
func (p *Policy) Apply(f *selection.Factory, ns *contract.Namespace) error {
	if f == nil {
		return errors.MissingArgument("factory")
	}
	if ns == nil {
		return errors.MissingArgument("namespace")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	if p.Default != "" {
		kind, err := selection.ParseKind(p.Default)
		if err != nil {
			return err
		}
		f.SetDefault(f.Build(kind, nil))
	}

	for category, name := range p.Categories {
		kind, err := selection.ParseKind(name)
		if err != nil {
			return err
		}
		f.BindCategory(strings.ToLower(category), f.Build(kind, nil))
	}

	for name, cp := range p.Contracts {
		t, ok := resolveContract(ns, name)
		if !ok {
			return errors.TypeIdentity(name)
		}
		if cp.Category != "" {
			f.AssignCategory(t, strings.ToLower(cp.Category))
		}

		strategy := cp.Strategy
		if strategy == "" && len(cp.ShardMap) > 0 {
			strategy = selection.KindSharded.String()
		}
		if strategy == "" {
			continue
		}
		kind, err := selection.ParseKind(strategy)
		if err != nil {
			return err
		}
		f.BindContract(t, f.Build(kind, cp.ShardMap))
	}
	return nil
}

// resolveContract matches a configured contract name to a namespace type.
// An exact lookup is tried first, then a case-insensitive scan, because
// config file keys lose their case on the way in.
func resolveContract(ns *contract.Namespace, name string) (reflect.Type, bool) {
	if t, ok := ns.Resolve(name); ok {
		return t, true
	}
	lower := strings.ToLower(name)
	for _, t := range ns.Types() {
		if strings.ToLower(t.String()) == lower ||
			strings.ToLower(t.PkgPath()+"."+t.Name()) == lower {
			return t, true
		}
	}
	return nil, false
}
