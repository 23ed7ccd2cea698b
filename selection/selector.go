package selection

import (
	"context"
	"reflect"

	"github.com/kbukum/plugkit/aspect"
	"github.com/kbukum/plugkit/capability"
	"github.com/kbukum/plugkit/contract"
	apperrors "github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/logger"
	"github.com/kbukum/plugkit/registry"
)

// Selector resolves providers for a contract by running the bound strategy
// over the registry's live registrations. Cacheable results are held in a
// TTL cache that registry change events invalidate per contract, so no
// caller observes a registry mutation before the stale entry is gone.
type Selector struct {
	reg      *registry.Registry
	factory  *Factory
	cache    *Cache
	platform string
	exec     Executor
	rec      aspect.Recorder
	log      *logger.Logger

	unsubscribe func()
}

// Option configures a Selector.
type Option func(*Selector)

// WithPlatform overrides the host platform candidates are matched against.
func WithPlatform(platform string) Option {
	return func(s *Selector) { s.platform = platform }
}

// WithFactory supplies the strategy factory.
func WithFactory(f *Factory) Option {
	return func(s *Selector) {
		if f != nil {
			s.factory = f
		}
	}
}

// WithCacheConfig configures the result cache.
func WithCacheConfig(config CacheConfig) Option {
	return func(s *Selector) { s.cache = NewCache(config) }
}

// WithExecutor supplies the invocation guard used by Invoke.
func WithExecutor(exec Executor) Option {
	return func(s *Selector) { s.exec = exec }
}

// WithRecorder supplies the aspect recorder.
func WithRecorder(rec aspect.Recorder) Option {
	return func(s *Selector) { s.rec = aspect.OrNoop(rec) }
}

// WithLogger supplies the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Selector) {
		if log != nil {
			s.log = log.WithComponent("selection")
		}
	}
}

// New creates a selector bound to a registry and subscribes to its change
// events for cache invalidation. Close releases the subscription.
func New(reg *registry.Registry, opts ...Option) *Selector {
	s := &Selector{
		reg:      reg,
		factory:  NewFactory(),
		platform: capability.HostPlatform(),
		rec:      aspect.Noop(),
		log:      logger.Nop().WithComponent("selection"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewCache(CacheConfig{})
	}

	s.unsubscribe = reg.Subscribe(func(ev registry.Event) {
		s.cache.Invalidate(ev.Contract)
	})
	return s
}

// Factory returns the strategy factory for binding strategies.
func (s *Selector) Factory() *Factory { return s.factory }

// Platform returns the platform candidates are matched against.
func (s *Selector) Platform() string { return s.platform }

// Select resolves providers for a contract. meta carries selection hints
// such as required tags and shard keys; it may be nil.
func (s *Selector) Select(ctx context.Context, contractType reflect.Type, meta map[string]string) (res Result, err error) {
	if contractType == nil {
		return Result{}, apperrors.MissingArgument("contract")
	}

	ctx = s.rec.EnterMethod(ctx, "selector", "select")
	defer func() { s.rec.ExitMethod(ctx, "selector", "select", err) }()

	strategy := s.factory.StrategyFor(contractType)
	snapshot := s.reg.GetRegistrations(contractType)
	key := cacheKey(s.platform, snapshot, meta)

	if strategy.Cacheable() {
		if cached, ok := s.cache.Get(contractType, key); ok {
			s.rec.RecordMetric(ctx, "selection.cache.hits", 1, map[string]string{
				"contract": contractType.String(),
			})
			return cached, nil
		}
	}

	req := Request{Contract: contractType, Platform: s.platform, Metadata: meta}
	candidates := filterCandidates(snapshot, s.platform, requiredTags(meta))
	if len(candidates) == 0 {
		err = noCandidates(contractType)
		return Result{}, err
	}

	providers, serr := strategy.Select(req, candidates)
	if serr != nil {
		err = serr
		return Result{}, err
	}

	res = Result{Kind: strategy.Kind(), Providers: providers}
	if strategy.Cacheable() {
		s.cache.Put(contractType, key, res)
	}

	s.log.Debug("providers selected", map[string]interface{}{
		"contract": contractType.String(),
		"strategy": strategy.Kind().String(),
		"count":    len(providers),
	})
	return res, nil
}

// Close releases the registry subscription and stops the cache sweeper.
func (s *Selector) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cache.Close()
}

// One selects a single provider for T and asserts its type.
func One[T any](ctx context.Context, s *Selector, meta map[string]string) (T, error) {
	var zero T
	contractType := contract.TypeOf[T]()

	res, err := s.Select(ctx, contractType, meta)
	if err != nil {
		return zero, err
	}
	reg := res.Provider()
	if reg == nil {
		return zero, noCandidates(contractType)
	}
	provider, ok := reg.Provider().(T)
	if !ok {
		return zero, apperrors.TypeIdentity(contractType.String())
	}
	return provider, nil
}
