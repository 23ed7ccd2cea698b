// Package platform assembles a complete plugin platform: registry,
// selection, policy, loader factory, and the lifecycle hosts, wired once
// and torn down in reverse order. Every instance is self-contained, so
// parallel tests and embedded hosts construct their own platforms without
// touching process-wide state.
package platform

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/plugkit/aspect"
	"github.com/kbukum/plugkit/capability"
	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/host"
	"github.com/kbukum/plugkit/loader"
	"github.com/kbukum/plugkit/logger"
	"github.com/kbukum/plugkit/policy"
	"github.com/kbukum/plugkit/registry"
	"github.com/kbukum/plugkit/resilience"
	"github.com/kbukum/plugkit/selection"
	"github.com/kbukum/plugkit/version"
)

// DefaultCloseTimeout bounds Close when no explicit timeout is configured.
const DefaultCloseTimeout = 15 * time.Second

// Platform holds the wired pieces of a running plugin platform. Fields are
// set by New and must not be replaced afterwards.
type Platform struct {
	Registry  *registry.Registry
	Namespace *contract.Namespace
	Factory   *selection.Factory
	Selector  *selection.Selector
	Policy    *policy.Policy
	Executor  selection.Executor
	Recorder  aspect.Recorder
	Logger    *logger.Logger
	Loaders   loader.Factory

	// Host manages plugins with hard-unload semantics; Swap additionally
	// supports soft swaps with grace-period draining. Both share the
	// registry and namespace above.
	Host *host.Host
	Swap *host.SoftSwapHost

	closeTimeout time.Duration
	shutdowns    []func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

type settings struct {
	contractVersion string
	hostPlatform    string
	policy          *policy.Policy
	namespace       *contract.Namespace
	log             *logger.Logger
	recorder        aspect.Recorder
	telemetry       *aspect.OTelConfig
	executor        selection.Executor
	loaders         loader.Factory
	moduleEnv       []string
	closeTimeout    time.Duration
}

// Option configures New.
type Option func(*settings)

// WithContractVersion sets the platform contract version enforced during
// plugin activation. Defaults to "1.0.0".
func WithContractVersion(v string) Option {
	return func(s *settings) {
		if v != "" {
			s.contractVersion = v
		}
	}
}

// WithHostPlatform overrides the platform identifier capabilities are
// matched against. Defaults to the running OS.
func WithHostPlatform(p string) Option {
	return func(s *settings) {
		if p != "" {
			s.hostPlatform = p
		}
	}
}

// WithPolicy supplies a loaded selection policy. The zero policy applies
// otherwise.
func WithPolicy(p *policy.Policy) Option {
	return func(s *settings) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithNamespace supplies a pre-seeded shared contract namespace.
func WithNamespace(ns *contract.Namespace) Option {
	return func(s *settings) {
		if ns != nil {
			s.namespace = ns
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRecorder supplies an aspect recorder. Takes precedence over
// WithTelemetry.
func WithRecorder(rec aspect.Recorder) Option {
	return func(s *settings) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

// WithTelemetry builds an OpenTelemetry recorder from cfg during New and
// flushes it on Close. An empty ServiceVersion is filled from build info.
func WithTelemetry(cfg aspect.OTelConfig) Option {
	return func(s *settings) { s.telemetry = &cfg }
}

// WithExecutor replaces the default resilience executor guarding provider
// invocations.
func WithExecutor(exec selection.Executor) Option {
	return func(s *settings) {
		if exec != nil {
			s.executor = exec
		}
	}
}

// WithLoaderFactory replaces the default loader factory. The caller is
// then responsible for namespace and contract-version coherence.
func WithLoaderFactory(f loader.Factory) Option {
	return func(s *settings) {
		if f != nil {
			s.loaders = f
		}
	}
}

// WithModuleEnv passes extra environment variables to process modules.
func WithModuleEnv(env []string) Option {
	return func(s *settings) { s.moduleEnv = env }
}

// WithCloseTimeout bounds the Close teardown.
func WithCloseTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.closeTimeout = d
		}
	}
}

// New wires a platform. The order mirrors the dependency chain: policy
// onto the strategy factory, factory and cache into the selector, the
// shared namespace and contract version into the loader factory, and
// everything into the two hosts.
func New(opts ...Option) (*Platform, error) {
	s := settings{
		contractVersion: host.DefaultContractVersion,
		hostPlatform:    capability.HostPlatform(),
		closeTimeout:    DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.log == nil {
		s.log = logger.NewDefault()
	}
	if s.namespace == nil {
		s.namespace = contract.NewNamespace()
	}
	if s.policy == nil {
		s.policy = &policy.Policy{}
	}

	p := &Platform{
		Namespace:    s.namespace,
		Policy:       s.policy,
		Logger:       s.log,
		closeTimeout: s.closeTimeout,
	}

	rec := s.recorder
	if rec == nil && s.telemetry != nil {
		cfg := *s.telemetry
		if cfg.ServiceName == "" {
			cfg.ServiceName = "plugkit"
		}
		if cfg.ServiceVersion == "" {
			cfg.ServiceVersion = version.Get().Version
		}
		otel, err := aspect.NewOTel(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		rec = otel
		p.shutdowns = append(p.shutdowns, otel.Shutdown)
	}
	p.Recorder = aspect.OrNoop(rec)

	p.Registry = registry.New(s.log)

	p.Factory = selection.NewFactory()
	if err := s.policy.Apply(p.Factory, s.namespace); err != nil {
		return nil, err
	}

	p.Executor = s.executor
	if p.Executor == nil {
		p.Executor = resilience.NewExecutor(resilience.DefaultConfig("plugkit"), s.log)
	}

	p.Selector = selection.New(p.Registry,
		selection.WithFactory(p.Factory),
		selection.WithPlatform(s.hostPlatform),
		selection.WithCacheConfig(s.policy.CacheConfig()),
		selection.WithExecutor(p.Executor),
		selection.WithRecorder(p.Recorder),
		selection.WithLogger(s.log),
	)

	p.Loaders = s.loaders
	if p.Loaders == nil {
		p.Loaders = loader.NewFactory(loader.FactoryConfig{
			Namespace:       s.namespace,
			ContractVersion: s.contractVersion,
			Grace:           s.policy.Grace(),
			Env:             s.moduleEnv,
			Logger:          s.log,
		})
	}

	hostOpts := []host.Option{
		host.WithContractVersion(s.contractVersion),
		host.WithNamespace(s.namespace),
		host.WithLogger(s.log),
		host.WithRecorder(p.Recorder),
	}
	if g := s.policy.Grace(); g > 0 {
		hostOpts = append(hostOpts, host.WithDefaultGrace(g))
	}
	p.Host = host.New(p.Registry, p.Loaders, hostOpts...)
	p.Swap = host.NewSoftSwap(p.Registry, p.Loaders, hostOpts...)

	s.log.WithComponent("platform").Info("platform assembled", map[string]interface{}{
		"version":          version.Short(),
		"contract_version": s.contractVersion,
		"platform":         s.hostPlatform,
	})
	return p, nil
}

// Close tears the platform down in reverse assembly order: hosts first so
// every plugin drains and unloads, then the selector with its cache, then
// any telemetry flush. Close is idempotent and returns the first error.
func (p *Platform) Close() error {
	p.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.closeTimeout)
		defer cancel()

		log := p.Logger.WithComponent("platform")
		fail := func(err error) {
			if err == nil {
				return
			}
			log.WithError(err).Error("platform teardown error")
			if p.closeErr == nil {
				p.closeErr = err
			}
		}

		fail(p.Swap.Close(ctx))
		fail(p.Host.Close(ctx))
		p.Selector.Close()
		for i := len(p.shutdowns) - 1; i >= 0; i-- {
			fail(p.shutdowns[i](ctx))
		}
		log.Info("platform closed")
	})
	return p.closeErr
}
