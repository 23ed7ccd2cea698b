// Package host drives plugin lifecycles over a loader and a registry.
// The hard-swap Host releases a plugin's loader on unload; SoftSwapHost
// replaces plugins in place, draining the outgoing generation for a
// grace period while the replacement serves.
package host

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/plugkit/aspect"
	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/loader"
	"github.com/kbukum/plugkit/logger"
	"github.com/kbukum/plugkit/manifest"
	"github.com/kbukum/plugkit/registry"
)

// DefaultContractVersion is the platform contract version assumed when no
// override is configured.
const DefaultContractVersion = "1.0.0"

// releaseTimeout bounds loader release during teardown paths that run off
// the caller's context.
const releaseTimeout = 10 * time.Second

// Host drives plugin lifecycles: it loads modules through a loader
// factory, activates entry points, and registers their providers. Each
// plugin id is single-writer; concurrent lifecycle calls for the same id
// serialize on a per-id lock while I/O-bound steps run outside the
// host's map lock.
type Host struct {
	reg     *registry.Registry
	factory loader.Factory
	ns      *contract.Namespace
	version string
	grace   time.Duration
	log     *logger.Logger
	rec     aspect.Recorder

	mu      sync.RWMutex
	handles map[string]*Handle
	locks   map[string]*sync.Mutex
	closed  bool

	subMu  sync.RWMutex
	subs   []subscriber
	subSeq uint64
}

// Option configures a Host.
type Option func(*Host)

// WithContractVersion sets the platform contract version activation
// checks descriptors against.
func WithContractVersion(version string) Option {
	return func(h *Host) { h.version = version }
}

// WithDefaultGrace sets the drain grace applied when a descriptor does
// not declare quiesceSeconds.
func WithDefaultGrace(grace time.Duration) Option {
	return func(h *Host) {
		if grace > 0 {
			h.grace = grace
		}
	}
}

// WithNamespace sets the shared contract namespace declared dependencies
// must resolve through. It should be the same namespace the loader
// factory builds loaders around.
func WithNamespace(ns *contract.Namespace) Option {
	return func(h *Host) {
		if ns != nil {
			h.ns = ns
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = log.WithComponent("host")
		}
	}
}

// WithRecorder sets the observability recorder.
func WithRecorder(rec aspect.Recorder) Option {
	return func(h *Host) { h.rec = aspect.OrNoop(rec) }
}

// New creates a hard-swap host backed by the given registry and loader
// factory. Unload releases the loader, so with an unloadable loader the
// plugin's code is reclaimed.
func New(reg *registry.Registry, factory loader.Factory, opts ...Option) *Host {
	h := &Host{
		reg:     reg,
		factory: factory,
		ns:      contract.NewNamespace(),
		version: DefaultContractVersion,
		grace:   manifest.DefaultQuiesceSeconds * time.Second,
		log:     logger.Nop().WithComponent("host"),
		rec:     aspect.Noop(),
		handles: make(map[string]*Handle),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// lockPlugin acquires the per-id lifecycle lock. Lock entries outlive
// their handles so a reload of the same id stays serialized.
func (h *Host) lockPlugin(id string) *sync.Mutex {
	h.mu.Lock()
	l, ok := h.locks[id]
	if !ok {
		l = &sync.Mutex{}
		h.locks[id] = l
	}
	h.mu.Unlock()
	l.Lock()
	return l
}

func (h *Host) live(id string) (*Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hd, ok := h.handles[id]
	return hd, ok
}

func (h *Host) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// graceFor resolves the drain grace for a descriptor: its declared
// quiesceSeconds, else the host default.
func (h *Host) graceFor(d *manifest.Descriptor) time.Duration {
	if d.QuiesceSeconds > 0 {
		return d.QuiesceGrace()
	}
	return h.grace
}

// Load builds a loader for the descriptor, loads its modules in declared
// order, and adds a handle in StateLoaded to the live set. A failure
// retains no handle. Loading an id that is already live fails with a
// duplicate error.
func (h *Host) Load(ctx context.Context, d *manifest.Descriptor) (_ HandleView, err error) {
	ctx, done := h.rec.StartOperation(ctx, "host.load")
	defer func() { done(err) }()

	if h.isClosed() {
		return HandleView{}, errors.InvalidState("host", "closed", "load")
	}
	if d == nil {
		return HandleView{}, errors.MissingArgument("descriptor")
	}
	if err := d.Validate(); err != nil {
		return HandleView{}, err
	}

	l := h.lockPlugin(d.ID)
	defer l.Unlock()

	if _, ok := h.live(d.ID); ok {
		return HandleView{}, errors.Duplicate("plugin", d.ID)
	}

	hd, err := h.buildHandle(ctx, d)
	if err != nil {
		return HandleView{}, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.releaseLoader(hd.ld, d.ID)
		return HandleView{}, errors.InvalidState("host", "closed", "load")
	}
	h.handles[d.ID] = hd
	view := hd.snapshot()
	h.mu.Unlock()

	h.log.Info("plugin loaded", logger.Fields(
		logger.FieldPlugin, d.ID,
		"version", d.Version,
		"modules", len(d.Modules),
	))
	h.publish(Event{Type: EventLoaded, Plugin: d.ID, State: StateLoaded})
	return view, nil
}

// buildHandle constructs a loader and loads every declared module. The
// returned handle is not yet in the live set.
func (h *Host) buildHandle(ctx context.Context, d *manifest.Descriptor) (*Handle, error) {
	ld, err := h.factory(d)
	if err != nil {
		return nil, err
	}
	for _, path := range d.ModulePaths() {
		if _, err := ld.Load(ctx, path); err != nil {
			h.releaseLoader(ld, d.ID)
			return nil, err
		}
	}
	return &Handle{
		id:         d.ID,
		descriptor: d,
		ld:         ld,
		grace:      h.graceFor(d),
		state:      StateLoaded,
		loadedAt:   time.Now(),
	}, nil
}

// releaseLoader releases a loader on a bounded background context, for
// teardown paths where the caller's context may already be dead.
func (h *Host) releaseLoader(ld loader.Loader, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := ld.Release(ctx); err != nil {
		h.log.Warn("loader release failed", logger.Fields(
			logger.FieldPlugin, id,
			logger.FieldError, err.Error(),
		))
	}
}

// Activate builds the plugin's entry point and registers its providers.
// The descriptor's declared contract version, when present, must exactly
// match the platform contract version, and every contract its
// capabilities reference must resolve through the shared namespace.
// Registration is all-or-nothing: a mid-batch failure rolls back the
// registrations this activation already made. Any step failure records
// the error, sets StateFailed, and emits a failure event.
func (h *Host) Activate(ctx context.Context, id string) (err error) {
	ctx, done := h.rec.StartOperation(ctx, "host.activate")
	defer func() { done(err) }()

	l := h.lockPlugin(id)
	defer l.Unlock()

	hd, ok := h.live(id)
	if !ok {
		return errors.NotFound("plugin", id)
	}
	// A failed handle may retry activation once its blocker is cleared.
	if hd.state != StateLoaded && hd.state != StateDeactivated && hd.state != StateFailed {
		return errors.InvalidState("plugin "+id, hd.state.String(), "activate")
	}

	if err := h.activate(ctx, hd); err != nil {
		h.fail(hd, "activate", err)
		return err
	}

	h.log.Info("plugin activated", logger.Fields(
		logger.FieldPlugin, id,
		"providers", len(hd.regs),
	))
	h.publish(Event{Type: EventActivated, Plugin: id, State: StateActive})
	return nil
}

// activate runs the activation steps against a handle the caller holds
// the per-id lock for.
func (h *Host) activate(ctx context.Context, hd *Handle) error {
	d := hd.descriptor

	if d.ContractVersion != "" && d.ContractVersion != h.version {
		return errors.Incompatible(d.ContractVersion, h.version)
	}

	for _, c := range d.Capabilities {
		if c.Contract == "" {
			continue
		}
		if _, ok := h.ns.Resolve(c.Contract); !ok {
			return errors.TypeIdentity(c.Contract)
		}
	}
	if err := h.checkDependencies(d); err != nil {
		return err
	}

	if hd.entry == nil {
		t, ok := hd.ld.ResolveType(d.EntryType)
		if !ok {
			return errors.NotFound("entry type", d.EntryType)
		}
		inst, err := hd.ld.NewInstance(ctx, t, nil)
		if err != nil {
			return err
		}
		entry, ok := inst.(contract.EntryPoint)
		if !ok {
			return errors.New(errors.ErrCodeCompatibility,
				"entry type "+d.EntryType+" is not an entry point")
		}
		hd.entry = entry
	}

	specs := hd.entry.Providers()
	regs := make([]*registry.Registration, 0, len(specs))
	for _, spec := range specs {
		reg, err := h.reg.Register(spec.Contract, spec.Provider, spec.Capabilities)
		if err != nil {
			for i := len(regs) - 1; i >= 0; i-- {
				h.reg.Unregister(regs[i])
			}
			return err
		}
		regs = append(regs, reg)
	}

	h.mu.Lock()
	hd.specs = specs
	hd.regs = regs
	hd.state = StateActive
	hd.activatedAt = time.Now()
	hd.err = nil
	h.mu.Unlock()
	return nil
}

// checkDependencies verifies every declared plugin dependency is active
// and recent enough. Other handles' fields are read under the map lock;
// their keyed locks are not taken, so a dependency racing through its own
// transition is caught at whatever state the snapshot saw.
func (h *Host) checkDependencies(d *manifest.Descriptor) error {
	for _, dep := range d.Dependencies {
		h.mu.RLock()
		other, ok := h.handles[dep.ID]
		var st State
		var version string
		if ok {
			st = other.state
			version = other.descriptor.Version
		}
		h.mu.RUnlock()

		if !ok {
			return errors.NotFound("dependency", dep.ID)
		}
		if st != StateActive {
			return errors.InvalidState("dependency "+dep.ID, st.String(), "activate")
		}
		if dep.MinVersion == "" {
			continue
		}
		need, err := manifest.ParseVersion(dep.MinVersion)
		if err != nil {
			return err
		}
		have, err := manifest.ParseVersion(version)
		if err != nil {
			return err
		}
		if have.LessThan(need) {
			return errors.New(errors.ErrCodeCompatibility,
				"dependency "+dep.ID+" version "+version+" is below required "+dep.MinVersion)
		}
	}
	return nil
}

// fail records a step failure on the handle and emits a failure event.
func (h *Host) fail(hd *Handle, op string, err error) {
	h.mu.Lock()
	hd.state = StateFailed
	hd.err = err
	h.mu.Unlock()

	h.log.Error("plugin "+op+" failed", logger.Fields(
		logger.FieldPlugin, hd.id,
		logger.FieldError, err.Error(),
	))
	h.publish(Event{Type: EventFailed, Plugin: hd.id, State: StateFailed, Err: err})
}

// Deactivate quiesces the entry point and its providers, unregisters the
// plugin's registrations, and moves the handle to StateDeactivated.
// Deactivating an already-deactivated plugin is a no-op.
func (h *Host) Deactivate(ctx context.Context, id string) (err error) {
	ctx, done := h.rec.StartOperation(ctx, "host.deactivate")
	defer func() { done(err) }()

	l := h.lockPlugin(id)
	defer l.Unlock()

	hd, ok := h.live(id)
	if !ok {
		return errors.NotFound("plugin", id)
	}
	if hd.state == StateDeactivated {
		return nil
	}
	if hd.state != StateActive {
		return errors.InvalidState("plugin "+id, hd.state.String(), "deactivate")
	}

	h.quiesce(ctx, hd)
	h.unregister(hd)

	h.mu.Lock()
	hd.state = StateDeactivated
	hd.deactivatedAt = time.Now()
	h.mu.Unlock()

	h.log.Info("plugin deactivated", logger.Fields(logger.FieldPlugin, id))
	h.publish(Event{Type: EventDeactivated, Plugin: id, State: StateDeactivated})
	return nil
}

// quiesce invokes the drain hook on the entry point and every provider
// that implements it, with the handle's grace period as the deadline.
// Drain failures are logged, never fatal.
func (h *Host) quiesce(ctx context.Context, hd *Handle) {
	qctx, cancel := context.WithTimeout(ctx, hd.grace)
	defer cancel()

	if q, ok := hd.entry.(contract.Quiescer); ok {
		if err := q.Quiesce(qctx); err != nil {
			h.log.Warn("entry quiesce failed", logger.Fields(
				logger.FieldPlugin, hd.id,
				logger.FieldError, err.Error(),
			))
		}
	}
	for _, spec := range hd.specs {
		q, ok := spec.Provider.(contract.Quiescer)
		if !ok {
			continue
		}
		if err := q.Quiesce(qctx); err != nil {
			h.log.Warn("provider quiesce failed", logger.Fields(
				logger.FieldPlugin, hd.id,
				logger.FieldProvider, spec.Capabilities.ProviderID(),
				logger.FieldError, err.Error(),
			))
		}
	}
}

// unregister removes the handle's registrations, newest first.
func (h *Host) unregister(hd *Handle) {
	h.mu.Lock()
	regs := hd.regs
	hd.regs = nil
	h.mu.Unlock()

	for i := len(regs) - 1; i >= 0; i-- {
		h.reg.Unregister(regs[i])
	}
}

// Unload quiesces and unregisters the plugin if it is active, releases
// its loader, and removes the handle from the live set. If the release
// fails the handle stays in the live set marked StateFailed so the
// failure remains observable and the unload can be retried.
func (h *Host) Unload(ctx context.Context, id string) (err error) {
	ctx, done := h.rec.StartOperation(ctx, "host.unload")
	defer func() { done(err) }()

	l := h.lockPlugin(id)
	defer l.Unlock()

	hd, ok := h.live(id)
	if !ok {
		return errors.NotFound("plugin", id)
	}

	if hd.state == StateActive {
		h.quiesce(ctx, hd)
	}
	// Registrations can linger on a failed handle; drop them regardless
	// of state.
	h.unregister(hd)

	if err := hd.ld.Release(ctx); err != nil {
		h.fail(hd, "unload", err)
		return err
	}

	h.mu.Lock()
	hd.state = StateUnloaded
	delete(h.handles, id)
	h.mu.Unlock()

	h.log.Info("plugin unloaded", logger.Fields(logger.FieldPlugin, id))
	h.publish(Event{Type: EventUnloaded, Plugin: id, State: StateUnloaded})
	return nil
}

// Get returns a snapshot of a live handle.
func (h *Host) Get(id string) (HandleView, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hd, ok := h.handles[id]
	if !ok {
		return HandleView{}, false
	}
	return hd.snapshot(), true
}

// List returns snapshots of every live handle, ordered by plugin id.
func (h *Host) List() []HandleView {
	h.mu.RLock()
	views := make([]HandleView, 0, len(h.handles))
	for _, hd := range h.handles {
		views = append(views, hd.snapshot())
	}
	h.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Close unloads every live plugin. Release failures are logged and the
// first one is returned; the host refuses new loads afterwards.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	ids := make([]string, 0, len(h.handles))
	for id := range h.handles {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	sort.Strings(ids)
	var firstErr error
	for _, id := range ids {
		if err := h.Unload(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
